package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vntrieu/mixplay/internal/chat"
	"github.com/vntrieu/mixplay/internal/httpapi/handler"
	"github.com/vntrieu/mixplay/internal/protocol"
	"github.com/vntrieu/mixplay/internal/store"
)

type fakeArchive struct {
	msgs      []store.ArchivedMessage
	err       error
	gotRoom   string
	gotLimit  int
	callCount int
}

func (f *fakeArchive) RecentMessages(_ context.Context, room string, limit int) ([]store.ArchivedMessage, error) {
	f.callCount++
	f.gotRoom, f.gotLimit = room, limit
	return f.msgs, f.err
}

func runningManager(t *testing.T) *chat.Manager {
	t.Helper()
	loop := protocol.NewLoop(16)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return chat.NewManager(loop, chat.ManagerConfig{HistoryMax: 10}, chat.Deps{})
}

func chatRouter(h *handler.ChatHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/chat/rooms", h.Rooms)
	r.Post("/api/chat/rooms", h.Join)
	r.Get("/api/chat/rooms/{room}", h.Room)
	r.Delete("/api/chat/rooms/{room}", h.Leave)
	r.Get("/api/chat/rooms/{room}/history", h.History)
	r.Get("/api/chat/rooms/{room}/users", h.Users)
	r.Post("/api/chat/rooms/{room}/messages", h.Send)
	r.Post("/api/chat/rooms/{room}/polls", h.StartPoll)
	r.Post("/api/chat/rooms/{room}/votes", h.Vote)
	return r
}

func TestChatHandler_Disabled(t *testing.T) {
	r := chatRouter(handler.NewChatHandler(nil, nil))
	w := serve(t, r, http.MethodGet, "/api/chat/rooms", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if msg := errorMessage(t, w); msg != "chat disabled" {
		t.Errorf("error = %q", msg)
	}
}

func TestChatHandler_NoRooms(t *testing.T) {
	r := chatRouter(handler.NewChatHandler(runningManager(t), nil))

	w := serve(t, r, http.MethodGet, "/api/chat/rooms", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestChatHandler_Errors(t *testing.T) {
	r := chatRouter(handler.NewChatHandler(runningManager(t), nil))

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		want    int
		wantErr string
	}{
		{"join without credentials", http.MethodPost, "/api/chat/rooms", `{"room":"shroud"}`, http.StatusForbidden, "anonymous"},
		{"join without room or default", http.MethodPost, "/api/chat/rooms", `{"anonymous":true}`, http.StatusNotFound, "room not joined"},
		{"join bad json", http.MethodPost, "/api/chat/rooms", `[`, http.StatusBadRequest, "invalid request body"},
		{"status of unknown room", http.MethodGet, "/api/chat/rooms/shroud", "", http.StatusNotFound, "room not joined"},
		{"leave unknown room", http.MethodDelete, "/api/chat/rooms/shroud", "", http.StatusNotFound, "room not joined"},
		{"history of unknown room", http.MethodGet, "/api/chat/rooms/shroud/history", "", http.StatusNotFound, "room not joined"},
		{"users of unknown room", http.MethodGet, "/api/chat/rooms/shroud/users", "", http.StatusNotFound, "room not joined"},
		{"message to unknown room", http.MethodPost, "/api/chat/rooms/shroud/messages", `{"body":"hi"}`, http.StatusNotFound, "room not joined"},
		{"whisper through unknown room", http.MethodPost, "/api/chat/rooms/shroud/messages", `{"body":"hi","to":"bob"}`, http.StatusNotFound, "room not joined"},
		{"poll without duration", http.MethodPost, "/api/chat/rooms/shroud/polls", `{"question":"q","answers":["a","b"]}`, http.StatusBadRequest, "duration_seconds"},
		{"poll in unknown room", http.MethodPost, "/api/chat/rooms/shroud/polls", `{"question":"q","answers":["a","b"],"duration_seconds":30}`, http.StatusNotFound, "room not joined"},
		{"vote in unknown room", http.MethodPost, "/api/chat/rooms/shroud/votes", `{"answer":1}`, http.StatusNotFound, "room not joined"},
		{"archive not configured", http.MethodGet, "/api/chat/rooms/shroud/history?source=archive", "", http.StatusServiceUnavailable, "archive not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, r, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected status %d, got %d (body %s)", tt.want, w.Code, w.Body.String())
			}
			if msg := errorMessage(t, w); !strings.Contains(msg, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.wantErr)
			}
		})
	}
}

func TestChatHandler_ArchiveHistory(t *testing.T) {
	sent := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t.Run("success", func(t *testing.T) {
		archive := &fakeArchive{msgs: []store.ArchivedMessage{
			{Message: chat.Message{ID: uuid.New(), UserID: 2, UserName: "bob", Body: "second", Timestamp: sent.Add(time.Second)}, Room: "shroud"},
			{Message: chat.Message{ID: uuid.New(), UserID: 1, UserName: "alice", Body: "first", Timestamp: sent}, Room: "shroud"},
		}}
		r := chatRouter(handler.NewChatHandler(runningManager(t), archive))

		w := serve(t, r, http.MethodGet, "/api/chat/rooms/shroud/history?source=archive&limit=2", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var got []store.ArchivedMessage
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(got) != 2 || got[0].Body != "second" || got[1].UserName != "alice" {
			t.Errorf("unexpected messages: %+v", got)
		}
		if archive.gotRoom != "shroud" || archive.gotLimit != 2 {
			t.Errorf("archive called with room=%q limit=%d", archive.gotRoom, archive.gotLimit)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		archive := &fakeArchive{}
		r := chatRouter(handler.NewChatHandler(runningManager(t), archive))

		w := serve(t, r, http.MethodGet, "/api/chat/rooms/shroud/history?source=archive&limit=-1", "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		if archive.callCount != 0 {
			t.Error("archive should not be queried")
		}
	})

	t.Run("store error", func(t *testing.T) {
		archive := &fakeArchive{err: errors.New("connection refused")}
		r := chatRouter(handler.NewChatHandler(runningManager(t), archive))

		w := serve(t, r, http.MethodGet, "/api/chat/rooms/shroud/history?source=archive", "")
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
		if msg := errorMessage(t, w); msg != "failed to read archive" {
			t.Errorf("error = %q", msg)
		}
	})

	t.Run("empty archive", func(t *testing.T) {
		r := chatRouter(handler.NewChatHandler(runningManager(t), &fakeArchive{}))

		w := serve(t, r, http.MethodGet, "/api/chat/rooms/shroud/history?source=archive", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != "[]" {
			t.Errorf("body = %s, want []", got)
		}
	})
}
