package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vntrieu/mixplay/internal/chat"
)

func TestArchiveStore_Messages(t *testing.T) {
	pool := SetupTestDB(t)
	defer pool.Close()

	s := NewArchiveStore(pool)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := chat.Message{ID: uuid.New(), UserID: 7, UserName: "alice", Body: "hi", Timestamp: base}
	second := chat.Message{ID: uuid.New(), UserID: 8, UserName: "bob", Body: "yo", Target: "alice", Whisper: true, Timestamp: base.Add(time.Second)}
	other := chat.Message{ID: uuid.New(), UserID: 7, UserName: "alice", Body: "elsewhere", Timestamp: base}

	for _, m := range []chat.Message{first, second, first} {
		if err := s.SaveMessage(ctx, "shroud", m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
	if err := s.SaveMessage(ctx, "other", other); err != nil {
		t.Fatal(err)
	}

	t.Run("recent newest first", func(t *testing.T) {
		got, err := s.RecentMessages(ctx, "shroud", 10)
		if err != nil {
			t.Fatalf("RecentMessages: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d messages want 2", len(got))
		}
		if got[0].ID != second.ID || got[1].ID != first.ID {
			t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
		}
		if got[0].Target != "alice" || !got[0].Whisper {
			t.Errorf("whisper fields lost: %+v", got[0])
		}
	})

	t.Run("delete and purge", func(t *testing.T) {
		if err := s.MarkDeleted(ctx, "shroud", second.ID, base.Add(time.Minute)); err != nil {
			t.Fatalf("MarkDeleted: %v", err)
		}
		n, err := s.MarkUserPurged(ctx, "shroud", 7, base.Add(time.Minute))
		if err != nil || n != 1 {
			t.Fatalf("MarkUserPurged = %d, %v", n, err)
		}
		got, _ := s.RecentMessages(ctx, "shroud", 10)
		for _, m := range got {
			if !m.Deleted || m.DeletedAt == nil {
				t.Errorf("message %s should be deleted", m.ID)
			}
		}
	})

	t.Run("clear only touches the room", func(t *testing.T) {
		n, err := s.MarkRoomCleared(ctx, "other", base.Add(time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("MarkRoomCleared = %d, %v", n, err)
		}
		n, _ = s.MarkRoomCleared(ctx, "other", base.Add(time.Hour))
		if n != 0 {
			t.Errorf("second clear touched %d rows", n)
		}
	})
}

func TestArchiveStore_Polls(t *testing.T) {
	pool := SetupTestDB(t)
	defer pool.Close()

	s := NewArchiveStore(pool)
	ctx := context.Background()

	none, err := s.LatestPoll(ctx, "shroud")
	if err != nil || none != nil {
		t.Fatalf("LatestPoll on empty = %+v, %v", none, err)
	}

	p := chat.Poll{
		AuthorID:   7,
		AuthorName: "alice",
		Question:   "pizza?",
		Answers:    []chat.PollAnswer{{Text: "yes", Votes: 3}, {Text: "no", Votes: 1}},
		Voters:     4,
		EndsAt:     time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC),
	}
	id, err := s.SavePoll(ctx, "shroud", p)
	if err != nil {
		t.Fatalf("SavePoll: %v", err)
	}
	got, err := s.LatestPoll(ctx, "shroud")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != id || got.Poll.Question != "pizza?" || len(got.Poll.Answers) != 2 || got.Poll.Answers[0].Votes != 3 {
		t.Errorf("LatestPoll = %+v", got)
	}
	if !got.Poll.EndsAt.Equal(p.EndsAt) {
		t.Errorf("EndsAt = %s want %s", got.Poll.EndsAt, p.EndsAt)
	}
}
