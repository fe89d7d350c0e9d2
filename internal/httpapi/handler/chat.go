package handler

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vntrieu/mixplay/internal/chat"
	"github.com/vntrieu/mixplay/internal/participant"
	"github.com/vntrieu/mixplay/internal/store"
)

// ChatRunner runs functions against the chat manager on its loop.
type ChatRunner interface {
	Exec(ctx context.Context, fn func(*chat.Manager)) error
}

// ArchiveReader reads archived chat.
type ArchiveReader interface {
	RecentMessages(ctx context.Context, room string, limit int) ([]store.ArchivedMessage, error)
}

// RoomStatus describes one joined room.
type RoomStatus struct {
	Room         string     `json:"room"`
	State        string     `json:"state"`
	ChannelID    uint32     `json:"channel_id"`
	Anonymous    bool       `json:"anonymous"`
	ChatAllowed  bool       `json:"chat_allowed"`
	Permissions  []string   `json:"permissions"`
	Roles        []string   `json:"roles"`
	Participants int        `json:"participants"`
	Poll         *chat.Poll `json:"poll,omitempty"`
}

// JoinRoomRequest is the body for POST /api/chat/rooms.
type JoinRoomRequest struct {
	Room      string `json:"room"`
	Anonymous bool   `json:"anonymous"`
}

// SendMessageRequest is the body for POST /api/chat/rooms/{room}/messages.
type SendMessageRequest struct {
	Body string `json:"body"`
	// To whispers the message to this user instead of posting it to the room.
	To string `json:"to,omitempty"`
}

// StartPollRequest is the body for POST /api/chat/rooms/{room}/polls.
type StartPollRequest struct {
	Question        string   `json:"question"`
	Answers         []string `json:"answers"`
	DurationSeconds int      `json:"duration_seconds"`
}

// VoteRequest is the body for POST /api/chat/rooms/{room}/votes.
type VoteRequest struct {
	Answer int `json:"answer"`
}

// ChatHandler exposes the chat manager and, when configured, the archive.
type ChatHandler struct {
	chat    ChatRunner
	archive ArchiveReader
}

// NewChatHandler creates a new ChatHandler. archive may be nil.
func NewChatHandler(manager ChatRunner, archive ArchiveReader) *ChatHandler {
	return &ChatHandler{chat: manager, archive: archive}
}

func (h *ChatHandler) run(w http.ResponseWriter, r *http.Request, fn func(*chat.Manager)) bool {
	if h.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat disabled")
		return false
	}
	if err := h.chat.Exec(r.Context(), fn); err != nil {
		writeError(w, http.StatusServiceUnavailable, "chat unavailable")
		return false
	}
	return true
}

func (h *ChatHandler) command(w http.ResponseWriter, r *http.Request, status int, fn func(*chat.Manager) error) {
	var err error
	if !h.run(w, r, func(m *chat.Manager) { err = fn(m) }) {
		return
	}
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(status)
}

func roomStatus(m *chat.Manager, c *chat.Connection) RoomStatus {
	st := RoomStatus{
		Room:         c.Room(),
		State:        c.State().String(),
		ChannelID:    c.ChannelID(),
		Anonymous:    c.Anonymous(),
		ChatAllowed:  m.IsChatAllowed(c.Room()),
		Permissions:  c.Permissions().Strings(),
		Roles:        c.Roles(),
		Participants: len(c.Participants()),
	}
	if p, ok := c.ActivePoll(); ok {
		st.Poll = &p
	}
	return st
}

// Rooms handles GET /api/chat/rooms
//
// @Summary      List joined rooms
// @Tags         chat
// @Produce      json
// @Success      200  {array}   RoomStatus
// @Failure      503  {object}  errorResponse
// @Router       /api/chat/rooms [get]
// @Security     BearerAuth
func (h *ChatHandler) Rooms(w http.ResponseWriter, r *http.Request) {
	var out []RoomStatus
	ok := h.run(w, r, func(m *chat.Manager) {
		out = make([]RoomStatus, 0)
		for _, name := range m.JoinedRooms() {
			if c, found := m.Room(name); found {
				out = append(out, roomStatus(m, c))
			}
		}
	})
	if ok {
		writeJSON(w, http.StatusOK, out)
	}
}

// Join handles POST /api/chat/rooms
//
// @Summary      Join a room
// @Description  Starts joining. Poll GET /api/chat/rooms/{room} for the result.
// @Tags         chat
// @Accept       json
// @Param        body  body  JoinRoomRequest  true  "Request body"
// @Success      202
// @Failure      403  {object}  errorResponse  "Authenticated join without credentials"
// @Failure      409  {object}  errorResponse  "Already joined"
// @Router       /api/chat/rooms [post]
// @Security     BearerAuth
func (h *ChatHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.command(w, r, http.StatusAccepted, func(m *chat.Manager) error {
		return m.JoinRoom(req.Room, req.Anonymous)
	})
}

// Room handles GET /api/chat/rooms/{room}
//
// @Summary      Room status
// @Tags         chat
// @Produce      json
// @Param        room  path  string  true  "Room (channel name)"
// @Success      200  {object}  RoomStatus
// @Failure      404  {object}  errorResponse
// @Router       /api/chat/rooms/{room} [get]
// @Security     BearerAuth
func (h *ChatHandler) Room(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	var (
		st    RoomStatus
		found bool
	)
	ok := h.run(w, r, func(m *chat.Manager) {
		var c *chat.Connection
		if c, found = m.Room(room); found {
			st = roomStatus(m, c)
		}
	})
	if !ok {
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, chat.ErrUnknownRoom.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Leave handles DELETE /api/chat/rooms/{room}
//
// @Summary      Leave a room
// @Tags         chat
// @Param        room  path  string  true  "Room (channel name)"
// @Success      204
// @Failure      404  {object}  errorResponse
// @Router       /api/chat/rooms/{room} [delete]
// @Security     BearerAuth
func (h *ChatHandler) Leave(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	h.command(w, r, http.StatusNoContent, func(m *chat.Manager) error {
		return m.ExitRoom(room)
	})
}

// History handles GET /api/chat/rooms/{room}/history
//
// @Summary      Chat history
// @Description  Returns the in-memory history oldest first. With source=archive it reads
// @Description  the database instead, newest first.
// @Tags         chat
// @Produce      json
// @Param        room    path   string  true   "Room (channel name)"
// @Param        source  query  string  false  "memory (default) or archive"
// @Param        limit   query  int     false  "Archive rows (default 100, max 500)"
// @Success      200  {array}   chat.Message
// @Failure      404  {object}  errorResponse
// @Failure      503  {object}  errorResponse  "Archive not configured"
// @Router       /api/chat/rooms/{room}/history [get]
// @Security     BearerAuth
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if r.URL.Query().Get("source") == "archive" {
		h.archived(w, r, room)
		return
	}
	var (
		msgs  []chat.Message
		found bool
	)
	ok := h.run(w, r, func(m *chat.Manager) {
		var c *chat.Connection
		if c, found = m.Room(room); found {
			msgs = c.Messages()
		}
	})
	if !ok {
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, chat.ErrUnknownRoom.Error())
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ChatHandler) archived(w http.ResponseWriter, r *http.Request, room string) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	msgs, err := h.archive.RecentMessages(r.Context(), room, limit)
	if err != nil {
		log.Printf("[%s] archive read room=%s: %v", requestID(r), room, err)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	if msgs == nil {
		msgs = []store.ArchivedMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Users handles GET /api/chat/rooms/{room}/users
//
// @Summary      Users in a room
// @Tags         chat
// @Produce      json
// @Param        room  path  string  true  "Room (channel name)"
// @Success      200  {array}   participant.Participant
// @Failure      404  {object}  errorResponse
// @Router       /api/chat/rooms/{room}/users [get]
// @Security     BearerAuth
func (h *ChatHandler) Users(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	var (
		users []participant.Participant
		found bool
	)
	ok := h.run(w, r, func(m *chat.Manager) {
		var c *chat.Connection
		if c, found = m.Room(room); found {
			users = c.Participants()
		}
	})
	if !ok {
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, chat.ErrUnknownRoom.Error())
		return
	}
	if users == nil {
		users = []participant.Participant{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Send handles POST /api/chat/rooms/{room}/messages
//
// @Summary      Send a chat message
// @Description  Posts to the room, or whispers when "to" is set.
// @Tags         chat
// @Accept       json
// @Param        room  path  string              true  "Room (channel name)"
// @Param        body  body  SendMessageRequest  true  "Request body"
// @Success      202
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      429  {object}  errorResponse
// @Router       /api/chat/rooms/{room}/messages [post]
// @Security     BearerAuth
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.command(w, r, http.StatusAccepted, func(m *chat.Manager) error {
		if req.To == "" {
			return m.SendRoomChat(room, req.Body)
		}
		c, ok := m.Room(room)
		if !ok {
			return chat.ErrUnknownRoom
		}
		return c.SendWhisper(req.To, req.Body)
	})
}

// StartPoll handles POST /api/chat/rooms/{room}/polls
//
// @Summary      Start a poll
// @Tags         chat
// @Accept       json
// @Param        room  path  string            true  "Room (channel name)"
// @Param        body  body  StartPollRequest  true  "Request body"
// @Success      202
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      409  {object}  errorResponse  "A poll is already running"
// @Router       /api/chat/rooms/{room}/polls [post]
// @Security     BearerAuth
func (h *ChatHandler) StartPoll(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	var req StartPollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DurationSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "duration_seconds must be positive")
		return
	}
	d := time.Duration(req.DurationSeconds) * time.Second
	h.command(w, r, http.StatusAccepted, func(m *chat.Manager) error {
		c, ok := m.Room(room)
		if !ok {
			return chat.ErrUnknownRoom
		}
		return c.StartPoll(req.Question, req.Answers, d)
	})
}

// Vote handles POST /api/chat/rooms/{room}/votes
//
// @Summary      Vote in the active poll
// @Tags         chat
// @Accept       json
// @Param        room  path  string       true  "Room (channel name)"
// @Param        body  body  VoteRequest  true  "Request body"
// @Success      202
// @Failure      400  {object}  errorResponse  "Answer out of range"
// @Failure      409  {object}  errorResponse  "No active poll"
// @Router       /api/chat/rooms/{room}/votes [post]
// @Security     BearerAuth
func (h *ChatHandler) Vote(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	var req VoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.command(w, r, http.StatusAccepted, func(m *chat.Manager) error {
		c, ok := m.Room(room)
		if !ok {
			return chat.ErrUnknownRoom
		}
		return c.Vote(req.Answer)
	})
}
