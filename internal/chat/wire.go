package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vntrieu/mixplay/internal/protocol"
)

// Chat methods.
const (
	methodAuth          = "auth"
	methodMsg           = "msg"
	methodWhisper       = "whisper"
	methodHistory       = "history"
	methodVoteStart     = "vote:start"
	methodVoteChoose    = "vote:choose"
	methodClearMessages = "clearMessages"
	methodDeleteMessage = "deleteMessage"
	methodPurge         = "purge"
	methodGiveawayStart = "giveaway:start"
)

// Chat events.
const (
	EventWelcome       = "WelcomeEvent"
	EventChatMessage   = "ChatMessage"
	EventUserJoin      = "UserJoin"
	EventUserLeave     = "UserLeave"
	EventDeleteMessage = "DeleteMessage"
	EventClearMessages = "ClearMessages"
	EventPurgeMessage  = "PurgeMessage"
	EventPollStart     = "PollStart"
	EventPollEnd       = "PollEnd"
)

type wireFragment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireMeta struct {
	Whisper bool `json:"whisper"`
	Me      bool `json:"me"`
}

type wireBody struct {
	Message []wireFragment `json:"message"`
	Meta    wireMeta       `json:"meta"`
}

type wireChatMessage struct {
	ID          *string   `json:"id"`
	UserName    string    `json:"user_name"`
	UserNameAlt string    `json:"username"`
	UserID      *uint32   `json:"user_id"`
	UserLevel   int       `json:"user_level"`
	Target      string    `json:"target"`
	Message     *wireBody `json:"message"`
}

// toMessage validates the wire form. The id must be a GUID.
func (w *wireChatMessage) toMessage(received time.Time) (Message, error) {
	if err := protocol.Require(w.ID != nil, "id"); err != nil {
		return Message{}, err
	}
	if err := protocol.Require(w.UserID != nil, "user_id"); err != nil {
		return Message{}, err
	}
	if err := protocol.Require(w.Message != nil, "message"); err != nil {
		return Message{}, err
	}
	id, err := uuid.Parse(*w.ID)
	if err != nil {
		return Message{}, fmt.Errorf("message id %q: %w", *w.ID, err)
	}

	var body strings.Builder
	for _, frag := range w.Message.Message {
		body.WriteString(frag.Text)
	}
	name := w.UserName
	if name == "" {
		name = w.UserNameAlt
	}
	return Message{
		ID:        id,
		UserID:    *w.UserID,
		UserName:  name,
		UserLevel: w.UserLevel,
		Body:      body.String(),
		Target:    w.Target,
		Whisper:   w.Message.Meta.Whisper,
		Action:    w.Message.Meta.Me,
		Timestamp: received,
	}, nil
}

func decodeChatMessage(payload json.RawMessage, received time.Time) (Message, error) {
	var w wireChatMessage
	if err := protocol.Unmarshal(payload, &w); err != nil {
		return Message{}, err
	}
	return w.toMessage(received)
}

type wireUser struct {
	ID       *uint32 `json:"id"`
	UserID   *uint32 `json:"user_id"`
	Username string  `json:"username"`
	UserName string  `json:"user_name"`
}

func (w wireUser) id() (uint32, bool) {
	switch {
	case w.ID != nil:
		return *w.ID, true
	case w.UserID != nil:
		return *w.UserID, true
	}
	return 0, false
}

func (w wireUser) name() string {
	if w.Username != "" {
		return w.Username
	}
	return w.UserName
}

type wireAuthReply struct {
	Authenticated bool     `json:"authenticated"`
	Roles         []string `json:"roles"`
}
