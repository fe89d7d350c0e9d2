package chat

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/vntrieu/mixplay/internal/participant"
	"github.com/vntrieu/mixplay/internal/protocol"
)

var (
	dispatcherOnce sync.Once
	dispatcher     *protocol.Dispatcher[*Connection]
)

func chatDispatcher() *protocol.Dispatcher[*Connection] {
	dispatcherOnce.Do(func() {
		dispatcher = protocol.NewDispatcher(map[string]protocol.Handler[*Connection]{
			EventWelcome:       (*Connection).handleWelcome,
			EventChatMessage:   (*Connection).handleChatMessage,
			EventUserJoin:      (*Connection).handleUserJoin,
			EventUserLeave:     (*Connection).handleUserLeave,
			EventDeleteMessage: (*Connection).handleDeleteMessage,
			EventClearMessages: (*Connection).handleClearMessages,
			EventPurgeMessage:  (*Connection).handlePurgeMessage,
			EventPollStart:     (*Connection).handlePollStart,
			EventPollEnd:       (*Connection).handlePollEnd,
		})
	})
	return dispatcher
}

func (c *Connection) handleWelcome(payload json.RawMessage) error {
	var body struct {
		Server string `json:"server"`
	}
	if err := protocol.Unmarshal(payload, &body); err != nil {
		return err
	}
	log.Printf("chat welcome room=%s server=%s", c.cfg.Room, body.Server)
	return nil
}

func (c *Connection) handleChatMessage(payload json.RawMessage) error {
	m, err := decodeChatMessage(payload, c.deps.Now())
	if err != nil {
		return err
	}
	c.ensureUser(m.UserID, m.UserName, m.UserLevel)
	c.history.Add(m)
	if m.Whisper {
		c.deps.Observer.WhisperReceived(c.cfg.Room, m)
	} else {
		c.deps.Observer.MessageReceived(c.cfg.Room, m)
	}
	return nil
}

// ensureUser records a user seen before their join event and announces them.
func (c *Connection) ensureUser(userID uint32, name string, level int) {
	if _, ok := c.deps.Participants.ByUserID(userID); ok {
		return
	}
	p, _ := c.deps.Participants.Join(participant.Participant{
		UserID:      userID,
		Name:        name,
		Level:       level,
		ConnectedAt: c.deps.Now(),
	})
	c.deps.Observer.UserJoined(c.cfg.Room, p)
}

func (c *Connection) handleUserJoin(payload json.RawMessage) error {
	var u wireUser
	if err := protocol.Unmarshal(payload, &u); err != nil {
		return err
	}
	id, ok := u.id()
	if err := protocol.Require(ok, "id"); err != nil {
		return err
	}
	p, isNew := c.deps.Participants.Join(participant.Participant{
		UserID:      id,
		Name:        u.name(),
		ConnectedAt: c.deps.Now(),
	})
	if isNew {
		c.deps.Observer.UserJoined(c.cfg.Room, p)
	}
	return nil
}

func (c *Connection) handleUserLeave(payload json.RawMessage) error {
	var u wireUser
	if err := protocol.Unmarshal(payload, &u); err != nil {
		return err
	}
	id, ok := u.id()
	if err := protocol.Require(ok, "id"); err != nil {
		return err
	}
	if p, ok := c.deps.Participants.Leave(id); ok {
		c.deps.Observer.UserLeft(c.cfg.Room, p)
	}
	return nil
}

func (c *Connection) handleDeleteMessage(payload json.RawMessage) error {
	var body struct {
		ID *string `json:"id"`
	}
	if err := protocol.Unmarshal(payload, &body); err != nil {
		return err
	}
	if err := protocol.Require(body.ID != nil, "id"); err != nil {
		return err
	}
	id, err := uuid.Parse(*body.ID)
	if err != nil {
		return fmt.Errorf("message id %q: %w", *body.ID, err)
	}
	m, ok := c.history.DeleteByID(id)
	if !ok {
		return nil
	}
	m.Deleted = true
	m.Body = ""
	c.deps.Observer.MessageDeleted(c.cfg.Room, m)
	return nil
}

func (c *Connection) handleClearMessages(json.RawMessage) error {
	c.history.Clear()
	c.deps.Observer.MessagesCleared(c.cfg.Room)
	return nil
}

func (c *Connection) handlePurgeMessage(payload json.RawMessage) error {
	var body struct {
		UserID *uint32 `json:"user_id"`
	}
	if err := protocol.Unmarshal(payload, &body); err != nil {
		return err
	}
	if err := protocol.Require(body.UserID != nil, "user_id"); err != nil {
		return err
	}
	removed := c.history.DeleteByUser(*body.UserID)
	log.Printf("chat purge room=%s user_id=%d removed=%d", c.cfg.Room, *body.UserID, len(removed))
	c.deps.Observer.UserPurged(c.cfg.Room, *body.UserID)
	return nil
}

// handlePollStart starts a poll, or updates the active one when endsAt matches.
func (c *Connection) handlePollStart(payload json.RawMessage) error {
	poll, endsAt, err := parsePoll(payload)
	if err != nil {
		return err
	}
	if c.poll != nil {
		if endsAt != c.pollEndsAt {
			return fmt.Errorf("%w: endsAt=%d active=%d", ErrPollMismatch, endsAt, c.pollEndsAt)
		}
		c.poll = &poll
		c.deps.Observer.PollUpdated(c.cfg.Room, poll)
		return nil
	}
	c.ensureUser(poll.AuthorID, poll.AuthorName, poll.AuthorLevel)
	c.poll = &poll
	c.pollEndsAt = endsAt
	c.deps.Observer.PollStarted(c.cfg.Room, poll)
	return nil
}

// handlePollEnd always clears the active poll, even when the payload is bad.
func (c *Connection) handlePollEnd(payload json.RawMessage) error {
	active, activeEndsAt := c.poll, c.pollEndsAt
	c.poll = nil
	c.pollEndsAt = 0

	poll, endsAt, err := parsePoll(payload)
	if err != nil {
		return err
	}
	if active == nil {
		return ErrNoActivePoll
	}
	if endsAt != activeEndsAt {
		return fmt.Errorf("%w: endsAt=%d active=%d", ErrPollMismatch, endsAt, activeEndsAt)
	}
	c.ensureUser(poll.AuthorID, poll.AuthorName, poll.AuthorLevel)
	c.deps.Observer.PollEnded(c.cfg.Room, poll)
	return nil
}
