package chat

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vntrieu/mixplay/internal/protocol"
)

// gate runs the checks every outbound command shares. Nothing is sent when it fails.
func (c *Connection) gate(perm Permission, method string, limited bool) error {
	if c.state != Ready {
		return ErrNotReady
	}
	if c.Anonymous() {
		return ErrAnonymous
	}
	if !c.perms.Has(perm) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, method)
	}
	if limited {
		if allowed, retryAfter := c.deps.Limiter.Allow(c.cfg.Room + ":" + method); !allowed {
			return fmt.Errorf("%w: retry in %s", ErrRateLimited, retryAfter.Round(time.Second))
		}
	}
	return nil
}

func (c *Connection) send(method string, args ...interface{}) error {
	_, err := c.conn.CallArgs(method, args, func(r *protocol.Reply) {
		if err := r.Err(); err != nil {
			log.Printf("chat %s rejected room=%s err=%v", method, c.cfg.Room, err)
		}
	})
	return err
}

// SendMessage posts body to the room.
func (c *Connection) SendMessage(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	if err := c.gate(PermChat, methodMsg, true); err != nil {
		return err
	}
	return c.send(methodMsg, body)
}

// SendWhisper sends body privately to username.
func (c *Connection) SendWhisper(username, body string) error {
	if strings.TrimSpace(body) == "" || username == "" {
		return ErrEmptyMessage
	}
	if err := c.gate(PermWhisper, methodWhisper, true); err != nil {
		return err
	}
	return c.send(methodWhisper, username, body)
}

// StartPoll asks the server to open a poll. The poll becomes active when the
// server announces it.
func (c *Connection) StartPoll(question string, answers []string, duration time.Duration) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyMessage
	}
	if len(answers) < 2 {
		return fmt.Errorf("%w: a poll needs at least two answers", ErrInvalidAnswer)
	}
	if err := c.gate(PermPollStart, methodVoteStart, true); err != nil {
		return err
	}
	if c.poll != nil {
		return fmt.Errorf("%w until %s", ErrPollRunning, c.poll.EndsAt.Format(time.RFC3339))
	}
	list := make([]interface{}, len(answers))
	for i, a := range answers {
		list[i] = a
	}
	return c.send(methodVoteStart, question, list, int(duration/time.Second))
}

// Vote chooses answer index in the active poll.
func (c *Connection) Vote(index int) error {
	if err := c.gate(PermPollVote, methodVoteChoose, false); err != nil {
		return err
	}
	if c.poll == nil {
		return ErrNoActivePoll
	}
	if index < 0 || index >= len(c.poll.Answers) {
		return ErrInvalidAnswer
	}
	return c.send(methodVoteChoose, index)
}

// ClearMessages wipes the room for everyone.
func (c *Connection) ClearMessages() error {
	if err := c.gate(PermClearMessages, methodClearMessages, false); err != nil {
		return err
	}
	return c.send(methodClearMessages)
}

// DeleteMessage removes one message by id.
func (c *Connection) DeleteMessage(id uuid.UUID) error {
	if err := c.gate(PermClearMessages, methodDeleteMessage, false); err != nil {
		return err
	}
	return c.send(methodDeleteMessage, id.String())
}

// Purge removes every message of username.
func (c *Connection) Purge(username string) error {
	if username == "" {
		return ErrEmptyMessage
	}
	if err := c.gate(PermPurge, methodPurge, false); err != nil {
		return err
	}
	return c.send(methodPurge, username)
}

func (c *Connection) StartGiveaway() error {
	if err := c.gate(PermGiveawayStart, methodGiveawayStart, true); err != nil {
		return err
	}
	return c.send(methodGiveawayStart)
}
