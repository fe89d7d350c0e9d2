package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryMax is the history bound when none is configured.
const DefaultHistoryMax = 10

// maxHistoryRequest caps the count sent with the history method.
const maxHistoryRequest = 100

// Message is one chat line.
type Message struct {
	ID        uuid.UUID `json:"id"`
	UserID    uint32    `json:"user_id"`
	UserName  string    `json:"user_name"`
	UserLevel int       `json:"user_level"`
	Body      string    `json:"body"`
	Target    string    `json:"target,omitempty"`
	Whisper   bool      `json:"whisper"`
	Action    bool      `json:"action"`
	Deleted   bool      `json:"deleted"`
	Timestamp time.Time `json:"timestamp"`
}

// DisplayText is the body as a client renders it; /me actions lead with the sender.
func (m Message) DisplayText() string {
	if m.Action {
		return strings.TrimSpace(m.UserName + " " + m.Body)
	}
	return m.Body
}

const nilIndex = -1

type node struct {
	msg  Message
	prev int
	next int
}

// History is a bounded newest-first list. Nodes live in an arena and link by
// index, so unlinking never chases pointers and freed slots are reused.
type History struct {
	nodes []node
	free  []int
	head  int // newest
	tail  int // oldest
	count int
	max   int
}

// NewHistory returns an empty list holding at most limit messages.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryMax
	}
	return &History{head: nilIndex, tail: nilIndex, max: limit}
}

func (h *History) Len() int { return h.count }

func (h *History) Max() int { return h.max }

// RequestSize is the count to ask the server for.
func (h *History) RequestSize() int {
	if h.max < maxHistoryRequest {
		return h.max
	}
	return maxHistoryRequest
}

// Add links m in as the newest message and evicts the oldest past the bound.
// It returns the evicted message, if any.
func (h *History) Add(m Message) (evicted Message, ok bool) {
	i := h.alloc(m)
	h.nodes[i].next = h.head
	if h.head != nilIndex {
		h.nodes[h.head].prev = i
	}
	h.head = i
	if h.tail == nilIndex {
		h.tail = i
	}
	h.count++

	if h.count > h.max {
		old := h.tail
		evicted = h.nodes[old].msg
		h.unlink(old)
		return evicted, true
	}
	return Message{}, false
}

// Messages returns the list newest first.
func (h *History) Messages() []Message {
	out := make([]Message, 0, h.count)
	for i := h.head; i != nilIndex; i = h.nodes[i].next {
		out = append(out, h.nodes[i].msg)
	}
	return out
}

// Get finds a message by id.
func (h *History) Get(id uuid.UUID) (Message, bool) {
	for i := h.head; i != nilIndex; i = h.nodes[i].next {
		if h.nodes[i].msg.ID == id {
			return h.nodes[i].msg, true
		}
	}
	return Message{}, false
}

// DeleteIf unlinks every message matching pred and returns them newest first.
func (h *History) DeleteIf(pred func(Message) bool) []Message {
	var removed []Message
	for i := h.head; i != nilIndex; {
		next := h.nodes[i].next
		if pred(h.nodes[i].msg) {
			removed = append(removed, h.nodes[i].msg)
			h.unlink(i)
		}
		i = next
	}
	return removed
}

// DeleteByID unlinks the message with id.
func (h *History) DeleteByID(id uuid.UUID) (Message, bool) {
	removed := h.DeleteIf(func(m Message) bool { return m.ID == id })
	if len(removed) == 0 {
		return Message{}, false
	}
	return removed[0], true
}

// DeleteByUser unlinks every message sent by userID.
func (h *History) DeleteByUser(userID uint32) []Message {
	return h.DeleteIf(func(m Message) bool { return m.UserID == userID })
}

// Clear empties the list and releases the arena.
func (h *History) Clear() {
	h.nodes = nil
	h.free = nil
	h.head, h.tail = nilIndex, nilIndex
	h.count = 0
}

// Detach empties the list and returns what it held, newest first.
func (h *History) Detach() []Message {
	out := h.Messages()
	h.Clear()
	return out
}

// Reconcile rebuilds the list from a server history payload (oldest first) and
// the messages held locally before the request (newest first). Local messages
// go in front of the fetched ones. When the oldest local message is found in
// the fetched list, everything from the fetched head down to and including the
// match is elided; otherwise the two lists are concatenated as they are.
func (h *History) Reconcile(local []Message, serverOldestFirst []Message) {
	h.Clear()
	for _, m := range serverOldestFirst {
		h.Add(m)
	}
	if len(local) == 0 {
		return
	}

	fresh := h.Detach()
	oldestLocal := local[len(local)-1].ID
	match := nilIndex
	for i, m := range fresh {
		if m.ID == oldestLocal {
			match = i
			break
		}
	}

	merged := make([]Message, 0, len(local)+len(fresh))
	merged = append(merged, local...)
	if match != nilIndex {
		merged = append(merged, fresh[match+1:]...)
	} else {
		merged = append(merged, fresh...)
	}

	for i := len(merged) - 1; i >= 0; i-- {
		h.Add(merged[i])
	}
}

func (h *History) alloc(m Message) int {
	n := node{msg: m, prev: nilIndex, next: nilIndex}
	if k := len(h.free); k > 0 {
		i := h.free[k-1]
		h.free = h.free[:k-1]
		h.nodes[i] = n
		return i
	}
	h.nodes = append(h.nodes, n)
	return len(h.nodes) - 1
}

func (h *History) unlink(i int) {
	n := &h.nodes[i]
	if n.prev != nilIndex {
		h.nodes[n.prev].next = n.next
	} else {
		h.head = n.next
	}
	if n.next != nilIndex {
		h.nodes[n.next].prev = n.prev
	} else {
		h.tail = n.prev
	}
	n.prev, n.next = nilIndex, nilIndex
	n.msg = Message{}
	h.free = append(h.free, i)
	h.count--
}
