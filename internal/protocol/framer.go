package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

var (
	// ErrDuplicateID means a reply handler was already registered for an id.
	// Ids are assigned monotonically, so this is a counter bug.
	ErrDuplicateID = errors.New("protocol: duplicate message id")

	// ErrMissingField marks a known message that lacks a required field.
	ErrMissingField = errors.New("protocol: missing required field")
)

// ReplyHandler consumes the reply to one call.
type ReplyHandler func(r *Reply)

// Framer assigns ids to outbound calls and routes replies back to the handler
// that issued them. It is owned by a single goroutine.
type Framer struct {
	send    func(text string) error
	nextID  uint32
	pending map[uint32]ReplyHandler
}

// NewFramer returns a Framer writing through send.
func NewFramer(send func(text string) error) *Framer {
	return &Framer{
		send:    send,
		pending: make(map[uint32]ReplyHandler),
	}
}

// Call sends a method with a named-object params body. A nil handler still
// consumes an id so a late reply is absorbed silently.
func (f *Framer) Call(method string, params interface{}, h ReplyHandler) (uint32, error) {
	if params == nil {
		params = struct{}{}
	}
	return f.write(&MethodMessage{Type: TypeMethod, Method: method, Params: params}, h)
}

// CallArgs sends a method with a positional arguments body.
func (f *Framer) CallArgs(method string, args []interface{}, h ReplyHandler) (uint32, error) {
	if args == nil {
		args = []interface{}{}
	}
	return f.write(&MethodMessage{Type: TypeMethod, Method: method, Arguments: args}, h)
}

func (f *Framer) write(msg *MethodMessage, h ReplyHandler) (uint32, error) {
	id := f.nextID
	f.nextID++
	if _, exists := f.pending[id]; exists {
		log.Printf("framer: duplicate id=%d method=%s", id, msg.Method)
		return 0, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	msg.ID = id

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", msg.Method, err)
	}

	f.pending[id] = h
	if err := f.send(string(payload)); err != nil {
		delete(f.pending, id)
		return 0, fmt.Errorf("send %s: %w", msg.Method, err)
	}
	return id, nil
}

// HandleReply routes a reply. It reports false for an id with no pending call.
func (f *Framer) HandleReply(r *Reply) bool {
	h, ok := f.pending[r.ID]
	if !ok {
		log.Printf("framer: unexpected reply id=%d", r.ID)
		return false
	}
	delete(f.pending, r.ID)
	if h != nil {
		h(r)
	}
	return true
}

// Pending returns the number of calls awaiting a reply.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// NextID returns the id the next call will use.
func (f *Framer) NextID() uint32 {
	return f.nextID
}

// Reset drops every pending handler without invoking it.
func (f *Framer) Reset() {
	f.pending = make(map[uint32]ReplyHandler)
}
