package protocol

import (
	"encoding/json"
	"fmt"
)

// Handler processes one push payload for a session of type T. Returning an
// error marks the packet as a parse failure; the handler must not have mutated
// state in that case.
type Handler[T any] func(target T, payload json.RawMessage) error

// Dispatcher maps push names to handlers. Build one per session type and share
// it between instances.
type Dispatcher[T any] struct {
	handlers map[string]Handler[T]
}

// NewDispatcher copies handlers into a new Dispatcher.
func NewDispatcher[T any](handlers map[string]Handler[T]) *Dispatcher[T] {
	d := &Dispatcher[T]{handlers: make(map[string]Handler[T], len(handlers))}
	for name, h := range handlers {
		d.handlers[name] = h
	}
	return d
}

// Dispatch invokes the handler for name. handled is false for unknown names.
func (d *Dispatcher[T]) Dispatch(target T, name string, payload json.RawMessage) (handled bool, err error) {
	h, ok := d.handlers[name]
	if !ok {
		return false, nil
	}
	if err := h(target, payload); err != nil {
		return true, fmt.Errorf("%s: %w", name, err)
	}
	return true, nil
}

// Names returns the registered push names.
func (d *Dispatcher[T]) Names() []string {
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	return out
}

// Unmarshal decodes a push payload, treating null as an empty object.
func Unmarshal(payload json.RawMessage, v interface{}) error {
	if IsNull(payload) {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Require returns ErrMissingField naming field when ok is false.
func Require(ok bool, field string) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}
