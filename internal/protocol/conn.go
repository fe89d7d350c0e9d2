package protocol

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/vntrieu/mixplay/internal/transport"
)

// Hooks are the session-specific reactions of a Conn. All run on the loop.
type Hooks struct {
	// Push handles an unsolicited message. handled=false logs it as unhandled.
	Push func(name string, payload json.RawMessage) (handled bool, err error)

	Connected       func()
	ConnectionError func(message string)
	Closed          func(code int, reason string, wasClean bool)
}

// Conn is the part shared by every session: it owns the current transport,
// marshals its callbacks onto the loop and frames calls and replies.
type Conn struct {
	name   string
	loop   *Loop
	style  PushStyle
	hooks  Hooks
	framer *Framer

	transport  transport.Transport
	generation uint64
}

// NewConn builds a Conn. name labels log lines.
func NewConn(name string, loop *Loop, style PushStyle, hooks Hooks) *Conn {
	c := &Conn{name: name, loop: loop, style: style, hooks: hooks}
	c.framer = NewFramer(c.sendText)
	return c
}

// Open tears down any current transport, builds a new one with factory and starts connecting.
func (c *Conn) Open(factory transport.Factory, url string, header http.Header) {
	c.Cleanup()
	t := factory(url, header)
	c.transport = t
	t.SetListener(&listener{conn: c, gen: c.generation})
	t.Connect()
}

// Cleanup detaches callbacks before closing the transport and drops pending
// replies. Callbacks already queued for the old transport are ignored.
func (c *Conn) Cleanup() {
	c.generation++
	c.framer.Reset()
	if c.transport == nil {
		return
	}
	t := c.transport
	c.transport = nil
	t.SetListener(nil)
	t.Close(transport.CloseNormal, "")
}

// IsConnected reports whether the current transport is open.
func (c *Conn) IsConnected() bool {
	return c.transport != nil && c.transport.IsConnected()
}

// Call sends a named-params method.
func (c *Conn) Call(method string, params interface{}, h ReplyHandler) (uint32, error) {
	return c.framer.Call(method, params, h)
}

// CallArgs sends a positional-arguments method.
func (c *Conn) CallArgs(method string, args []interface{}, h ReplyHandler) (uint32, error) {
	return c.framer.CallArgs(method, args, h)
}

// Framer exposes the framer for inspection.
func (c *Conn) Framer() *Framer {
	return c.framer
}

func (c *Conn) sendText(text string) error {
	if c.transport == nil || !c.transport.IsConnected() {
		return transport.ErrNotConnected
	}
	return c.transport.Send(text)
}

// HandleText parses one inbound frame and routes it. Must run on the loop.
func (c *Conn) HandleText(text string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		log.Printf("%s: parse failure err=%v packet=%s", c.name, err, text)
		return
	}
	var msgType string
	if raw, ok := fields["type"]; !ok || json.Unmarshal(raw, &msgType) != nil {
		log.Printf("%s: parse failure missing type packet=%s", c.name, text)
		return
	}

	switch {
	case msgType == TypeReply:
		var r Reply
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			log.Printf("%s: parse failure reply err=%v packet=%s", c.name, err, text)
			return
		}
		if _, ok := fields["id"]; !ok {
			log.Printf("%s: parse failure reply without id packet=%s", c.name, text)
			return
		}
		c.framer.HandleReply(&r)

	case msgType == c.style.Type:
		var name string
		if raw, ok := fields[c.style.NameField]; !ok || json.Unmarshal(raw, &name) != nil || name == "" {
			log.Printf("%s: parse failure missing %s packet=%s", c.name, c.style.NameField, text)
			return
		}
		if c.hooks.Push == nil {
			return
		}
		handled, err := c.hooks.Push(name, fields[c.style.PayloadField])
		if err != nil {
			log.Printf("%s: parse failure %v packet=%s", c.name, err, text)
			return
		}
		if !handled {
			log.Printf("%s: unhandled %s=%s", c.name, c.style.NameField, name)
		}

	default:
		log.Printf("%s: parse failure unknown type=%s packet=%s", c.name, msgType, text)
	}
}

// listener stamps callbacks with the generation they belong to.
type listener struct {
	conn *Conn
	gen  uint64
}

func (l *listener) post(fn func()) {
	c, gen := l.conn, l.gen
	c.loop.Post(func() {
		if c.generation != gen {
			return
		}
		fn()
	})
}

func (l *listener) OnConnected() {
	l.post(func() {
		if l.conn.hooks.Connected != nil {
			l.conn.hooks.Connected()
		}
	})
}

func (l *listener) OnConnectionError(message string) {
	l.post(func() {
		if l.conn.hooks.ConnectionError != nil {
			l.conn.hooks.ConnectionError(message)
		}
	})
}

func (l *listener) OnMessage(text string) {
	l.post(func() { l.conn.HandleText(text) })
}

func (l *listener) OnClosed(code int, reason string, wasClean bool) {
	l.post(func() {
		c := l.conn
		c.generation++
		c.framer.Reset()
		if c.transport != nil {
			c.transport.SetListener(nil)
			c.transport = nil
		}
		if c.hooks.Closed != nil {
			c.hooks.Closed(code, reason, wasClean)
		}
	})
}
