// Package transporttest provides transports and servers for session tests.
package transporttest

import (
	"net/http"
	"sync"

	"github.com/vntrieu/mixplay/internal/transport"
)

// Fake is an in-memory transport driven by the test. Connect succeeds
// immediately unless FailNextConnect was set.
type Fake struct {
	URL    string
	Header http.Header

	mu        sync.Mutex
	listener  transport.Listener
	connected bool
	sent      []string
	closed    bool
	failWith  string
	sendErr   error
}

// NewFake returns a Fake bound to url.
func NewFake(url string, header http.Header) *Fake {
	return &Fake{URL: url, Header: header}
}

func (f *Fake) SetListener(l transport.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *Fake) Listener() transport.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

// FailNextConnect makes the next Connect report a connection error.
func (f *Fake) FailNextConnect(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = message
}

// FailSends makes Send return err until cleared with nil.
func (f *Fake) FailSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *Fake) Connect() {
	f.mu.Lock()
	fail := f.failWith
	f.failWith = ""
	if fail == "" {
		f.connected = true
	}
	l := f.listener
	f.mu.Unlock()
	if l == nil {
		return
	}
	if fail != "" {
		l.OnConnectionError(fail)
		return
	}
	l.OnConnected()
}

func (f *Fake) Close(code int, reason string) {
	f.mu.Lock()
	f.connected = false
	f.closed = true
	f.mu.Unlock()
}

func (f *Fake) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Sent returns a copy of every frame sent so far.
func (f *Fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// Deliver pushes a server frame to the listener.
func (f *Fake) Deliver(text string) {
	if l := f.Listener(); l != nil {
		l.OnMessage(text)
	}
}

// Drop simulates the server closing the socket.
func (f *Fake) Drop(code int, reason string, wasClean bool) {
	f.mu.Lock()
	f.connected = false
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l.OnClosed(code, reason, wasClean)
	}
}

// Dialer records every transport a session builds.
type Dialer struct {
	mu    sync.Mutex
	fakes []*Fake
	// Prepare, when set, runs on each new Fake before it is returned.
	Prepare func(f *Fake)
}

// Factory matches transport.Factory.
func (d *Dialer) Factory(url string, header http.Header) transport.Transport {
	f := NewFake(url, header)
	if d.Prepare != nil {
		d.Prepare(f)
	}
	d.mu.Lock()
	d.fakes = append(d.fakes, f)
	d.mu.Unlock()
	return f
}

// Last returns the most recently built transport, or nil.
func (d *Dialer) Last() *Fake {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.fakes) == 0 {
		return nil
	}
	return d.fakes[len(d.fakes)-1]
}

// Count returns how many transports were built.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fakes)
}

// All returns every transport built so far, oldest first.
func (d *Dialer) All() []*Fake {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Fake, len(d.fakes))
	copy(out, d.fakes)
	return out
}
