package transport

import (
	"errors"
	"net/http"
)

// ErrNotConnected is returned by Send when the socket is not open.
var ErrNotConnected = errors.New("transport: not connected")

// Close codes used by sessions.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Listener receives transport notifications. Calls arrive on whatever goroutine
// the transport uses; receivers must hop to their own owner before touching state.
type Listener interface {
	OnConnected()
	OnConnectionError(message string)
	OnMessage(text string)
	OnClosed(code int, reason string, wasClean bool)
}

// Transport is a bidirectional text-message socket.
type Transport interface {
	// SetListener replaces the notification receiver. nil detaches.
	SetListener(l Listener)
	// Connect starts connecting in the background. Completion is reported
	// through OnConnected or OnConnectionError.
	Connect()
	Close(code int, reason string)
	Send(text string) error
	IsConnected() bool
}

// Factory builds a transport for one connection attempt.
type Factory func(url string, header http.Header) Transport
