package transporttest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is an httptest websocket server that hands every inbound text frame to
// OnMessage and lets the test push frames to the connected client.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	received []string
	header   http.Header
	ready    chan struct{}

	// OnMessage, when set, may return a reply frame to send back.
	OnMessage func(text string) (reply string, ok bool)
}

// NewServer starts a server that accepts one client at a time.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{ready: make(chan struct{}, 1)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// WSURL returns the ws:// address of the server.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.header = r.Header.Clone()
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}

	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		text := string(msg)
		s.mu.Lock()
		s.received = append(s.received, text)
		handler := s.OnMessage
		s.mu.Unlock()
		if handler == nil {
			continue
		}
		if reply, ok := handler(text); ok {
			s.mu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte(reply))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Ready returns a channel signalled when a client finishes the upgrade.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Push sends a text frame to the connected client.
func (s *Server) Push(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Kick closes the client connection with a close frame.
func (s *Server) Kick(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	s.conn.Close()
}

// Received returns every frame the server has read so far.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

// RequestHeader returns the upgrade request headers of the last client.
func (s *Server) RequestHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}
