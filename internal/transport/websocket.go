package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	dialTimeout = 15 * time.Second

	sendBufferSize = 256
)

// WebSocket is a gorilla/websocket client transport. A value serves a single
// connection attempt; sessions build a fresh one per endpoint via Dial.
type WebSocket struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu          sync.Mutex
	listener    Listener
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	stopped     bool
	closing     bool
	closeCode   int
	closeReason string

	connected atomic.Bool
}

// NewWebSocket prepares a transport for rawURL. header is sent with the upgrade request.
func NewWebSocket(rawURL string, header http.Header) *WebSocket {
	return &WebSocket{
		url:    rawURL,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Dial is a Factory that builds WebSocket transports.
func Dial(rawURL string, header http.Header) Transport {
	return NewWebSocket(rawURL, header)
}

func (w *WebSocket) SetListener(l Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listener = l
}

func (w *WebSocket) current() Listener {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.listener
}

func (w *WebSocket) IsConnected() bool {
	return w.connected.Load()
}

func (w *WebSocket) Connect() {
	go w.dial()
}

func (w *WebSocket) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		msg := err.Error()
		if resp != nil {
			msg = fmt.Sprintf("%s (http status %d)", msg, resp.StatusCode)
		}
		log.Printf("websocket dial failed host=%s err=%s", hostOf(w.url), msg)
		if l := w.current(); l != nil {
			l.OnConnectionError(msg)
		}
		return
	}

	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		conn.Close()
		return
	}
	w.conn = conn
	w.send = make(chan []byte, sendBufferSize)
	w.done = make(chan struct{})
	send, done := w.send, w.done
	w.mu.Unlock()

	w.connected.Store(true)
	if l := w.current(); l != nil {
		l.OnConnected()
	}

	go w.writePump(conn, send, done)
	go w.readPump(conn)
}

func (w *WebSocket) Send(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected.Load() || w.send == nil || w.stopped {
		return ErrNotConnected
	}
	select {
	case w.send <- []byte(text):
		return nil
	default:
		return errors.New("transport: send buffer full")
	}
}

func (w *WebSocket) Close(code int, reason string) {
	w.mu.Lock()
	w.closing = true
	w.closeCode = code
	w.closeReason = reason
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	w.stop()
	conn.Close()
}

func (w *WebSocket) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil && !w.stopped {
		close(w.done)
		w.stopped = true
	}
}

// readPump pumps frames from the connection to the listener until it fails.
func (w *WebSocket) readPump(conn *websocket.Conn) {
	code, reason, clean := CloseAbnormal, "", false
	defer func() {
		w.connected.Store(false)
		w.stop()
		conn.Close()

		w.mu.Lock()
		if w.closing {
			code, reason, clean = w.closeCode, w.closeReason, true
		}
		w.mu.Unlock()
		if l := w.current(); l != nil {
			l.OnClosed(code, reason, clean)
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason, clean = ce.Code, ce.Text, true
			} else {
				reason = err.Error()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket error: %v", err)
			}
			return
		}
		if l := w.current(); l != nil {
			l.OnMessage(string(message))
		}
	}
}

// writePump owns all data writes. Each outbound message is its own text frame.
func (w *WebSocket) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("websocket write failed: %v", err)
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-done:
			return
		}
	}
}

// hostOf keeps credentials in the query string out of logs.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return u.Host
}
