package feed

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vntrieu/mixplay/internal/auth"
)

// Handler upgrades GET /api/events to a feed connection.
type Handler struct {
	hub         *Hub
	tokenSecret []byte
	upgrader    websocket.Upgrader
}

// NewHandler creates a new Handler. Without allowedOrigins every origin may connect.
func NewHandler(hub *Hub, tokenSecret []byte, allowedOrigins []string) *Handler {
	h := &Handler{hub: hub, tokenSecret: tokenSecret}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// parseTopics reads a comma separated topic list. Empty means every topic.
func parseTopics(raw string) ([]string, bool) {
	if strings.TrimSpace(raw) == "" {
		return []string{TopicInteractive, TopicChat}, true
	}
	seen := make(map[string]bool)
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if !ValidTopics[t] {
			return nil, false
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, true
}

// ServeHTTP handles GET /api/events
//
// @Summary      Event feed
// @Description  WebSocket stream of session events, one JSON envelope per line. Browsers pass the
// @Description  admin token in the token query parameter.
// @Tags         feed
// @Param        topics  query  string  false  "Comma separated: interactive, chat (default both)"
// @Param        token   query  string  false  "Admin token when no Authorization header is sent"
// @Success      101
// @Failure      400  {string}  string  "Unknown topic"
// @Failure      401  {string}  string  "Unauthorized"
// @Router       /api/events [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		const prefix = "Bearer "
		if v := r.Header.Get("Authorization"); strings.HasPrefix(v, prefix) {
			token = strings.TrimSpace(v[len(prefix):])
		}
	}
	if token == "" || len(h.tokenSecret) == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := auth.VerifyToken(token, h.tokenSecret); err != nil {
		log.Printf("feed auth failed remote=%s: %v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	topics, ok := parseTopics(r.URL.Query().Get("topics"))
	if !ok {
		http.Error(w, "unknown topic", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("feed upgrade error: %v", err)
		return
	}
	client := newClient(h.hub, conn, topics, r.RemoteAddr)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
