// Package feed streams session events to control API clients over WebSocket.
package feed

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Hub maintains the set of active clients and broadcasts envelopes to them.
type Hub struct {
	// Subscribed clients by topic
	topics  map[string]map[*Client]bool
	clients map[*Client]bool

	broadcast  chan *Envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	dropped atomic.Int64
}

// NewHub creates a new Hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It disconnects every client when ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.remove(c)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			for _, topic := range client.Topics {
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*Client]bool)
				}
				h.topics[topic][client] = true
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("feed client registered remote=%s topics=%v total=%d", client.Remote, client.Topics, total)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			log.Printf("feed client unregistered remote=%s", client.Remote)

		case env := <-h.broadcast:
			h.mu.Lock()
			for client := range h.topics[env.Topic] {
				select {
				case client.send <- env:
				default:
					log.Printf("feed client too slow, dropping remote=%s", client.Remote)
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove forgets client and closes its send channel. Callers hold mu.
func (h *Hub) remove(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	for _, topic := range client.Topics {
		if subs, ok := h.topics[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	close(client.send)
}

// Register adds client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues env for every subscriber of env.Topic. It never blocks; when
// the queue is full the envelope is dropped and counted.
func (h *Hub) Publish(env *Envelope) {
	select {
	case h.broadcast <- env:
	default:
		if n := h.dropped.Add(1); n%100 == 1 {
			log.Printf("feed queue full, dropped event=%s total_dropped=%d", env.Event, n)
		}
	}
}

// Dropped is the number of envelopes discarded because the queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ClientCount returns the number of clients subscribed to topic.
func (h *Hub) ClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
