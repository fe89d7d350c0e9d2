package chat

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/vntrieu/mixplay/internal/auth"
	"github.com/vntrieu/mixplay/internal/protocol"
)

// ManagerConfig holds the settings shared by every room.
type ManagerConfig struct {
	DefaultRoom    string
	HistoryMax     int
	RequestHistory bool
	Rejoin         bool
}

// Manager owns the joined rooms. Its methods must run on the loop; other
// goroutines go through Exec.
type Manager struct {
	cfg   ManagerConfig
	loop  *protocol.Loop
	deps  Deps
	creds auth.Credentials

	rooms map[string]*Connection
}

// NewManager returns a manager whose rooms share deps. deps.Participants is
// ignored; every room tracks its own users.
func NewManager(loop *protocol.Loop, cfg ManagerConfig, deps Deps) *Manager {
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	deps.Participants = nil
	return &Manager{
		cfg:   cfg,
		loop:  loop,
		deps:  deps,
		rooms: make(map[string]*Connection),
	}
}

// Exec runs fn on the owner loop and waits for it.
func (m *Manager) Exec(ctx context.Context, fn func(*Manager)) error {
	return m.loop.Do(ctx, func() { fn(m) })
}

// SetCredentials changes the user future joins authenticate as.
func (m *Manager) SetCredentials(creds auth.Credentials) {
	m.creds = creds
}

func roomKey(room string) string {
	return strings.ToLower(strings.TrimSpace(room))
}

func (m *Manager) resolve(room string) string {
	if strings.TrimSpace(room) == "" {
		return m.cfg.DefaultRoom
	}
	return room
}

// JoinRoom starts joining room. The result arrives through Observer.JoinCompleted.
// An authenticated join replaces an anonymous connection to the same room; if
// that connection was still joining, its join completes with ErrSuperseded.
func (m *Manager) JoinRoom(room string, anonymous bool) error {
	room = m.resolve(room)
	key := roomKey(room)
	if key == "" {
		return ErrUnknownRoom
	}
	if !anonymous && m.creds.Anonymous() {
		return ErrAnonymous
	}

	if existing, ok := m.rooms[key]; ok {
		// The auth key stays empty until discovery finishes, so decide on the
		// credentials the connection was started with.
		if !existing.cfg.Credentials.Anonymous() || anonymous {
			return ErrAlreadyJoined
		}
		log.Printf("chat upgrading anonymous room=%s", room)
		pending := !existing.IsReady()
		existing.Close()
		delete(m.rooms, key)
		if pending {
			m.deps.Observer.JoinCompleted(existing.Room(), ErrSuperseded)
		}
	}

	creds := m.creds
	if anonymous {
		creds = auth.Credentials{}
	}
	c := NewConnection(m.loop, Config{
		Room:           room,
		Credentials:    creds,
		HistoryMax:     m.cfg.HistoryMax,
		RequestHistory: m.cfg.RequestHistory,
		Rejoin:         m.cfg.Rejoin,
	}, m.deps)
	c.onTerminated = func(done *Connection) {
		if m.rooms[key] == done {
			delete(m.rooms, key)
		}
	}
	m.rooms[key] = c
	if err := c.Connect(); err != nil {
		delete(m.rooms, key)
		return err
	}
	return nil
}

// ExitRoom leaves room and reports a clean exit.
func (m *Manager) ExitRoom(room string) error {
	room = m.resolve(room)
	key := roomKey(room)
	c, ok := m.rooms[key]
	if !ok {
		return ErrUnknownRoom
	}
	c.Close()
	delete(m.rooms, key)
	m.deps.Observer.Exited(c.Room(), true, "left room")
	return nil
}

// Room returns the connection for room.
func (m *Manager) Room(room string) (*Connection, bool) {
	c, ok := m.rooms[roomKey(m.resolve(room))]
	return c, ok
}

// SendRoomChat posts body to room.
func (m *Manager) SendRoomChat(room, body string) error {
	c, ok := m.Room(room)
	if !ok {
		return ErrUnknownRoom
	}
	return c.SendMessage(body)
}

// SendPrivateChat whispers to username through the default room.
func (m *Manager) SendPrivateChat(username, body string) error {
	c, ok := m.Room(m.cfg.DefaultRoom)
	if !ok {
		return ErrUnknownRoom
	}
	return c.SendWhisper(username, body)
}

// IsChatAllowed reports whether messages can be sent to room right now.
func (m *Manager) IsChatAllowed(room string) bool {
	c, ok := m.Room(room)
	return ok && c.IsReady() && !c.Anonymous() && c.Permissions().Has(PermChat)
}

// JoinedRooms lists rooms that are joined or joining, sorted.
func (m *Manager) JoinedRooms() []string {
	out := make([]string, 0, len(m.rooms))
	for _, c := range m.rooms {
		out = append(out, c.Room())
	}
	sort.Strings(out)
	return out
}

// Close leaves every room without notifications.
func (m *Manager) Close() {
	for key, c := range m.rooms {
		c.Close()
		delete(m.rooms, key)
	}
}
