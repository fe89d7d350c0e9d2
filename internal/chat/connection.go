// Package chat is the chat-room protocol client: discovery, auth, a bounded
// message history, poll tracking and permission-gated commands.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/vntrieu/mixplay/internal/auth"
	"github.com/vntrieu/mixplay/internal/discovery"
	"github.com/vntrieu/mixplay/internal/participant"
	"github.com/vntrieu/mixplay/internal/protocol"
	"github.com/vntrieu/mixplay/internal/ratelimit"
	"github.com/vntrieu/mixplay/internal/transport"
)

// State is the connection lifecycle.
type State int

const (
	NotConnected State = iota
	Discovering
	OpeningSocket
	Authenticating
	Ready
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case Discovering:
		return "discovering"
	case OpeningSocket:
		return "opening_socket"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Resolver performs the HTTP hops before the socket opens.
type Resolver interface {
	ChannelID(ctx context.Context, room string) (uint32, error)
	ChatServers(ctx context.Context, channelID uint32, creds auth.Credentials) (*discovery.ChatServers, error)
	CurrentUser(ctx context.Context, creds auth.Credentials) (*discovery.User, error)
}

// Config describes one room connection.
type Config struct {
	Room           string
	Credentials    auth.Credentials
	HistoryMax     int
	RequestHistory bool
	Rejoin         bool
	// DiscoveryTimeout bounds the whole discovery chain. Defaults to 30s.
	DiscoveryTimeout time.Duration
}

// Deps are the collaborators of a Connection. Zero fields get defaults.
type Deps struct {
	Resolver     Resolver
	Dial         transport.Factory
	Observer     Observer
	Limiter      ratelimit.Limiter
	Participants *participant.Cache
	// Pick chooses an index in [0,n). Defaults to a uniform random choice.
	Pick func(n int) int
	Now  func() time.Time
}

type discoveryResult struct {
	channelID uint32
	userID    uint32
	servers   *discovery.ChatServers
}

// Connection is one chat room session. All methods must run on the loop.
type Connection struct {
	cfg  Config
	deps Deps
	loop *protocol.Loop
	conn *protocol.Conn

	state        State
	channelID    uint32
	userID       uint32
	authKey      string
	perms        Permissions
	roles        []string
	endpoints    []string
	everReady    bool
	joinReported bool
	closed       bool
	discoverSeq  uint64
	reconnect    *protocol.Reconnect

	history    *History
	poll       *Poll
	pollEndsAt int64

	onTerminated func(*Connection)
}

// NewConnection builds an idle connection; call Connect to start it.
func NewConnection(loop *protocol.Loop, cfg Config, deps Deps) *Connection {
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 30 * time.Second
	}
	if deps.Dial == nil {
		deps.Dial = transport.Dial
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Noop{}
	}
	if deps.Participants == nil {
		deps.Participants = participant.NewCache()
	}
	if deps.Pick == nil {
		deps.Pick = rand.Intn
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &Connection{
		cfg:       cfg,
		deps:      deps,
		loop:      loop,
		history:   NewHistory(cfg.HistoryMax),
		reconnect: protocol.NewReconnect(500*time.Millisecond, 30*time.Second),
	}
	dispatcher := chatDispatcher()
	c.conn = protocol.NewConn("chat room="+cfg.Room, loop, protocol.ChatPushes, protocol.Hooks{
		Push: func(name string, payload json.RawMessage) (bool, error) {
			return dispatcher.Dispatch(c, name, payload)
		},
		Connected:       c.onConnected,
		ConnectionError: c.onConnectionError,
		Closed:          c.onClosed,
	})
	return c
}

func (c *Connection) Room() string             { return c.cfg.Room }
func (c *Connection) State() State             { return c.state }
func (c *Connection) IsReady() bool            { return c.state == Ready }
func (c *Connection) ChannelID() uint32        { return c.channelID }
func (c *Connection) Permissions() Permissions { return c.perms }
func (c *Connection) Roles() []string          { return append([]string(nil), c.roles...) }

// Anonymous reports whether the connection authenticates without a user.
func (c *Connection) Anonymous() bool {
	return c.cfg.Credentials.Anonymous() || c.authKey == ""
}

// Messages returns the cached history newest first.
func (c *Connection) Messages() []Message {
	return c.history.Messages()
}

// ActivePoll returns the poll in progress, if any.
func (c *Connection) ActivePoll() (Poll, bool) {
	if c.poll == nil {
		return Poll{}, false
	}
	return *c.poll, true
}

// Participants returns the users this room has seen.
func (c *Connection) Participants() []participant.Participant {
	return c.deps.Participants.All()
}

// Connect starts discovery. It fails if the connection is already running.
func (c *Connection) Connect() error {
	if c.closed {
		return errors.New("chat: connection closed")
	}
	if c.state != NotConnected {
		return ErrAlreadyJoined
	}
	if c.deps.Resolver == nil {
		return errors.New("chat: no resolver configured")
	}
	c.startDiscovery()
	return nil
}

// Close tears the connection down without notifications. In-flight discovery
// and replies are dropped when they arrive.
func (c *Connection) Close() {
	c.closed = true
	c.discoverSeq++
	c.conn.Cleanup()
	c.state = NotConnected
}

func (c *Connection) startDiscovery() {
	c.state = Discovering
	c.discoverSeq++
	seq := c.discoverSeq
	cfg, resolver := c.cfg, c.deps.Resolver

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DiscoveryTimeout)
		defer cancel()
		res, err := discover(ctx, resolver, cfg)
		c.loop.Post(func() {
			if c.closed || seq != c.discoverSeq {
				return
			}
			c.onDiscovered(res, err)
		})
	}()
}

func discover(ctx context.Context, r Resolver, cfg Config) (discoveryResult, error) {
	var res discoveryResult
	channelID, err := r.ChannelID(ctx, cfg.Room)
	if err != nil {
		return res, fmt.Errorf("resolve channel: %w", err)
	}
	res.channelID = channelID

	servers, err := r.ChatServers(ctx, channelID, cfg.Credentials)
	if err != nil {
		return res, fmt.Errorf("chat servers: %w", err)
	}
	res.servers = servers

	if !cfg.Credentials.Anonymous() && servers.AuthKey != "" {
		user, err := r.CurrentUser(ctx, cfg.Credentials)
		if err != nil {
			return res, fmt.Errorf("current user: %w", err)
		}
		res.userID = user.ID
	}
	return res, nil
}

func (c *Connection) onDiscovered(res discoveryResult, err error) {
	if err != nil {
		c.fail(fmt.Sprintf("discovery failed: %v", err))
		return
	}
	c.channelID = res.channelID
	c.userID = res.userID
	c.authKey = res.servers.AuthKey
	c.perms = ParsePermissions(res.servers.Permissions)
	if !c.perms.Has(PermConnect) {
		c.fail("missing connect permission")
		return
	}
	c.endpoints = append([]string(nil), res.servers.Endpoints...)
	log.Printf("chat discovered room=%s channel_id=%d endpoints=%d anonymous=%t", c.cfg.Room, c.channelID, len(c.endpoints), c.Anonymous())
	c.openNext()
}

// openNext opens a socket to a random remaining endpoint, re-discovering when
// a rejoining connection has run out of them.
func (c *Connection) openNext() {
	if len(c.endpoints) == 0 {
		if c.everReady && c.cfg.Rejoin {
			c.scheduleRediscovery()
			return
		}
		c.fail("no chat endpoint accepted the connection")
		return
	}
	i := c.deps.Pick(len(c.endpoints))
	endpoint := c.endpoints[i]
	c.endpoints = append(c.endpoints[:i], c.endpoints[i+1:]...)
	c.state = OpeningSocket
	c.conn.Open(c.deps.Dial, endpoint, nil)
}

func (c *Connection) scheduleRediscovery() {
	delay := c.reconnect.Next()
	c.state = Discovering
	c.discoverSeq++
	seq := c.discoverSeq
	log.Printf("chat rejoin room=%s rediscovering in %s", c.cfg.Room, delay)
	time.AfterFunc(delay, func() {
		c.loop.Post(func() {
			if c.closed || seq != c.discoverSeq {
				return
			}
			c.startDiscovery()
		})
	})
}

func (c *Connection) onConnected() {
	c.state = Authenticating
	args := []interface{}{c.channelID}
	if !c.Anonymous() {
		args = append(args, c.userID, c.authKey)
	}
	if _, err := c.conn.CallArgs(methodAuth, args, c.onAuthReply); err != nil {
		log.Printf("chat auth send failed room=%s err=%v", c.cfg.Room, err)
		c.conn.Cleanup()
		c.openNext()
	}
}

func (c *Connection) onConnectionError(message string) {
	log.Printf("chat socket error room=%s err=%s", c.cfg.Room, message)
	c.openNext()
}

func (c *Connection) onAuthReply(r *protocol.Reply) {
	if err := r.Err(); err != nil {
		c.fail(fmt.Sprintf("auth rejected: %s", r.Error.Message))
		return
	}
	var body wireAuthReply
	if err := r.Decode(&body); err != nil {
		log.Printf("chat auth reply unreadable room=%s err=%v", c.cfg.Room, err)
	}
	c.roles = body.Roles
	c.state = Ready
	c.everReady = true
	c.reconnect.Reset()
	log.Printf("chat ready room=%s authenticated=%t", c.cfg.Room, body.Authenticated)

	if c.cfg.RequestHistory {
		c.requestHistory()
	}
	if !c.joinReported {
		c.joinReported = true
		c.deps.Observer.JoinCompleted(c.cfg.Room, nil)
	}
}

// requestHistory stashes the local list and asks the server for its history.
// The reply reconciles the two.
func (c *Connection) requestHistory() {
	local := c.history.Detach()
	_, err := c.conn.CallArgs(methodHistory, []interface{}{c.history.RequestSize()}, func(r *protocol.Reply) {
		c.onHistory(r, local)
	})
	if err != nil {
		log.Printf("chat history request failed room=%s err=%v", c.cfg.Room, err)
		c.history.Reconcile(local, nil)
	}
}

func (c *Connection) onHistory(r *protocol.Reply, local []Message) {
	// Messages that arrived while the request was in flight are newer than the stash.
	stash := append(c.history.Detach(), local...)
	if err := r.Err(); err != nil {
		log.Printf("chat history rejected room=%s err=%v", c.cfg.Room, err)
		c.history.Reconcile(stash, nil)
		return
	}
	var items []wireChatMessage
	if err := r.Decode(&items); err != nil {
		log.Printf("chat history unreadable room=%s err=%v", c.cfg.Room, err)
		c.history.Reconcile(stash, nil)
		return
	}
	now := c.deps.Now()
	fetched := make([]Message, 0, len(items))
	for i := range items {
		m, err := items[i].toMessage(now)
		if err != nil {
			log.Printf("chat history entry skipped room=%s err=%v", c.cfg.Room, err)
			continue
		}
		fetched = append(fetched, m)
	}
	c.history.Reconcile(stash, fetched)
}

func (c *Connection) onClosed(code int, reason string, wasClean bool) {
	wasReady := c.state == Ready
	log.Printf("chat socket closed room=%s code=%d reason=%q clean=%t ready=%t", c.cfg.Room, code, reason, wasClean, wasReady)

	switch {
	case c.cfg.Rejoin && c.everReady:
		c.openNext()
	case !wasReady && len(c.endpoints) > 0:
		c.openNext()
	case wasReady:
		c.state = NotConnected
		c.deps.Observer.Exited(c.cfg.Room, wasClean, reason)
		c.terminate()
	default:
		c.fail(fmt.Sprintf("socket closed before ready: %s", reason))
	}
}

// fail ends the connection and surfaces msg to the observer.
func (c *Connection) fail(msg string) {
	log.Printf("chat connection failed room=%s err=%s", c.cfg.Room, msg)
	c.conn.Cleanup()
	c.state = NotConnected
	if !c.joinReported {
		c.joinReported = true
		c.deps.Observer.JoinCompleted(c.cfg.Room, errors.New(msg))
	} else {
		c.deps.Observer.Exited(c.cfg.Room, false, msg)
	}
	c.terminate()
}

func (c *Connection) terminate() {
	c.closed = true
	c.discoverSeq++
	if c.onTerminated != nil {
		c.onTerminated(c)
	}
}
