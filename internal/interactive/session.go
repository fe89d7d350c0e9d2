// Package interactive is the interactive-service session client: host
// discovery, the hello handshake, the scene/group/control cache and the
// interactivity start/stop lifecycle.
package interactive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vntrieu/mixplay/internal/auth"
	"github.com/vntrieu/mixplay/internal/participant"
	"github.com/vntrieu/mixplay/internal/protocol"
	"github.com/vntrieu/mixplay/internal/transport"
)

const protocolVersion = "2.0"

// HostResolver lists interactive endpoints.
type HostResolver interface {
	InteractiveHosts(ctx context.Context) ([]string, error)
}

// Config describes one interactive session.
type Config struct {
	ProjectVersionID uint32
	ShareCode        string
	Credentials      auth.Credentials
	// Endpoints skips host discovery when set. They are tried in order.
	Endpoints           []string
	PerParticipantState bool
	Rejoin              bool
	DiscoveryTimeout    time.Duration
	// SweepStale drops idle unpinned participants every SweepInterval.
	SweepStale    bool
	SweepInterval time.Duration
	StaleAfter    time.Duration
}

// Deps are the collaborators of a Session. Zero fields get defaults.
type Deps struct {
	Hosts        HostResolver
	Dial         transport.Factory
	Observer     Observer
	Participants *participant.Cache
	Now          func() time.Time
}

// Session is one interactive connection. All methods run on the loop; other
// goroutines use Exec.
type Session struct {
	cfg  Config
	deps Deps
	loop *protocol.Loop
	conn *protocol.Conn

	connState     ConnState
	login         LoginState
	interactivity InteractivityState

	endpoints   []string
	everReady   bool
	pendingInit int
	discoverSeq uint64
	reconnect   *protocol.Reconnect

	cache       *Cache
	users       *participant.Cache
	clockOffset time.Duration
}

// NewSession builds an idle session; call Login to connect.
func NewSession(loop *protocol.Loop, cfg Config, deps Deps) *Session {
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if deps.Dial == nil {
		deps.Dial = transport.Dial
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Participants == nil {
		deps.Participants = participant.NewCache()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Session{
		cfg:       cfg,
		deps:      deps,
		loop:      loop,
		cache:     NewCache(cfg.PerParticipantState),
		users:     deps.Participants,
		reconnect: protocol.NewReconnect(time.Second, time.Minute),
	}
	dispatcher := sessionDispatcher()
	s.conn = protocol.NewConn("interactive", loop, protocol.MethodPushes, protocol.Hooks{
		Push: func(name string, payload json.RawMessage) (bool, error) {
			return dispatcher.Dispatch(s, name, payload)
		},
		Connected:       s.onConnected,
		ConnectionError: s.onConnectionError,
		Closed:          s.onClosed,
	})
	return s
}

// Exec runs fn on the owner loop and waits for it.
func (s *Session) Exec(ctx context.Context, fn func(*Session)) error {
	return s.loop.Do(ctx, func() { fn(s) })
}

func (s *Session) ConnState() ConnState                   { return s.connState }
func (s *Session) LoginState() LoginState                 { return s.login }
func (s *Session) InteractivityState() InteractivityState { return s.interactivity }

// Cache exposes the scene and control snapshot. Read it on the loop only.
func (s *Session) Cache() *Cache { return s.cache }

// ClockOffset is local time minus server time as measured by getTime.
func (s *Session) ClockOffset() time.Duration { return s.clockOffset }

func (s *Session) serverNow() time.Time {
	return s.deps.Now().Add(-s.clockOffset)
}

// Login starts connecting. Progress is reported through LoginStateChanged.
func (s *Session) Login() error {
	if s.login != NotLoggedIn {
		return ErrWrongState
	}
	if len(s.cfg.Endpoints) == 0 && s.deps.Hosts == nil {
		return errors.New("interactive: no endpoints and no host resolver")
	}
	s.setLogin(LoggingIn, nil)
	s.begin()
	return nil
}

// Logout closes the connection and forgets all session state.
func (s *Session) Logout() {
	s.discoverSeq++
	s.conn.Cleanup()
	s.connState = NotConnected
	s.everReady = false
	s.reset()
	s.setInteractivity(NotInteractive)
	s.setLogin(NotLoggedIn, nil)
}

func (s *Session) begin() {
	if len(s.cfg.Endpoints) > 0 {
		s.endpoints = append([]string(nil), s.cfg.Endpoints...)
		s.openNext()
		return
	}
	s.startDiscovery()
}

func (s *Session) startDiscovery() {
	s.connState = Discovering
	s.discoverSeq++
	seq := s.discoverSeq
	hosts, timeout := s.deps.Hosts, s.cfg.DiscoveryTimeout

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		endpoints, err := hosts.InteractiveHosts(ctx)
		s.loop.Post(func() {
			if seq != s.discoverSeq || s.login == NotLoggedIn {
				return
			}
			if err != nil {
				s.fail(fmt.Errorf("host discovery: %w", err))
				return
			}
			log.Printf("interactive hosts discovered count=%d", len(endpoints))
			s.endpoints = endpoints
			s.openNext()
		})
	}()
}

// openNext consumes the first remaining endpoint.
func (s *Session) openNext() {
	for len(s.endpoints) > 0 {
		endpoint := s.endpoints[0]
		s.endpoints = s.endpoints[1:]
		target, header, err := s.connectTarget(endpoint)
		if err != nil {
			log.Printf("interactive endpoint skipped endpoint=%q err=%v", endpoint, err)
			continue
		}
		s.connState = OpeningSocket
		s.conn.Open(s.deps.Dial, target, header)
		return
	}
	if s.everReady && s.cfg.Rejoin {
		s.scheduleRetry()
		return
	}
	s.fail(errors.New("no interactive endpoint accepted the connection"))
}

func (s *Session) scheduleRetry() {
	delay := s.reconnect.Next()
	s.connState = Discovering
	s.discoverSeq++
	seq := s.discoverSeq
	log.Printf("interactive rejoin retry in %s attempt=%d", delay, s.reconnect.Attempts())
	time.AfterFunc(delay, func() {
		s.loop.Post(func() {
			if seq != s.discoverSeq || s.login == NotLoggedIn {
				return
			}
			s.begin()
		})
	})
}

// connectTarget adds the auth and version parameters to endpoint.
func (s *Session) connectTarget(endpoint string) (string, http.Header, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, err
	}
	version := strconv.FormatUint(uint64(s.cfg.ProjectVersionID), 10)
	q := u.Query()
	if bearer := s.cfg.Credentials.Bearer(); bearer != "" {
		q.Set("authorization", bearer)
	}
	q.Set("x-interactive-version", version)
	q.Set("x-protocol-version", protocolVersion)
	if s.cfg.ShareCode != "" {
		q.Set("x-interactive-sharecode", s.cfg.ShareCode)
	}
	u.RawQuery = q.Encode()

	header := s.cfg.Credentials.Apply(http.Header{})
	header.Set("X-Interactive-Version", version)
	header.Set("X-Protocol-Version", protocolVersion)
	if s.cfg.ShareCode != "" {
		header.Set("X-Interactive-Sharecode", s.cfg.ShareCode)
	}
	return u.String(), header, nil
}

func (s *Session) onConnected() {
	log.Printf("interactive socket open, waiting for hello")
}

func (s *Session) onConnectionError(message string) {
	log.Printf("interactive socket error err=%s remaining=%d", message, len(s.endpoints))
	s.openNext()
}

func (s *Session) onClosed(code int, reason string, wasClean bool) {
	wasReady := s.connState == Ready
	log.Printf("interactive socket closed code=%d reason=%q clean=%t ready=%t", code, reason, wasClean, wasReady)
	s.setInteractivity(NotInteractive)

	switch {
	case s.cfg.Rejoin && s.everReady:
		s.openNext()
	case !wasReady && len(s.endpoints) > 0:
		s.openNext()
	case wasReady:
		s.conn.Cleanup()
		s.connState = NotConnected
		s.everReady = false
		s.reset()
		var err error
		if !wasClean {
			err = fmt.Errorf("%w: code=%d %s", ErrConnectionLost, code, reason)
		}
		s.setLogin(NotLoggedIn, err)
	default:
		s.fail(fmt.Errorf("socket closed before ready: code=%d %s", code, reason))
	}
}

// fail abandons the login and reports err.
func (s *Session) fail(err error) {
	log.Printf("interactive login failed err=%v", err)
	s.discoverSeq++
	s.conn.Cleanup()
	s.connState = NotConnected
	s.everReady = false
	s.reset()
	s.setInteractivity(NotInteractive)
	s.setLogin(NotLoggedIn, err)
}

func (s *Session) reset() {
	s.cache.Reset()
	s.users.Clear()
	s.pendingInit = 0
	s.endpoints = nil
}

func (s *Session) setLogin(state LoginState, err error) {
	if s.login == state && err == nil {
		return
	}
	s.login = state
	s.deps.Observer.LoginStateChanged(state, err)
}

func (s *Session) setInteractivity(state InteractivityState) {
	if s.interactivity == state {
		return
	}
	s.interactivity = state
	s.deps.Observer.InteractivityStateChanged(state)
}

// initialize fetches the session snapshot after hello. Ready follows the last reply.
func (s *Session) initialize() {
	s.connState = Authenticating
	s.pendingInit = 4

	sent := s.deps.Now()
	calls := []struct {
		method string
		handle func(*protocol.Reply) error
	}{
		{methodGetTime, func(r *protocol.Reply) error { return s.onTime(r, sent) }},
		{methodGetScenes, s.onScenes},
		{methodGetGroups, s.onGroups},
		{methodGetAllParticipants, s.onAllParticipants},
	}
	for _, c := range calls {
		c := c
		_, err := s.conn.Call(c.method, nil, func(r *protocol.Reply) {
			s.initReply(c.method, c.handle(r))
		})
		if err != nil {
			log.Printf("interactive %s send failed err=%v", c.method, err)
			s.pendingInit = 0
			s.conn.Cleanup()
			s.openNext()
			return
		}
	}
}

func (s *Session) initReply(method string, err error) {
	if s.connState != Authenticating {
		return
	}
	if err != nil {
		s.fail(fmt.Errorf("%s: %w", method, err))
		return
	}
	s.pendingInit--
	if s.pendingInit > 0 {
		return
	}
	s.connState = Ready
	s.everReady = true
	s.reconnect.Reset()
	log.Printf("interactive ready scenes=%d groups=%d participants=%d clock_offset=%s",
		len(s.cache.Scenes()), len(s.cache.Groups()), s.users.Len(), s.clockOffset)
	s.setLogin(LoggedIn, nil)
}

func (s *Session) onTime(r *protocol.Reply, sent time.Time) error {
	if err := r.Err(); err != nil {
		return err
	}
	var body wireTime
	if err := r.Decode(&body); err != nil {
		return err
	}
	if err := protocol.Require(body.Time != nil, "time"); err != nil {
		return err
	}
	recv := s.deps.Now()
	latency := recv.Sub(sent) / 2
	s.clockOffset = recv.Add(-latency).Sub(msTime(body.Time))
	return nil
}

func (s *Session) onScenes(r *protocol.Reply) error {
	if err := r.Err(); err != nil {
		return err
	}
	var body wireScenes
	if err := r.Decode(&body); err != nil {
		return err
	}
	if err := protocol.Require(body.Scenes != nil, "scenes"); err != nil {
		return err
	}
	return s.cache.ReplaceScenes(body.Scenes, s.serverNow())
}

func (s *Session) onGroups(r *protocol.Reply) error {
	if err := r.Err(); err != nil {
		return err
	}
	groups, err := decodeGroups(r.Body())
	if err != nil {
		return err
	}
	s.cache.replaceGroups(groups)
	return nil
}

func (s *Session) onAllParticipants(r *protocol.Reply) error {
	if err := r.Err(); err != nil {
		return err
	}
	ps, err := decodeParticipants(r.Body())
	if err != nil {
		return err
	}
	present := make(map[uint32]bool, len(ps))
	for _, p := range ps {
		s.join(p)
		present[p.UserID] = true
	}
	// The snapshot is authoritative. After a rejoin it drops viewers that left
	// while the socket was down.
	for _, p := range s.users.All() {
		if present[p.UserID] {
			continue
		}
		if gone, ok := s.users.Leave(p.UserID); ok {
			s.cache.dropParticipant(gone.UserID)
			s.deps.Observer.ParticipantStateChanged(gone, ParticipantLeft)
		}
	}
	return nil
}

// join caches p and announces it when it is new.
func (s *Session) join(p participant.Participant) participant.Participant {
	stored, isNew := s.users.Join(p)
	if isNew {
		s.deps.Observer.ParticipantStateChanged(stored, ParticipantJoined)
	} else {
		s.deps.Observer.ParticipantStateChanged(stored, ParticipantUpdated)
	}
	return stored
}

// RunMaintenance ticks the cache every interval and sweeps stale participants
// when enabled, until ctx is done.
func (s *Session) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	lastSweep := last
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			sweep := s.cfg.SweepStale && now.Sub(lastSweep) >= s.cfg.SweepInterval
			if sweep {
				lastSweep = now
			}
			s.loop.Post(func() {
				s.Tick(elapsed)
				if sweep {
					s.SweepParticipants()
				}
			})
		}
	}
}
