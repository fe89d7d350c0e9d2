package interactive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/vntrieu/mixplay/internal/auth"
	"github.com/vntrieu/mixplay/internal/participant"
	"github.com/vntrieu/mixplay/internal/protocol"
	"github.com/vntrieu/mixplay/internal/transport/transporttest"
)

// fire cools down until serverT0+5s.
const scenesJSON = `{"scenes":[
	{"sceneID":"default","controls":[
		{"controlID":"fire","kind":"button","text":"Fire","cost":10,"cooldown":1714557605000},
		{"controlID":"aim","kind":"joystick"},
		{"controlID":"status","kind":"label","text":"hi"},
		{"controlID":"name","kind":"textbox","placeholder":"you","cost":3}
	]},
	{"sceneID":"lobby","controls":[{"controlID":"wheel","kind":"spinner"}]}
]}`

const (
	aliceSession = "11111111-1111-1111-1111-111111111111"
	bobSession   = "22222222-2222-2222-2222-222222222222"
)

func participantsJSON(entries ...string) string {
	return `{"participants":[` + strings.Join(entries, ",") + `]}`
}

func participantJSON(session string, userID int, name string) string {
	return fmt.Sprintf(`{"sessionID":%q,"userID":%d,"username":%q,"groupID":"default","connectedAt":1714557500000}`, session, userID, name)
}

type recorder struct {
	NopObserver
	logins  []string
	states  []InteractivityState
	changes []string
	buttons []ButtonEvent
	sticks  []StickEvent
	texts   []TextboxEvent
	custom  []CustomInputEvent
}

func (r *recorder) LoginStateChanged(state LoginState, err error) {
	if err != nil {
		r.logins = append(r.logins, state.String()+":err")
		return
	}
	r.logins = append(r.logins, state.String())
}

func (r *recorder) InteractivityStateChanged(state InteractivityState) {
	r.states = append(r.states, state)
}

func (r *recorder) ParticipantStateChanged(p participant.Participant, change ParticipantChange) {
	r.changes = append(r.changes, fmt.Sprintf("%s:%d", change, p.UserID))
}

func (r *recorder) ButtonEvent(ev ButtonEvent)      { r.buttons = append(r.buttons, ev) }
func (r *recorder) StickEvent(ev StickEvent)        { r.sticks = append(r.sticks, ev) }
func (r *recorder) TextboxEvent(ev TextboxEvent)    { r.texts = append(r.texts, ev) }
func (r *recorder) CustomInput(ev CustomInputEvent) { r.custom = append(r.custom, ev) }

type sentCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     uint32          `json:"id"`
}

type harness struct {
	loop    *protocol.Loop
	dialer  *transporttest.Dialer
	rec     *recorder
	session *Session
	now     time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		loop:   protocol.NewLoop(64),
		dialer: &transporttest.Dialer{},
		rec:    &recorder{},
		now:    serverT0.Add(2 * time.Second),
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = []string{"wss://a.example/gameClient", "wss://b.example/gameClient"}
	}
	if cfg.ProjectVersionID == 0 {
		cfg.ProjectVersionID = 1234
	}
	h.session = NewSession(h.loop, cfg, Deps{
		Dial:     h.dialer.Factory,
		Observer: h.rec,
		Now:      func() time.Time { return h.now },
	})
	return h
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	if err := h.session.Login(); err != nil {
		t.Fatalf("Login: %v", err)
	}
	h.loop.RunPending()
}

func (h *harness) deliver(text string) {
	h.dialer.Last().Deliver(text)
	h.loop.RunPending()
}

func (h *harness) push(method, params string) {
	h.deliver(fmt.Sprintf(`{"type":"method","method":%q,"params":%s}`, method, params))
}

func (h *harness) reply(id uint32, result string) {
	h.deliver(fmt.Sprintf(`{"type":"reply","id":%d,"result":%s,"error":null}`, id, result))
}

func (h *harness) replyError(id uint32, message string) {
	h.deliver(fmt.Sprintf(`{"type":"reply","id":%d,"result":null,"error":{"code":4000,"message":%q}}`, id, message))
}

func (h *harness) sent(t *testing.T) []sentCall {
	t.Helper()
	raw := h.dialer.Last().Sent()
	out := make([]sentCall, len(raw))
	for i, text := range raw {
		if err := json.Unmarshal([]byte(text), &out[i]); err != nil {
			t.Fatalf("sent frame %q: %v", text, err)
		}
	}
	return out
}

func (h *harness) lastSent(t *testing.T) sentCall {
	t.Helper()
	calls := h.sent(t)
	if len(calls) == 0 {
		t.Fatal("nothing sent")
	}
	return calls[len(calls)-1]
}

// handshake answers hello and the four init calls on the current socket.
func (h *harness) handshake(t *testing.T) {
	t.Helper()
	before := len(h.dialer.Last().Sent())
	h.push(PushHello, `{}`)
	calls := h.sent(t)[before:]
	if len(calls) != 4 {
		t.Fatalf("init calls = %d want 4", len(calls))
	}
	results := map[string]string{
		methodGetTime:            fmt.Sprintf(`{"time":%d}`, serverT0.UnixMilli()),
		methodGetScenes:          scenesJSON,
		methodGetGroups:          `{"groups":[{"groupID":"default","sceneID":"default"}]}`,
		methodGetAllParticipants: participantsJSON(participantJSON(aliceSession, 7, "alice")),
	}
	for _, c := range calls {
		h.reply(c.ID, results[c.Method])
	}
}

func readyHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := newHarness(t, cfg)
	h.login(t)
	h.handshake(t)
	if h.session.ConnState() != Ready {
		t.Fatalf("state = %s want ready", h.session.ConnState())
	}
	return h
}

func TestSession_LoginReachesReady(t *testing.T) {
	h := newHarness(t, Config{
		ShareCode:   "abc",
		Credentials: auth.Credentials{AccessToken: "tok"},
	})
	h.login(t)

	f := h.dialer.Last()
	u, err := url.Parse(f.URL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "a.example" {
		t.Errorf("first endpoint should be used first, got %s", u.Host)
	}
	q := u.Query()
	if q.Get("authorization") != "Bearer tok" || q.Get("x-interactive-version") != "1234" ||
		q.Get("x-protocol-version") != "2.0" || q.Get("x-interactive-sharecode") != "abc" {
		t.Errorf("query = %v", q)
	}
	if f.Header.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization header = %q", f.Header.Get("Authorization"))
	}
	if h.session.ConnState() != OpeningSocket {
		t.Errorf("state before hello = %s", h.session.ConnState())
	}

	h.push(PushHello, `{}`)
	var methods []string
	for _, c := range h.sent(t) {
		methods = append(methods, c.Method)
	}
	if got := strings.Join(methods, ","); got != "getTime,getScenes,getGroups,getAllParticipants" {
		t.Errorf("init calls = %s", got)
	}
	if h.session.ConnState() != Authenticating {
		t.Errorf("state after hello = %s", h.session.ConnState())
	}

	h.reply(0, fmt.Sprintf(`{"time":%d}`, serverT0.UnixMilli()))
	h.reply(1, scenesJSON)
	h.reply(2, `{"groups":[{"groupID":"default","sceneID":"default"},{"groupID":"red","sceneID":"lobby"}]}`)
	if h.session.LoginState() == LoggedIn {
		t.Fatal("logged in before every init reply")
	}
	h.reply(3, participantsJSON(participantJSON(aliceSession, 7, "alice")))

	if h.session.ConnState() != Ready || h.session.LoginState() != LoggedIn {
		t.Fatalf("states = %s/%s", h.session.ConnState(), h.session.LoginState())
	}
	if got := strings.Join(h.rec.logins, ","); got != "logging_in,logged_in" {
		t.Errorf("login events = %s", got)
	}
	if h.session.ClockOffset() != 2*time.Second {
		t.Errorf("clock offset = %s want 2s", h.session.ClockOffset())
	}
	if scene, _ := h.session.CurrentScene("red"); scene != "lobby" {
		t.Errorf("red scene = %q", scene)
	}
	if p, ok := h.session.Participant(7); !ok || p.Name != "alice" {
		t.Errorf("participant 7 = %+v,%t", p, ok)
	}
	if err := h.session.Login(); !errors.Is(err, ErrWrongState) {
		t.Errorf("second Login: got %v", err)
	}
}

func TestSession_InitErrorFailsLogin(t *testing.T) {
	h := newHarness(t, Config{})
	h.login(t)
	h.push(PushHello, `{}`)
	h.replyError(1, "no scenes")

	if h.session.LoginState() != NotLoggedIn || h.session.ConnState() != NotConnected {
		t.Fatalf("states = %s/%s", h.session.LoginState(), h.session.ConnState())
	}
	if got := strings.Join(h.rec.logins, ","); got != "logging_in,not_logged_in:err" {
		t.Errorf("login events = %s", got)
	}
	if !h.dialer.Last().Closed() {
		t.Error("socket should be closed")
	}
}

func TestSession_MalformedInitReplyFailsLogin(t *testing.T) {
	h := newHarness(t, Config{})
	h.login(t)
	h.push(PushHello, `{}`)
	h.reply(3, participantsJSON(`{"sessionID":"not-a-guid","userID":1}`))

	if h.session.LoginState() != NotLoggedIn {
		t.Fatalf("login = %s", h.session.LoginState())
	}
}

func TestSession_ConnectionErrorTriesNextEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.Prepare = func(f *transporttest.Fake) {
		if strings.Contains(f.URL, "a.example") {
			f.FailNextConnect("refused")
		}
	}
	h.login(t)

	if h.dialer.Count() != 2 {
		t.Fatalf("dials = %d want 2", h.dialer.Count())
	}
	if !strings.Contains(h.dialer.Last().URL, "b.example") {
		t.Errorf("second dial = %s", h.dialer.Last().URL)
	}
	h.handshake(t)
	if h.session.LoginState() != LoggedIn {
		t.Errorf("login = %s", h.session.LoginState())
	}
}

func TestSession_AllEndpointsFail(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.Prepare = func(f *transporttest.Fake) { f.FailNextConnect("refused") }
	h.login(t)

	if h.dialer.Count() != 2 {
		t.Errorf("dials = %d want 2", h.dialer.Count())
	}
	if got := strings.Join(h.rec.logins, ","); got != "logging_in,not_logged_in:err" {
		t.Errorf("login events = %s", got)
	}
}

func TestSession_DropAfterReadyLogsOut(t *testing.T) {
	h := readyHarness(t, Config{})
	h.dialer.Last().Drop(1006, "gone", false)
	h.loop.RunPending()

	if h.session.LoginState() != NotLoggedIn {
		t.Fatalf("login = %s", h.session.LoginState())
	}
	if got := h.rec.logins[len(h.rec.logins)-1]; got != "not_logged_in:err" {
		t.Errorf("last login event = %s", got)
	}
	if len(h.session.Participants()) != 0 {
		t.Error("participants should be cleared")
	}
	if h.dialer.Count() != 1 {
		t.Errorf("no reconnect expected, dials = %d", h.dialer.Count())
	}
}

func TestSession_DropWithRejoinReopens(t *testing.T) {
	h := readyHarness(t, Config{Rejoin: true})
	h.dialer.Last().Drop(1006, "gone", false)
	h.loop.RunPending()

	if h.dialer.Count() != 2 || !strings.Contains(h.dialer.Last().URL, "b.example") {
		t.Fatalf("rejoin should open the next endpoint, dials = %d", h.dialer.Count())
	}
	if h.session.LoginState() != LoggedIn {
		t.Errorf("login should stay up during rejoin, got %s", h.session.LoginState())
	}
	h.handshake(t)
	if h.session.ConnState() != Ready {
		t.Errorf("state = %s", h.session.ConnState())
	}
	if got := strings.Join(h.rec.logins, ","); got != "logging_in,logged_in" {
		t.Errorf("rejoin should be silent, login events = %s", got)
	}
}

func TestSession_RejoinSnapshotDropsDepartedParticipants(t *testing.T) {
	h := readyHarness(t, Config{Rejoin: true, PerParticipantState: true})
	h.push(PushParticipantJoin, participantsJSON(participantJSON(bobSession, 8, "bob")))
	h.push(PushGiveInput, giveInput(bobSession, `{"controlID":"aim","event":"move","x":1,"y":1}`))
	h.rec.changes = nil

	h.dialer.Last().Drop(1006, "gone", false)
	h.loop.RunPending()
	h.handshake(t)

	if _, ok := h.session.Participant(8); ok {
		t.Fatal("bob left during the outage and must not stay cached")
	}
	if _, ok := h.session.Participant(7); !ok {
		t.Error("alice is in the snapshot and must stay cached")
	}
	if got := strings.Join(h.rec.changes, ","); got != "updated:7,left:8" {
		t.Errorf("changes = %s", got)
	}
	if st, _ := h.session.Cache().StickState("aim"); st.X != 0 || st.Y != 0 {
		t.Errorf("departed participant should be dropped from the stick, got %+v", st)
	}
	if in, err := h.session.ParticipantsInGroup("default"); err != nil || len(in) != 1 {
		t.Errorf("default group = %v, %v", in, err)
	}
}

func TestSession_InitSendFailureTriesNextEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.Prepare = func(f *transporttest.Fake) {
		if strings.Contains(f.URL, "a.example") {
			f.FailSends(errors.New("broken pipe"))
		}
	}
	h.login(t)
	h.push(PushHello, `{}`)

	if h.dialer.Count() != 2 || !strings.Contains(h.dialer.Last().URL, "b.example") {
		t.Fatalf("a failed init send should open the next endpoint, dials = %d", h.dialer.Count())
	}
	if h.session.ConnState() == Authenticating {
		t.Fatal("session must not wait for init replies that were never sent")
	}
	h.handshake(t)
	if h.session.ConnState() != Ready {
		t.Errorf("state = %s", h.session.ConnState())
	}
	if got := strings.Join(h.rec.logins, ","); got != "logging_in,logged_in" {
		t.Errorf("login events = %s", got)
	}
}

func TestSession_InitSendFailureOnLastEndpointFails(t *testing.T) {
	h := newHarness(t, Config{Endpoints: []string{"wss://a.example/gameClient"}})
	h.dialer.Prepare = func(f *transporttest.Fake) { f.FailSends(errors.New("broken pipe")) }
	h.login(t)
	h.push(PushHello, `{}`)

	if h.session.LoginState() != NotLoggedIn {
		t.Errorf("login = %s", h.session.LoginState())
	}
	if got := strings.Join(h.rec.logins, ","); got != "logging_in,not_logged_in:err" {
		t.Errorf("login events = %s", got)
	}
}

func TestSession_StartStopInteractivity(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.session.StartInteractivity(); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("start before login: got %v", err)
	}
	h.login(t)
	h.handshake(t)

	if err := h.session.StartInteractivity(); err != nil {
		t.Fatalf("StartInteractivity: %v", err)
	}
	call := h.lastSent(t)
	if call.Method != "ready" || string(call.Params) != `{"isReady":true}` {
		t.Errorf("ready call = %s %s", call.Method, call.Params)
	}
	if h.session.InteractivityState() != Starting {
		t.Errorf("state = %s want starting", h.session.InteractivityState())
	}
	h.reply(call.ID, `{}`)
	if h.session.InteractivityState() != Starting {
		t.Error("reply alone must not make the session interactive")
	}
	h.push(PushReady, `{"isReady":true}`)
	if h.session.InteractivityState() != Interactive {
		t.Fatalf("state = %s want interactive", h.session.InteractivityState())
	}

	if err := h.session.StopInteractivity(); err != nil {
		t.Fatal(err)
	}
	call = h.lastSent(t)
	h.replyError(call.ID, "nope")
	if h.session.InteractivityState() != Interactive {
		t.Errorf("rejected stop should revert, got %s", h.session.InteractivityState())
	}
	want := []InteractivityState{Starting, Interactive, Stopping, Interactive}
	if fmt.Sprint(h.rec.states) != fmt.Sprint(want) {
		t.Errorf("states = %v want %v", h.rec.states, want)
	}
}

func TestSession_CreateGroup(t *testing.T) {
	h := readyHarness(t, Config{})

	if err := h.session.CreateGroup("red", "nowhere"); !errors.Is(err, ErrUnknownScene) {
		t.Errorf("unknown scene: got %v", err)
	}
	if err := h.session.CreateGroup("red", "lobby"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	call := h.lastSent(t)
	if call.Method != "createGroups" || string(call.Params) != `{"groups":[{"groupID":"red","sceneID":"lobby"}]}` {
		t.Errorf("create call = %s %s", call.Method, call.Params)
	}
	if err := h.session.CreateGroup("red", ""); !errors.Is(err, ErrGroupExists) {
		t.Errorf("second create: got %v", err)
	}
	if err := h.session.CreateGroup("default", ""); !errors.Is(err, ErrGroupExists) {
		t.Errorf("default group: got %v", err)
	}

	if err := h.session.CreateGroup("blue", ""); err != nil {
		t.Fatal(err)
	}
	h.replyError(h.lastSent(t).ID, "denied")
	if _, err := h.session.CurrentScene("blue"); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("rejected group should be rolled back, got %v", err)
	}
}

func TestSession_MoveParticipantToGroup(t *testing.T) {
	h := readyHarness(t, Config{})

	if err := h.session.MoveParticipantToGroup("red", 7); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("unknown group: got %v", err)
	}
	if err := h.session.CreateGroup("red", "lobby"); err != nil {
		t.Fatal(err)
	}
	if err := h.session.MoveParticipantToGroup("red", 99); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("unknown participant: got %v", err)
	}
	if err := h.session.MoveParticipantToGroup("red", 7); err != nil {
		t.Fatalf("move: %v", err)
	}
	call := h.lastSent(t)
	want := fmt.Sprintf(`{"participants":[{"sessionID":%q,"groupID":"red"}]}`, aliceSession)
	if call.Method != "updateParticipants" || string(call.Params) != want {
		t.Errorf("move call = %s %s", call.Method, call.Params)
	}
	members, err := h.session.ParticipantsInGroup("red")
	if err != nil || len(members) != 1 || members[0].UserID != 7 {
		t.Errorf("red members = %+v, %v", members, err)
	}
}

func TestSession_SetCurrentSceneWaitsForConfirmation(t *testing.T) {
	h := readyHarness(t, Config{})

	if err := h.session.SetCurrentScene("", "nowhere"); !errors.Is(err, ErrUnknownScene) {
		t.Errorf("unknown scene: got %v", err)
	}
	if err := h.session.SetCurrentScene("", "lobby"); err != nil {
		t.Fatal(err)
	}
	if scene, _ := h.session.CurrentScene(""); scene != "default" {
		t.Errorf("scene changed before confirmation: %s", scene)
	}
	call := h.lastSent(t)
	h.reply(call.ID, `{"groups":[{"groupID":"default","sceneID":"lobby","etag":"2"}]}`)
	if scene, _ := h.session.CurrentScene(""); scene != "lobby" {
		t.Errorf("scene after confirmation = %s", scene)
	}
}

func TestSession_TriggerButtonCooldownUsesServerClock(t *testing.T) {
	h := readyHarness(t, Config{})

	if err := h.session.TriggerButtonCooldown("aim", time.Second); !errors.Is(err, ErrUnknownControl) {
		t.Errorf("joystick cooldown: got %v", err)
	}
	if err := h.session.TriggerButtonCooldown("fire", 10*time.Second); err != nil {
		t.Fatal(err)
	}
	call := h.lastSent(t)
	want := fmt.Sprintf(`{"sceneID":"default","controls":[{"controlID":"fire","cooldown":%d}]}`, serverT0.Add(10*time.Second).UnixMilli())
	if call.Method != "updateControls" || string(call.Params) != want {
		t.Errorf("cooldown call = %s %s", call.Method, call.Params)
	}

	if err := h.session.SetLabelText("status", "go"); err != nil {
		t.Fatal(err)
	}
	if call = h.lastSent(t); string(call.Params) != `{"sceneID":"default","controls":[{"controlID":"status","text":"go"}]}` {
		t.Errorf("label call = %s", call.Params)
	}
}

func TestSession_CaptureSparkTransaction(t *testing.T) {
	h := readyHarness(t, Config{})
	if err := h.session.CaptureSparkTransaction(""); !errors.Is(err, protocol.ErrMissingField) {
		t.Errorf("empty id: got %v", err)
	}
	if err := h.session.CaptureSparkTransaction("tx1"); err != nil {
		t.Fatal(err)
	}
	if call := h.lastSent(t); call.Method != "capture" || string(call.Params) != `{"transactionID":"tx1"}` {
		t.Errorf("capture call = %s %s", call.Method, call.Params)
	}
}

func giveInput(session, input string) string {
	return fmt.Sprintf(`{"participantID":%q,"transactionID":"tx9","input":%s}`, session, input)
}

func TestSession_GiveInputRoutesByKind(t *testing.T) {
	h := readyHarness(t, Config{PerParticipantState: true})

	h.push(PushGiveInput, giveInput(aliceSession, `{"controlID":"fire","event":"mousedown","button":0}`))
	if len(h.rec.buttons) != 1 {
		t.Fatalf("button events = %d", len(h.rec.buttons))
	}
	ev := h.rec.buttons[0]
	if !ev.Pressed || ev.TransactionID != "tx9" || ev.SparkCost != 10 || ev.Participant.UserID != 7 {
		t.Errorf("button event = %+v", ev)
	}
	st, _ := h.session.Cache().ButtonState("fire")
	if st.DownCount != 1 || st.PressCount != 1 {
		t.Errorf("button state = %+v", st)
	}
	if p, _ := h.session.Participant(7); !p.LastInputAt.Equal(h.now) {
		t.Errorf("last input = %s", p.LastInputAt)
	}

	h.push(PushGiveInput, giveInput(aliceSession, `{"controlID":"aim","event":"move","x":0.5,"y":-0.5}`))
	if len(h.rec.sticks) != 1 || h.rec.sticks[0].X != 0.5 {
		t.Errorf("stick events = %+v", h.rec.sticks)
	}

	h.push(PushGiveInput, giveInput(aliceSession, `{"controlID":"name","event":"submit","value":"hello"}`))
	if len(h.rec.texts) != 1 || !h.rec.texts[0].Submitted || h.rec.texts[0].Text != "hello" || h.rec.texts[0].SparkCost != 3 {
		t.Errorf("textbox events = %+v", h.rec.texts)
	}

	h.push(PushGiveInput, giveInput(aliceSession, `{"controlID":"wheel","event":"spin","speed":3}`))
	if len(h.rec.custom) != 1 || h.rec.custom[0].Event != "spin" {
		t.Errorf("custom events = %+v", h.rec.custom)
	}

	h.push(PushGiveInput, giveInput(bobSession, `{"controlID":"fire","event":"mousedown"}`))
	h.push(PushGiveInput, giveInput(aliceSession, `{"controlID":"ghost","event":"mousedown"}`))
	h.push(PushGiveInput, giveInput("not-a-guid", `{"controlID":"fire","event":"mousedown"}`))
	if len(h.rec.buttons) != 1 {
		t.Errorf("rejected inputs produced events: %d", len(h.rec.buttons))
	}
}

func TestSession_ParticipantPushes(t *testing.T) {
	h := readyHarness(t, Config{PerParticipantState: true})
	h.rec.changes = nil

	h.push(PushParticipantJoin, participantsJSON(participantJSON(bobSession, 8, "bob")))
	h.push(PushParticipantUpdate, participantsJSON(participantJSON("33333333-3333-3333-3333-333333333333", 9, "carol")))
	h.push(PushParticipantUpdate, participantsJSON(participantJSON(bobSession, 8, "bobby")))

	h.push(PushGiveInput, giveInput(bobSession, `{"controlID":"aim","event":"move","x":1,"y":1}`))
	h.push(PushParticipantLeave, participantsJSON(participantJSON(bobSession, 8, "bobby")))

	want := "joined:8,joined:9,updated:9,updated:8,left:8"
	if got := strings.Join(h.rec.changes, ","); got != want {
		t.Errorf("changes = %s want %s", got, want)
	}
	if st, _ := h.session.Cache().StickState("aim"); st.X != 0 || st.Y != 0 {
		t.Errorf("leaver should be dropped from the stick, got %+v", st)
	}
	if _, ok := h.session.Participant(8); ok {
		t.Error("participant 8 should be gone")
	}

	h.push(PushParticipantJoin, participantsJSON(participantJSON(bobSession, 10, "x"), `{"userID":11}`))
	if _, ok := h.session.Participant(10); ok {
		t.Error("a malformed batch must be rejected whole")
	}
}

func TestSession_ParticipantInputDisabled(t *testing.T) {
	h := readyHarness(t, Config{})
	h.push(PushParticipantJoin, participantsJSON(participantJSON(bobSession, 8, "bob")))
	h.rec.changes = nil

	disabled := fmt.Sprintf(`{"sessionID":%q,"userID":8,"username":"bob","groupID":"default","disabled":true}`, bobSession)
	h.push(PushParticipantUpdate, participantsJSON(disabled))
	h.push(PushParticipantUpdate, participantsJSON(disabled))

	if got := strings.Join(h.rec.changes, ","); got != "input_disabled:8,updated:8" {
		t.Errorf("changes = %s", got)
	}
	if p, _ := h.session.Participant(8); p.InputEnabled {
		t.Error("input should be disabled")
	}
}

func TestSession_GroupPushes(t *testing.T) {
	h := readyHarness(t, Config{})

	h.push(PushGroupCreate, `{"groups":[{"groupID":"red","sceneID":"lobby"}]}`)
	if err := h.session.MoveParticipantToGroup("red", 7); err != nil {
		t.Fatal(err)
	}
	h.push(PushGroupUpdate, `{"groups":[{"groupID":"red","etag":"3"}]}`)
	if scene, _ := h.session.CurrentScene("red"); scene != "lobby" {
		t.Errorf("update without scene should keep it, got %q", scene)
	}

	h.push(PushGroupDelete, `{"groupID":"red","reassignGroupID":"default"}`)
	if _, err := h.session.CurrentScene("red"); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("deleted group: got %v", err)
	}
	if p, _ := h.session.Participant(7); p.GroupID != "default" {
		t.Errorf("participant group = %s", p.GroupID)
	}
}

func TestSession_ControlAndScenePushes(t *testing.T) {
	h := readyHarness(t, Config{})

	h.push(PushControlUpdate, `{"sceneID":"default","controls":[{"controlID":"status","text":"bye"}]}`)
	if l, _ := h.session.Cache().Label("status"); l.Text != "bye" {
		t.Errorf("label text = %q", l.Text)
	}
	h.push(PushControlUpdate, `{"sceneID":"default","controls":[{"controlID":"status","text":"x"},{"text":"no id"}]}`)
	if l, _ := h.session.Cache().Label("status"); l.Text != "bye" {
		t.Error("a malformed update must not be applied partially")
	}

	h.push(PushSceneCreate, `{"scenes":[{"sceneID":"new"}]}`)
	call := h.lastSent(t)
	if call.Method != "getScenes" {
		t.Fatalf("scene change should refetch, sent %s", call.Method)
	}
	h.reply(call.ID, `{"scenes":[{"sceneID":"default","controls":[]},{"sceneID":"new","controls":[]}]}`)
	if _, ok := h.session.Cache().Scene("new"); !ok {
		t.Error("refetched scene missing")
	}
	if _, ok := h.session.Cache().Kind("fire"); ok {
		t.Error("old controls should be gone after the refetch")
	}
}

func TestSession_SweepDropsStaleParticipants(t *testing.T) {
	h := readyHarness(t, Config{SweepStale: true, StaleAfter: time.Minute})
	h.push(PushParticipantJoin, participantsJSON(participantJSON(bobSession, 8, "bob")))
	h.session.users.Pin(8)

	h.now = h.now.Add(5 * time.Minute)
	if n := h.session.SweepParticipants(); n != 1 {
		t.Fatalf("swept = %d want 1", n)
	}
	if _, ok := h.session.Participant(7); ok {
		t.Error("alice should be swept")
	}
	if _, ok := h.session.Participant(8); !ok {
		t.Error("pinned bob should stay")
	}
}

func TestSession_ExecAndMaintenance(t *testing.T) {
	h := readyHarness(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go h.loop.Run(ctx)
	go h.session.RunMaintenance(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var remaining time.Duration
		err := h.session.Exec(ctx, func(s *Session) {
			st, _ := s.Cache().ButtonState("fire")
			remaining = st.RemainingCooldown
		})
		if err != nil {
			t.Fatalf("Exec: %v", err)
		}
		if remaining < 5*time.Second {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("maintenance never ticked the cooldown")
}

func TestSession_Logout(t *testing.T) {
	h := readyHarness(t, Config{})
	h.session.Logout()
	if h.session.LoginState() != NotLoggedIn || h.session.ConnState() != NotConnected {
		t.Fatalf("states = %s/%s", h.session.LoginState(), h.session.ConnState())
	}
	if !h.dialer.Last().Closed() {
		t.Error("socket should be closed")
	}
	if len(h.session.Cache().Scenes()) != 0 {
		t.Error("scenes should be cleared")
	}
}
