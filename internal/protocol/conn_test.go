package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vntrieu/mixplay/internal/transport"
	"github.com/vntrieu/mixplay/internal/transport/transporttest"
)

type pushRecord struct {
	name    string
	payload string
}

func newTestConn(style PushStyle) (*Conn, *Loop, *transporttest.Dialer, *[]pushRecord, *[]string) {
	loop := NewLoop(64)
	dialer := &transporttest.Dialer{}
	var pushes []pushRecord
	var lifecycle []string
	c := NewConn("test", loop, style, Hooks{
		Push: func(name string, payload json.RawMessage) (bool, error) {
			if name == "Broken" {
				return true, ErrMissingField
			}
			if name == "Unknown" {
				return false, nil
			}
			pushes = append(pushes, pushRecord{name: name, payload: string(payload)})
			return true, nil
		},
		Connected:       func() { lifecycle = append(lifecycle, "connected") },
		ConnectionError: func(msg string) { lifecycle = append(lifecycle, "error:"+msg) },
		Closed:          func(code int, reason string, clean bool) { lifecycle = append(lifecycle, "closed") },
	})
	return c, loop, dialer, &pushes, &lifecycle
}

func TestConn_CallbacksMarshalledOntoLoop(t *testing.T) {
	c, loop, dialer, _, lifecycle := newTestConn(ChatPushes)
	c.Open(dialer.Factory, "ws://chat", nil)

	if len(*lifecycle) != 0 {
		t.Fatal("callbacks must not run before the loop drains")
	}
	loop.RunPending()
	if len(*lifecycle) != 1 || (*lifecycle)[0] != "connected" {
		t.Fatalf("expected connected, got %v", *lifecycle)
	}
	if !c.IsConnected() {
		t.Error("expected connected transport")
	}
}

func TestConn_RoutesRepliesAndPushes(t *testing.T) {
	c, loop, dialer, pushes, _ := newTestConn(ChatPushes)
	c.Open(dialer.Factory, "ws://chat", nil)
	loop.RunPending()

	var result string
	id, err := c.CallArgs("auth", []interface{}{1}, func(r *Reply) { result = string(r.Body()) })
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	fake := dialer.Last()
	if len(fake.Sent()) != 1 {
		t.Fatalf("expected one frame sent, got %d", len(fake.Sent()))
	}

	fake.Deliver(`{"type":"event","event":"WelcomeEvent","data":{"server":"x"}}`)
	fake.Deliver(`{"type":"reply","id":` + itoa(id) + `,"error":null,"data":{"authenticated":true}}`)
	fake.Deliver(`{"type":"event","event":"UserJoin","data":null}`)
	loop.RunPending()

	if result != `{"authenticated":true}` {
		t.Errorf("unexpected reply body %q", result)
	}
	if len(*pushes) != 2 || (*pushes)[0].name != "WelcomeEvent" || (*pushes)[1].name != "UserJoin" {
		t.Fatalf("unexpected pushes %+v", *pushes)
	}
}

func TestConn_MethodStylePushes(t *testing.T) {
	c, loop, dialer, pushes, _ := newTestConn(MethodPushes)
	c.Open(dialer.Factory, "ws://interactive", nil)
	loop.RunPending()
	dialer.Last().Deliver(`{"type":"method","method":"hello","params":{}}`)
	dialer.Last().Deliver(`{"type":"event","event":"ChatMessage","data":{}}`)
	loop.RunPending()
	if len(*pushes) != 1 || (*pushes)[0].name != "hello" {
		t.Errorf("only the method push should be dispatched, got %+v", *pushes)
	}
}

func TestConn_MalformedPacketsIgnored(t *testing.T) {
	c, loop, dialer, pushes, _ := newTestConn(ChatPushes)
	c.Open(dialer.Factory, "ws://chat", nil)
	loop.RunPending()
	fake := dialer.Last()
	for _, bad := range []string{
		`not json`,
		`{"event":"UserJoin"}`,
		`{"type":"weird"}`,
		`{"type":"event","data":{}}`,
		`{"type":"event","event":"Broken","data":{}}`,
		`{"type":"event","event":"Unknown","data":{}}`,
		`{"type":"reply","data":{}}`,
	} {
		fake.Deliver(bad)
	}
	loop.RunPending()
	if len(*pushes) != 0 {
		t.Errorf("expected nothing dispatched, got %+v", *pushes)
	}
}

func TestConn_CleanupDropsLateCallbacks(t *testing.T) {
	c, loop, dialer, pushes, lifecycle := newTestConn(ChatPushes)
	c.Open(dialer.Factory, "ws://chat", nil)
	loop.RunPending()

	called := false
	c.Call("history", nil, func(*Reply) { called = true })
	fake := dialer.Last()
	listener := fake.Listener()

	c.Cleanup()
	if !fake.Closed() {
		t.Error("expected transport closed")
	}
	if fake.Listener() != nil {
		t.Error("expected listener detached before close")
	}

	// A callback captured before teardown must be ignored.
	listener.OnMessage(`{"type":"reply","id":0,"data":[]}`)
	listener.OnClosed(1000, "", true)
	loop.RunPending()

	if called {
		t.Error("reply handler must not run after teardown")
	}
	if len(*pushes) != 0 || len(*lifecycle) != 1 {
		t.Errorf("unexpected callbacks after teardown: %v", *lifecycle)
	}
}

func TestConn_ClosedHookAndNotConnected(t *testing.T) {
	c, loop, dialer, _, lifecycle := newTestConn(ChatPushes)
	c.Open(dialer.Factory, "ws://chat", nil)
	loop.RunPending()
	dialer.Last().Drop(1006, "gone", false)
	loop.RunPending()

	if got := (*lifecycle)[len(*lifecycle)-1]; got != "closed" {
		t.Fatalf("expected closed hook, got %v", *lifecycle)
	}
	if _, err := c.Call("msg", nil, nil); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestConn_ConnectError(t *testing.T) {
	c, loop, dialer, _, lifecycle := newTestConn(ChatPushes)
	dialer.Prepare = func(f *transporttest.Fake) { f.FailNextConnect("refused") }
	c.Open(dialer.Factory, "ws://chat", nil)
	loop.RunPending()
	if len(*lifecycle) != 1 || (*lifecycle)[0] != "error:refused" {
		t.Errorf("unexpected lifecycle %v", *lifecycle)
	}
}

func TestLoop_DoRunsOnOwner(t *testing.T) {
	loop := NewLoop(4)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	value := 0
	if err := loop.Do(context.Background(), func() { value = 7 }); err != nil {
		t.Fatalf("do: %v", err)
	}
	if value != 7 {
		t.Errorf("expected 7, got %d", value)
	}

	cancel()
	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	if err := loop.Do(context.Background(), func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("expected ErrLoopStopped, got %v", err)
	}
}

func itoa(id uint32) string {
	b, _ := json.Marshal(id)
	return string(b)
}
