package feed

import (
	"context"
	"testing"
	"time"

	"github.com/vntrieu/mixplay/internal/chat"
	"github.com/vntrieu/mixplay/internal/interactive"
	"github.com/vntrieu/mixplay/internal/participant"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}

func testClient(hub *Hub, topics ...string) *Client {
	return &Client{hub: hub, send: make(chan *Envelope, 4), Topics: topics, Remote: "test"}
}

func waitForCount(t *testing.T, hub *Hub, topic string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount(topic) != want {
		if time.Now().After(deadline) {
			t.Fatalf("topic %s: expected %d clients, got %d", topic, want, hub.ClientCount(topic))
		}
		time.Sleep(time.Millisecond)
	}
}

func receive(t *testing.T, c *Client) *Envelope {
	t.Helper()
	select {
	case env, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return nil
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := startHub(t)
	client := testClient(hub, TopicInteractive, TopicChat)

	if !hub.Register(client) {
		t.Fatal("Register returned false on a running hub")
	}
	waitForCount(t, hub, TopicInteractive, 1)
	waitForCount(t, hub, TopicChat, 1)

	hub.unregisterClient(client)
	waitForCount(t, hub, TopicInteractive, 0)
	waitForCount(t, hub, TopicChat, 0)

	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed after unregister")
	}
}

func TestHub_PublishByTopic(t *testing.T) {
	hub := startHub(t)
	chatOnly := testClient(hub, TopicChat)
	both := testClient(hub, TopicInteractive, TopicChat)
	hub.Register(chatOnly)
	hub.Register(both)
	waitForCount(t, hub, TopicChat, 2)

	hub.Publish(&Envelope{Topic: TopicInteractive, Event: EventInteractivity})
	hub.Publish(&Envelope{Topic: TopicChat, Event: EventMessage, Room: "shroud"})

	if env := receive(t, both); env.Event != EventInteractivity {
		t.Errorf("both: first event = %s, want %s", env.Event, EventInteractivity)
	}
	if env := receive(t, both); env.Event != EventMessage {
		t.Errorf("both: second event = %s, want %s", env.Event, EventMessage)
	}
	if env := receive(t, chatOnly); env.Event != EventMessage || env.Room != "shroud" {
		t.Errorf("chat only: got %+v", env)
	}
	select {
	case env := <-chatOnly.send:
		t.Errorf("chat only client got unexpected %+v", env)
	default:
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := startHub(t)
	slow := &Client{hub: hub, send: make(chan *Envelope, 1), Topics: []string{TopicChat}, Remote: "slow"}
	hub.Register(slow)
	waitForCount(t, hub, TopicChat, 1)

	hub.Publish(&Envelope{Topic: TopicChat, Event: EventMessage})
	hub.Publish(&Envelope{Topic: TopicChat, Event: EventMessage})
	waitForCount(t, hub, TopicChat, 0)
}

func TestHub_RegisterAfterStop(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if hub.Register(testClient(hub, TopicChat)) {
		t.Error("Register should fail once the hub stopped")
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub() // not running
	for i := 0; i < cap(hub.broadcast)+5; i++ {
		hub.Publish(&Envelope{Topic: TopicChat, Event: EventMessage})
	}
	if got := hub.Dropped(); got != 5 {
		t.Errorf("Dropped() = %d, want 5", got)
	}
}

type recordingPublisher struct {
	envs []*Envelope
}

func (r *recordingPublisher) Publish(env *Envelope) { r.envs = append(r.envs, env) }

func TestObservers(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	pub := &recordingPublisher{}

	io := NewInteractiveObserver(pub)
	io.now = func() time.Time { return at }
	co := NewChatObserver(pub)
	co.now = func() time.Time { return at }

	var (
		_ interactive.Observer = io
		_ chat.Observer        = co
	)

	alice := participant.Participant{UserID: 7, Name: "alice", GroupID: participant.DefaultGroup}
	io.InteractivityStateChanged(interactive.Interactive)
	io.ParticipantStateChanged(alice, interactive.ParticipantJoined)
	io.ButtonEvent(interactive.ButtonEvent{ControlID: "fire", Participant: alice, Pressed: true, TransactionID: "tx1", SparkCost: 10})
	co.MessageReceived("shroud", chat.Message{UserID: 7, UserName: "alice", Body: "hi"})
	co.JoinCompleted("shroud", nil)

	if len(pub.envs) != 5 {
		t.Fatalf("expected 5 envelopes, got %d", len(pub.envs))
	}
	tests := []struct {
		topic, event, room string
	}{
		{TopicInteractive, EventInteractivity, ""},
		{TopicInteractive, EventParticipant, ""},
		{TopicInteractive, EventButton, ""},
		{TopicChat, EventMessage, "shroud"},
		{TopicChat, EventJoin, "shroud"},
	}
	for i, tt := range tests {
		env := pub.envs[i]
		if env.Topic != tt.topic || env.Event != tt.event || env.Room != tt.room {
			t.Errorf("envelope %d = %s/%s/%s, want %s/%s/%s", i, env.Topic, env.Event, env.Room, tt.topic, tt.event, tt.room)
		}
		if !env.At.Equal(at) {
			t.Errorf("envelope %d at %v", i, env.At)
		}
	}
	if p, ok := pub.envs[0].Payload.(statePayload); !ok || p.State != "interactive" {
		t.Errorf("interactivity payload = %#v", pub.envs[0].Payload)
	}
	if p, ok := pub.envs[2].Payload.(buttonPayload); !ok || p.SparkCost != 10 || p.UserID != 7 {
		t.Errorf("button payload = %#v", pub.envs[2].Payload)
	}
}

func TestParseTopics(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
		ok   bool
	}{
		{"", []string{TopicInteractive, TopicChat}, true},
		{"chat", []string{TopicChat}, true},
		{" Chat , interactive,chat", []string{TopicChat, TopicInteractive}, true},
		{"chat,games", nil, false},
	}
	for _, tt := range tests {
		got, ok := parseTopics(tt.raw)
		if ok != tt.ok {
			t.Errorf("parseTopics(%q) ok = %t, want %t", tt.raw, ok, tt.ok)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseTopics(%q) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseTopics(%q) = %v, want %v", tt.raw, got, tt.want)
				break
			}
		}
	}
}
