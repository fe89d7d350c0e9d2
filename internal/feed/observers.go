package feed

import (
	"time"

	"github.com/vntrieu/mixplay/internal/chat"
	"github.com/vntrieu/mixplay/internal/interactive"
	"github.com/vntrieu/mixplay/internal/participant"
)

// Publisher accepts envelopes. *Hub implements it.
type Publisher interface {
	Publish(env *Envelope)
}

type statePayload struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type participantPayload struct {
	Change      string                  `json:"change"`
	Participant participant.Participant `json:"participant"`
}

type buttonPayload struct {
	ControlID     string `json:"control_id"`
	UserID        uint32 `json:"user_id"`
	Pressed       bool   `json:"pressed"`
	TransactionID string `json:"transaction_id,omitempty"`
	SparkCost     uint32 `json:"spark_cost,omitempty"`
}

type stickPayload struct {
	ControlID string  `json:"control_id"`
	UserID    uint32  `json:"user_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type textboxPayload struct {
	ControlID     string `json:"control_id"`
	UserID        uint32 `json:"user_id"`
	Text          string `json:"text"`
	Submitted     bool   `json:"submitted"`
	TransactionID string `json:"transaction_id,omitempty"`
	SparkCost     uint32 `json:"spark_cost,omitempty"`
}

type customPayload struct {
	ControlID     string      `json:"control_id"`
	UserID        uint32      `json:"user_id"`
	Event         string      `json:"event"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Input         interface{} `json:"input,omitempty"`
}

type exitPayload struct {
	Clean  bool   `json:"clean"`
	Reason string `json:"reason,omitempty"`
}

// InteractiveObserver publishes interactive session notifications.
type InteractiveObserver struct {
	pub Publisher
	now func() time.Time
}

// NewInteractiveObserver returns an interactive.Observer feeding pub.
func NewInteractiveObserver(pub Publisher) *InteractiveObserver {
	return &InteractiveObserver{pub: pub, now: time.Now}
}

func (o *InteractiveObserver) emit(event string, payload interface{}) {
	o.pub.Publish(&Envelope{Topic: TopicInteractive, Event: event, At: o.now().UTC(), Payload: payload})
}

func (o *InteractiveObserver) LoginStateChanged(state interactive.LoginState, err error) {
	p := statePayload{State: state.String()}
	if err != nil {
		p.Error = err.Error()
	}
	o.emit(EventLoginState, p)
}

func (o *InteractiveObserver) InteractivityStateChanged(state interactive.InteractivityState) {
	o.emit(EventInteractivity, statePayload{State: state.String()})
}

func (o *InteractiveObserver) ParticipantStateChanged(p participant.Participant, change interactive.ParticipantChange) {
	o.emit(EventParticipant, participantPayload{Change: change.String(), Participant: p})
}

func (o *InteractiveObserver) ButtonEvent(ev interactive.ButtonEvent) {
	o.emit(EventButton, buttonPayload{
		ControlID:     ev.ControlID,
		UserID:        ev.Participant.UserID,
		Pressed:       ev.Pressed,
		TransactionID: ev.TransactionID,
		SparkCost:     ev.SparkCost,
	})
}

func (o *InteractiveObserver) StickEvent(ev interactive.StickEvent) {
	o.emit(EventStick, stickPayload{ControlID: ev.ControlID, UserID: ev.Participant.UserID, X: ev.X, Y: ev.Y})
}

func (o *InteractiveObserver) TextboxEvent(ev interactive.TextboxEvent) {
	o.emit(EventTextbox, textboxPayload{
		ControlID:     ev.ControlID,
		UserID:        ev.Participant.UserID,
		Text:          ev.Text,
		Submitted:     ev.Submitted,
		TransactionID: ev.TransactionID,
		SparkCost:     ev.SparkCost,
	})
}

func (o *InteractiveObserver) CustomInput(ev interactive.CustomInputEvent) {
	p := customPayload{
		ControlID:     ev.ControlID,
		UserID:        ev.Participant.UserID,
		Event:         ev.Event,
		TransactionID: ev.TransactionID,
	}
	if len(ev.Input) > 0 {
		p.Input = ev.Input
	}
	o.emit(EventCustomInput, p)
}

// ChatObserver publishes chat room notifications.
type ChatObserver struct {
	pub Publisher
	now func() time.Time
}

// NewChatObserver returns a chat.Observer feeding pub.
func NewChatObserver(pub Publisher) *ChatObserver {
	return &ChatObserver{pub: pub, now: time.Now}
}

func (o *ChatObserver) emit(room, event string, payload interface{}) {
	o.pub.Publish(&Envelope{Topic: TopicChat, Event: event, Room: room, At: o.now().UTC(), Payload: payload})
}

func (o *ChatObserver) JoinCompleted(room string, err error) {
	p := statePayload{State: "joined"}
	if err != nil {
		p = statePayload{State: "failed", Error: err.Error()}
	}
	o.emit(room, EventJoin, p)
}

func (o *ChatObserver) Exited(room string, clean bool, reason string) {
	o.emit(room, EventExit, exitPayload{Clean: clean, Reason: reason})
}

func (o *ChatObserver) MessageReceived(room string, m chat.Message) {
	o.emit(room, EventMessage, m)
}

func (o *ChatObserver) WhisperReceived(room string, m chat.Message) {
	o.emit(room, EventWhisper, m)
}

func (o *ChatObserver) MessageDeleted(room string, m chat.Message) {
	o.emit(room, EventMessageDeleted, m)
}

func (o *ChatObserver) MessagesCleared(room string) {
	o.emit(room, EventMessagesCleared, nil)
}

func (o *ChatObserver) UserPurged(room string, userID uint32) {
	o.emit(room, EventUserPurged, map[string]uint32{"user_id": userID})
}

func (o *ChatObserver) UserJoined(room string, p participant.Participant) {
	o.emit(room, EventUserJoined, p)
}

func (o *ChatObserver) UserLeft(room string, p participant.Participant) {
	o.emit(room, EventUserLeft, p)
}

func (o *ChatObserver) PollStarted(room string, p chat.Poll) {
	o.emit(room, EventPollStarted, p)
}

func (o *ChatObserver) PollUpdated(room string, p chat.Poll) {
	o.emit(room, EventPollUpdated, p)
}

func (o *ChatObserver) PollEnded(room string, p chat.Poll) {
	o.emit(room, EventPollEnded, p)
}
