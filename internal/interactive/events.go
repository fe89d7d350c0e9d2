package interactive

import (
	"encoding/json"

	"github.com/vntrieu/mixplay/internal/participant"
)

// ParticipantChange says what happened to a participant.
type ParticipantChange int

const (
	ParticipantJoined ParticipantChange = iota
	ParticipantUpdated
	ParticipantLeft
	// ParticipantInputDisabled is an update that took input away.
	ParticipantInputDisabled
)

func (c ParticipantChange) String() string {
	switch c {
	case ParticipantJoined:
		return "joined"
	case ParticipantUpdated:
		return "updated"
	case ParticipantLeft:
		return "left"
	case ParticipantInputDisabled:
		return "input_disabled"
	}
	return "unknown"
}

// ButtonEvent is one mousedown or mouseup.
type ButtonEvent struct {
	ControlID     string
	Participant   participant.Participant
	Pressed       bool
	TransactionID string
	SparkCost     uint32
}

// StickEvent is one joystick move.
type StickEvent struct {
	ControlID   string
	Participant participant.Participant
	X, Y        float64
}

// TextboxEvent is a textbox change or submit.
type TextboxEvent struct {
	ControlID     string
	Participant   participant.Participant
	Text          string
	Submitted     bool
	TransactionID string
	SparkCost     uint32
}

// CustomInputEvent carries input for a control kind the cache does not model.
type CustomInputEvent struct {
	ControlID     string
	Participant   participant.Participant
	Event         string
	TransactionID string
	Input         json.RawMessage
}

// Observer receives session notifications on the owner loop.
type Observer interface {
	// LoginStateChanged reports login progress. err explains a drop to NotLoggedIn.
	LoginStateChanged(state LoginState, err error)
	InteractivityStateChanged(state InteractivityState)
	ParticipantStateChanged(p participant.Participant, change ParticipantChange)
	ButtonEvent(ev ButtonEvent)
	StickEvent(ev StickEvent)
	TextboxEvent(ev TextboxEvent)
	CustomInput(ev CustomInputEvent)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) LoginStateChanged(LoginState, error)                                {}
func (NopObserver) InteractivityStateChanged(InteractivityState)                       {}
func (NopObserver) ParticipantStateChanged(participant.Participant, ParticipantChange) {}
func (NopObserver) ButtonEvent(ButtonEvent)                                            {}
func (NopObserver) StickEvent(StickEvent)                                              {}
func (NopObserver) TextboxEvent(TextboxEvent)                                          {}
func (NopObserver) CustomInput(CustomInputEvent)                                       {}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (o Observers) LoginStateChanged(state LoginState, err error) {
	for _, ob := range o {
		ob.LoginStateChanged(state, err)
	}
}

func (o Observers) InteractivityStateChanged(state InteractivityState) {
	for _, ob := range o {
		ob.InteractivityStateChanged(state)
	}
}

func (o Observers) ParticipantStateChanged(p participant.Participant, change ParticipantChange) {
	for _, ob := range o {
		ob.ParticipantStateChanged(p, change)
	}
}

func (o Observers) ButtonEvent(ev ButtonEvent) {
	for _, ob := range o {
		ob.ButtonEvent(ev)
	}
}

func (o Observers) StickEvent(ev StickEvent) {
	for _, ob := range o {
		ob.StickEvent(ev)
	}
}

func (o Observers) TextboxEvent(ev TextboxEvent) {
	for _, ob := range o {
		ob.TextboxEvent(ev)
	}
}

func (o Observers) CustomInput(ev CustomInputEvent) {
	for _, ob := range o {
		ob.CustomInput(ev)
	}
}
