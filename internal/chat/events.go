package chat

import "github.com/vntrieu/mixplay/internal/participant"

// Observer receives room notifications on the owner loop. Embed NopObserver to
// implement only the callbacks you need.
type Observer interface {
	// JoinCompleted fires once per join attempt; err is nil on success and
	// ErrSuperseded when an authenticated join replaced a pending anonymous one.
	JoinCompleted(room string, err error)
	// Exited fires when a ready room goes away without a rejoin.
	Exited(room string, clean bool, reason string)

	MessageReceived(room string, m Message)
	WhisperReceived(room string, m Message)
	MessageDeleted(room string, m Message)
	MessagesCleared(room string)
	UserPurged(room string, userID uint32)

	UserJoined(room string, p participant.Participant)
	UserLeft(room string, p participant.Participant)

	PollStarted(room string, p Poll)
	PollUpdated(room string, p Poll)
	PollEnded(room string, p Poll)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) JoinCompleted(string, error)                {}
func (NopObserver) Exited(string, bool, string)                {}
func (NopObserver) MessageReceived(string, Message)            {}
func (NopObserver) WhisperReceived(string, Message)            {}
func (NopObserver) MessageDeleted(string, Message)             {}
func (NopObserver) MessagesCleared(string)                     {}
func (NopObserver) UserPurged(string, uint32)                  {}
func (NopObserver) UserJoined(string, participant.Participant) {}
func (NopObserver) UserLeft(string, participant.Participant)   {}
func (NopObserver) PollStarted(string, Poll)                   {}
func (NopObserver) PollUpdated(string, Poll)                   {}
func (NopObserver) PollEnded(string, Poll)                     {}

// Observers fans every notification out to each member in order.
type Observers []Observer

func (o Observers) JoinCompleted(room string, err error) {
	for _, ob := range o {
		ob.JoinCompleted(room, err)
	}
}

func (o Observers) Exited(room string, clean bool, reason string) {
	for _, ob := range o {
		ob.Exited(room, clean, reason)
	}
}

func (o Observers) MessageReceived(room string, m Message) {
	for _, ob := range o {
		ob.MessageReceived(room, m)
	}
}

func (o Observers) WhisperReceived(room string, m Message) {
	for _, ob := range o {
		ob.WhisperReceived(room, m)
	}
}

func (o Observers) MessageDeleted(room string, m Message) {
	for _, ob := range o {
		ob.MessageDeleted(room, m)
	}
}

func (o Observers) MessagesCleared(room string) {
	for _, ob := range o {
		ob.MessagesCleared(room)
	}
}

func (o Observers) UserPurged(room string, userID uint32) {
	for _, ob := range o {
		ob.UserPurged(room, userID)
	}
}

func (o Observers) UserJoined(room string, p participant.Participant) {
	for _, ob := range o {
		ob.UserJoined(room, p)
	}
}

func (o Observers) UserLeft(room string, p participant.Participant) {
	for _, ob := range o {
		ob.UserLeft(room, p)
	}
}

func (o Observers) PollStarted(room string, p Poll) {
	for _, ob := range o {
		ob.PollStarted(room, p)
	}
}

func (o Observers) PollUpdated(room string, p Poll) {
	for _, ob := range o {
		ob.PollUpdated(room, p)
	}
}

func (o Observers) PollEnded(room string, p Poll) {
	for _, ob := range o {
		ob.PollEnded(room, p)
	}
}
