package feed

import "time"

// Topics a feed client can subscribe to.
const (
	TopicInteractive = "interactive"
	TopicChat        = "chat"
)

// Interactive events.
const (
	EventLoginState    = "login_state"
	EventInteractivity = "interactivity"
	EventParticipant   = "participant"
	EventButton        = "button"
	EventStick         = "stick"
	EventTextbox       = "textbox"
	EventCustomInput   = "custom_input"
)

// Chat events.
const (
	EventJoin            = "join"
	EventExit            = "exit"
	EventMessage         = "message"
	EventWhisper         = "whisper"
	EventMessageDeleted  = "message_deleted"
	EventMessagesCleared = "messages_cleared"
	EventUserPurged      = "user_purged"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventPollStarted     = "poll_started"
	EventPollUpdated     = "poll_updated"
	EventPollEnded       = "poll_ended"
)

// Envelope is one message sent to feed clients.
type Envelope struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Room    string      `json:"room,omitempty"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload,omitempty"`
}

// ValidTopics are the only values accepted in the topics query parameter.
var ValidTopics = map[string]bool{
	TopicInteractive: true,
	TopicChat:        true,
}
