package interactive

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/vntrieu/mixplay/internal/participant"
	"github.com/vntrieu/mixplay/internal/protocol"
)

// Methods sent to the interactive service.
const (
	methodReady              = "ready"
	methodGetTime            = "getTime"
	methodGetScenes          = "getScenes"
	methodGetGroups          = "getGroups"
	methodGetAllParticipants = "getAllParticipants"
	methodCreateGroups       = "createGroups"
	methodUpdateGroups       = "updateGroups"
	methodUpdateParticipants = "updateParticipants"
	methodUpdateControls     = "updateControls"
	methodCapture            = "capture"
)

// Pushes received from the interactive service.
const (
	PushHello             = "hello"
	PushReady             = "onReady"
	PushGiveInput         = "giveInput"
	PushParticipantJoin   = "onParticipantJoin"
	PushParticipantUpdate = "onParticipantUpdate"
	PushParticipantLeave  = "onParticipantLeave"
	PushGroupCreate       = "onGroupCreate"
	PushGroupUpdate       = "onGroupUpdate"
	PushGroupDelete       = "onGroupDelete"
	PushSceneCreate       = "onSceneCreate"
	PushSceneUpdate       = "onSceneUpdate"
	PushSceneDelete       = "onSceneDelete"
	PushControlCreate     = "onControlCreate"
	PushControlUpdate     = "onControlUpdate"
	PushControlDelete     = "onControlDelete"
)

// Input events inside giveInput.
const (
	inputMouseDown = "mousedown"
	inputMouseUp   = "mouseup"
	inputMove      = "move"
	inputSubmit    = "submit"
	inputChange    = "change"
)

type wireParticipant struct {
	SessionID   *string  `json:"sessionID"`
	UserID      *uint32  `json:"userID"`
	Username    string   `json:"username"`
	Level       int      `json:"level"`
	LastInputAt *float64 `json:"lastInputAt"`
	ConnectedAt *float64 `json:"connectedAt"`
	Disabled    bool     `json:"disabled"`
	GroupID     string   `json:"groupID"`
}

func msTime(ms *float64) time.Time {
	if ms == nil || *ms <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(*ms)
	return time.UnixMilli(int64(whole)).Add(time.Duration(frac * float64(time.Millisecond))).UTC()
}

// toParticipant validates the wire form. The session id must be a GUID.
func (w *wireParticipant) toParticipant() (participant.Participant, error) {
	if err := protocol.Require(w.SessionID != nil, "sessionID"); err != nil {
		return participant.Participant{}, err
	}
	if err := protocol.Require(w.UserID != nil, "userID"); err != nil {
		return participant.Participant{}, err
	}
	if _, err := uuid.Parse(*w.SessionID); err != nil {
		return participant.Participant{}, fmt.Errorf("sessionID %q is not a guid: %w", *w.SessionID, err)
	}
	return participant.Participant{
		UserID:       *w.UserID,
		SessionID:    *w.SessionID,
		Name:         w.Username,
		Level:        w.Level,
		GroupID:      w.GroupID,
		InputEnabled: !w.Disabled,
		ConnectedAt:  msTime(w.ConnectedAt),
		LastInputAt:  msTime(w.LastInputAt),
	}, nil
}

type wireParticipants struct {
	Participants []wireParticipant `json:"participants"`
}

// decodeParticipants rejects the whole batch if any entry is malformed.
func decodeParticipants(payload json.RawMessage) ([]participant.Participant, error) {
	var body wireParticipants
	if err := protocol.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	if err := protocol.Require(body.Participants != nil, "participants"); err != nil {
		return nil, err
	}
	out := make([]participant.Participant, 0, len(body.Participants))
	for i := range body.Participants {
		p, err := body.Participants[i].toParticipant()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type wireGroup struct {
	GroupID *string `json:"groupID"`
	SceneID string  `json:"sceneID,omitempty"`
	ETag    string  `json:"etag,omitempty"`
}

type wireGroups struct {
	Groups []wireGroup `json:"groups"`
}

func decodeGroups(payload json.RawMessage) ([]Group, error) {
	var body wireGroups
	if err := protocol.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	if err := protocol.Require(body.Groups != nil, "groups"); err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(body.Groups))
	for _, g := range body.Groups {
		if err := protocol.Require(g.GroupID != nil, "groupID"); err != nil {
			return nil, err
		}
		out = append(out, Group{ID: *g.GroupID, SceneID: g.SceneID, ETag: g.ETag})
	}
	return out, nil
}

// wireControl holds every property the cache reads. Pointers separate
// "absent" from zero in partial updates.
type wireControl struct {
	ControlID *string  `json:"controlID"`
	Kind      string   `json:"kind"`
	Text      *string  `json:"text"`
	Tooltip   *string  `json:"tooltip"`
	Cost      *uint32  `json:"cost"`
	Cooldown  *float64 `json:"cooldown"`
	Disabled  *bool    `json:"disabled"`
	Progress  *float64 `json:"progress"`

	TextSize  string `json:"textSize"`
	TextColor string `json:"textColor"`
	Bold      bool   `json:"bold"`
	Italic    bool   `json:"italic"`
	Underline bool   `json:"underline"`

	Placeholder string `json:"placeholder"`
	HasSubmit   bool   `json:"hasSubmit"`
	Multiline   bool   `json:"multiline"`
	SubmitText  string `json:"submitText"`

	raw json.RawMessage
}

func decodeControl(raw json.RawMessage) (wireControl, error) {
	var c wireControl
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode control: %w", err)
	}
	if err := protocol.Require(c.ControlID != nil, "controlID"); err != nil {
		return c, err
	}
	c.raw = raw
	return c, nil
}

type wireScene struct {
	SceneID  *string           `json:"sceneID"`
	Controls []json.RawMessage `json:"controls"`
}

type wireScenes struct {
	Scenes []wireScene `json:"scenes"`
}

type wireInput struct {
	ControlID *string `json:"controlID"`
	Event     string  `json:"event"`
	Button    int     `json:"button"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Value     string  `json:"value"`
}

type wireGiveInput struct {
	ParticipantID *string         `json:"participantID"`
	TransactionID string          `json:"transactionID"`
	Input         json.RawMessage `json:"input"`
}

type wireTime struct {
	Time *float64 `json:"time"`
}

type wireReady struct {
	IsReady *bool `json:"isReady"`
}

type wireGroupDelete struct {
	GroupID         *string `json:"groupID"`
	ReassignGroupID string  `json:"reassignGroupID"`
}

// Outbound bodies.

type readyParams struct {
	IsReady bool `json:"isReady"`
}

type groupsParams struct {
	Groups []wireGroup `json:"groups"`
}

type participantMove struct {
	SessionID string `json:"sessionID"`
	GroupID   string `json:"groupID"`
}

type participantsParams struct {
	Participants []participantMove `json:"participants"`
}

type controlPatch struct {
	ControlID string  `json:"controlID"`
	Cooldown  *int64  `json:"cooldown,omitempty"`
	Text      *string `json:"text,omitempty"`
}

type controlsParams struct {
	SceneID  string         `json:"sceneID"`
	Controls []controlPatch `json:"controls"`
}

type captureParams struct {
	TransactionID string `json:"transactionID"`
}
