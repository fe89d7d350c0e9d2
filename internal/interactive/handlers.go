package interactive

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/vntrieu/mixplay/internal/participant"
	"github.com/vntrieu/mixplay/internal/protocol"
)

var (
	sessionDispatcherOnce sync.Once
	sessionPushes         *protocol.Dispatcher[*Session]
)

func sessionDispatcher() *protocol.Dispatcher[*Session] {
	sessionDispatcherOnce.Do(func() {
		sessionPushes = protocol.NewDispatcher(map[string]protocol.Handler[*Session]{
			PushHello:             (*Session).handleHello,
			PushReady:             (*Session).handleReady,
			PushGiveInput:         (*Session).handleGiveInput,
			PushParticipantJoin:   (*Session).handleParticipantJoin,
			PushParticipantUpdate: (*Session).handleParticipantUpdate,
			PushParticipantLeave:  (*Session).handleParticipantLeave,
			PushGroupCreate:       (*Session).handleGroupUpsert,
			PushGroupUpdate:       (*Session).handleGroupUpsert,
			PushGroupDelete:       (*Session).handleGroupDelete,
			PushSceneCreate:       (*Session).handleSceneChange,
			PushSceneUpdate:       (*Session).handleSceneChange,
			PushSceneDelete:       (*Session).handleSceneChange,
			PushControlCreate:     (*Session).handleSceneChange,
			PushControlUpdate:     (*Session).handleControlUpdate,
			PushControlDelete:     (*Session).handleSceneChange,
		})
	})
	return sessionPushes
}

func (s *Session) handleHello(json.RawMessage) error {
	if s.connState != OpeningSocket {
		log.Printf("interactive duplicate hello ignored state=%s", s.connState)
		return nil
	}
	s.connState = Welcomed
	s.initialize()
	return nil
}

func (s *Session) handleReady(payload json.RawMessage) error {
	var body wireReady
	if err := protocol.Unmarshal(payload, &body); err != nil {
		return err
	}
	if err := protocol.Require(body.IsReady != nil, "isReady"); err != nil {
		return err
	}
	if *body.IsReady {
		s.setInteractivity(Interactive)
	} else {
		s.setInteractivity(NotInteractive)
	}
	return nil
}

func (s *Session) handleGiveInput(payload json.RawMessage) error {
	var body wireGiveInput
	if err := protocol.Unmarshal(payload, &body); err != nil {
		return err
	}
	if err := protocol.Require(body.ParticipantID != nil, "participantID"); err != nil {
		return err
	}
	if err := protocol.Require(!protocol.IsNull(body.Input), "input"); err != nil {
		return err
	}
	if _, err := uuid.Parse(*body.ParticipantID); err != nil {
		return fmt.Errorf("participantID %q is not a guid: %w", *body.ParticipantID, err)
	}
	var in wireInput
	if err := json.Unmarshal(body.Input, &in); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	if err := protocol.Require(in.ControlID != nil, "controlID"); err != nil {
		return err
	}
	controlID := *in.ControlID

	p, ok := s.users.BySessionID(*body.ParticipantID)
	if !ok {
		return fmt.Errorf("%w: session %s", ErrUnknownParticipant, *body.ParticipantID)
	}
	kind, ok := s.cache.Kind(controlID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownControl, controlID)
	}
	now := s.deps.Now()
	s.users.Touch(p.UserID, now)
	p.LastInputAt = now

	switch {
	case kind == KindButton && (in.Event == inputMouseDown || in.Event == inputMouseUp):
		pressed := in.Event == inputMouseDown
		cost, _ := s.cache.pressButton(controlID, p.UserID, pressed)
		s.deps.Observer.ButtonEvent(ButtonEvent{
			ControlID:     controlID,
			Participant:   p,
			Pressed:       pressed,
			TransactionID: body.TransactionID,
			SparkCost:     cost,
		})
	case kind == KindJoystick && in.Event == inputMove:
		s.cache.moveStick(controlID, p.UserID, in.X, in.Y)
		s.deps.Observer.StickEvent(StickEvent{ControlID: controlID, Participant: p, X: in.X, Y: in.Y})
	case kind == KindTextbox && (in.Event == inputSubmit || in.Event == inputChange):
		desc, _ := s.cache.Textbox(controlID)
		s.deps.Observer.TextboxEvent(TextboxEvent{
			ControlID:     controlID,
			Participant:   p,
			Text:          in.Value,
			Submitted:     in.Event == inputSubmit,
			TransactionID: body.TransactionID,
			SparkCost:     desc.SparkCost,
		})
	default:
		s.deps.Observer.CustomInput(CustomInputEvent{
			ControlID:     controlID,
			Participant:   p,
			Event:         in.Event,
			TransactionID: body.TransactionID,
			Input:         body.Input,
		})
	}
	return nil
}

func (s *Session) handleParticipantJoin(payload json.RawMessage) error {
	ps, err := decodeParticipants(payload)
	if err != nil {
		return err
	}
	for _, p := range ps {
		s.join(p)
	}
	return nil
}

// handleParticipantUpdate joins unknown participants first so the update
// always has something to apply to.
func (s *Session) handleParticipantUpdate(payload json.RawMessage) error {
	ps, err := decodeParticipants(payload)
	if err != nil {
		return err
	}
	for _, p := range ps {
		prev, known := s.users.ByUserID(p.UserID)
		if !known {
			prev, known = s.users.BySessionID(p.SessionID)
		}
		if stored, ok := s.users.Update(p); ok {
			change := ParticipantUpdated
			if known && prev.InputEnabled && !stored.InputEnabled {
				change = ParticipantInputDisabled
			}
			s.deps.Observer.ParticipantStateChanged(stored, change)
			continue
		}
		stored, _ := s.users.Join(p)
		s.deps.Observer.ParticipantStateChanged(stored, ParticipantJoined)
		s.deps.Observer.ParticipantStateChanged(stored, ParticipantUpdated)
	}
	return nil
}

func (s *Session) handleParticipantLeave(payload json.RawMessage) error {
	ps, err := decodeParticipants(payload)
	if err != nil {
		return err
	}
	for _, p := range ps {
		s.leave(p)
	}
	return nil
}

func (s *Session) leave(p participant.Participant) {
	gone, ok := s.users.LeaveSession(p.SessionID)
	if !ok {
		gone, ok = s.users.Leave(p.UserID)
	}
	if !ok {
		return
	}
	s.cache.dropParticipant(gone.UserID)
	s.deps.Observer.ParticipantStateChanged(gone, ParticipantLeft)
}

func (s *Session) handleGroupUpsert(payload json.RawMessage) error {
	groups, err := decodeGroups(payload)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.SceneID == "" {
			if cur, ok := s.cache.Group(g.ID); ok {
				g.SceneID = cur.SceneID
			} else {
				g.SceneID = DefaultScene
			}
		}
		s.cache.putGroup(g)
	}
	return nil
}

func (s *Session) handleGroupDelete(payload json.RawMessage) error {
	var body wireGroupDelete
	if err := protocol.Unmarshal(payload, &body); err != nil {
		return err
	}
	if err := protocol.Require(body.GroupID != nil, "groupID"); err != nil {
		return err
	}
	to := body.ReassignGroupID
	if to == "" {
		to = participant.DefaultGroup
	}
	s.cache.deleteGroup(*body.GroupID)
	moved := s.users.Reassign(*body.GroupID, to)
	log.Printf("interactive group deleted group=%s reassigned_to=%s moved=%d", *body.GroupID, to, moved)
	return nil
}

// handleSceneChange refetches every scene. Structural changes are rare and a
// full snapshot keeps the index consistent.
func (s *Session) handleSceneChange(json.RawMessage) error {
	if err := s.RefreshScenes(); err != nil {
		log.Printf("interactive scene refresh failed err=%v", err)
	}
	return nil
}

// handleControlUpdate validates every control before patching any of them.
func (s *Session) handleControlUpdate(payload json.RawMessage) error {
	var body struct {
		SceneID  string            `json:"sceneID"`
		Controls []json.RawMessage `json:"controls"`
	}
	if err := protocol.Unmarshal(payload, &body); err != nil {
		return err
	}
	if err := protocol.Require(body.Controls != nil, "controls"); err != nil {
		return err
	}
	patches := make([]wireControl, 0, len(body.Controls))
	for _, raw := range body.Controls {
		wc, err := decodeControl(raw)
		if err != nil {
			return err
		}
		patches = append(patches, wc)
	}
	now := s.serverNow()
	for _, wc := range patches {
		if !s.cache.applyControlUpdate(wc, now) {
			log.Printf("interactive update for unknown control scene=%s control=%s", body.SceneID, *wc.ControlID)
		}
	}
	return nil
}
