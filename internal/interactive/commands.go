package interactive

import (
	"fmt"
	"log"
	"time"

	"github.com/vntrieu/mixplay/internal/participant"
	"github.com/vntrieu/mixplay/internal/protocol"
)

func (s *Session) requireReady() error {
	if s.connState != Ready {
		return ErrNotLoggedIn
	}
	return nil
}

// StartInteractivity asks the service to go interactive. The state becomes
// Interactive when onReady arrives.
func (s *Session) StartInteractivity() error {
	if err := s.requireReady(); err != nil {
		return err
	}
	switch s.interactivity {
	case Interactive, Starting:
		return nil
	case Stopping:
		return ErrWrongState
	}
	s.setInteractivity(Starting)
	_, err := s.conn.Call(methodReady, readyParams{IsReady: true}, func(r *protocol.Reply) {
		if err := r.Err(); err != nil {
			log.Printf("interactive ready(true) rejected err=%v", err)
			if s.interactivity == Starting {
				s.setInteractivity(NotInteractive)
			}
		}
	})
	if err != nil {
		s.setInteractivity(NotInteractive)
		return err
	}
	return nil
}

// StopInteractivity asks the service to stop. The state becomes NotInteractive
// when onReady arrives.
func (s *Session) StopInteractivity() error {
	if err := s.requireReady(); err != nil {
		return err
	}
	switch s.interactivity {
	case NotInteractive, Stopping:
		return nil
	}
	prev := s.interactivity
	s.setInteractivity(Stopping)
	_, err := s.conn.Call(methodReady, readyParams{IsReady: false}, func(r *protocol.Reply) {
		if err := r.Err(); err != nil {
			log.Printf("interactive ready(false) rejected err=%v", err)
			if s.interactivity == Stopping {
				s.setInteractivity(prev)
			}
		}
	})
	if err != nil {
		s.setInteractivity(prev)
		return err
	}
	return nil
}

// RefreshScenes refetches the full scene list. A malformed reply keeps the
// current index.
func (s *Session) RefreshScenes() error {
	if s.connState != Ready && s.connState != Authenticating {
		return ErrNotLoggedIn
	}
	_, err := s.conn.Call(methodGetScenes, nil, func(r *protocol.Reply) {
		if err := s.onScenes(r); err != nil {
			log.Printf("interactive getScenes failed err=%v", err)
		}
	})
	return err
}

// CurrentScene returns the scene shown to groupID. Empty means the default group.
func (s *Session) CurrentScene(groupID string) (string, error) {
	if groupID == "" {
		groupID = participant.DefaultGroup
	}
	g, ok := s.cache.Group(groupID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	return g.SceneID, nil
}

// SetCurrentScene asks the service to show sceneID to groupID. The local
// mapping changes only once the service confirms it.
func (s *Session) SetCurrentScene(groupID, sceneID string) error {
	if groupID == "" {
		groupID = participant.DefaultGroup
	}
	g, ok := s.cache.Group(groupID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	if _, ok := s.cache.Scene(sceneID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScene, sceneID)
	}
	if err := s.requireReady(); err != nil {
		return err
	}
	gid := g.ID
	params := groupsParams{Groups: []wireGroup{{GroupID: &gid, SceneID: sceneID, ETag: g.ETag}}}
	_, err := s.conn.Call(methodUpdateGroups, params, func(r *protocol.Reply) {
		if err := r.Err(); err != nil {
			log.Printf("interactive updateGroups rejected group=%s scene=%s err=%v", gid, sceneID, err)
			return
		}
		if r.Body() == nil {
			return
		}
		groups, err := decodeGroups(r.Body())
		if err != nil {
			log.Printf("interactive updateGroups reply malformed err=%v", err)
			return
		}
		for _, g := range groups {
			if g.SceneID == "" {
				g.SceneID = sceneID
			}
			s.cache.putGroup(g)
		}
	})
	return err
}

// CreateGroup adds groupID showing sceneID (the default scene when empty).
func (s *Session) CreateGroup(groupID, sceneID string) error {
	if _, ok := s.cache.Group(groupID); ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, groupID)
	}
	if sceneID == "" {
		sceneID = DefaultScene
	} else if _, ok := s.cache.Scene(sceneID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScene, sceneID)
	}
	if err := s.requireReady(); err != nil {
		return err
	}
	gid := groupID
	params := groupsParams{Groups: []wireGroup{{GroupID: &gid, SceneID: sceneID}}}
	_, err := s.conn.Call(methodCreateGroups, params, func(r *protocol.Reply) {
		if err := r.Err(); err != nil {
			log.Printf("interactive createGroups rejected group=%s err=%v", gid, err)
			if g, ok := s.cache.groups[gid]; ok && g.SceneID == sceneID && g.ETag == "" {
				s.cache.deleteGroup(gid)
			}
		}
	})
	if err != nil {
		return err
	}
	s.cache.putGroup(Group{ID: groupID, SceneID: sceneID})
	return nil
}

// MoveParticipantToGroup puts userID into groupID and tells the service.
func (s *Session) MoveParticipantToGroup(groupID string, userID uint32) error {
	if groupID == "" {
		groupID = participant.DefaultGroup
	}
	if _, ok := s.cache.Group(groupID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	p, ok := s.users.ByUserID(userID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, userID)
	}
	if err := s.requireReady(); err != nil {
		return err
	}
	params := participantsParams{Participants: []participantMove{{SessionID: p.SessionID, GroupID: groupID}}}
	_, err := s.conn.Call(methodUpdateParticipants, params, func(r *protocol.Reply) {
		if err := r.Err(); err != nil {
			log.Printf("interactive updateParticipants rejected user=%d group=%s err=%v", userID, groupID, err)
		}
	})
	if err != nil {
		return err
	}
	s.users.SetGroup(userID, groupID)
	return nil
}

// ParticipantsInGroup lists the members of groupID.
func (s *Session) ParticipantsInGroup(groupID string) ([]participant.Participant, error) {
	if groupID == "" {
		groupID = participant.DefaultGroup
	}
	if _, ok := s.cache.Group(groupID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	return s.users.InGroup(groupID), nil
}

func (s *Session) Participant(userID uint32) (participant.Participant, bool) {
	return s.users.ByUserID(userID)
}

func (s *Session) Participants() []participant.Participant {
	return s.users.All()
}

// CaptureSparkTransaction charges the participant for a spark-costed input.
func (s *Session) CaptureSparkTransaction(transactionID string) error {
	if transactionID == "" {
		return fmt.Errorf("%w: transactionID", protocol.ErrMissingField)
	}
	if err := s.requireReady(); err != nil {
		return err
	}
	_, err := s.conn.Call(methodCapture, captureParams{TransactionID: transactionID}, func(r *protocol.Reply) {
		if err := r.Err(); err != nil {
			log.Printf("interactive capture failed transaction=%s err=%v", transactionID, err)
		}
	})
	return err
}

// TriggerButtonCooldown disables controlID for d, measured on the server clock.
func (s *Session) TriggerButtonCooldown(controlID string, d time.Duration) error {
	if _, err := s.cache.ButtonDescription(controlID); err != nil {
		return fmt.Errorf("%w: %s", err, controlID)
	}
	sceneID, _ := s.cache.SceneOf(controlID)
	if err := s.requireReady(); err != nil {
		return err
	}
	deadline := s.serverNow().Add(d).UnixMilli()
	return s.updateControl(sceneID, controlPatch{ControlID: controlID, Cooldown: &deadline})
}

// SetLabelText changes a label's text.
func (s *Session) SetLabelText(controlID, text string) error {
	if _, err := s.cache.Label(controlID); err != nil {
		return fmt.Errorf("%w: %s", err, controlID)
	}
	sceneID, _ := s.cache.SceneOf(controlID)
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.updateControl(sceneID, controlPatch{ControlID: controlID, Text: &text})
}

func (s *Session) updateControl(sceneID string, patch controlPatch) error {
	params := controlsParams{SceneID: sceneID, Controls: []controlPatch{patch}}
	_, err := s.conn.Call(methodUpdateControls, params, func(r *protocol.Reply) {
		if err := r.Err(); err != nil {
			log.Printf("interactive updateControls failed control=%s err=%v", patch.ControlID, err)
		}
	})
	return err
}

// Tick runs button cooldowns down and resets per-tick counters.
func (s *Session) Tick(elapsed time.Duration) {
	s.cache.Tick(elapsed)
}

// SweepParticipants drops unpinned participants idle for longer than StaleAfter.
func (s *Session) SweepParticipants() int {
	gone := s.users.Sweep(s.deps.Now(), s.cfg.StaleAfter)
	for _, p := range gone {
		s.cache.dropParticipant(p.UserID)
		s.deps.Observer.ParticipantStateChanged(p, ParticipantLeft)
	}
	if len(gone) > 0 {
		log.Printf("interactive swept stale participants count=%d", len(gone))
	}
	return len(gone)
}
