package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vntrieu/mixplay/internal/interactive"
	"github.com/vntrieu/mixplay/internal/participant"
)

// InteractiveRunner runs functions against the interactive session on its loop.
type InteractiveRunner interface {
	Exec(ctx context.Context, fn func(*interactive.Session)) error
}

// InteractiveStatus is the body for GET /api/interactive.
type InteractiveStatus struct {
	ConnState     string              `json:"conn_state"`
	LoginState    string              `json:"login_state"`
	Interactivity string              `json:"interactivity"`
	ClockOffsetMs int64               `json:"clock_offset_ms"`
	Scenes        []interactive.Scene `json:"scenes"`
	Groups        []interactive.Group `json:"groups"`
	Participants  int                 `json:"participants"`
}

// CreateGroupRequest is the body for POST /api/groups.
type CreateGroupRequest struct {
	GroupID string `json:"group_id"`
	SceneID string `json:"scene_id,omitempty"`
}

// SetSceneRequest is the body for PUT /api/groups/{group}/scene.
type SetSceneRequest struct {
	SceneID string `json:"scene_id"`
}

// MoveParticipantRequest is the body for POST /api/groups/{group}/participants.
type MoveParticipantRequest struct {
	UserID uint32 `json:"user_id"`
}

// CooldownRequest is the body for POST /api/controls/{control}/cooldown.
type CooldownRequest struct {
	CooldownMs int64 `json:"cooldown_ms"`
}

// ControlResponse describes one control. Only the fields for its kind are set.
type ControlResponse struct {
	ID      string                          `json:"id"`
	Kind    string                          `json:"kind"`
	SceneID string                          `json:"scene_id"`
	Button  *interactive.ButtonDescription  `json:"button,omitempty"`
	State   *interactive.ButtonState        `json:"button_state,omitempty"`
	Stick   *interactive.StickState         `json:"stick_state,omitempty"`
	Label   *interactive.LabelDescription   `json:"label,omitempty"`
	Textbox *interactive.TextboxDescription `json:"textbox,omitempty"`
}

// InteractiveHandler exposes the interactive session.
type InteractiveHandler struct {
	session InteractiveRunner
}

// NewInteractiveHandler creates a new InteractiveHandler. A nil session makes
// every endpoint answer 503.
func NewInteractiveHandler(session InteractiveRunner) *InteractiveHandler {
	return &InteractiveHandler{session: session}
}

// run executes fn on the session loop. It writes the response itself when it returns false.
func (h *InteractiveHandler) run(w http.ResponseWriter, r *http.Request, fn func(*interactive.Session)) bool {
	if h.session == nil {
		writeError(w, http.StatusServiceUnavailable, "interactive session disabled")
		return false
	}
	if err := h.session.Exec(r.Context(), fn); err != nil {
		writeError(w, http.StatusServiceUnavailable, "interactive session unavailable")
		return false
	}
	return true
}

// Status handles GET /api/interactive
//
// @Summary      Interactive session status
// @Tags         interactive
// @Produce      json
// @Success      200  {object}  InteractiveStatus
// @Failure      503  {object}  errorResponse
// @Router       /api/interactive [get]
// @Security     BearerAuth
func (h *InteractiveHandler) Status(w http.ResponseWriter, r *http.Request) {
	var st InteractiveStatus
	ok := h.run(w, r, func(s *interactive.Session) {
		st = InteractiveStatus{
			ConnState:     s.ConnState().String(),
			LoginState:    s.LoginState().String(),
			Interactivity: s.InteractivityState().String(),
			ClockOffsetMs: s.ClockOffset().Milliseconds(),
			Scenes:        s.Cache().Scenes(),
			Groups:        s.Cache().Groups(),
			Participants:  len(s.Participants()),
		}
	})
	if ok {
		writeJSON(w, http.StatusOK, st)
	}
}

// Start handles POST /api/interactive/start
//
// @Summary      Go interactive
// @Description  Asks the service to start interactivity. The state flips when the service confirms.
// @Tags         interactive
// @Success      202
// @Failure      409  {object}  errorResponse
// @Router       /api/interactive/start [post]
// @Security     BearerAuth
func (h *InteractiveHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, http.StatusAccepted, func(s *interactive.Session) error { return s.StartInteractivity() })
}

// Stop handles POST /api/interactive/stop
//
// @Summary      Stop interactivity
// @Tags         interactive
// @Success      202
// @Failure      409  {object}  errorResponse
// @Router       /api/interactive/stop [post]
// @Security     BearerAuth
func (h *InteractiveHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, http.StatusAccepted, func(s *interactive.Session) error { return s.StopInteractivity() })
}

func (h *InteractiveHandler) command(w http.ResponseWriter, r *http.Request, status int, fn func(*interactive.Session) error) {
	var err error
	if !h.run(w, r, func(s *interactive.Session) { err = fn(s) }) {
		return
	}
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(status)
}

// Participants handles GET /api/participants
//
// @Summary      List participants
// @Description  Optional group query parameter filters by group.
// @Tags         interactive
// @Produce      json
// @Param        group  query  string  false  "Group id"
// @Success      200  {array}   participant.Participant
// @Failure      404  {object}  errorResponse
// @Router       /api/participants [get]
// @Security     BearerAuth
func (h *InteractiveHandler) Participants(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimSpace(r.URL.Query().Get("group"))
	var (
		out []participant.Participant
		err error
	)
	ok := h.run(w, r, func(s *interactive.Session) {
		if group == "" {
			out = s.Participants()
			return
		}
		out, err = s.ParticipantsInGroup(group)
	})
	if !ok {
		return
	}
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	if out == nil {
		out = []participant.Participant{}
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateGroup handles POST /api/groups
//
// @Summary      Create a group
// @Tags         interactive
// @Accept       json
// @Param        body  body  CreateGroupRequest  true  "Request body"
// @Success      201
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse  "Unknown scene"
// @Failure      409  {object}  errorResponse  "Group exists or not logged in"
// @Router       /api/groups [post]
// @Security     BearerAuth
func (h *InteractiveHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.GroupID = strings.TrimSpace(req.GroupID)
	if req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}
	h.command(w, r, http.StatusCreated, func(s *interactive.Session) error {
		return s.CreateGroup(req.GroupID, req.SceneID)
	})
}

// SetScene handles PUT /api/groups/{group}/scene
//
// @Summary      Change a group's scene
// @Description  The change applies once the service confirms it.
// @Tags         interactive
// @Accept       json
// @Param        group  path  string           true  "Group id"
// @Param        body   body  SetSceneRequest  true  "Request body"
// @Success      202
// @Failure      404  {object}  errorResponse
// @Router       /api/groups/{group}/scene [put]
// @Security     BearerAuth
func (h *InteractiveHandler) SetScene(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	var req SetSceneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SceneID) == "" {
		writeError(w, http.StatusBadRequest, "scene_id is required")
		return
	}
	h.command(w, r, http.StatusAccepted, func(s *interactive.Session) error {
		return s.SetCurrentScene(group, req.SceneID)
	})
}

// MoveParticipant handles POST /api/groups/{group}/participants
//
// @Summary      Move a participant into a group
// @Tags         interactive
// @Accept       json
// @Param        group  path  string                  true  "Group id"
// @Param        body   body  MoveParticipantRequest  true  "Request body"
// @Success      204
// @Failure      404  {object}  errorResponse
// @Router       /api/groups/{group}/participants [post]
// @Security     BearerAuth
func (h *InteractiveHandler) MoveParticipant(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	var req MoveParticipantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.command(w, r, http.StatusNoContent, func(s *interactive.Session) error {
		return s.MoveParticipantToGroup(group, req.UserID)
	})
}

// Control handles GET /api/controls/{control}
//
// @Summary      Describe a control
// @Tags         interactive
// @Produce      json
// @Param        control  path  string  true  "Control id"
// @Success      200  {object}  ControlResponse
// @Failure      404  {object}  errorResponse
// @Router       /api/controls/{control} [get]
// @Security     BearerAuth
func (h *InteractiveHandler) Control(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "control")
	var (
		resp  ControlResponse
		found bool
	)
	ok := h.run(w, r, func(s *interactive.Session) {
		c := s.Cache()
		kind, known := c.Kind(id)
		if !known {
			return
		}
		found = true
		scene, _ := c.SceneOf(id)
		resp = ControlResponse{ID: id, Kind: kind, SceneID: scene}
		switch kind {
		case interactive.KindButton:
			desc, _ := c.ButtonDescription(id)
			st, _ := c.ButtonState(id)
			resp.Button, resp.State = &desc, &st
		case interactive.KindJoystick:
			st, _ := c.StickState(id)
			resp.Stick = &st
		case interactive.KindLabel:
			l, _ := c.Label(id)
			resp.Label = &l
		case interactive.KindTextbox:
			t, _ := c.Textbox(id)
			resp.Textbox = &t
		}
	})
	if !ok {
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown control")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cooldown handles POST /api/controls/{control}/cooldown
//
// @Summary      Put a button on cooldown
// @Tags         interactive
// @Accept       json
// @Param        control  path  string           true  "Control id"
// @Param        body     body  CooldownRequest  true  "Request body"
// @Success      202
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /api/controls/{control}/cooldown [post]
// @Security     BearerAuth
func (h *InteractiveHandler) Cooldown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "control")
	var req CooldownRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CooldownMs <= 0 {
		writeError(w, http.StatusBadRequest, "cooldown_ms must be positive")
		return
	}
	d := time.Duration(req.CooldownMs) * time.Millisecond
	h.command(w, r, http.StatusAccepted, func(s *interactive.Session) error {
		return s.TriggerButtonCooldown(id, d)
	})
}
