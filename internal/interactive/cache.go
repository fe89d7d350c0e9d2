package interactive

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/vntrieu/mixplay/internal/participant"
	"github.com/vntrieu/mixplay/internal/protocol"
)

// Control kinds the cache models. Anything else is kept as a custom control.
const (
	KindButton   = "button"
	KindJoystick = "joystick"
	KindLabel    = "label"
	KindTextbox  = "textbox"
)

// DefaultScene is the scene a group gets when none is named.
const DefaultScene = "default"

type Scene struct {
	ID         string   `json:"id"`
	ControlIDs []string `json:"control_ids"`
}

type Group struct {
	ID      string `json:"id"`
	SceneID string `json:"scene_id"`
	ETag    string `json:"etag,omitempty"`
}

type ButtonDescription struct {
	Text      string `json:"text"`
	HelpText  string `json:"help_text"`
	SparkCost uint32 `json:"spark_cost"`
}

type ButtonState struct {
	RemainingCooldown time.Duration `json:"remaining_cooldown"`
	Progress          float64       `json:"progress"`
	DownCount         int           `json:"down_count"`
	PressCount        int           `json:"press_count"`
	UpCount           int           `json:"up_count"`
	Enabled           bool          `json:"enabled"`
}

type StickState struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Enabled bool    `json:"enabled"`
}

type LabelDescription struct {
	Text      string `json:"text"`
	TextSize  string `json:"text_size,omitempty"`
	TextColor string `json:"text_color,omitempty"`
	Bold      bool   `json:"bold"`
	Italic    bool   `json:"italic"`
	Underline bool   `json:"underline"`
}

type TextboxDescription struct {
	Placeholder string `json:"placeholder"`
	SubmitText  string `json:"submit_text"`
	HasSubmit   bool   `json:"has_submit"`
	Multiline   bool   `json:"multiline"`
	SparkCost   uint32 `json:"spark_cost"`
}

type button struct {
	sceneID string
	desc    ButtonDescription
	state   ButtonState
	holding map[uint32]struct{}
}

type axis struct{ x, y float64 }

type stick struct {
	sceneID string
	state   StickState
	values  map[uint32]axis
}

type label struct {
	sceneID string
	desc    LabelDescription
}

type textbox struct {
	sceneID string
	desc    TextboxDescription
	enabled bool
}

type customControl struct {
	sceneID string
	kind    string
	raw     json.RawMessage
}

// controlIndex is everything a getScenes reply defines. It is built aside and
// swapped in whole.
type controlIndex struct {
	scenes    map[string]*Scene
	buttons   map[string]*button
	sticks    map[string]*stick
	labels    map[string]*label
	textboxes map[string]*textbox
	custom    map[string]*customControl
}

func newControlIndex() *controlIndex {
	return &controlIndex{
		scenes:    make(map[string]*Scene),
		buttons:   make(map[string]*button),
		sticks:    make(map[string]*stick),
		labels:    make(map[string]*label),
		textboxes: make(map[string]*textbox),
		custom:    make(map[string]*customControl),
	}
}

func (x *controlIndex) has(controlID string) bool {
	_, b := x.buttons[controlID]
	_, s := x.sticks[controlID]
	_, l := x.labels[controlID]
	_, t := x.textboxes[controlID]
	_, c := x.custom[controlID]
	return b || s || l || t || c
}

func (x *controlIndex) sceneOf(controlID string) (string, bool) {
	switch {
	case x.buttons[controlID] != nil:
		return x.buttons[controlID].sceneID, true
	case x.sticks[controlID] != nil:
		return x.sticks[controlID].sceneID, true
	case x.labels[controlID] != nil:
		return x.labels[controlID].sceneID, true
	case x.textboxes[controlID] != nil:
		return x.textboxes[controlID].sceneID, true
	case x.custom[controlID] != nil:
		return x.custom[controlID].sceneID, true
	}
	return "", false
}

// buildIndex validates a full scene list. Any malformed scene or control, or a
// control id used twice, rejects the whole list.
func buildIndex(scenes []wireScene, serverNow time.Time, perParticipant bool) (*controlIndex, error) {
	x := newControlIndex()
	for _, ws := range scenes {
		if err := protocol.Require(ws.SceneID != nil, "sceneID"); err != nil {
			return nil, fmt.Errorf("scene: %w", err)
		}
		scene := &Scene{ID: *ws.SceneID}
		for _, raw := range ws.Controls {
			wc, err := decodeControl(raw)
			if err != nil {
				return nil, fmt.Errorf("scene %s: %w", scene.ID, err)
			}
			id := *wc.ControlID
			if x.has(id) {
				return nil, fmt.Errorf("control %s appears in more than one place", id)
			}
			x.add(scene.ID, wc, serverNow, perParticipant)
			scene.ControlIDs = append(scene.ControlIDs, id)
		}
		x.scenes[scene.ID] = scene
	}
	return x, nil
}

func (x *controlIndex) add(sceneID string, wc wireControl, serverNow time.Time, perParticipant bool) {
	id := *wc.ControlID
	switch wc.Kind {
	case KindButton:
		b := &button{sceneID: sceneID, state: ButtonState{Enabled: true}}
		if perParticipant {
			b.holding = make(map[uint32]struct{})
		}
		b.apply(wc, serverNow)
		x.buttons[id] = b
	case KindJoystick:
		s := &stick{sceneID: sceneID, state: StickState{Enabled: true}}
		if perParticipant {
			s.values = make(map[uint32]axis)
		}
		s.apply(wc)
		x.sticks[id] = s
	case KindLabel:
		l := &label{sceneID: sceneID}
		l.desc = LabelDescription{
			TextSize:  wc.TextSize,
			TextColor: wc.TextColor,
			Bold:      wc.Bold,
			Italic:    wc.Italic,
			Underline: wc.Underline,
		}
		l.apply(wc)
		x.labels[id] = l
	case KindTextbox:
		t := &textbox{sceneID: sceneID, enabled: true}
		t.desc = TextboxDescription{
			Placeholder: wc.Placeholder,
			SubmitText:  wc.SubmitText,
			HasSubmit:   wc.HasSubmit,
			Multiline:   wc.Multiline,
		}
		t.apply(wc)
		x.textboxes[id] = t
	default:
		x.custom[id] = &customControl{sceneID: sceneID, kind: wc.Kind, raw: wc.raw}
	}
}

func (b *button) apply(wc wireControl, serverNow time.Time) {
	if wc.Cooldown != nil {
		deadline := time.UnixMilli(int64(*wc.Cooldown))
		if remaining := deadline.Sub(serverNow); remaining > 0 {
			b.state.RemainingCooldown = remaining
		} else {
			b.state.RemainingCooldown = 0
		}
	}
	if wc.Text != nil {
		b.desc.Text = *wc.Text
	}
	if wc.Tooltip != nil {
		b.desc.HelpText = *wc.Tooltip
	}
	if wc.Cost != nil {
		b.desc.SparkCost = *wc.Cost
	}
	if wc.Disabled != nil {
		b.state.Enabled = !*wc.Disabled
	}
	if wc.Progress != nil {
		b.state.Progress = *wc.Progress
	}
}

func (s *stick) apply(wc wireControl) {
	if wc.Disabled != nil {
		s.state.Enabled = !*wc.Disabled
	}
}

func (l *label) apply(wc wireControl) {
	if wc.Text != nil {
		l.desc.Text = *wc.Text
	}
}

func (t *textbox) apply(wc wireControl) {
	if wc.Cost != nil {
		t.desc.SparkCost = *wc.Cost
	}
	if wc.Disabled != nil {
		t.enabled = !*wc.Disabled
	}
	if wc.Placeholder != "" {
		t.desc.Placeholder = wc.Placeholder
	}
	if wc.SubmitText != "" {
		t.desc.SubmitText = wc.SubmitText
	}
}

// move folds one participant's new stick position into the running average.
// A zero position removes the participant.
func (s *stick) move(userID uint32, x, y float64) {
	if s.values == nil {
		s.state.X, s.state.Y = x, y
		return
	}
	n := float64(len(s.values))
	if x != 0 || y != 0 {
		old, known := s.values[userID]
		sumX, sumY := s.state.X*n, s.state.Y*n
		if known {
			sumX -= old.x
			sumY -= old.y
		}
		s.values[userID] = axis{x, y}
		n = float64(len(s.values))
		s.state.X = (sumX + x) / n
		s.state.Y = (sumY + y) / n
		return
	}
	s.remove(userID)
}

func (s *stick) remove(userID uint32) {
	old, known := s.values[userID]
	if !known {
		return
	}
	n := float64(len(s.values))
	sumX, sumY := s.state.X*n-old.x, s.state.Y*n-old.y
	delete(s.values, userID)
	if len(s.values) == 0 {
		s.state.X, s.state.Y = 0, 0
		return
	}
	n = float64(len(s.values))
	s.state.X = sumX / n
	s.state.Y = sumY / n
}

// Cache is the scene, group and control snapshot of one session. Only the
// owner loop touches it.
type Cache struct {
	perParticipant bool
	index          *controlIndex
	groups         map[string]*Group
}

// NewCache returns an empty cache. perParticipant enables holding sets and
// per-participant stick values.
func NewCache(perParticipant bool) *Cache {
	return &Cache{
		perParticipant: perParticipant,
		index:          newControlIndex(),
		groups:         make(map[string]*Group),
	}
}

// PerParticipant reports whether per-participant state is kept.
func (c *Cache) PerParticipant() bool {
	return c.perParticipant
}

// ReplaceScenes validates scenes and swaps them in. On error the previous
// index stays untouched.
func (c *Cache) ReplaceScenes(scenes []wireScene, serverNow time.Time) error {
	x, err := buildIndex(scenes, serverNow, c.perParticipant)
	if err != nil {
		return err
	}
	c.index = x
	return nil
}

// Reset forgets everything.
func (c *Cache) Reset() {
	c.index = newControlIndex()
	c.groups = make(map[string]*Group)
}

func (c *Cache) Scene(id string) (Scene, bool) {
	s, ok := c.index.scenes[id]
	if !ok {
		return Scene{}, false
	}
	return Scene{ID: s.ID, ControlIDs: append([]string(nil), s.ControlIDs...)}, true
}

// Scenes returns every scene sorted by id.
func (c *Cache) Scenes() []Scene {
	out := make([]Scene, 0, len(c.index.scenes))
	for id := range c.index.scenes {
		s, _ := c.Scene(id)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Group looks up a group. The default group always resolves.
func (c *Cache) Group(id string) (Group, bool) {
	if g, ok := c.groups[id]; ok {
		return *g, true
	}
	if id == participant.DefaultGroup {
		return Group{ID: id, SceneID: DefaultScene}, true
	}
	return Group{}, false
}

// Groups returns every known group sorted by id.
func (c *Cache) Groups() []Group {
	out := make([]Group, 0, len(c.groups)+1)
	if _, ok := c.groups[participant.DefaultGroup]; !ok {
		g, _ := c.Group(participant.DefaultGroup)
		out = append(out, g)
	}
	for _, g := range c.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Cache) putGroup(g Group) {
	c.groups[g.ID] = &g
}

func (c *Cache) replaceGroups(groups []Group) {
	c.groups = make(map[string]*Group, len(groups))
	for _, g := range groups {
		c.putGroup(g)
	}
}

func (c *Cache) deleteGroup(id string) bool {
	if _, ok := c.groups[id]; !ok {
		return false
	}
	delete(c.groups, id)
	return true
}

// SceneOf returns the scene that holds controlID.
func (c *Cache) SceneOf(controlID string) (string, bool) {
	return c.index.sceneOf(controlID)
}

// Kind returns the kind of controlID.
func (c *Cache) Kind(controlID string) (string, bool) {
	x := c.index
	switch {
	case x.buttons[controlID] != nil:
		return KindButton, true
	case x.sticks[controlID] != nil:
		return KindJoystick, true
	case x.labels[controlID] != nil:
		return KindLabel, true
	case x.textboxes[controlID] != nil:
		return KindTextbox, true
	case x.custom[controlID] != nil:
		return x.custom[controlID].kind, true
	}
	return "", false
}

func (c *Cache) ButtonDescription(id string) (ButtonDescription, error) {
	b, ok := c.index.buttons[id]
	if !ok {
		return ButtonDescription{}, ErrUnknownControl
	}
	return b.desc, nil
}

// ButtonState returns the aggregate state. PressCount is the number of
// participants holding the button and is zero without per-participant state.
func (c *Cache) ButtonState(id string) (ButtonState, error) {
	b, ok := c.index.buttons[id]
	if !ok {
		return ButtonState{}, ErrUnknownControl
	}
	st := b.state
	if !c.perParticipant {
		st.PressCount = 0
	}
	return st, nil
}

// ButtonStateFor returns one participant's view: PressCount is 1 while they
// hold the button. Down and up counts are not tracked per participant.
func (c *Cache) ButtonStateFor(id string, userID uint32) (ButtonState, error) {
	if !c.perParticipant {
		return ButtonState{}, ErrNotSupported
	}
	b, ok := c.index.buttons[id]
	if !ok {
		return ButtonState{}, ErrUnknownControl
	}
	st := b.state
	st.DownCount, st.UpCount, st.PressCount = 0, 0, 0
	if _, holding := b.holding[userID]; holding {
		st.PressCount = 1
	}
	return st, nil
}

func (c *Cache) StickState(id string) (StickState, error) {
	s, ok := c.index.sticks[id]
	if !ok {
		return StickState{}, ErrUnknownControl
	}
	return s.state, nil
}

// StickStateFor returns a participant's last position, or zero if they have none.
func (c *Cache) StickStateFor(id string, userID uint32) (StickState, error) {
	if !c.perParticipant {
		return StickState{}, ErrNotSupported
	}
	s, ok := c.index.sticks[id]
	if !ok {
		return StickState{}, ErrUnknownControl
	}
	v := s.values[userID]
	return StickState{X: v.x, Y: v.y, Enabled: s.state.Enabled}, nil
}

func (c *Cache) Label(id string) (LabelDescription, error) {
	l, ok := c.index.labels[id]
	if !ok {
		return LabelDescription{}, ErrUnknownControl
	}
	return l.desc, nil
}

func (c *Cache) Textbox(id string) (TextboxDescription, error) {
	t, ok := c.index.textboxes[id]
	if !ok {
		return TextboxDescription{}, ErrUnknownControl
	}
	return t.desc, nil
}

// pressButton records a mousedown or mouseup and returns the button's cost.
func (c *Cache) pressButton(id string, userID uint32, pressed bool) (uint32, bool) {
	b, ok := c.index.buttons[id]
	if !ok {
		return 0, false
	}
	if pressed {
		b.state.DownCount++
		if b.holding != nil {
			b.holding[userID] = struct{}{}
		}
	} else {
		b.state.UpCount++
		if b.holding != nil {
			delete(b.holding, userID)
		}
	}
	if b.holding != nil {
		b.state.PressCount = len(b.holding)
	}
	return b.desc.SparkCost, true
}

func (c *Cache) moveStick(id string, userID uint32, x, y float64) bool {
	s, ok := c.index.sticks[id]
	if !ok {
		return false
	}
	s.move(userID, x, y)
	return true
}

// dropParticipant removes a leaving participant from holding sets and stick averages.
func (c *Cache) dropParticipant(userID uint32) {
	for _, b := range c.index.buttons {
		if _, ok := b.holding[userID]; ok {
			delete(b.holding, userID)
			b.state.PressCount = len(b.holding)
		}
	}
	for _, s := range c.index.sticks {
		if s.values != nil {
			s.remove(userID)
		}
	}
}

// applyControlUpdate patches one control in place. It reports false for an
// unknown control.
func (c *Cache) applyControlUpdate(wc wireControl, serverNow time.Time) bool {
	id := *wc.ControlID
	x := c.index
	switch {
	case x.buttons[id] != nil:
		x.buttons[id].apply(wc, serverNow)
	case x.sticks[id] != nil:
		x.sticks[id].apply(wc)
	case x.labels[id] != nil:
		x.labels[id].apply(wc)
	case x.textboxes[id] != nil:
		x.textboxes[id].apply(wc)
	case x.custom[id] != nil:
		x.custom[id].raw = wc.raw
	default:
		return false
	}
	return true
}

// Tick runs cooldowns down by elapsed and resets the down and up counters.
// Press counts are left alone.
func (c *Cache) Tick(elapsed time.Duration) {
	for _, b := range c.index.buttons {
		b.state.RemainingCooldown -= elapsed
		if b.state.RemainingCooldown < 0 {
			b.state.RemainingCooldown = 0
		}
		b.state.DownCount = 0
		b.state.UpCount = 0
	}
}
