// Package participant caches remote viewers keyed by platform user id and by
// per-session id. A Cache is owned by one session loop and is not locked.
package participant

import (
	"sort"
	"time"
)

// DefaultGroup is the group every participant lands in unless told otherwise.
const DefaultGroup = "default"

// Participant is a remote viewer.
type Participant struct {
	UserID       uint32    `json:"user_id"`
	SessionID    string    `json:"session_id,omitempty"`
	Name         string    `json:"name"`
	Level        int       `json:"level"`
	GroupID      string    `json:"group_id"`
	InputEnabled bool      `json:"input_enabled"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastInputAt  time.Time `json:"last_input_at"`
}

// lastActive is the most recent of connect and input times.
func (p Participant) lastActive() time.Time {
	if p.LastInputAt.After(p.ConnectedAt) {
		return p.LastInputAt
	}
	return p.ConnectedAt
}

type entry struct {
	p    Participant
	pins int
}

// Cache indexes participants by both ids. Every insert and removal touches both indexes.
type Cache struct {
	byUser    map[uint32]*entry
	bySession map[string]*entry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		byUser:    make(map[uint32]*entry),
		bySession: make(map[string]*entry),
	}
}

// Join inserts p or refreshes an existing entry with the same user or session id.
// isNew tells the caller to surface a join notification.
func (c *Cache) Join(p Participant) (stored Participant, isNew bool) {
	e := c.lookup(p.UserID, p.SessionID)
	if e == nil {
		if p.GroupID == "" {
			p.GroupID = DefaultGroup
		}
		e = &entry{p: p}
		c.index(e)
		return e.p, true
	}
	c.unindex(e)
	e.p = merge(e.p, p)
	c.index(e)
	return e.p, false
}

// Update refreshes an existing participant. It reports false if p is unknown.
func (c *Cache) Update(p Participant) (Participant, bool) {
	e := c.lookup(p.UserID, p.SessionID)
	if e == nil {
		return Participant{}, false
	}
	c.unindex(e)
	e.p = merge(e.p, p)
	c.index(e)
	return e.p, true
}

// Leave removes a participant by user id. Unknown ids are a no-op.
func (c *Cache) Leave(userID uint32) (Participant, bool) {
	e, ok := c.byUser[userID]
	if !ok {
		return Participant{}, false
	}
	c.unindex(e)
	return e.p, true
}

// LeaveSession removes a participant by session id.
func (c *Cache) LeaveSession(sessionID string) (Participant, bool) {
	e, ok := c.bySession[sessionID]
	if !ok {
		return Participant{}, false
	}
	c.unindex(e)
	return e.p, true
}

func (c *Cache) ByUserID(userID uint32) (Participant, bool) {
	e, ok := c.byUser[userID]
	if !ok {
		return Participant{}, false
	}
	return e.p, true
}

func (c *Cache) BySessionID(sessionID string) (Participant, bool) {
	e, ok := c.bySession[sessionID]
	if !ok {
		return Participant{}, false
	}
	return e.p, true
}

// SetGroup moves a known participant. It reports false for an unknown user.
func (c *Cache) SetGroup(userID uint32, groupID string) bool {
	e, ok := c.byUser[userID]
	if !ok {
		return false
	}
	e.p.GroupID = groupID
	return true
}

// Reassign moves everyone in from to to and returns how many moved.
func (c *Cache) Reassign(from, to string) int {
	n := 0
	for _, e := range c.byUser {
		if e.p.GroupID == from {
			e.p.GroupID = to
			n++
		}
	}
	return n
}

// Touch records input activity.
func (c *Cache) Touch(userID uint32, at time.Time) {
	if e, ok := c.byUser[userID]; ok {
		e.p.LastInputAt = at
	}
}

// InGroup returns participants in groupID ordered by user id.
func (c *Cache) InGroup(groupID string) []Participant {
	var out []Participant
	for _, e := range c.byUser {
		if e.p.GroupID == groupID {
			out = append(out, e.p)
		}
	}
	sortByUser(out)
	return out
}

// All returns every participant ordered by user id.
func (c *Cache) All() []Participant {
	out := make([]Participant, 0, len(c.byUser))
	for _, e := range c.byUser {
		out = append(out, e.p)
	}
	sortByUser(out)
	return out
}

func (c *Cache) Len() int {
	return len(c.byUser)
}

// Pin marks a participant as referenced outside the cache so Sweep keeps it.
func (c *Cache) Pin(userID uint32) bool {
	e, ok := c.byUser[userID]
	if !ok {
		return false
	}
	e.pins++
	return true
}

// Unpin releases one Pin.
func (c *Cache) Unpin(userID uint32) {
	if e, ok := c.byUser[userID]; ok && e.pins > 0 {
		e.pins--
	}
}

// Sweep drops unpinned participants with no connect or input activity inside
// window and returns them.
func (c *Cache) Sweep(now time.Time, window time.Duration) []Participant {
	cutoff := now.Add(-window)
	var dropped []Participant
	for _, e := range c.byUser {
		if e.pins > 0 || e.p.lastActive().After(cutoff) {
			continue
		}
		dropped = append(dropped, e.p)
	}
	for _, p := range dropped {
		c.Leave(p.UserID)
	}
	sortByUser(dropped)
	return dropped
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.byUser = make(map[uint32]*entry)
	c.bySession = make(map[string]*entry)
}

func (c *Cache) lookup(userID uint32, sessionID string) *entry {
	if e, ok := c.byUser[userID]; ok {
		return e
	}
	if sessionID != "" {
		if e, ok := c.bySession[sessionID]; ok {
			return e
		}
	}
	return nil
}

func (c *Cache) index(e *entry) {
	c.byUser[e.p.UserID] = e
	if e.p.SessionID != "" {
		c.bySession[e.p.SessionID] = e
	}
}

func (c *Cache) unindex(e *entry) {
	if cur, ok := c.byUser[e.p.UserID]; ok && cur == e {
		delete(c.byUser, e.p.UserID)
	}
	if e.p.SessionID != "" {
		if cur, ok := c.bySession[e.p.SessionID]; ok && cur == e {
			delete(c.bySession, e.p.SessionID)
		}
	}
}

// merge overlays the non-zero fields of next onto cur.
func merge(cur, next Participant) Participant {
	if next.UserID != 0 {
		cur.UserID = next.UserID
	}
	if next.SessionID != "" {
		cur.SessionID = next.SessionID
	}
	if next.Name != "" {
		cur.Name = next.Name
	}
	if next.Level != 0 {
		cur.Level = next.Level
	}
	if next.GroupID != "" {
		cur.GroupID = next.GroupID
	}
	cur.InputEnabled = next.InputEnabled
	if !next.ConnectedAt.IsZero() {
		cur.ConnectedAt = next.ConnectedAt
	}
	if next.LastInputAt.After(cur.LastInputAt) {
		cur.LastInputAt = next.LastInputAt
	}
	return cur
}

func sortByUser(ps []Participant) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].UserID < ps[j].UserID })
}
