package ratelimit

import (
	"sync"
	"time"
)

// Limiter decides whether another action for key fits its budget. When it
// does not, retryAfter is how long until the oldest action leaves the window.
type Limiter interface {
	Allow(key string) (allowed bool, retryAfter time.Duration)
}

// Noop allows everything.
type Noop struct{}

func (Noop) Allow(string) (bool, time.Duration) { return true, 0 }

// Window is a sliding-window limiter per key. Chat sessions key it by
// room and method so a burst of whispers cannot starve plain messages.
type Window struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	limit   int
	window  time.Duration
	nowFunc func() time.Time
}

// NewWindow allows up to limit actions per key per window.
func NewWindow(limit int, window time.Duration) *Window {
	return &Window{
		hits:    make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		nowFunc: time.Now,
	}
}

func (w *Window) Allow(key string) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.nowFunc()
	times := w.prune(key, now)
	if len(times) >= w.limit {
		return false, times[0].Add(w.window).Sub(now)
	}
	w.hits[key] = append(times, now)
	return true, 0
}

// Remaining returns how many more actions key may take right now.
func (w *Window) Remaining(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.limit - len(w.prune(key, w.nowFunc()))
	if n < 0 {
		return 0
	}
	return n
}

// Reset forgets key, e.g. after a reconnect resets the server-side budget.
func (w *Window) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.hits, key)
}

// prune drops hits older than the window and returns the survivors.
func (w *Window) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	times := w.hits[key]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(w.hits, key)
		return nil
	}
	w.hits[key] = kept
	return kept
}

// RetryAfterSeconds rounds d up to whole seconds for a Retry-After header. Zero means omit.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
