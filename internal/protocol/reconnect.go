package protocol

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Reconnect paces repeated connection attempts. The first attempt after a
// Reset is immediate; later ones back off exponentially up to a cap.
type Reconnect struct {
	base, max time.Duration
	attempts  int
	backoff   retry.Backoff
}

// NewReconnect returns a pacer starting at base and capped at max.
func NewReconnect(base, max time.Duration) *Reconnect {
	r := &Reconnect{base: base, max: max}
	r.Reset()
	return r
}

// Next returns how long to wait before the next attempt.
func (r *Reconnect) Next() time.Duration {
	r.attempts++
	if r.attempts == 1 {
		return 0
	}
	d, stop := r.backoff.Next()
	if stop {
		return r.max
	}
	return d
}

// Attempts returns the attempts made since the last Reset.
func (r *Reconnect) Attempts() int {
	return r.attempts
}

// Reset is called once a connection succeeds.
func (r *Reconnect) Reset() {
	r.attempts = 0
	r.backoff = retry.WithCappedDuration(r.max, retry.NewExponential(r.base))
}
