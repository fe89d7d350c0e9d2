package auth

import (
	"net/http"
	"strings"
	"time"
)

// Credentials identify the local user to the platform. The zero value is anonymous.
type Credentials struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Anonymous reports whether no token is present.
func (c Credentials) Anonymous() bool {
	return strings.TrimSpace(c.AccessToken) == ""
}

// Expired reports whether the token has a known expiry in the past.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Bearer returns the Authorization header value, or "" when anonymous.
func (c Credentials) Bearer() string {
	if c.Anonymous() {
		return ""
	}
	return "Bearer " + strings.TrimSpace(c.AccessToken)
}

// Apply sets the Authorization header on h when a token is present.
func (c Credentials) Apply(h http.Header) http.Header {
	if h == nil {
		h = http.Header{}
	}
	if b := c.Bearer(); b != "" {
		h.Set("Authorization", b)
	}
	return h
}
