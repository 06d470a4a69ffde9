// Package ratelimit paces requests to the Hacker News API and backs off
// when the API pushes back with 429 or 503.
//
// Pacing is a local token bucket. Backoff state ("blocked until") is shared
// across every process using the same Redis, so one instance being told to
// slow down slows them all.
package ratelimit

import (
	"time"
)

// Redis keys for shared backoff state.
const (
	RedisKeyBlockedUntil = "hn:rate_limit:blocked_until"
	RedisKeyLastUpdate   = "hn:rate_limit:last_update"
	RedisKeyReason       = "hn:rate_limit:reason"
)

const (
	// DefaultBackoff applies when a 429/503 carries no usable Retry-After.
	DefaultBackoff = 30 * time.Second

	// MaxBackoff caps whatever Retry-After asks for.
	MaxBackoff = 10 * time.Minute
)

// State is the current backoff state.
type State struct {
	// BlockedUntil is when requests may resume. Zero means not blocked.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`

	// Reason is the status that caused the block, e.g. "429".
	Reason string `json:"reason,omitempty"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// IsBlocked returns true while requests must not be sent.
func (s *State) IsBlocked() bool {
	return !s.BlockedUntil.IsZero() && time.Now().Before(s.BlockedUntil)
}

// TimeUntilReset returns the remaining block, or 0.
func (s *State) TimeUntilReset() time.Duration {
	if s.BlockedUntil.IsZero() {
		return 0
	}
	d := time.Until(s.BlockedUntil)
	if d < 0 {
		return 0
	}
	return d
}
