// Package ratelimit is a thin wrapper over golang.org/x/time/rate,
// giving every external-service caller in the Forge the same
// construction idiom (a fixed minimum interval between calls, one
// token of burst) instead of each package reaching for rate.NewLimiter
// with its own arguments.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between allowed calls.
type Limiter struct {
	inner *rate.Limiter
}

// New returns a Limiter that allows at most one call per minInterval,
// with no burst beyond a single immediate call.
func New(minInterval time.Duration) *Limiter {
	return &Limiter{inner: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Allow reports whether a call may proceed right now, consuming a
// token if so. It never blocks.
func (l *Limiter) Allow() bool {
	return l.inner.Allow()
}
