// Package ratelimit provides per-caller rate limiting types.
package ratelimit

import (
	"context"
	"time"
)

// Limit defines a GCRA rate: Rate events per Period with up to Burst at once.
type Limit struct {
	Rate   int
	Burst  int
	Period time.Duration
}

// Emission returns the spacing between events at the steady rate.
func (l Limit) Emission() time.Duration {
	rate := l.Rate
	if rate <= 0 {
		rate = 1
	}
	return l.Period / time.Duration(rate)
}

// BurstSize returns Burst, defaulting to Rate.
func (l Limit) BurstSize() int {
	if l.Burst > 0 {
		return l.Burst
	}
	if l.Rate > 0 {
		return l.Rate
	}
	return 1
}

// Result is the outcome of one Allow check.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is set when Allowed is false.
	RetryAfter time.Duration
}

// Limiter is implemented by rate limit backends.
type Limiter interface {
	// Allow consumes one event for key if the limit permits it.
	Allow(ctx context.Context, key string, limit Limit) (Result, error)
}

// Scope names what a limit applies to.
type Scope string

const (
	ScopeChat  Scope = "chat"
	ScopeTools Scope = "tools"
)

// Key returns the limiter key for a caller within a scope.
func Key(scope Scope, userID string) string {
	return "ratelimit:" + string(scope) + ":" + userID
}
