package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kessel-b2b/aigate/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.Limiter with GCRA. Each key stores only
// its theoretical arrival time (TAT).
type RateLimiter struct {
	mu  sync.Mutex
	tat map[string]time.Time
	now func() time.Time

	idleTTL time.Duration
}

// NewRateLimiter creates a limiter. Keys idle longer than idleTTL are
// removed by Run.
func NewRateLimiter(idleTTL time.Duration) *RateLimiter {
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	return &RateLimiter{tat: make(map[string]time.Time), now: time.Now, idleTTL: idleTTL}
}

// Allow implements ratelimit.Limiter.
func (r *RateLimiter) Allow(_ context.Context, key string, limit ratelimit.Limit) (ratelimit.Result, error) {
	emission := limit.Emission()
	burst := limit.BurstSize()
	tolerance := time.Duration(burst-1) * emission

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tat := r.tat[key]
	if tat.Before(now) {
		tat = now
	}
	// The request conforms if TAT lies within the burst tolerance.
	if wait := tat.Sub(now) - tolerance; wait > 0 {
		return ratelimit.Result{Allowed: false, RetryAfter: wait}, nil
	}
	tat = tat.Add(emission)
	r.tat[key] = tat

	remaining := 0
	if emission > 0 {
		remaining = int((tolerance - (tat.Sub(now) - emission)) / emission)
	}
	return ratelimit.Result{Allowed: true, Remaining: max(remaining, 0)}, nil
}

// Run removes idle keys every interval until ctx is done.
func (r *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				slog.Debug("rate limiter removed idle keys", "removed", n)
			}
		}
	}
}

func (r *RateLimiter) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for k, tat := range r.tat {
		if tat.Before(cutoff) {
			delete(r.tat, k)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tat)
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)
