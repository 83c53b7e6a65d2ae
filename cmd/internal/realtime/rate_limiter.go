package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter on inbound frames.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time // ascending
	limit  int
	window time.Duration
}

// NewRateLimiter falls back to the package defaults for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether a frame at now is permitted. When it is not, wait is
// the time until the oldest counted frame leaves the window.
func (r *RateLimiter) Allow(now time.Time) (ok bool, wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	i := 0
	for i < len(r.events) && !r.events[i].After(cut) {
		i++
	}
	if i > 0 {
		r.events = append(r.events[:0], r.events[i:]...)
	}

	if len(r.events) >= r.limit {
		return false, r.events[0].Add(r.window).Sub(now)
	}
	r.events = append(r.events, now)
	return true, 0
}
