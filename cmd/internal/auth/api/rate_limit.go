package authapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter holds one token bucket per key (client IP or normalized email).
// Buckets idle for longer than the refill window are dropped on access.
type keyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	window  time.Duration
	buckets map[string]*bucket
	lastGC  time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// newKeyedLimiter allows burst events per window per key. A non-positive burst
// disables limiting.
func newKeyedLimiter(burst int, window time.Duration) *keyedLimiter {
	if burst <= 0 || window <= 0 {
		return nil
	}
	return &keyedLimiter{
		limit:   rate.Limit(float64(burst) / window.Seconds()),
		burst:   burst,
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

// allow consumes one token for key. When the bucket is empty it returns false
// and how long until a token is available; nothing is consumed in that case.
func (l *keyedLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	if l == nil || key == "" {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.gc(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, l.window
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (l *keyedLimiter) gc(now time.Time) {
	if now.Sub(l.lastGC) < l.window {
		return
	}
	l.lastGC = now
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.window {
			delete(l.buckets, k)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many attempts, please try again later")
}
