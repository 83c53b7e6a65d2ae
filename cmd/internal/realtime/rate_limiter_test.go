package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow(t0.Add(time.Duration(i) * time.Second))
		assert.True(t, ok, "frame %d", i)
	}

	ok, wait := rl.Allow(t0.Add(3 * time.Second))
	assert.False(t, ok)
	assert.Equal(t, 7*time.Second, wait)

	// The first frame leaves the window at t0+10s.
	ok, _ = rl.Allow(t0.Add(10 * time.Second))
	assert.True(t, ok)
	ok, _ = rl.Allow(t0.Add(10 * time.Second))
	assert.False(t, ok)
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, rateLimitEvents, rl.limit)
	assert.Equal(t, rateLimitWindow, rl.window)
}
