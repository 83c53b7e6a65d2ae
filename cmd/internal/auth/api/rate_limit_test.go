package authapi

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestKeyedLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(3, 3*time.Minute)

	for i := 0; i < 3; i++ {
		if ok, _ := l.allow("1.2.3.4", now); !ok {
			t.Fatalf("attempt %d should pass", i+1)
		}
	}
	ok, retry := l.allow("1.2.3.4", now)
	if ok {
		t.Fatalf("fourth attempt inside the burst window must be limited")
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected retry: %v", retry)
	}

	if ok, _ := l.allow("5.6.7.8", now); !ok {
		t.Fatalf("keys are independent")
	}

	if ok, _ := l.allow("1.2.3.4", now.Add(time.Minute)); !ok {
		t.Fatalf("one token refills per minute")
	}
}

func TestKeyedLimiter_DeniedAttemptsDoNotConsume(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(1, time.Minute)

	if ok, _ := l.allow("k", now); !ok {
		t.Fatalf("first attempt should pass")
	}
	for i := 0; i < 10; i++ {
		if ok, _ := l.allow("k", now.Add(time.Duration(i)*time.Second)); ok {
			t.Fatalf("attempt %d should be limited", i)
		}
	}
	if ok, _ := l.allow("k", now.Add(61*time.Second)); !ok {
		t.Fatalf("bucket should have refilled")
	}
}

func TestKeyedLimiter_GCAndDisabled(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(1, time.Minute)
	l.allow("a", now)
	l.allow("b", now.Add(2*time.Minute))
	if _, ok := l.buckets["a"]; ok {
		t.Fatalf("idle bucket should be collected")
	}

	off := newKeyedLimiter(0, time.Minute)
	if ok, _ := off.allow("x", now); !ok {
		t.Fatalf("disabled limiter must allow")
	}
}

func TestWriteRateLimited(t *testing.T) {
	rr := httptest.NewRecorder()
	writeRateLimited(rr, 1500*time.Millisecond)
	if rr.Code != 429 {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After=%q", got)
	}
}
