package http

import (
	"testing"
	"time"
)

func TestRateLimiter_WindowAndLimit(t *testing.T) {
	rl := newRateLimiter(2)
	defer rl.stop()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	m := &securityMetrics{}

	if !rl.allow("1.2.3.4", m) || !rl.allow("1.2.3.4", m) {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.2.3.4", m) {
		t.Fatal("third request in the window should be refused")
	}
	if !rl.allow("5.6.7.8", m) {
		t.Fatal("other clients have their own window")
	}
	if got := m.snapshot().RateLimitHits; got != 1 {
		t.Errorf("RateLimitHits = %d, want 1", got)
	}

	now = now.Add(time.Minute)
	if !rl.allow("1.2.3.4", m) {
		t.Fatal("a new window should reset the count")
	}
}

func TestRateLimiter_CleanupStaleEntries(t *testing.T) {
	rl := newRateLimiter(0)
	defer rl.stop()
	if rl.limit != defaultRequestsPerMinute {
		t.Errorf("limit = %d, want default", rl.limit)
	}

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.allow("1.2.3.4", nil)

	now = now.Add(11 * time.Minute)
	rl.cleanupStaleEntries()
	if len(rl.clients) != 0 {
		t.Errorf("stale client kept: %v", rl.clients)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := newRateLimiter(1)
	rl.stop()
	rl.stop()
}
