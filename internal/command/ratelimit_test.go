package command

import (
	"testing"
	"time"
)

func newClockedLimiter(cfg RateLimitConfig) (*RateLimiter, *time.Time) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(cfg)
	rl.now = func() time.Time { return now }
	return rl, &now
}

// TestRateLimiterWindow verifies the fixed window and cooldown
func TestRateLimiterWindow(t *testing.T) {
	rl, now := newClockedLimiter(DefaultRateLimitConfig)
	defer rl.Stop()

	if !rl.Allow("Alice") {
		t.Fatal("First command should pass")
	}
	if rl.Allow("Alice") {
		t.Error("Command inside cooldown should fail")
	}

	for i := 0; i < 4; i++ {
		*now = now.Add(300 * time.Millisecond)
		if !rl.Allow("Alice") {
			t.Fatalf("Command %d should pass", i+2)
		}
	}

	*now = now.Add(300 * time.Millisecond)
	if rl.Allow("Alice") {
		t.Error("Sixth command in window should fail")
	}

	*now = now.Add(5 * time.Second)
	if !rl.Allow("Alice") {
		t.Error("New window should reset the count")
	}
}

// TestRateLimiterPrune drops idle callers
func TestRateLimiterPrune(t *testing.T) {
	rl, now := newClockedLimiter(DefaultRateLimitConfig)
	defer rl.Stop()

	rl.Allow("Alice")
	*now = now.Add(10 * time.Minute)
	rl.Allow("Bob")
	rl.prune(5 * time.Minute)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.callers["Alice"]; ok {
		t.Error("Idle caller should be pruned")
	}
	if _, ok := rl.callers["Bob"]; !ok {
		t.Error("Active caller should be kept")
	}
}
