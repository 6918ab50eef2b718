package command

import (
	"sync"
	"time"
)

// RateLimiter implements per-caller command rate limiting
type RateLimiter struct {
	mu          sync.Mutex
	callers     map[string]*callerLimit
	config      RateLimitConfig
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type callerLimit struct {
	count     int
	windowEnd time.Time
	lastCmd   time.Time
}

// RateLimitConfig configures rate limiting behavior
type RateLimitConfig struct {
	// MaxPerWindow is max commands per window
	MaxPerWindow int
	// WindowDuration is the fixed window size
	WindowDuration time.Duration
	// CooldownDuration is minimum time between commands
	CooldownDuration time.Duration
}

// DefaultRateLimitConfig for server commands
var DefaultRateLimitConfig = RateLimitConfig{
	MaxPerWindow:     5,
	WindowDuration:   5 * time.Second,
	CooldownDuration: 250 * time.Millisecond,
}

// NewRateLimiter creates a rate limiter with a background cleanup loop.
// Call Stop to end the loop.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		callers:     make(map[string]*callerLimit),
		config:      cfg,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow checks if a caller can execute a command
func (rl *RateLimiter) Allow(caller string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.callers[caller]
	if !exists {
		rl.callers[caller] = &callerLimit{
			count:     1,
			windowEnd: now.Add(rl.config.WindowDuration),
			lastCmd:   now,
		}
		return true
	}

	if now.Sub(limit.lastCmd) < rl.config.CooldownDuration {
		return false
	}

	if now.After(limit.windowEnd) {
		limit.count = 1
		limit.windowEnd = now.Add(rl.config.WindowDuration)
		limit.lastCmd = now
		return true
	}

	if limit.count >= rl.config.MaxPerWindow {
		return false
	}

	limit.count++
	limit.lastCmd = now
	return true
}

// Stop ends the cleanup loop
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// cleanup removes idle callers every minute
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.prune(5 * time.Minute)
		}
	}
}

func (rl *RateLimiter) prune(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	for key, limit := range rl.callers {
		if limit.lastCmd.Before(cutoff) {
			delete(rl.callers, key)
		}
	}
}
