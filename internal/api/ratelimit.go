package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-IP HTTP request limiter
type RateLimitConfig struct {
	RequestsPerSecond float64       // token refill rate per client IP
	Burst             int           // bucket size
	IdleTTL           time.Duration // buckets unused this long are swept
	TrustProxy        bool          // key clients by X-Forwarded-For / X-Real-IP
}

// DefaultRateLimitConfig is used when the router is built without one
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 20, // static assets arrive in bursts on page load
	Burst:             40,
	IdleTTL:           10 * time.Minute,
}

// LimiterStats is the HTTP limiter section of /api/stats.
type LimiterStats struct {
	Allowed  uint64 `json:"allowed"`
	Rejected uint64 `json:"rejected"`
	Tracked  int    `json:"tracked"`
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter is a token bucket per client IP. Idle buckets are swept
// in the background until Stop.
type IPRateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket

	allowed  atomic.Uint64
	rejected atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter creates the limiter and starts its sweeper.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig.IdleTTL
	}
	rl := &IPRateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop ends the sweeper. Safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow takes one token from ip's bucket.
func (rl *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	ok = b.limiter.AllowN(now, 1)
	rl.mu.Unlock()

	if ok {
		rl.allowed.Add(1)
	} else {
		rl.rejected.Add(1)
	}
	return ok
}

// Middleware rejects requests over the client's rate with 429.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r, rl.cfg.TrustProxy)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats returns the request counters and the number of live buckets.
func (rl *IPRateLimiter) Stats() LimiterStats {
	rl.mu.Lock()
	tracked := len(rl.buckets)
	rl.mu.Unlock()
	return LimiterStats{
		Allowed:  rl.allowed.Load(),
		Rejected: rl.rejected.Load(),
		Tracked:  tracked,
	}
}

func (rl *IPRateLimiter) sweepLoop() {
	t := time.NewTicker(rl.cfg.IdleTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-t.C:
			rl.sweep(now)
		}
	}
}

// sweep drops buckets idle for longer than IdleTTL.
func (rl *IPRateLimiter) sweep(now time.Time) int {
	cutoff := now.Add(-rl.cfg.IdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
			n++
		}
	}
	return n
}

// ClientIP returns the address a request is limited and logged under.
// Proxy headers are only honoured with trustProxy set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// connCounter caps concurrent websockets per IP. Entries are removed when
// their count returns to zero.
type connCounter struct {
	max int

	mu    sync.Mutex
	count map[string]int

	rejected atomic.Uint64
}

func newConnCounter(maxPerIP int) *connCounter {
	return &connCounter{max: maxPerIP, count: make(map[string]int)}
}

// acquire reserves a slot for ip. It returns the count held by ip after the
// call and whether the slot was granted.
func (cc *connCounter) acquire(ip string) (int, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	n := cc.count[ip]
	if n >= cc.max {
		cc.rejected.Add(1)
		return n, false
	}
	cc.count[ip] = n + 1
	return n + 1, true
}

// release frees a slot taken by acquire.
func (cc *connCounter) release(ip string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	switch n := cc.count[ip]; {
	case n <= 1:
		delete(cc.count, ip)
	default:
		cc.count[ip] = n - 1
	}
}

func (cc *connCounter) tracked() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.count)
}

// OriginChecker returns a websocket CheckOrigin function for the allowed
// origins. "*" allows any origin. Requests without an Origin header come from
// non-browser clients and are allowed.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		RecordConnectionRejected("origin")
		return false
	}
}
