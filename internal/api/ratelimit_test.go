package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard", []string{"*"}, "http://anything.example", true},
		{"listed", []string{"http://a.example"}, "http://a.example", true},
		{"trailing slash in config", []string{"http://a.example/"}, "http://a.example", true},
		{"unlisted", []string{"http://a.example"}, "http://b.example", false},
		{"no origin header", []string{"http://a.example"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := OriginChecker(tt.allowed)
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := check(r); got != tt.want {
				t.Errorf("check(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestConnCounter(t *testing.T) {
	cc := newConnCounter(2)

	for i := 1; i <= 2; i++ {
		if held, ok := cc.acquire("1.2.3.4"); !ok || held != i {
			t.Fatalf("acquire %d = (%d, %v), want (%d, true)", i, held, ok, i)
		}
	}
	if held, ok := cc.acquire("1.2.3.4"); ok || held != 2 {
		t.Errorf("third acquire = (%d, %v), want (2, false)", held, ok)
	}
	if _, ok := cc.acquire("5.6.7.8"); !ok {
		t.Error("other IPs are counted separately")
	}

	cc.release("1.2.3.4")
	if _, ok := cc.acquire("1.2.3.4"); !ok {
		t.Error("slot should be free after release")
	}
	if got := cc.rejected.Load(); got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestConnCounterForgetsIdleIPs(t *testing.T) {
	cc := newConnCounter(3)

	cc.acquire("1.2.3.4")
	cc.acquire("1.2.3.4")
	cc.acquire("5.6.7.8")
	if cc.tracked() != 2 {
		t.Fatalf("tracked = %d, want 2", cc.tracked())
	}

	cc.release("1.2.3.4")
	cc.release("1.2.3.4")
	cc.release("5.6.7.8")
	cc.release("9.9.9.9") // never acquired
	if cc.tracked() != 0 {
		t.Errorf("tracked = %d after releasing everything, want 0", cc.tracked())
	}
}

func TestIPRateLimiterAllow(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, IdleTTL: time.Hour})
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("burst should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request over burst should be rejected")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other IPs have their own bucket")
	}

	want := LimiterStats{Allowed: 3, Rejected: 1, Tracked: 2}
	if got := rl.Stats(); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}
}

func TestIPRateLimiterSweep(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Hour})
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	if n := rl.sweep(time.Now()); n != 0 {
		t.Errorf("fresh bucket swept: %d", n)
	}
	if n := rl.sweep(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Errorf("idle buckets swept = %d, want 1", n)
	}
	if rl.Stats().Tracked != 0 {
		t.Error("bucket still tracked after sweep")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		trustProxy bool
		want       string
	}{
		{"remote addr", "", "", false, "192.168.1.7"},
		{"forwarded header ignored by default", "203.0.113.9", "", false, "192.168.1.7"},
		{"real ip ignored by default", "", "203.0.113.9", false, "192.168.1.7"},
		{"trusted forwarded for", "203.0.113.9, 10.0.0.1", "", true, "203.0.113.9"},
		{"trusted real ip", "", "203.0.113.10", true, "203.0.113.10"},
		{"trusted without headers", "", "", true, "192.168.1.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = "192.168.1.7:5555"
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSpoofedForwardedForSharesLimit(t *testing.T) {
	ts := newTestRouter(t, RouterConfig{
		RateLimitConfig: &RateLimitConfig{RequestsPerSecond: 1, Burst: 2, IdleTTL: time.Hour},
	})

	limited := false
	for i := 0; i < 10; i++ {
		req, _ := http.NewRequest("GET", ts.URL+"/health", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("rotating X-Forwarded-For should not escape the per-IP limit")
	}
}
