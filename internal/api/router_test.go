package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clbarrell/cube-builder/internal/game"
)

// stubState implements StateReader for testing
type stubState struct {
	snap  *game.Snapshot
	stats Stats
}

func newStubState() *stubState {
	snap := game.EmptySnapshot()
	snap.State.Players["Alice"] = game.Player{ID: "Alice", Name: "Alice"}
	snap.State.Cubes = []game.Cube{{Position: game.Vec3{X: 1}, PlayerID: "Alice", PlayerName: "Alice"}}
	snap.PlayerCount = 1
	snap.CubeCount = 1
	return &stubState{
		snap:  snap,
		stats: Stats{Connections: 1, Players: 1, Cubes: 1, MaxCubes: 1000, Phase: game.PhaseLobby},
	}
}

func (s *stubState) Snapshot() *game.Snapshot { return s.snap }
func (s *stubState) Stats() Stats             { return s.stats }

var testRateLimit = &RateLimitConfig{
	RequestsPerSecond: 1000,
	Burst:             1000,
	IdleTTL:           time.Hour,
}

func newTestRouter(t *testing.T, cfg RouterConfig) *httptest.Server {
	t.Helper()
	if cfg.State == nil {
		cfg.State = newStubState()
	}
	if cfg.RateLimiter == nil && cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = testRateLimit
	}
	ts := httptest.NewServer(NewRouter(cfg))
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp
}

// TestNewRouterHasNoSideEffects verifies that NewRouter opens no listeners
// and does not touch the state source.
func TestNewRouterHasNoSideEffects(t *testing.T) {
	router := NewRouter(RouterConfig{
		State:           newStubState(),
		RateLimitConfig: testRateLimit,
	})
	if router == nil {
		t.Fatal("Router should not be nil")
	}
}

func TestAPIHealth(t *testing.T) {
	ts := newTestRouter(t, RouterConfig{})

	var body map[string]string
	resp := getJSON(t, ts.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestAPIGetState(t *testing.T) {
	ts := newTestRouter(t, RouterConfig{})

	var st game.GameState
	resp := getJSON(t, ts.URL+"/api/state", &st)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if len(st.Players) != 1 || len(st.Cubes) != 1 {
		t.Errorf("state = %+v, want 1 player and 1 cube", st)
	}
	if st.GamePhase != game.PhaseLobby {
		t.Errorf("phase = %s, want LOBBY", st.GamePhase)
	}
}

func TestAPIGetStats(t *testing.T) {
	ts := newTestRouter(t, RouterConfig{})

	var body map[string]any
	getJSON(t, ts.URL+"/api/stats", &body)
	for _, key := range []string{"connections", "players", "cubes", "maxCubes", "gamePhase", "uptime"} {
		if _, ok := body[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}
	if _, ok := body["eventLog"]; ok {
		t.Error("eventLog should be omitted when disabled")
	}
}

func TestAPICORSHeaders(t *testing.T) {
	ts := newTestRouter(t, RouterConfig{CORSOrigins: []string{"http://test.example.com"}})

	req, _ := http.NewRequest("GET", ts.URL+"/api/state", nil)
	req.Header.Set("Origin", "http://test.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://test.example.com" {
		t.Errorf("Expected Access-Control-Allow-Origin 'http://test.example.com', got '%s'", got)
	}
}

func TestAPIRateLimiting(t *testing.T) {
	ts := newTestRouter(t, RouterConfig{
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             2,
			IdleTTL:           time.Hour,
		},
	})

	var gotRateLimited bool
	for i := 0; i < 10; i++ {
		resp, err := http.Get(ts.URL + "/api/state")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			gotRateLimited = true
			break
		}
	}

	if !gotRateLimited {
		t.Error("Expected to be rate limited after burst exceeded")
	}
}

func TestSPAFallback(t *testing.T) {
	dir := t.TempDir()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>cubes</html>"), 0o644))
	must(os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	must(os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644))

	ts := newTestRouter(t, RouterConfig{StaticDir: dir})

	tests := []struct {
		path string
		want string
	}{
		{"/", "<html>cubes</html>"},
		{"/rooms/42", "<html>cubes</html>"},
		{"/assets", "<html>cubes</html>"},
		{"/assets/app.js", "console.log(1)"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			if string(body) != tt.want {
				t.Errorf("body = %q, want %q", body, tt.want)
			}
		})
	}
}

func TestSPAMissingBundle(t *testing.T) {
	ts := newTestRouter(t, RouterConfig{StaticDir: t.TempDir()})

	resp := getJSON(t, ts.URL+"/anything", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestSocketIOPathRequiresUpgrade(t *testing.T) {
	s := NewServer(ServerConfig{RateLimit: *testRateLimit}, nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/socket.io/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "use websocket") {
		t.Errorf("got %d %s", resp.StatusCode, body)
	}
}

func TestServerStatsReportHTTPLimiter(t *testing.T) {
	s := NewServer(ServerConfig{RateLimit: *testRateLimit}, nil)
	defer s.rateLimiter.Stop()
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	getJSON(t, ts.URL+"/health", nil)

	var body struct {
		RateLimits struct {
			HTTP LimiterStats `json:"http"`
		} `json:"rateLimits"`
	}
	getJSON(t, ts.URL+"/api/stats", &body)

	// /health plus the stats request itself
	if got := body.RateLimits.HTTP; got.Allowed < 2 || got.Tracked != 1 {
		t.Errorf("http limiter stats = %+v, want at least 2 allowed from 1 IP", got)
	}
}
