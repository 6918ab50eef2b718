package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/clbarrell/cube-builder/internal/game"
)

// StateReader is what the HTTP handlers read. *Hub satisfies it; tests can
// pass a stub without running the loop.
type StateReader interface {
	// Snapshot returns the latest immutable session snapshot
	Snapshot() *game.Snapshot
	// Stats returns connection and session counters
	Stats() Stats
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    State: stub,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// State is the session state source (required)
	State StateReader

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins lists allowed origins; "*" allows any. Defaults to "*".
	CORSOrigins []string

	// StaticDir holds the built client. Unknown paths fall back to its index.html.
	StaticDir string

	// Logger receives one line per request. Nil disables request logging.
	Logger *zap.SugaredLogger

	// TrustProxy logs clients by X-Forwarded-For / X-Real-IP. A created
	// rate limiter inherits it.
	TrustProxy bool
}

type routerHandlers struct {
	state StateReader
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// No goroutines are started besides the rate limiter's cleanup loop when it
// has to create one, and no listeners are opened, so it is safe to use with
// httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if cfg.Logger != nil {
		r.Use(requestLogger(cfg.Logger, cfg.TrustProxy))
	}
	r.Use(middleware.Recoverer)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimitCfg.TrustProxy = cfg.TrustProxy
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	h := &routerHandlers{state: cfg.State}

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleGetState)
		r.Get("/stats", h.handleGetStats)
	})

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = "./dist"
	}
	r.Get("/*", spaHandler(staticDir))

	return r
}

// requestLogger logs each request with zap and records HTTP metrics under
// the matched route pattern.
func requestLogger(log *zap.SugaredLogger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// hijacked by the websocket upgrade
				status = http.StatusSwitchingProtocols
			}
			endpoint := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				endpoint = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			RecordRequest(r.Method, endpoint, status, elapsed)
			log.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", elapsed,
				"ip", ClientIP(r, trustProxy))
		})
	}
}

// spaHandler serves the built client, falling back to index.html for any
// path that is not a file so client-side routes resolve.
func spaHandler(dir string) http.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	return gzhttp.GzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}

		if _, err := os.Stat(index); err != nil {
			writeError(w, "client bundle not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, index)
	}))
}
