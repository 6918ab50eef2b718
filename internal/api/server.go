package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// ServerConfig configures the HTTP server and its hub.
type ServerConfig struct {
	Addr       string
	StaticDir  string
	TrustProxy bool // behind a reverse proxy that sets X-Forwarded-For
	RateLimit  RateLimitConfig
	Hub        HubConfig
}

// Server is the HTTP server with the websocket hub.
type Server struct {
	hub         *Hub
	router      *chi.Mux
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	log         *zap.SugaredLogger
}

// NewServer creates the server, its hub and engine.
//
// The hub loop does NOT start until Run is called, so tests can construct
// the server and use Router() without a running loop.
func NewServer(cfg ServerConfig, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	cfg.RateLimit.TrustProxy = cfg.TrustProxy
	cfg.Hub.TrustProxy = cfg.TrustProxy

	s := &Server{
		hub:         NewHub(cfg.Hub, log.Named("hub")),
		rateLimiter: NewIPRateLimiter(cfg.RateLimit),
		log:         log,
	}
	s.hub.httpLimiter = s.rateLimiter

	s.router = NewRouter(RouterConfig{
		State:       s.hub,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.Hub.Origins,
		StaticDir:   cfg.StaticDir,
		Logger:      log.Named("http"),
		TrustProxy:  cfg.TrustProxy,
	})
	s.setupWebSocketRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupWebSocketRoutes adds the routes that need the hub instance.
func (s *Server) setupWebSocketRoutes() {
	s.router.Get("/socket.io/", s.hub.handleSocketIO)
	s.router.Get("/ws", s.hub.HandleWebSocket)
}

// Hub returns the connection event router.
func (s *Server) Hub() *Hub { return s.hub }

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler { return s.router }

// Run starts the hub loop and serves HTTP until ctx is cancelled, then shuts
// down: HTTP first, then the hub, which cancels the countdown and closes
// every websocket.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.log.Infow("server listening", "addr", s.httpServer.Addr)

	var err error
	select {
	case <-ctx.Done():
		s.log.Info("shutting down")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := s.httpServer.Shutdown(shutdownCtx); serr != nil {
		s.log.Warnw("http shutdown", "error", serr)
	}

	stopHub()
	<-s.hub.Done()
	s.rateLimiter.Stop()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
