package api

import (
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics with bounded cardinality (no per-player labels to prevent DoS)
var (
	playerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cube_builder_players",
		Help: "Currently joined players",
	})

	cubeCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cube_builder_cubes",
		Help: "Cubes currently placed",
	})

	cubesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cube_builder_cubes_evicted_total",
		Help: "Oldest cubes removed to respect the capacity bound",
	})

	// event label is one of the inbound event names or "invalid"
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cube_builder_events_total",
		Help: "Inbound websocket events processed",
	}, []string{"event"})

	eventDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cube_builder_event_duration_seconds",
		Help:    "Time spent processing one event on the state goroutine",
		Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	})

	// kind label: validation, authorization, precondition, stale, rate_limit, panic
	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cube_builder_rejections_total",
		Help: "Inbound events rejected, by cause",
	}, []string{"kind"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cube_builder_commands_total",
		Help: "Server commands processed",
	}, []string{"success"})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit", "slow_client"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is path pattern, not full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // loopback only
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// StartDebugServer starts the internal pprof and metrics server. A non
// loopback address is replaced with 127.0.0.1 on the same port. Returns nil
// when disabled; the caller shuts the returned server down.
func StartDebugServer(cfg ObservabilityConfig, log *zap.SugaredLogger) *http.Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if !cfg.Enabled {
		log.Info("debug server disabled")
		return nil
	}

	addr := loopbackOnly(cfg.ListenAddr)
	if addr != cfg.ListenAddr {
		log.Warnw("debug server forced to loopback", "requested", cfg.ListenAddr, "addr", addr)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infow("debug server starting",
			"pprof", "http://"+addr+"/debug/pprof/",
			"metrics", "http://"+addr+"/metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnw("debug server error", "error", err)
		}
	}()

	return srv
}

// loopbackOnly keeps the port of addr but pins the host to a loopback address.
func loopbackOnly(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1:6060"
	}
	if host == "localhost" {
		return addr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return addr
	}
	return net.JoinHostPort("127.0.0.1", port)
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RegisterEventLogMetrics exposes audit log counters read from stats.
func RegisterEventLogMetrics(stats func() (total, dropped uint64)) {
	prometheus.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "event_log_total",
			Help: "Total events logged",
		}, func() float64 {
			total, _ := stats()
			return float64(total)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "event_log_dropped_total",
			Help: "Events dropped due to rate limiting or buffer full",
		}, func() float64 {
			_, dropped := stats()
			return float64(dropped)
		}),
	)
}

// UpdateSessionGauges sets the player and cube gauges
func UpdateSessionGauges(players, cubes int) {
	playerCount.Set(float64(players))
	cubeCount.Set(float64(cubes))
}

// RecordEvent counts one inbound event and its processing time
func RecordEvent(event string, duration time.Duration) {
	eventsTotal.WithLabelValues(event).Inc()
	eventDuration.Observe(duration.Seconds())
}

// RecordRejection increments the rejection counter
func RecordRejection(kind string) {
	rejectionsTotal.WithLabelValues(kind).Inc()
}

// RecordCommand counts a processed server command
func RecordCommand(success bool) {
	if success {
		commandsTotal.WithLabelValues("true").Inc()
		return
	}
	commandsTotal.WithLabelValues("false").Inc()
}

// RecordEviction counts a capacity eviction
func RecordEviction() {
	cubesEvicted.Inc()
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// AddWSMessages increments the WebSocket message counter
func AddWSMessages(n int) {
	wsMessagesTotal.Add(float64(n))
}
