// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for server, game and limit settings.
//
// Values are resolved in three layers: compiled defaults, an optional YAML
// file named by CONFIG_FILE, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProductionOrigin is the only origin allowed when running in production
// without an explicit CORS_ORIGIN.
const ProductionOrigin = "https://cube-builder.onrender.com"

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	Env          string `yaml:"env"`          // "development" or "production"
	CORSOrigin   string `yaml:"cors_origin"`  // "*" or a comma separated origin list
	StaticDir    string `yaml:"static_dir"`   // built client bundle, served with SPA fallback
	EventLogPath string `yaml:"event_log"`    // JSONL audit log, empty disables it
	DebugAddr    string `yaml:"debug_addr"`   // pprof + metrics, localhost only
	DebugEnabled bool   `yaml:"debug_server"` // start the debug server
	TrustProxy   bool   `yaml:"trust_proxy"`  // take client IPs from X-Forwarded-For
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:         3001,
		Env:          "development",
		StaticDir:    "./dist",
		DebugAddr:    "127.0.0.1:6060",
		DebugEnabled: true,
	}
}

// IsProduction reports whether the server runs with production settings.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

// Origins returns the allowed CORS/websocket origins.
func (s ServerConfig) Origins() []string {
	if s.CORSOrigin == "" {
		if s.IsProduction() {
			return []string{ProductionOrigin}
		}
		return []string{"*"}
	}
	parts := strings.Split(s.CORSOrigin, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// =============================================================================
// GAME CONFIGURATION
// =============================================================================

// Name policies for contended join requests.
const (
	NamePolicySuffix = "suffix" // append 1, 2, 3... until free
	NamePolicyReject = "reject" // refuse the join with an error event
)

// GameConfig holds the session rules.
type GameConfig struct {
	MaxCubes           int           `yaml:"max_cubes"`
	NamePolicy         string        `yaml:"name_policy"`
	NameHold           time.Duration `yaml:"name_hold"` // name stays reserved after disconnect
	ClearCubesOnExpiry bool          `yaml:"clear_cubes_on_expiry"`
	TimerTick          time.Duration `yaml:"timer_tick"`
}

// DefaultGame returns the default game rules.
func DefaultGame() GameConfig {
	return GameConfig{
		MaxCubes:   1000,
		NamePolicy: NamePolicySuffix,
		TimerTick:  time.Second,
	}
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// LimitsConfig controls DoS protection.
type LimitsConfig struct {
	MaxConnections      int     `yaml:"max_connections"`
	MaxConnectionsPerIP int     `yaml:"max_connections_per_ip"`
	EventsPerSecond     float64 `yaml:"events_per_second"` // inbound events per connection
	EventBurst          int     `yaml:"event_burst"`
	HTTPRequestsPerSec  float64 `yaml:"http_rps"`
	HTTPBurst           int     `yaml:"http_burst"`
}

// DefaultLimits returns production-safe limits.
func DefaultLimits() LimitsConfig {
	return LimitsConfig{
		MaxConnections:      500,
		MaxConnectionsPerIP: 10,
		EventsPerSecond:     60, // movement updates arrive at frame rate
		EventBurst:          120,
		HTTPRequestsPerSec:  20,
		HTTPBurst:           40,
	}
}

// =============================================================================
// LOG CONFIGURATION
// =============================================================================

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // rotating file; stderr when empty
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server ServerConfig `yaml:"server"`
	Game   GameConfig   `yaml:"game"`
	Limits LimitsConfig `yaml:"limits"`
	Log    LogConfig    `yaml:"log"`
}

// Default returns the configuration with no file or environment applied.
func Default() AppConfig {
	return AppConfig{
		Server: DefaultServer(),
		Game:   DefaultGame(),
		Limits: DefaultLimits(),
	}
}

// DevCommands reports whether development-only server commands are enabled.
func (c AppConfig) DevCommands() bool {
	return !c.Server.IsProduction()
}

// Load returns the complete configuration with file and environment overrides.
func Load() (AppConfig, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Game.MaxCubes <= 0 {
		return fmt.Errorf("max cubes must be positive, got %d", c.Game.MaxCubes)
	}
	switch c.Game.NamePolicy {
	case NamePolicySuffix, NamePolicyReject:
	default:
		return fmt.Errorf("unknown name policy %q", c.Game.NamePolicy)
	}
	if c.Game.TimerTick <= 0 {
		return fmt.Errorf("timer tick must be positive, got %s", c.Game.TimerTick)
	}
	if c.Game.NameHold < 0 {
		return fmt.Errorf("name hold must not be negative, got %s", c.Game.NameHold)
	}
	return nil
}

func loadFile(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) {
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Server.Port = p
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Server.Env = env
	} else if env := os.Getenv("NODE_ENV"); env != "" {
		cfg.Server.Env = env
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.Server.CORSOrigin = v
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := os.Getenv("EVENT_LOG_PATH"); v != "" {
		cfg.Server.EventLogPath = v
	}
	if v := os.Getenv("DEBUG_ADDR"); v != "" {
		cfg.Server.DebugAddr = v
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.Server.DebugEnabled = false
	}
	if v := os.Getenv("TRUST_PROXY"); v != "" {
		cfg.Server.TrustProxy = v == "true" || v == "1"
	}

	if n := getEnvInt("MAX_CUBES", 0); n > 0 {
		cfg.Game.MaxCubes = n
	}
	if v := os.Getenv("NAME_POLICY"); v != "" {
		cfg.Game.NamePolicy = strings.ToLower(v)
	}
	if d := getEnvDuration("NAME_HOLD", -1); d >= 0 {
		cfg.Game.NameHold = d
	}
	if v := os.Getenv("CLEAR_CUBES_ON_EXPIRY"); v != "" {
		cfg.Game.ClearCubesOnExpiry = v == "true" || v == "1"
	}
	if d := getEnvDuration("TIMER_TICK", 0); d > 0 {
		cfg.Game.TimerTick = d
	}

	if n := getEnvInt("MAX_WS_CONNECTIONS", 0); n > 0 {
		cfg.Limits.MaxConnections = n
	}
	if n := getEnvInt("MAX_WS_PER_IP", 0); n > 0 {
		cfg.Limits.MaxConnectionsPerIP = n
	}
	if f := getEnvFloat("EVENTS_PER_SECOND", 0); f > 0 {
		cfg.Limits.EventsPerSecond = f
	}
	if n := getEnvInt("EVENT_BURST", 0); n > 0 {
		cfg.Limits.EventBurst = n
	}
	if f := getEnvFloat("HTTP_RPS", 0); f > 0 {
		cfg.Limits.HTTPRequestsPerSec = f
	}
	if n := getEnvInt("HTTP_BURST", 0); n > 0 {
		cfg.Limits.HTTPBurst = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
