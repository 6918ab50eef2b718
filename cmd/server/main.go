package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/clbarrell/cube-builder/internal/api"
	"github.com/clbarrell/cube-builder/internal/config"
	"github.com/clbarrell/cube-builder/internal/game"
	"github.com/clbarrell/cube-builder/internal/logging"
)

func main() {
	// Load .env file from parent directory
	envErr := godotenv.Load("../.env")
	if envErr != nil {
		// Try current directory as fallback
		envErr = godotenv.Load(".env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log, cfg.Server.IsProduction())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if envErr != nil {
		log.Debug("no .env file found, using environment variables only")
	}

	if err := run(cfg, log); err != nil {
		log.Errorw("server failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var eventLog *game.EventLog
	if path := cfg.Server.EventLogPath; path != "" {
		eventLog = game.NewEventLog()
		if err := eventLog.Start(path); err != nil {
			log.Warnw("event log disabled", "path", path, "error", err)
			eventLog = nil
		} else {
			defer eventLog.Stop()
			api.RegisterEventLogMetrics(eventLog.Counts)
			log.Infow("event log", "path", path)
		}
	}

	debugCfg := api.DefaultObservabilityConfig()
	debugCfg.Enabled = cfg.Server.DebugEnabled
	debugCfg.ListenAddr = cfg.Server.DebugAddr
	debugCfg.BasicAuthUser = os.Getenv("DEBUG_USER")
	debugCfg.BasicAuthPass = os.Getenv("DEBUG_PASS")
	if debugSrv := api.StartDebugServer(debugCfg, log.Named("debug")); debugSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			debugSrv.Shutdown(shutdownCtx)
		}()
	}

	policy := game.NameSuffix
	if cfg.Game.NamePolicy == config.NamePolicyReject {
		policy = game.NameReject
	}

	server := api.NewServer(api.ServerConfig{
		Addr:       ":" + strconv.Itoa(cfg.Server.Port),
		StaticDir:  cfg.Server.StaticDir,
		TrustProxy: cfg.Server.TrustProxy,
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: cfg.Limits.HTTPRequestsPerSec,
			Burst:             cfg.Limits.HTTPBurst,
		},
		Hub: api.HubConfig{
			Game: game.Options{
				MaxCubes:           cfg.Game.MaxCubes,
				NamePolicy:         policy,
				NameHold:           cfg.Game.NameHold,
				ClearCubesOnExpiry: cfg.Game.ClearCubesOnExpiry,
				TimerTick:          cfg.Game.TimerTick,
				EventLog:           eventLog,
			},
			DevCommands:         cfg.DevCommands(),
			MaxConnections:      cfg.Limits.MaxConnections,
			MaxConnectionsPerIP: cfg.Limits.MaxConnectionsPerIP,
			EventsPerSecond:     cfg.Limits.EventsPerSecond,
			EventBurst:          cfg.Limits.EventBurst,
			Origins:             cfg.Server.Origins(),
		},
	}, log)

	log.Infow("cube builder starting",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"maxCubes", cfg.Game.MaxCubes,
		"namePolicy", cfg.Game.NamePolicy,
		"devCommands", cfg.DevCommands())
	log.Infow("local access", "url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
	if ip := lanAddress(); ip != "" {
		log.Infow("network access", "url", fmt.Sprintf("http://%s:%d", ip, cfg.Server.Port))
	}

	return server.Run(ctx)
}

// lanAddress returns the first non-loopback IPv4 address, for the startup
// banner. Empty when none is found.
func lanAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
