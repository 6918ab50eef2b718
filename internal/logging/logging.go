// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/clbarrell/cube-builder/internal/config"
)

// New creates a SugaredLogger from the log configuration.
// With cfg.File set, output goes to a rotating file; otherwise to stderr.
func New(cfg config.LogConfig, production bool) (*zap.SugaredLogger, error) {
	level := zapcore.DebugLevel
	if production {
		level = zapcore.InfoLevel
	}
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	var ws zapcore.WriteSyncer
	if cfg.File != "" {
		// 10MB per file, 3 backups, 7 days
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		})
	} else {
		ws = zapcore.Lock(os.Stderr)
	}

	encoder := zapcore.NewConsoleEncoder(encCfg)
	if production && cfg.File != "" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, ws, level)
	return zap.New(core, zap.AddCaller()).Sugar(), nil
}
