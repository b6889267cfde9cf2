// Package logger configures log/slog as the process logger.
package logger

import (
	"log/slog"
	"os"
)

var def *slog.Logger

// Init builds the handler for cfg and installs it as the slog default.
func Init(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = ParseEnv(os.Getenv("APP_ENV"))
	}
	if cfg.Service == "" {
		cfg.Service = "zchat"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)

	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	base := slog.New(h.WithAttrs(commonAttr(cfg)))
	slog.SetDefault(base)
	def = base
	return base
}

// L returns the configured logger, initializing a default one on first use.
func L() *slog.Logger {
	if def != nil {
		return def
	}
	return Init(Config{})
}
