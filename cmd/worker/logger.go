package main

import (
	"context"

	"github.com/septivank/energy-consumption-notifier/internal/config"
	"github.com/septivank/energy-consumption-notifier/internal/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}

// syncLogger flushes buffered log entries when the app stops
func syncLogger(lc fx.Lifecycle, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// stderr sync returns EINVAL on some platforms
			_ = logger.Sync()
			return nil
		},
	})
}
