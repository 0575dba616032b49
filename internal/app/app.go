// Package app owns the application lifecycle: it wires stores, caches, venue
// clients, and blob storage from configuration, then runs the selected mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantfold/polyarb/internal/config"
)

// App is the root application object. It holds the configuration and logger
// and tracks cleanup for everything Run wires up.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and executes the configured mode until it returns
// or ctx is cancelled. Trade mode runs indefinitely; archive mode performs
// one batch and exits.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	if mode != "trade" && mode != "archive" {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.Bool("dry_run", a.cfg.Trading.DryRun),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if mode == "archive" {
		return a.ArchiveMode(ctx, deps)
	}
	return a.TradeMode(ctx, deps)
}

// Close releases wired resources in reverse order. Safe to call more than
// once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
}
