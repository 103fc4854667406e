// Package app assembles the bot: Wire builds the shared dependencies, the
// mode functions in modes.go compose them into the running pipeline, and App
// holds the lifecycle around both.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/soltraderbot/internal/config"
)

// App runs one bot process in the configured mode and tears it down again.
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

// Run wires dependencies and blocks in the selected mode until ctx is
// cancelled. Cleanup happens in Close so main can defer it past signal
// handling.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "track":
		return a.TrackMode(ctx, deps)
	case "trade":
		return a.TradeMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	}
	return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
}

// Close releases everything Wire opened, newest first. Safe to call twice.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
