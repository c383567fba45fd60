// Package app provides the top-level application lifecycle for the dashboard
// backend. It wires together the stores, exchange adapter, services, and the
// HTTP server, and runs the optional background sync loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/botdesk/backend/internal/config"
	"github.com/botdesk/backend/internal/domain"
	"github.com/botdesk/backend/internal/server"
	"github.com/botdesk/backend/internal/server/handler"
	"github.com/botdesk/backend/internal/server/ws"
	"github.com/botdesk/backend/internal/service"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the WebSocket hub, the background sync
// loop, and the HTTP server, and blocks until the context is cancelled or
// the server fails.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Services.
	reconciler := service.NewReconciler(
		deps.PositionStore, deps.HistoryStore, deps.AuditStore,
		deps.Exchange, deps.SignalBus, a.logger,
	)
	matcher := service.NewAlertMatcher(deps.HistoryStore, deps.AlertStore, a.logger)
	positions := service.NewPositionService(
		deps.PositionStore, deps.HistoryStore, deps.AuditStore,
		deps.Exchange, deps.PriceCache, deps.SignalBus, deps.Notifier, a.logger,
	)

	// WebSocket hub.
	hub := ws.NewHub(deps.SignalBus, a.logger)
	go func() {
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			a.logger.Error("ws hub stopped", slog.String("error", err.Error()))
		}
	}()

	// HTTP server.
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Positions: handler.NewPositionHandler(positions, a.logger),
		History:   newHistoryHandler(deps, a.logger),
		Alerts:    handler.NewAlertHandler(deps.AlertStore, a.logger),
		Sync:      handler.NewSyncHandler(reconciler, matcher, deps.LockManager, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	// Background sync loop.
	if a.cfg.Sync.Interval.Duration > 0 {
		go a.syncLoop(ctx, deps.LockManager, reconciler, matcher)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// newHistoryHandler adapts the optional exporter: a nil *Exporter must be a
// nil interface inside the handler, not a typed nil.
func newHistoryHandler(deps *Dependencies, logger *slog.Logger) *handler.HistoryHandler {
	var exporter handler.Exporter
	if deps.Exporter != nil {
		exporter = deps.Exporter
	}
	return handler.NewHistoryHandler(deps.HistoryStore, deps.AuditStore, exporter, logger)
}

// reconcileRunner and matchRunner are the slices of the sync services the
// loop needs.
type reconcileRunner interface {
	Run(ctx context.Context) (service.ReconcileSummary, error)
}

type matchRunner interface {
	Run(ctx context.Context) (service.MatchSummary, error)
}

// syncLoop runs periodic reconcile and alert-match passes. Errors are logged
// and the loop continues; a broken exchange connection must not take down
// the API.
func (a *App) syncLoop(ctx context.Context, locks domain.LockManager, reconciler reconcileRunner, matcher matchRunner) {
	ticker := time.NewTicker(a.cfg.Sync.Interval.Duration)
	defer ticker.Stop()

	a.logger.Info("sync loop started",
		slog.Duration("interval", a.cfg.Sync.Interval.Duration),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.syncTick(ctx, locks, reconciler, matcher)
		}
	}
}

// syncTick runs one reconcile pass and one alert-match pass, each under the
// same advisory lock the HTTP triggers take, so a periodic run never
// executes concurrently with a manual one or with another replica's loop.
// A held lock means someone else is already syncing; the tick is skipped.
func (a *App) syncTick(ctx context.Context, locks domain.LockManager, reconciler reconcileRunner, matcher matchRunner) {
	err := runLocked(ctx, locks, handler.ReconcileLockKey, func(ctx context.Context) error {
		_, err := reconciler.Run(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Debug("periodic reconcile skipped, lock held")
			return
		}
		a.logger.Error("periodic reconcile failed",
			slog.String("error", err.Error()),
		)
		return
	}

	err = runLocked(ctx, locks, handler.MatchLockKey, func(ctx context.Context) error {
		_, err := matcher.Run(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Debug("periodic alert match skipped, lock held")
			return
		}
		a.logger.Error("periodic alert match failed",
			slog.String("error", err.Error()),
		)
	}
}

// runLocked executes run while holding the advisory lock for key. A nil lock
// manager degrades to an unguarded run.
func runLocked(ctx context.Context, locks domain.LockManager, key string, run func(context.Context) error) error {
	if locks != nil {
		unlock, err := locks.Acquire(ctx, key, handler.SyncLockTTL)
		if err != nil {
			return err
		}
		defer unlock()
	}
	return run(ctx)
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
