package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/botdesk/backend/internal/domain"
)

// pnlEpsilon is the minimum change in reported unrealized P&L (in currency
// units) before the stored value is rewritten.
const pnlEpsilon = 0.01

// ReconcileSummary reports the outcome of one reconcile run. A non-empty
// Errors list with Checked > 0 is partial success, not failure: per-position
// errors never abort the scan.
type ReconcileSummary struct {
	Checked   int      `json:"checked"`
	Closed    int      `json:"closed"`
	StillOpen int      `json:"still_open"`
	Errors    []string `json:"errors,omitempty"`
}

// Reconciler converges the ledger's open-position set with the exchange's
// authoritative live set and keeps unrealized P&L fresh for positions that
// remain open.
type Reconciler struct {
	positions domain.PositionStore
	history   domain.HistoryStore
	audit     domain.AuditStore
	exchange  domain.Exchange
	bus       domain.SignalBus
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler creates a Reconciler with all required dependencies.
func NewReconciler(
	positions domain.PositionStore,
	history domain.HistoryStore,
	audit domain.AuditStore,
	exchange domain.Exchange,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		positions: positions,
		history:   history,
		audit:     audit,
		exchange:  exchange,
		bus:       bus,
		logger:    logger.With(slog.String("component", "reconciler")),
		now:       time.Now,
	}
}

// Run executes one reconcile pass. A failure fetching the live position set
// aborts the whole run before any ledger mutation; failures on individual
// positions are collected and the scan continues. Callers are responsible
// for mutual exclusion between runs (see the advisory lock in the sync
// handler).
func (r *Reconciler) Run(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary

	ledger, err := r.positions.ListByStatus(ctx,
		domain.PositionStatusOpen, domain.PositionStatusPartialClose)
	if err != nil {
		return summary, fmt.Errorf("reconciler: list open positions: %w", err)
	}

	// The live set must be fetched successfully before any position is
	// touched: a transport failure here must not close positions.
	livePositions, err := r.exchange.ListOpenPositions(ctx)
	if err != nil {
		return summary, fmt.Errorf("reconciler: fetch live positions: %w", err)
	}

	live := make(map[string]domain.LivePosition, len(livePositions))
	for _, lp := range livePositions {
		live[lp.Symbol+"|"+string(lp.Side)] = lp
	}

	now := r.now().UTC()

	for _, pos := range ledger {
		summary.Checked++

		key := r.exchange.ToExchangeSymbol(pos.Symbol) + "|" + string(pos.Side)
		lp, stillOpen := live[key]

		if !stillOpen {
			if err := r.closeVanished(ctx, pos, now); err != nil {
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("position %d (%s): %v", pos.ID, pos.Symbol, err))
				r.logger.ErrorContext(ctx, "close vanished position failed",
					slog.Int64("position_id", pos.ID),
					slog.String("symbol", pos.Symbol),
					slog.String("error", err.Error()),
				)
				continue
			}
			summary.Closed++
			continue
		}

		summary.StillOpen++

		diff := lp.UnrealizedPnL - pos.UnrealizedPnL
		if diff > pnlEpsilon || diff < -pnlEpsilon {
			if err := r.positions.UpdateUnrealizedPnL(ctx, pos.ID, lp.UnrealizedPnL); err != nil {
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("position %d (%s): refresh pnl: %v", pos.ID, pos.Symbol, err))
			}
		}
	}

	r.logger.InfoContext(ctx, "reconcile complete",
		slog.Int("checked", summary.Checked),
		slog.Int("closed", summary.Closed),
		slog.Int("still_open", summary.StillOpen),
		slog.Int("errors", len(summary.Errors)),
	)

	r.publishSummary(ctx, summary)

	return summary, nil
}

// closeVanished archives and closes a ledger position the exchange no longer
// reports. The last known unrealized P&L stands in for the realized P&L:
// the true fill price is unknown at this point, so this is a best-effort
// estimate, not a settlement figure.
func (r *Reconciler) closeVanished(ctx context.Context, pos domain.Position, now time.Time) error {
	realized := pos.UnrealizedPnL
	duration := int64(now.Sub(pos.OpenedAt).Minutes())

	exists, err := r.history.ExistsForPosition(ctx, pos.ID)
	if err != nil {
		return fmt.Errorf("check existing archive: %w", err)
	}
	if !exists {
		rec := domain.HistoryRecord{
			PositionID:      pos.ID,
			Symbol:          pos.Symbol,
			Side:            pos.Side,
			EntryPrice:      pos.EntryPrice,
			Quantity:        pos.Quantity,
			Leverage:        pos.Leverage,
			InitialMargin:   pos.InitialMargin,
			RealizedPnL:     realized,
			PnLPercent:      domain.PnLPercentOf(realized, pos.InitialMargin),
			DurationMinutes: duration,
			CloseReason:     domain.CloseReasonAutoSync,
			OpenedAt:        pos.OpenedAt,
			ClosedAt:        now,
		}
		if _, err := r.history.Insert(ctx, rec); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("archive position: %w", err)
		}
	}

	if err := r.positions.MarkClosed(ctx, pos.ID, domain.CloseReasonAutoSync, now); err != nil {
		return fmt.Errorf("mark closed: %w", err)
	}

	if err := r.audit.Log(ctx, "position_auto_synced", map[string]any{
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"side":         string(pos.Side),
		"realized_pnl": realized,
		"duration_min": duration,
	}); err != nil {
		r.logger.WarnContext(ctx, "audit log failed",
			slog.Int64("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	r.logger.InfoContext(ctx, "position closed on exchange",
		slog.Int64("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("realized_pnl", realized),
	)

	return nil
}

// publishSummary pushes the run outcome onto the signal bus for dashboard
// clients. Publish failures are logged, never escalated.
func (r *Reconciler) publishSummary(ctx context.Context, summary ReconcileSummary) {
	if r.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":      "reconcile_complete",
		"checked":    summary.Checked,
		"closed":     summary.Closed,
		"still_open": summary.StillOpen,
		"errors":     len(summary.Errors),
	})
	if err := r.bus.Publish(ctx, "sync", evt); err != nil {
		r.logger.WarnContext(ctx, "publish reconcile summary failed",
			slog.String("error", err.Error()),
		)
	}
}
