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

// Notifier is the slice of the notification system the position service
// needs: it only ever raises operator alerts, never consumes them.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// BulkCloseSummary reports the outcome of a close-all operation.
type BulkCloseSummary struct {
	Requested int      `json:"requested"`
	Closed    int      `json:"closed"`
	Errors    []string `json:"errors,omitempty"`
}

// PositionService owns the manual position lifecycle paths: opening from an
// executed order, manual close, bulk close, and the partial-fill transition
// driven by take-profit fills.
type PositionService struct {
	positions domain.PositionStore
	history   domain.HistoryStore
	audit     domain.AuditStore
	exchange  domain.Exchange
	prices    domain.PriceCache
	bus       domain.SignalBus
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewPositionService creates a PositionService with all required dependencies.
func NewPositionService(
	positions domain.PositionStore,
	history domain.HistoryStore,
	audit domain.AuditStore,
	exchange domain.Exchange,
	prices domain.PriceCache,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		history:   history,
		audit:     audit,
		exchange:  exchange,
		prices:    prices,
		bus:       bus,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "position_service")),
		now:       time.Now,
	}
}

// ListOpen returns all positions still counting toward the live set.
func (s *PositionService) ListOpen(ctx context.Context) ([]domain.Position, error) {
	positions, err := s.positions.ListByStatus(ctx,
		domain.PositionStatusOpen, domain.PositionStatusPartialClose)
	if err != nil {
		return nil, fmt.Errorf("position_service: list open: %w", err)
	}
	return positions, nil
}

// CurrentPrice serves the last ticker read for a symbol. Cache hits never
// touch the exchange; a miss falls through to the exchange and repopulates
// the cache so subsequent dashboard reads are served locally.
func (s *PositionService) CurrentPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	key := s.exchange.ToExchangeSymbol(symbol)

	if s.prices != nil {
		price, ts, err := s.prices.GetPrice(ctx, key)
		if err == nil {
			return price, ts, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "price cache read failed, falling back to exchange",
				slog.String("symbol", key),
				slog.String("error", err.Error()),
			)
		}
	}

	price, err := s.exchange.CurrentPrice(ctx, symbol)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("position_service: current price %s: %w", symbol, err)
	}

	ts := s.now().UTC()
	if s.prices != nil {
		if cacheErr := s.prices.SetPrice(ctx, key, price, ts); cacheErr != nil {
			s.logger.WarnContext(ctx, "price cache write failed",
				slog.String("symbol", key),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return price, ts, nil
}

// Open records a newly executed position in the ledger.
func (s *PositionService) Open(ctx context.Context, pos domain.Position) (domain.Position, error) {
	pos.Status = domain.PositionStatusOpen
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = s.now().UTC()
	}

	id, err := s.positions.Create(ctx, pos)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create position: %w", err)
	}
	pos.ID = id

	if auditErr := s.audit.Log(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"quantity":    pos.Quantity,
		"leverage":    pos.Leverage,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.Int64("position_id", pos.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.publish(ctx, "positions", map[string]any{
		"event":       "position_opened",
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
	})

	return pos, nil
}

// Close flattens a single position on the exchange, archives it, and
// performs the closing transition in the ledger.
func (s *PositionService) Close(ctx context.Context, id int64, reason domain.CloseReason) (domain.HistoryRecord, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("position_service: get position %d: %w", id, err)
	}
	if !pos.IsOpen() {
		return domain.HistoryRecord{}, fmt.Errorf("position_service: position %d: %w", id, domain.ErrInvalidTransition)
	}

	orderID, err := s.exchange.ClosePosition(ctx, pos.Symbol, pos.Side, pos.Quantity)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("position_service: close on exchange: %w", err)
	}

	now := s.now().UTC()

	// Best effort: prefer the settled figure, fall back to the last known
	// unrealized P&L when the closed-pnl record has not landed yet.
	realized, err := s.exchange.RealizedPnL(ctx, orderID, pos.Symbol)
	if err != nil {
		s.logger.WarnContext(ctx, "realized pnl lookup failed, using last unrealized",
			slog.Int64("position_id", pos.ID),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		realized = pos.UnrealizedPnL
	}

	closePrice, err := s.exchange.CurrentPrice(ctx, pos.Symbol)
	if err != nil {
		closePrice = 0
	} else if s.prices != nil {
		_ = s.prices.SetPrice(ctx, s.exchange.ToExchangeSymbol(pos.Symbol), closePrice, now)
	}

	rec := domain.HistoryRecord{
		PositionID:      pos.ID,
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		EntryPrice:      pos.EntryPrice,
		ClosePrice:      closePrice,
		Quantity:        pos.Quantity,
		Leverage:        pos.Leverage,
		InitialMargin:   pos.InitialMargin,
		RealizedPnL:     realized,
		PnLPercent:      domain.PnLPercentOf(realized, pos.InitialMargin),
		DurationMinutes: int64(now.Sub(pos.OpenedAt).Minutes()),
		CloseReason:     reason,
		OpenedAt:        pos.OpenedAt,
		ClosedAt:        now,
	}

	recID, err := s.history.Insert(ctx, rec)
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return domain.HistoryRecord{}, fmt.Errorf("position_service: archive position %d: %w", pos.ID, err)
	}
	rec.ID = recID

	if err := s.positions.MarkClosed(ctx, pos.ID, reason, now); err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("position_service: mark closed %d: %w", pos.ID, err)
	}

	if auditErr := s.audit.Log(ctx, "position_closed", map[string]any{
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"order_id":     orderID,
		"reason":       string(reason),
		"realized_pnl": realized,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.Int64("position_id", pos.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.publish(ctx, "positions", map[string]any{
		"event":        "position_closed",
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"reason":       string(reason),
		"realized_pnl": realized,
	})

	s.logger.InfoContext(ctx, "position closed",
		slog.Int64("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("realized_pnl", realized),
	)

	return rec, nil
}

// CloseAll flattens every open position. Individual failures do not stop the
// sweep; when any position fails to close the operator is paged through the
// notifier, since a half-flattened book is exactly the state the dashboard
// exists to prevent.
func (s *PositionService) CloseAll(ctx context.Context) (BulkCloseSummary, error) {
	open, err := s.ListOpen(ctx)
	if err != nil {
		return BulkCloseSummary{}, err
	}

	summary := BulkCloseSummary{Requested: len(open)}
	for _, pos := range open {
		if _, err := s.Close(ctx, pos.ID, domain.CloseReasonManual); err != nil {
			summary.Errors = append(summary.Errors,
				fmt.Sprintf("position %d (%s): %v", pos.ID, pos.Symbol, err))
			continue
		}
		summary.Closed++
	}

	if len(summary.Errors) > 0 && s.notifier != nil {
		msg := fmt.Sprintf("close-all: %d of %d positions failed to close",
			len(summary.Errors), summary.Requested)
		if notifyErr := s.notifier.Notify(ctx, "bulk_close_partial_failure",
			"Bulk close incomplete", msg); notifyErr != nil {
			s.logger.ErrorContext(ctx, "partial-failure notification failed",
				slog.String("error", notifyErr.Error()),
			)
		}
	}

	return summary, nil
}

// MarkPartialClose applies a take-profit fill reported by the execution
// path: the position moves to partial_close with the given TP flag set and
// the remaining quantity recorded.
func (s *PositionService) MarkPartialClose(ctx context.Context, id int64, tp int, remainingQty float64) error {
	if err := s.positions.MarkPartialClose(ctx, id, tp, remainingQty); err != nil {
		return fmt.Errorf("position_service: partial close %d: %w", id, err)
	}

	if auditErr := s.audit.Log(ctx, "position_partial_close", map[string]any{
		"position_id":   id,
		"tp":            tp,
		"remaining_qty": remainingQty,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.Int64("position_id", id),
			slog.String("error", auditErr.Error()),
		)
	}

	s.publish(ctx, "positions", map[string]any{
		"event":         "position_partial_close",
		"position_id":   id,
		"tp":            tp,
		"remaining_qty": remainingQty,
	})

	return nil
}

// publish sends a dashboard event; failures are logged, never escalated.
func (s *PositionService) publish(ctx context.Context, channel string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, channel, evt); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
