package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/botdesk/backend/internal/domain"
	"github.com/botdesk/backend/internal/service"
)

// PositionService defines the methods the position handler requires.
type PositionService interface {
	ListOpen(ctx context.Context) ([]domain.Position, error)
	Open(ctx context.Context, pos domain.Position) (domain.Position, error)
	Close(ctx context.Context, id int64, reason domain.CloseReason) (domain.HistoryRecord, error)
	CloseAll(ctx context.Context) (service.BulkCloseSummary, error)
	MarkPartialClose(ctx context.Context, id int64, tp int, remainingQty float64) error
	CurrentPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// PositionHandler serves the position lifecycle endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns all open and partially closed positions.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// openPositionRequest is the body for recording a newly executed position.
type openPositionRequest struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	Quantity      float64 `json:"quantity"`
	Leverage      float64 `json:"leverage"`
	InitialMargin float64 `json:"initial_margin"`
}

// OpenPosition records a newly executed position in the ledger.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" || req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "symbol and positive quantity required")
		return
	}

	side := domain.Side(req.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}

	pos, err := h.positions.Open(r.Context(), domain.Position{
		Symbol:        req.Symbol,
		Side:          side,
		EntryPrice:    req.EntryPrice,
		Quantity:      req.Quantity,
		Leverage:      req.Leverage,
		InitialMargin: req.InitialMargin,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open position failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to record position")
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// closePositionRequest is the optional body for a manual close.
type closePositionRequest struct {
	Reason string `json:"reason"`
}

// ClosePosition flattens a single position on the exchange and archives it.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	reason := domain.CloseReasonManual
	var req closePositionRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr == nil && req.Reason != "" {
		switch domain.CloseReason(req.Reason) {
		case domain.CloseReasonManual, domain.CloseReasonTakeProfit, domain.CloseReasonStopLoss:
			reason = domain.CloseReason(req.Reason)
		default:
			writeError(w, http.StatusBadRequest, "invalid close reason")
			return
		}
	}

	rec, err := h.positions.Close(r.Context(), id, reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "position is not open")
		default:
			h.logger.ErrorContext(r.Context(), "handler: close position failed",
				slog.Int64("position_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to close position")
		}
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// CloseAllPositions flattens every open position.
// POST /api/positions/close-all
func (h *PositionHandler) CloseAllPositions(w http.ResponseWriter, r *http.Request) {
	summary, err := h.positions.CloseAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close all failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close positions")
		return
	}

	// Partial failure is reported as 207 so the dashboard can surface it.
	status := http.StatusOK
	if len(summary.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, summary)
}

// partialCloseRequest is the body for recording a take-profit fill.
type partialCloseRequest struct {
	TP           int     `json:"tp"`
	RemainingQty float64 `json:"remaining_qty"`
}

// PartialClose records a take-profit fill against a position.
// PATCH /api/positions/{id}/partial
func (h *PositionHandler) PartialClose(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	var req partialCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TP < 1 || req.TP > 3 {
		writeError(w, http.StatusBadRequest, "tp must be 1, 2 or 3")
		return
	}
	if req.RemainingQty < 0 {
		writeError(w, http.StatusBadRequest, "remaining_qty must be non-negative")
		return
	}

	if err := h.positions.MarkPartialClose(r.Context(), id, req.TP, req.RemainingQty); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "position is not open")
		default:
			h.logger.ErrorContext(r.Context(), "handler: partial close failed",
				slog.Int64("position_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to record partial close")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"position_id":   id,
		"tp":            req.TP,
		"remaining_qty": req.RemainingQty,
	})
}

// priceResponse is the body served for a price lookup.
type priceResponse struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// GetPrice serves the latest known price for a symbol, from the cache when
// fresh and from the exchange otherwise.
// GET /api/prices/{symbol}
func (h *PositionHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	price, ts, err := h.positions.CurrentPrice(r.Context(), symbol)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingCredentials):
			writeError(w, http.StatusBadRequest, "exchange credentials not configured")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown symbol")
		default:
			h.logger.ErrorContext(r.Context(), "handler: price lookup failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "price lookup failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, priceResponse{
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts,
	})
}
