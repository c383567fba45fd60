package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/botdesk/backend/internal/domain"
)

// AlertStore defines the access the alert handler requires.
type AlertStore interface {
	Insert(ctx context.Context, evt domain.AlertEvent) (int64, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AlertEvent, error)
}

// AlertHandler ingests strategy alert webhooks and serves the alert feed.
type AlertHandler struct {
	alerts AlertStore
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler with the given store and logger.
func NewAlertHandler(alerts AlertStore, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		logger: logger,
	}
}

// ingestAlertRequest is the webhook body posted by the strategy when it
// fires a signal. Timestamp is epoch milliseconds; when absent the ingest
// time is recorded instead.
type ingestAlertRequest struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Timestamp       int64   `json:"timestamp"`
	Tier            string  `json:"tier"`
	Strength        float64 `json:"strength"`
	EntryPrice      float64 `json:"entry_price"`
	StopLoss        float64 `json:"stop_loss"`
	TakeProfit1     float64 `json:"take_profit_1"`
	TakeProfit2     float64 `json:"take_profit_2"`
	TakeProfit3     float64 `json:"take_profit_3"`
	ATR             float64 `json:"atr"`
	VolumeRatio     float64 `json:"volume_ratio"`
	Session         string  `json:"session"`
	Regime          string  `json:"regime"`
	RegimeStrength  float64 `json:"regime_strength"`
	Leverage        float64 `json:"leverage"`
	OrderBlock      bool    `json:"order_block"`
	OrderBlockScore float64 `json:"order_block_score"`
	FVG             bool    `json:"fvg"`
	FVGScore        float64 `json:"fvg_score"`
	InstFlow        bool    `json:"institutional_flow"`
	LatencyMs       int64   `json:"latency_ms"`
}

// IngestAlert records a strategy alert for later matching against trades.
// POST /api/alerts
func (h *AlertHandler) IngestAlert(w http.ResponseWriter, r *http.Request) {
	var req ingestAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	ts := req.Timestamp
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}

	id, err := h.alerts.Insert(r.Context(), domain.AlertEvent{
		Symbol:          req.Symbol,
		Side:            req.Side,
		Timestamp:       ts,
		Tier:            req.Tier,
		Strength:        req.Strength,
		EntryPrice:      req.EntryPrice,
		StopLoss:        req.StopLoss,
		TakeProfit1:     req.TakeProfit1,
		TakeProfit2:     req.TakeProfit2,
		TakeProfit3:     req.TakeProfit3,
		ATR:             req.ATR,
		VolumeRatio:     req.VolumeRatio,
		Session:         req.Session,
		Regime:          req.Regime,
		RegimeStrength:  req.RegimeStrength,
		Leverage:        req.Leverage,
		OrderBlock:      req.OrderBlock,
		OrderBlockScore: req.OrderBlockScore,
		FVG:             req.FVG,
		FVGScore:        req.FVGScore,
		InstFlow:        req.InstFlow,
		LatencyMs:       req.LatencyMs,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: ingest alert failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to record alert")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// listAlertsResponse wraps the alert feed response.
type listAlertsResponse struct {
	Alerts []domain.AlertEvent `json:"alerts"`
}

// ListAlerts returns recorded alert events, newest first.
// GET /api/alerts
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list alerts failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	if alerts == nil {
		alerts = []domain.AlertEvent{}
	}

	writeJSON(w, http.StatusOK, listAlertsResponse{Alerts: alerts})
}
