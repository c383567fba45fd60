package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/botdesk/backend/internal/domain"
)

// matchWindowMs is the maximum distance between a trade's opening time and
// an alert's timestamp for the two to be considered linked.
const matchWindowMs = int64(10_000)

// MatchResult is the per-candidate diagnostic of one alert-match run.
type MatchResult struct {
	PositionID int64  `json:"position_id"`
	Matched    bool   `json:"matched"`
	AlertID    *int64 `json:"alert_id,omitempty"`
	TimeDiffMs int64  `json:"time_diff_ms,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// MatchSummary reports the outcome of one alert-match run.
type MatchSummary struct {
	Total     int           `json:"total"`
	Matched   int           `json:"matched"`
	Unmatched int           `json:"unmatched"`
	Results   []MatchResult `json:"results,omitempty"`
}

// AlertMatcher retroactively links alert events to archived trades that were
// executed without the linkage being recorded, using a symbol + time-window
// + side heuristic.
type AlertMatcher struct {
	history domain.HistoryStore
	alerts  domain.AlertStore
	logger  *slog.Logger
}

// NewAlertMatcher creates an AlertMatcher with all required dependencies.
func NewAlertMatcher(history domain.HistoryStore, alerts domain.AlertStore, logger *slog.Logger) *AlertMatcher {
	return &AlertMatcher{
		history: history,
		alerts:  alerts,
		logger:  logger.With(slog.String("component", "alert_matcher")),
	}
}

// Run executes one matching pass over all archive rows missing alert
// linkage. For each candidate the first alert satisfying the heuristic wins,
// in the order events were fetched; this is deliberately not an optimal
// assignment, so a re-run over the same data picks the same pairs.
// Already-matched rows are excluded by candidate selection, which is what
// makes repeated runs idempotent.
func (m *AlertMatcher) Run(ctx context.Context) (MatchSummary, error) {
	var summary MatchSummary

	candidates, err := m.history.ListUnmatched(ctx)
	if err != nil {
		return summary, fmt.Errorf("alert_matcher: list unmatched history: %w", err)
	}
	if len(candidates) == 0 {
		return summary, nil
	}

	events, err := m.alerts.ListAll(ctx)
	if err != nil {
		return summary, fmt.Errorf("alert_matcher: list alerts: %w", err)
	}

	for _, rec := range candidates {
		summary.Total++

		evt, diff, found := firstPlausibleMatch(rec, events)
		if !found {
			summary.Unmatched++
			summary.Results = append(summary.Results, MatchResult{
				PositionID: rec.PositionID,
				Matched:    false,
				Reason:     "no matching alert found within window",
			})
			continue
		}

		if err := m.history.AttachAlert(ctx, rec.ID, evt.ID, evt.Payload()); err != nil {
			summary.Unmatched++
			summary.Results = append(summary.Results, MatchResult{
				PositionID: rec.PositionID,
				Matched:    false,
				Reason:     fmt.Sprintf("attach failed: %v", err),
			})
			m.logger.ErrorContext(ctx, "attach alert failed",
				slog.Int64("history_id", rec.ID),
				slog.Int64("alert_id", evt.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		summary.Matched++
		alertID := evt.ID
		summary.Results = append(summary.Results, MatchResult{
			PositionID: rec.PositionID,
			Matched:    true,
			AlertID:    &alertID,
			TimeDiffMs: diff,
		})
	}

	m.logger.InfoContext(ctx, "alert matching complete",
		slog.Int("total", summary.Total),
		slog.Int("matched", summary.Matched),
		slog.Int("unmatched", summary.Unmatched),
	)

	return summary, nil
}

// firstPlausibleMatch scans events in fetched order and returns the first
// one satisfying the heuristic for the given archive row, along with the
// absolute time difference in milliseconds.
func firstPlausibleMatch(rec domain.HistoryRecord, events []domain.AlertEvent) (domain.AlertEvent, int64, bool) {
	openedMs := rec.OpenedAt.UnixMilli()

	for _, evt := range events {
		if evt.Symbol != rec.Symbol {
			continue
		}

		diff := openedMs - evt.Timestamp
		if diff < 0 {
			diff = -diff
		}
		if diff > matchWindowMs {
			continue
		}

		// Side is a constraint only when both records carry one.
		if evt.Side != "" && rec.Side != "" &&
			!strings.EqualFold(evt.Side, string(rec.Side)) {
			continue
		}

		return evt, diff, true
	}
	return domain.AlertEvent{}, 0, false
}
