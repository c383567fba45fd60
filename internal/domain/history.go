package domain

import "time"

// HistoryRecord is a snapshot of a position at close time. At most one
// record exists per originating position id; archival is idempotent.
type HistoryRecord struct {
	ID              int64
	PositionID      int64
	Symbol          string
	Side            Side
	EntryPrice      float64
	ClosePrice      float64
	Quantity        float64
	Leverage        float64
	InitialMargin   float64
	RealizedPnL     float64
	PnLPercent      float64 // already multiplied by 100 (12.5 means 12.5%)
	DurationMinutes int64
	CloseReason     CloseReason
	OpenedAt        time.Time
	ClosedAt        time.Time
	AlertID         *int64
	Alert           *AlertPayload
}

// HasAlert reports whether an originating alert has been linked to this
// record, either at close time or retroactively by the alert matcher.
func (h *HistoryRecord) HasAlert() bool {
	return h.AlertID != nil
}

// PnLPercentOf computes the percent return of pnl over the given initial
// margin, stored pre-multiplied by 100. A non-positive margin yields 0
// rather than a division by zero.
func PnLPercentOf(pnl, initialMargin float64) float64 {
	if initialMargin <= 0 {
		return 0
	}
	return pnl / initialMargin * 100
}
