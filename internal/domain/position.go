package domain

import "time"

// PositionStatus tracks the lifecycle of a ledger position.
// Transitions: open <-> partial_close -> closed (terminal).
type PositionStatus string

const (
	PositionStatusOpen         PositionStatus = "open"
	PositionStatusPartialClose PositionStatus = "partial_close"
	PositionStatusClosed       PositionStatus = "closed"
)

// Side is the ledger's canonical side vocabulary. The Bybit adapter maps
// this to/from the exchange's "Buy"/"Sell" encoding at the boundary.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// CloseReason records why a position left the open set.
type CloseReason string

const (
	CloseReasonAutoSync   CloseReason = "auto_sync"
	CloseReasonManual     CloseReason = "manual"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStopLoss   CloseReason = "stop_loss"
)

// Position is a row in the open-positions ledger. Closed positions are never
// deleted; they persist with a terminal status alongside their history record.
type Position struct {
	ID            int64
	Symbol        string
	Side          Side
	EntryPrice    float64
	Quantity      float64
	Leverage      float64
	InitialMargin float64
	UnrealizedPnL float64
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
	CloseReason   *CloseReason
	TP1Hit        bool
	TP2Hit        bool
	TP3Hit        bool
	Confirmations int
	UpdatedAt     time.Time
}

// IsOpen reports whether the position still counts toward the live set.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusPartialClose
}
