package domain

import "context"

// LivePosition is one entry of the exchange's authoritative open-position
// set, already translated to the ledger's side vocabulary.
type LivePosition struct {
	Symbol        string // exchange spelling, e.g. "BTCUSDT"
	Side          Side
	Size          float64
	EntryPrice    float64
	UnrealizedPnL float64
	Leverage      float64
}

// Exchange is the narrow contract the core needs from the trading venue.
// Implementations own their timeout/retry behaviour; the core only
// propagates their failures.
type Exchange interface {
	// ListOpenPositions fetches the full live position set.
	ListOpenPositions(ctx context.Context) ([]LivePosition, error)

	// ClosePosition submits a reduce-only market order that flattens the
	// given position and returns the exchange order id.
	ClosePosition(ctx context.Context, symbol string, side Side, qty float64) (string, error)

	// CurrentPrice returns the last traded price for a symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)

	// RealizedPnL looks up the settled P&L for a closing order.
	RealizedPnL(ctx context.Context, orderID, symbol string) (float64, error)

	// ToExchangeSymbol maps the ledger's symbol spelling to the exchange's.
	ToExchangeSymbol(symbol string) string
}
