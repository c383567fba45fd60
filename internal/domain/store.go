package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the open-positions ledger. All mutations are
// atomic single-row statements so that one position's failure never rolls
// back another's update.
type PositionStore interface {
	Create(ctx context.Context, pos Position) (int64, error)
	GetByID(ctx context.Context, id int64) (Position, error)
	ListByStatus(ctx context.Context, statuses ...PositionStatus) ([]Position, error)
	UpdateUnrealizedPnL(ctx context.Context, id int64, pnl float64) error
	// MarkClosed performs the single closing transition: it only succeeds
	// while the position is still open or partially closed.
	MarkClosed(ctx context.Context, id int64, reason CloseReason, closedAt time.Time) error
	// MarkPartialClose records a take-profit fill (tp is 1, 2, or 3) and the
	// remaining quantity, moving the position to partial_close.
	MarkPartialClose(ctx context.Context, id int64, tp int, remainingQty float64) error
}

// HistoryStore persists the closed-trade archive.
type HistoryStore interface {
	Insert(ctx context.Context, rec HistoryRecord) (int64, error)
	ExistsForPosition(ctx context.Context, positionID int64) (bool, error)
	// ListUnmatched returns archive rows with no alert linkage.
	ListUnmatched(ctx context.Context) ([]HistoryRecord, error)
	AttachAlert(ctx context.Context, id int64, alertID int64, payload AlertPayload) error
	List(ctx context.Context, opts ListOpts) ([]HistoryRecord, error)
	// ListBefore returns archive rows closed strictly before the cutoff,
	// used by the export path.
	ListBefore(ctx context.Context, before time.Time) ([]HistoryRecord, error)
}

// AlertStore persists the append-only alert event log.
type AlertStore interface {
	Insert(ctx context.Context, evt AlertEvent) (int64, error)
	ListAll(ctx context.Context) ([]AlertEvent, error)
	List(ctx context.Context, opts ListOpts) ([]AlertEvent, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// PriceCache caches last-seen ticker prices for dashboard reads.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// LockManager provides advisory locks guarding the batch sync operations,
// which are not safe to run concurrently against each other.
type LockManager interface {
	// Acquire returns an unlock function, or ErrLockHeld when the lock is
	// already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus publishes dashboard events (position closes, sync summaries)
// for the WebSocket hub to fan out.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
