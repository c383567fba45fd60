package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botdesk/backend/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, side, entry_price, quantity, leverage,
	initial_margin, unrealized_pnl, status, opened_at, closed_at, close_reason,
	tp1_hit, tp2_hit, tp3_hit, confirmations, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string
	var closeReason *string

	err := row.Scan(
		&p.ID, &p.Symbol, &side,
		&p.EntryPrice, &p.Quantity, &p.Leverage,
		&p.InitialMargin, &p.UnrealizedPnL,
		&status, &p.OpenedAt, &p.ClosedAt, &closeReason,
		&p.TP1Hit, &p.TP2Hit, &p.TP3Hit,
		&p.Confirmations, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	if closeReason != nil {
		r := domain.CloseReason(*closeReason)
		p.CloseReason = &r
	}
	return p, nil
}

// Create inserts a new position and returns its generated id.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) (int64, error) {
	const query = `
		INSERT INTO positions (
			symbol, side, entry_price, quantity, leverage,
			initial_margin, unrealized_pnl, status, opened_at,
			tp1_hit, tp2_hit, tp3_hit, confirmations, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, NOW()
		) RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		p.Symbol, string(p.Side),
		p.EntryPrice, p.Quantity, p.Leverage,
		p.InitialMargin, p.UnrealizedPnL,
		string(p.Status), p.OpenedAt,
		p.TP1Hit, p.TP2Hit, p.TP3Hit, p.Confirmations,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create position %s: %w", p.Symbol, err)
	}
	return id, nil
}

// GetByID retrieves a single position by its id.
func (s *PositionStore) GetByID(ctx context.Context, id int64) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

// ListByStatus returns all positions whose status is in the given set,
// ordered by opening time so reconcile runs process positions oldest first.
func (s *PositionStore) ListByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]domain.Position, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = ANY($1)
		 ORDER BY opened_at ASC`, vals)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// UpdateUnrealizedPnL refreshes the stored unrealized P&L for a position.
func (s *PositionStore) UpdateUnrealizedPnL(ctx context.Context, id int64, pnl float64) error {
	const query = `
		UPDATE positions SET
			unrealized_pnl = $2,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, pnl)
	if err != nil {
		return fmt.Errorf("postgres: update pnl for position %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkClosed performs the single closing transition. The status guard keeps
// the transition exactly-once: a second call finds no matching row.
func (s *PositionStore) MarkClosed(ctx context.Context, id int64, reason domain.CloseReason, closedAt time.Time) error {
	const query = `
		UPDATE positions SET
			status       = 'closed',
			close_reason = $2,
			closed_at    = $3,
			updated_at   = NOW()
		WHERE id = $1 AND status IN ('open', 'partial_close')`

	tag, err := s.pool.Exec(ctx, query, id, string(reason), closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkPartialClose records a take-profit fill and the remaining quantity.
func (s *PositionStore) MarkPartialClose(ctx context.Context, id int64, tp int, remainingQty float64) error {
	if tp < 1 || tp > 3 {
		return fmt.Errorf("postgres: mark partial close: invalid tp level %d", tp)
	}

	query := fmt.Sprintf(`
		UPDATE positions SET
			status     = 'partial_close',
			quantity   = $2,
			tp%d_hit   = TRUE,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('open', 'partial_close')`, tp)

	tag, err := s.pool.Exec(ctx, query, id, remainingQty)
	if err != nil {
		return fmt.Errorf("postgres: mark partial close for position %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
