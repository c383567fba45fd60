package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botdesk/backend/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL. Alert
// payloads live as JSONB in the alert_data column; (de)serialization happens
// only here so the services always see typed values.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a new HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

const historySelectCols = `id, position_id, symbol, side, entry_price, close_price,
	quantity, leverage, initial_margin, realized_pnl, pnl_percent,
	duration_minutes, close_reason, opened_at, closed_at, alert_id, alert_data`

func scanHistory(row pgx.Row) (domain.HistoryRecord, error) {
	var h domain.HistoryRecord
	var side, closeReason string
	var alertData []byte

	err := row.Scan(
		&h.ID, &h.PositionID, &h.Symbol, &side,
		&h.EntryPrice, &h.ClosePrice,
		&h.Quantity, &h.Leverage, &h.InitialMargin,
		&h.RealizedPnL, &h.PnLPercent,
		&h.DurationMinutes, &closeReason,
		&h.OpenedAt, &h.ClosedAt,
		&h.AlertID, &alertData,
	)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	h.Side = domain.Side(side)
	h.CloseReason = domain.CloseReason(closeReason)
	if len(alertData) > 0 {
		var payload domain.AlertPayload
		if err := json.Unmarshal(alertData, &payload); err != nil {
			return domain.HistoryRecord{}, fmt.Errorf("unmarshal alert data: %w", err)
		}
		h.Alert = &payload
	}
	return h, nil
}

func scanHistoryRows(rows pgx.Rows) ([]domain.HistoryRecord, error) {
	var records []domain.HistoryRecord
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, h)
	}
	return records, rows.Err()
}

// Insert archives a closed position. The UNIQUE constraint on position_id
// backs the one-record-per-position invariant; ON CONFLICT DO NOTHING makes
// a duplicate insert a no-op rather than an error.
func (s *HistoryStore) Insert(ctx context.Context, rec domain.HistoryRecord) (int64, error) {
	var alertData []byte
	if rec.Alert != nil {
		var err error
		alertData, err = json.Marshal(rec.Alert)
		if err != nil {
			return 0, fmt.Errorf("postgres: marshal alert data: %w", err)
		}
	}

	const query = `
		INSERT INTO trade_history (
			position_id, symbol, side, entry_price, close_price,
			quantity, leverage, initial_margin, realized_pnl, pnl_percent,
			duration_minutes, close_reason, opened_at, closed_at, alert_id, alert_data
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (position_id) DO NOTHING
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		rec.PositionID, rec.Symbol, string(rec.Side),
		rec.EntryPrice, rec.ClosePrice,
		rec.Quantity, rec.Leverage, rec.InitialMargin,
		rec.RealizedPnL, rec.PnLPercent,
		rec.DurationMinutes, string(rec.CloseReason),
		rec.OpenedAt, rec.ClosedAt,
		rec.AlertID, alertData,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		// Conflict: a record for this position already exists.
		return 0, domain.ErrAlreadyExists
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: insert history for position %d: %w", rec.PositionID, err)
	}
	return id, nil
}

// ExistsForPosition reports whether an archive row exists for the position.
func (s *HistoryStore) ExistsForPosition(ctx context.Context, positionID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM trade_history WHERE position_id = $1)`,
		positionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check history for position %d: %w", positionID, err)
	}
	return exists, nil
}

// ListUnmatched returns archive rows whose alert linkage is missing: a NULL
// alert id, or an absent/empty alert payload.
func (s *HistoryStore) ListUnmatched(ctx context.Context) ([]domain.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historySelectCols+` FROM trade_history
		 WHERE alert_id IS NULL
		    OR alert_data IS NULL
		    OR alert_data = '{}'::jsonb
		 ORDER BY closed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unmatched history: %w", err)
	}
	defer rows.Close()

	records, err := scanHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unmatched history: %w", err)
	}
	return records, nil
}

// AttachAlert writes the matched alert id and serialized payload onto an
// archive row.
func (s *HistoryStore) AttachAlert(ctx context.Context, id int64, alertID int64, payload domain.AlertPayload) error {
	alertData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal alert payload: %w", err)
	}

	const query = `
		UPDATE trade_history SET
			alert_id   = $2,
			alert_data = $3
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, alertID, alertData)
	if err != nil {
		return fmt.Errorf("postgres: attach alert to history %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns archive rows with pagination and optional time filtering.
func (s *HistoryStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.HistoryRecord, error) {
	query := `SELECT ` + historySelectCols + ` FROM trade_history WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history: %w", err)
	}
	defer rows.Close()

	records, err := scanHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history: %w", err)
	}
	return records, nil
}

// ListBefore returns archive rows closed strictly before the cutoff.
func (s *HistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historySelectCols+` FROM trade_history
		 WHERE closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history before %s: %w", before, err)
	}
	defer rows.Close()

	records, err := scanHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history before cutoff: %w", err)
	}
	return records, nil
}

// Compile-time interface check.
var _ domain.HistoryStore = (*HistoryStore)(nil)
