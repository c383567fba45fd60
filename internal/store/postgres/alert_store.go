package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botdesk/backend/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, symbol, side, ts_millis, tier, strength,
	entry_price, stop_loss, take_profit_1, take_profit_2, take_profit_3,
	atr, volume_ratio, session, regime, regime_strength, leverage,
	order_block, order_block_score, fvg, fvg_score, inst_flow, latency_ms`

func scanAlertRows(rows pgx.Rows) ([]domain.AlertEvent, error) {
	var events []domain.AlertEvent
	for rows.Next() {
		var e domain.AlertEvent
		if err := rows.Scan(
			&e.ID, &e.Symbol, &e.Side, &e.Timestamp,
			&e.Tier, &e.Strength,
			&e.EntryPrice, &e.StopLoss,
			&e.TakeProfit1, &e.TakeProfit2, &e.TakeProfit3,
			&e.ATR, &e.VolumeRatio, &e.Session,
			&e.Regime, &e.RegimeStrength, &e.Leverage,
			&e.OrderBlock, &e.OrderBlockScore,
			&e.FVG, &e.FVGScore,
			&e.InstFlow, &e.LatencyMs,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Insert appends a new alert event and returns its generated id. Alert rows
// are never updated afterwards.
func (s *AlertStore) Insert(ctx context.Context, e domain.AlertEvent) (int64, error) {
	const query = `
		INSERT INTO alert_events (
			symbol, side, ts_millis, tier, strength,
			entry_price, stop_loss, take_profit_1, take_profit_2, take_profit_3,
			atr, volume_ratio, session, regime, regime_strength, leverage,
			order_block, order_block_score, fvg, fvg_score, inst_flow, latency_ms
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22
		) RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		e.Symbol, e.Side, e.Timestamp, e.Tier, e.Strength,
		e.EntryPrice, e.StopLoss, e.TakeProfit1, e.TakeProfit2, e.TakeProfit3,
		e.ATR, e.VolumeRatio, e.Session, e.Regime, e.RegimeStrength, e.Leverage,
		e.OrderBlock, e.OrderBlockScore, e.FVG, e.FVGScore, e.InstFlow, e.LatencyMs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert alert %s: %w", e.Symbol, err)
	}
	return id, nil
}

// ListAll returns every alert event in insertion order. The matcher scans
// them linearly, so fetch order determines which plausible match wins.
func (s *AlertStore) ListAll(ctx context.Context) ([]domain.AlertEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertSelectCols+` FROM alert_events ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all alerts: %w", err)
	}
	defer rows.Close()

	events, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alerts: %w", err)
	}
	return events, nil
}

// List returns alert events with pagination, newest first.
func (s *AlertStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AlertEvent, error) {
	query := `SELECT ` + alertSelectCols + ` FROM alert_events ORDER BY ts_millis DESC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()

	events, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alerts: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.AlertStore = (*AlertStore)(nil)
