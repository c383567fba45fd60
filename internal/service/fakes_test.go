package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/botdesk/backend/internal/domain"
)

// In-memory fakes for the store and exchange contracts. Mutations mirror the
// single-row semantics of the Postgres implementations so the services can
// be exercised without a database.

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakePositionStore struct {
	positions map[int64]*domain.Position
	nextID    int64
	failPnLOn map[int64]bool
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		positions: map[int64]*domain.Position{},
		nextID:    1,
		failPnLOn: map[int64]bool{},
	}
}

func (f *fakePositionStore) add(p domain.Position) *domain.Position {
	p.ID = f.nextID
	f.nextID++
	cp := p
	f.positions[cp.ID] = &cp
	return &cp
}

func (f *fakePositionStore) Create(_ context.Context, p domain.Position) (int64, error) {
	return f.add(p).ID, nil
}

func (f *fakePositionStore) GetByID(_ context.Context, id int64) (domain.Position, error) {
	p, ok := f.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return *p, nil
}

func (f *fakePositionStore) ListByStatus(_ context.Context, statuses ...domain.PositionStatus) ([]domain.Position, error) {
	want := map[domain.PositionStatus]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	var out []domain.Position
	for id := int64(1); id < f.nextID; id++ {
		if p, ok := f.positions[id]; ok && want[p.Status] {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePositionStore) UpdateUnrealizedPnL(_ context.Context, id int64, pnl float64) error {
	if f.failPnLOn[id] {
		return errors.New("forced pnl failure")
	}
	p, ok := f.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.UnrealizedPnL = pnl
	p.UpdatedAt = time.Now()
	return nil
}

func (f *fakePositionStore) MarkClosed(_ context.Context, id int64, reason domain.CloseReason, closedAt time.Time) error {
	p, ok := f.positions[id]
	if !ok || !p.IsOpen() {
		return domain.ErrInvalidTransition
	}
	p.Status = domain.PositionStatusClosed
	p.CloseReason = &reason
	p.ClosedAt = &closedAt
	return nil
}

func (f *fakePositionStore) MarkPartialClose(_ context.Context, id int64, tp int, remainingQty float64) error {
	p, ok := f.positions[id]
	if !ok || !p.IsOpen() {
		return domain.ErrInvalidTransition
	}
	p.Status = domain.PositionStatusPartialClose
	p.Quantity = remainingQty
	switch tp {
	case 1:
		p.TP1Hit = true
	case 2:
		p.TP2Hit = true
	case 3:
		p.TP3Hit = true
	}
	return nil
}

type fakeHistoryStore struct {
	records      map[int64]*domain.HistoryRecord
	nextID       int64
	failExistsOn map[int64]bool
	failAttach   bool
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{
		records:      map[int64]*domain.HistoryRecord{},
		nextID:       1,
		failExistsOn: map[int64]bool{},
	}
}

func (f *fakeHistoryStore) add(rec domain.HistoryRecord) *domain.HistoryRecord {
	rec.ID = f.nextID
	f.nextID++
	cp := rec
	f.records[cp.ID] = &cp
	return &cp
}

func (f *fakeHistoryStore) byPosition(positionID int64) *domain.HistoryRecord {
	for _, rec := range f.records {
		if rec.PositionID == positionID {
			return rec
		}
	}
	return nil
}

func (f *fakeHistoryStore) Insert(_ context.Context, rec domain.HistoryRecord) (int64, error) {
	if f.byPosition(rec.PositionID) != nil {
		return 0, domain.ErrAlreadyExists
	}
	return f.add(rec).ID, nil
}

func (f *fakeHistoryStore) ExistsForPosition(_ context.Context, positionID int64) (bool, error) {
	if f.failExistsOn[positionID] {
		return false, errors.New("forced archive failure")
	}
	return f.byPosition(positionID) != nil, nil
}

func (f *fakeHistoryStore) ListUnmatched(_ context.Context) ([]domain.HistoryRecord, error) {
	var out []domain.HistoryRecord
	for id := int64(1); id < f.nextID; id++ {
		if rec, ok := f.records[id]; ok && rec.AlertID == nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeHistoryStore) AttachAlert(_ context.Context, id int64, alertID int64, payload domain.AlertPayload) error {
	if f.failAttach {
		return errors.New("forced attach failure")
	}
	rec, ok := f.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.AlertID = &alertID
	cp := payload
	rec.Alert = &cp
	return nil
}

func (f *fakeHistoryStore) List(_ context.Context, _ domain.ListOpts) ([]domain.HistoryRecord, error) {
	var out []domain.HistoryRecord
	for id := int64(1); id < f.nextID; id++ {
		if rec, ok := f.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeHistoryStore) ListBefore(_ context.Context, before time.Time) ([]domain.HistoryRecord, error) {
	var out []domain.HistoryRecord
	for id := int64(1); id < f.nextID; id++ {
		if rec, ok := f.records[id]; ok && rec.ClosedAt.Before(before) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type fakeAlertStore struct {
	events []domain.AlertEvent
}

func (f *fakeAlertStore) Insert(_ context.Context, evt domain.AlertEvent) (int64, error) {
	evt.ID = int64(len(f.events) + 1)
	f.events = append(f.events, evt)
	return evt.ID, nil
}

func (f *fakeAlertStore) ListAll(_ context.Context) ([]domain.AlertEvent, error) {
	return append([]domain.AlertEvent(nil), f.events...), nil
}

func (f *fakeAlertStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AlertEvent, error) {
	return f.ListAll(context.Background())
}

type fakeAuditStore struct {
	entries []domain.AuditEntry
}

func (f *fakeAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	f.entries = append(f.entries, domain.AuditEntry{
		ID:        int64(len(f.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return append([]domain.AuditEntry(nil), f.entries...), nil
}

func (f *fakeAuditStore) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range f.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeExchange struct {
	live        []domain.LivePosition
	listErr     error
	closeErr    error
	closedCalls []string // "symbol|side"
	price       float64
	priceErr    error
	priceCalls  int
	realized    float64
	realizedErr error
}

func (f *fakeExchange) ListOpenPositions(_ context.Context) ([]domain.LivePosition, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.LivePosition(nil), f.live...), nil
}

func (f *fakeExchange) ClosePosition(_ context.Context, symbol string, side domain.Side, _ float64) (string, error) {
	if f.closeErr != nil {
		return "", f.closeErr
	}
	f.closedCalls = append(f.closedCalls, symbol+"|"+string(side))
	return "ord-test", nil
}

func (f *fakeExchange) CurrentPrice(_ context.Context, _ string) (float64, error) {
	f.priceCalls++
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.price, nil
}

func (f *fakeExchange) RealizedPnL(_ context.Context, _, _ string) (float64, error) {
	if f.realizedErr != nil {
		return 0, f.realizedErr
	}
	return f.realized, nil
}

func (f *fakeExchange) ToExchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

type cachedPrice struct {
	price float64
	ts    time.Time
}

type fakePriceCache struct {
	prices map[string]cachedPrice
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{prices: map[string]cachedPrice{}}
}

func (f *fakePriceCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	f.prices[symbol] = cachedPrice{price: price, ts: ts}
	return nil
}

func (f *fakePriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}

type fakeNotifier struct {
	notifications []string
}

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.notifications = append(f.notifications, event)
	return nil
}
