package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botdesk/backend/internal/domain"
	"github.com/botdesk/backend/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Stub services. Each records calls and returns canned results so the tests
// exercise routing, decoding, and status mapping only.

type stubPositionService struct {
	open     []domain.Position
	closeErr error
	closed   []int64
	bulk     service.BulkCloseSummary
	price    float64
	priceTS  time.Time
	priceErr error
}

func (s *stubPositionService) ListOpen(_ context.Context) ([]domain.Position, error) {
	return s.open, nil
}

func (s *stubPositionService) Open(_ context.Context, pos domain.Position) (domain.Position, error) {
	pos.ID = 42
	pos.Status = domain.PositionStatusOpen
	return pos, nil
}

func (s *stubPositionService) Close(_ context.Context, id int64, reason domain.CloseReason) (domain.HistoryRecord, error) {
	if s.closeErr != nil {
		return domain.HistoryRecord{}, s.closeErr
	}
	s.closed = append(s.closed, id)
	return domain.HistoryRecord{ID: 1, PositionID: id, CloseReason: reason}, nil
}

func (s *stubPositionService) CloseAll(_ context.Context) (service.BulkCloseSummary, error) {
	return s.bulk, nil
}

func (s *stubPositionService) MarkPartialClose(_ context.Context, _ int64, _ int, _ float64) error {
	return nil
}

func (s *stubPositionService) CurrentPrice(_ context.Context, _ string) (float64, time.Time, error) {
	if s.priceErr != nil {
		return 0, time.Time{}, s.priceErr
	}
	return s.price, s.priceTS, nil
}

type stubReconciler struct {
	summary service.ReconcileSummary
	err     error
}

func (s *stubReconciler) Run(_ context.Context) (service.ReconcileSummary, error) {
	return s.summary, s.err
}

type stubMatcher struct {
	summary service.MatchSummary
}

func (s *stubMatcher) Run(_ context.Context) (service.MatchSummary, error) {
	return s.summary, nil
}

type stubLocks struct {
	held     bool
	acquired int
	released int
}

func (s *stubLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if s.held {
		return nil, domain.ErrLockHeld
	}
	s.acquired++
	return func() { s.released++ }, nil
}

func newMux(positions *stubPositionService, rec *stubReconciler, locks *stubLocks) *http.ServeMux {
	mux := http.NewServeMux()
	ph := NewPositionHandler(positions, discardLogger())
	sh := NewSyncHandler(rec, &stubMatcher{}, locks, discardLogger())
	mux.HandleFunc("GET /api/positions", ph.ListPositions)
	mux.HandleFunc("POST /api/positions", ph.OpenPosition)
	mux.HandleFunc("POST /api/positions/{id}/close", ph.ClosePosition)
	mux.HandleFunc("POST /api/positions/close-all", ph.CloseAllPositions)
	mux.HandleFunc("PATCH /api/positions/{id}/partial", ph.PartialClose)
	mux.HandleFunc("GET /api/prices/{symbol}", ph.GetPrice)
	mux.HandleFunc("POST /api/sync/positions", sh.SyncPositions)
	return mux
}

func TestListPositionsReturnsEmptyArray(t *testing.T) {
	mux := newMux(&stubPositionService{}, &stubReconciler{}, &stubLocks{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"positions":[]}`, rr.Body.String())
}

func TestOpenPositionValidatesSide(t *testing.T) {
	mux := newMux(&stubPositionService{}, &stubReconciler{}, &stubLocks{})

	body := `{"symbol":"BTCUSDT","side":"LONG","quantity":0.1}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "BUY or SELL")
}

func TestClosePositionMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"already closed", domain.ErrInvalidTransition, http.StatusConflict},
		{"exchange down", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newMux(&stubPositionService{closeErr: tc.err}, &stubReconciler{}, &stubLocks{})

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/positions/7/close", strings.NewReader("{}")))
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestClosePositionRejectsBadID(t *testing.T) {
	mux := newMux(&stubPositionService{}, &stubReconciler{}, &stubLocks{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/positions/abc/close", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCloseAllReportsPartialFailure(t *testing.T) {
	positions := &stubPositionService{bulk: service.BulkCloseSummary{
		Requested: 3,
		Closed:    2,
		Errors:    []string{"position 3 (BTCUSDT): order rejected"},
	}}
	mux := newMux(positions, &stubReconciler{}, &stubLocks{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/positions/close-all", nil))

	assert.Equal(t, http.StatusMultiStatus, rr.Code)
	assert.Contains(t, rr.Body.String(), "order rejected")
}

func TestPartialCloseValidatesTP(t *testing.T) {
	mux := newMux(&stubPositionService{}, &stubReconciler{}, &stubLocks{})

	body := `{"tp":4,"remaining_qty":0.1}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/api/positions/7/partial", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSyncPositionsAcquiresAndReleasesLock(t *testing.T) {
	locks := &stubLocks{}
	rec := &stubReconciler{summary: service.ReconcileSummary{Checked: 2, Closed: 1, StillOpen: 1}}
	mux := newMux(&stubPositionService{}, rec, locks)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync/positions", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.released)
	assert.Contains(t, rr.Body.String(), `"closed":1`)
}

func TestSyncPositionsConflictsWhenLockHeld(t *testing.T) {
	mux := newMux(&stubPositionService{}, &stubReconciler{}, &stubLocks{held: true})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync/positions", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSyncPositionsMissingCredentials(t *testing.T) {
	rec := &stubReconciler{err: domain.ErrMissingCredentials}
	mux := newMux(&stubPositionService{}, rec, &stubLocks{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync/positions", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetPriceReturnsCachedRead(t *testing.T) {
	positions := &stubPositionService{
		price:   50950,
		priceTS: time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
	}
	mux := newMux(positions, &stubReconciler{}, &stubLocks{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/prices/BTCUSDT", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"symbol":"BTCUSDT"`)
	assert.Contains(t, rr.Body.String(), `"price":50950`)
}

func TestGetPriceMapsLookupFailure(t *testing.T) {
	positions := &stubPositionService{priceErr: errors.New("upstream down")}
	mux := newMux(positions, &stubReconciler{}, &stubLocks{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/prices/BTCUSDT", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
