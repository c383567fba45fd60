package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/botdesk/backend/internal/domain"
	"github.com/botdesk/backend/internal/service"
)

// Reconciler runs one position reconcile pass.
type Reconciler interface {
	Run(ctx context.Context) (service.ReconcileSummary, error)
}

// AlertMatcher runs one alert matching pass.
type AlertMatcher interface {
	Run(ctx context.Context) (service.MatchSummary, error)
}

// Lock keys guard the batch passes: at most one run of each at a time, even
// across multiple backend instances. Both the HTTP triggers and the
// background sync loop take these. The TTL bounds how long a crashed run can
// wedge syncing.
const (
	ReconcileLockKey = "lock:sync:positions"
	MatchLockKey     = "lock:sync:alerts"
	SyncLockTTL      = 2 * time.Minute
)

// SyncHandler serves the manually triggered synchronization endpoints.
type SyncHandler struct {
	reconciler Reconciler
	matcher    AlertMatcher
	locks      domain.LockManager
	logger     *slog.Logger
}

// NewSyncHandler creates a SyncHandler with the given services. locks may be
// nil, in which case reconcile runs are not mutually excluded.
func NewSyncHandler(reconciler Reconciler, matcher AlertMatcher, locks domain.LockManager, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		reconciler: reconciler,
		matcher:    matcher,
		locks:      locks,
		logger:     logger,
	}
}

// SyncPositions triggers one reconcile pass under an advisory lock.
// POST /api/sync/positions
func (h *SyncHandler) SyncPositions(w http.ResponseWriter, r *http.Request) {
	unlock, ok := h.acquireLock(w, r, ReconcileLockKey)
	if !ok {
		return
	}
	defer unlock()

	summary, err := h.reconciler.Run(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrMissingCredentials) {
			writeError(w, http.StatusBadRequest, "exchange credentials not configured")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: reconcile failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "reconcile failed")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// SyncAlerts triggers one alert matching pass under an advisory lock.
// POST /api/sync/alerts
func (h *SyncHandler) SyncAlerts(w http.ResponseWriter, r *http.Request) {
	unlock, ok := h.acquireLock(w, r, MatchLockKey)
	if !ok {
		return
	}
	defer unlock()

	summary, err := h.matcher.Run(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: alert matching failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "alert matching failed")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// acquireLock takes the advisory lock for one batch pass, writing the error
// response itself when the lock cannot be taken. The returned unlock is a
// no-op when no lock manager is configured.
func (h *SyncHandler) acquireLock(w http.ResponseWriter, r *http.Request, key string) (func(), bool) {
	if h.locks == nil {
		return func() {}, true
	}

	unlock, err := h.locks.Acquire(r.Context(), key, SyncLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			writeError(w, http.StatusConflict, "a sync run is already in progress")
			return nil, false
		}
		h.logger.ErrorContext(r.Context(), "handler: acquire sync lock failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to acquire sync lock")
		return nil, false
	}
	return unlock, true
}
