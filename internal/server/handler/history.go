package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	s3blob "github.com/botdesk/backend/internal/blob/s3"
	"github.com/botdesk/backend/internal/domain"
)

// HistoryStore defines the read access the history handler requires.
type HistoryStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.HistoryRecord, error)
}

// AuditStore defines the read access the history handler requires for the
// audit log.
type AuditStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// Exporter snapshots history and audit rows to object storage.
type Exporter interface {
	Export(ctx context.Context, before time.Time) (s3blob.ExportSummary, error)
}

// HistoryHandler serves the trade archive, audit log, and export endpoints.
type HistoryHandler struct {
	history  HistoryStore
	audit    AuditStore
	exporter Exporter
	logger   *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler. exporter may be nil when no
// object store is configured; the export endpoint then returns 503.
func NewHistoryHandler(history HistoryStore, audit AuditStore, exporter Exporter, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		history:  history,
		audit:    audit,
		exporter: exporter,
		logger:   logger,
	}
}

// listHistoryResponse wraps the list history response.
type listHistoryResponse struct {
	History []domain.HistoryRecord `json:"history"`
}

// ListHistory returns archived trades, newest first.
// GET /api/history?limit=50&offset=0&since=...&until=...
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	if records == nil {
		records = []domain.HistoryRecord{}
	}

	writeJSON(w, http.StatusOK, listHistoryResponse{History: records})
}

// listAuditResponse wraps the audit log response.
type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	if entries == nil {
		entries = []domain.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries})
}

// exportRequest is the body for triggering an export.
type exportRequest struct {
	Before string `json:"before"` // RFC 3339; defaults to now
}

// ExportHistory uploads history and audit snapshots to object storage.
// POST /api/history/export
func (h *HistoryHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage not configured")
		return
	}

	before := time.Now().UTC()
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Before != "" {
		ts, parseErr := time.Parse(time.RFC3339, req.Before)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC 3339")
			return
		}
		before = ts
	}

	summary, err := h.exporter.Export(r.Context(), before)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: export failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
