package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/botdesk/backend/internal/domain"
)

// BlobWriter is the slice of the writer the exporter needs. *Writer
// satisfies it; tests substitute an in-memory implementation.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// HistoryExportStore provides read access to archived trades for export.
// The Postgres history store satisfies it through its ListBefore method.
type HistoryExportStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.HistoryRecord, error)
}

// ExportSummary reports what one export run uploaded.
type ExportSummary struct {
	HistoryCount int64  `json:"history_count"`
	AuditCount   int64  `json:"audit_count"`
	HistoryPath  string `json:"history_path,omitempty"`
	AuditPath    string `json:"audit_path,omitempty"`
}

// Exporter snapshots the trade archive and the audit log to JSONL objects in
// the export bucket. Rows are never deleted from the primary store; exports
// exist for offline analysis and backup, not retention.
type Exporter struct {
	writer  BlobWriter
	history HistoryExportStore
	audit   domain.AuditStore
}

// NewExporter creates an Exporter over the given writer and stores.
func NewExporter(writer BlobWriter, history HistoryExportStore, audit domain.AuditStore) *Exporter {
	return &Exporter{
		writer:  writer,
		history: history,
		audit:   audit,
	}
}

// Export uploads every trade-history row and audit entry recorded strictly
// before the cutoff. The two uploads run concurrently; either failure fails
// the run.
func (e *Exporter) Export(ctx context.Context, before time.Time) (ExportSummary, error) {
	var summary ExportSummary

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		count, path, err := e.exportHistory(ctx, before)
		if err != nil {
			return err
		}
		summary.HistoryCount = count
		summary.HistoryPath = path
		return nil
	})

	g.Go(func() error {
		count, path, err := e.exportAudit(ctx, before)
		if err != nil {
			return err
		}
		summary.AuditCount = count
		summary.AuditPath = path
		return nil
	})

	if err := g.Wait(); err != nil {
		return ExportSummary{}, err
	}

	if err := e.audit.Log(ctx, "export_complete", map[string]any{
		"history_count": summary.HistoryCount,
		"audit_count":   summary.AuditCount,
		"before":        before.Format(time.RFC3339),
	}); err != nil {
		return summary, fmt.Errorf("s3blob: export audit log: %w", err)
	}

	return summary, nil
}

func (e *Exporter) exportHistory(ctx context.Context, before time.Time) (int64, string, error) {
	records, err := e.history.ListBefore(ctx, before)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: export history query: %w", err)
	}
	if len(records) == 0 {
		return 0, "", nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: export history marshal: %w", err)
	}

	path := exportPath("history", before)
	if err := e.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, "", fmt.Errorf("s3blob: export history upload: %w", err)
	}
	return int64(len(records)), path, nil
}

func (e *Exporter) exportAudit(ctx context.Context, before time.Time) (int64, string, error) {
	entries, err := e.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: export audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, "", nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: export audit marshal: %w", err)
	}

	path := exportPath("audit", before)
	if err := e.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, "", fmt.Errorf("s3blob: export audit upload: %w", err)
	}
	return int64(len(entries)), path, nil
}

// exportPath builds the object key for an export file, partitioned by the
// year-month of the cutoff.
//
//	exports/history/2026-03.jsonl
//	exports/audit/2026-03.jsonl
func exportPath(kind string, before time.Time) string {
	return fmt.Sprintf("exports/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
