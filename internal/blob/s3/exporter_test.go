package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botdesk/backend/internal/domain"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.failOn != "" && strings.Contains(path, w.failOn) {
		return errors.New("upload rejected")
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[path] = buf
	return nil
}

type stubHistoryStore struct {
	records []domain.HistoryRecord
	err     error
}

func (s *stubHistoryStore) ListBefore(_ context.Context, before time.Time) ([]domain.HistoryRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.HistoryRecord
	for _, rec := range s.records {
		if rec.ClosedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type stubAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	logged  []string
}

func (s *stubAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logged = append(s.logged, event)
	return nil
}

func (s *stubAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.entries, nil
}

func (s *stubAuditStore) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestExportUploadsBothSnapshots(t *testing.T) {
	cutoff := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	history := &stubHistoryStore{records: []domain.HistoryRecord{
		{ID: 1, PositionID: 10, Symbol: "BTCUSDT", ClosedAt: cutoff.Add(-24 * time.Hour)},
		{ID: 2, PositionID: 11, Symbol: "ETHUSDT", ClosedAt: cutoff.Add(-time.Hour)},
		{ID: 3, PositionID: 12, Symbol: "SOLUSDT", ClosedAt: cutoff.Add(time.Hour)}, // after cutoff
	}}
	audit := &stubAuditStore{entries: []domain.AuditEntry{
		{ID: 1, Event: "position_closed", CreatedAt: cutoff.Add(-time.Hour)},
	}}
	writer := newMemWriter()

	e := NewExporter(writer, history, audit)
	summary, err := e.Export(context.Background(), cutoff)
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.HistoryCount)
	assert.Equal(t, int64(1), summary.AuditCount)
	assert.Equal(t, "exports/history/2026-03.jsonl", summary.HistoryPath)
	assert.Equal(t, "exports/audit/2026-03.jsonl", summary.AuditPath)

	obj := writer.objects[summary.HistoryPath]
	require.NotNil(t, obj)
	lines := bytes.Split(bytes.TrimSpace(obj), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "BTCUSDT")

	assert.Contains(t, audit.logged, "export_complete")
}

func TestExportEmptyStoresUploadsNothing(t *testing.T) {
	writer := newMemWriter()
	e := NewExporter(writer, &stubHistoryStore{}, &stubAuditStore{})

	summary, err := e.Export(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, summary.HistoryCount)
	assert.Zero(t, summary.AuditCount)
	assert.Empty(t, writer.objects)
}

func TestExportFailsWhenUploadFails(t *testing.T) {
	cutoff := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	history := &stubHistoryStore{records: []domain.HistoryRecord{
		{ID: 1, PositionID: 10, ClosedAt: cutoff.Add(-time.Hour)},
	}}
	audit := &stubAuditStore{}
	writer := newMemWriter()
	writer.failOn = "history"

	e := NewExporter(writer, history, audit)
	_, err := e.Export(context.Background(), cutoff)
	require.Error(t, err)
	assert.NotContains(t, audit.logged, "export_complete")
}
