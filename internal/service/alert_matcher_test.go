package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botdesk/backend/internal/domain"
)

func unmatchedRecord(symbol string, side domain.Side, openedAt time.Time) domain.HistoryRecord {
	return domain.HistoryRecord{
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  50000,
		Quantity:    0.1,
		RealizedPnL: 25,
		CloseReason: domain.CloseReasonAutoSync,
		OpenedAt:    openedAt,
		ClosedAt:    openedAt.Add(2 * time.Hour),
	}
}

func alertAt(symbol, side string, ts time.Time) domain.AlertEvent {
	return domain.AlertEvent{
		Symbol:    symbol,
		Side:      side,
		Timestamp: ts.UnixMilli(),
		Tier:      "sniper",
		Strength:  82.5,
	}
}

func TestAlertMatcherMatchesWithinWindow(t *testing.T) {
	history := newFakeHistoryStore()
	alerts := &fakeAlertStore{}

	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := unmatchedRecord("BTCUSDT", domain.SideBuy, openedAt)
	rec.PositionID = 7
	stored := history.add(rec)

	// Alert fired 2 seconds before the fill.
	alertID, err := alerts.Insert(context.Background(),
		alertAt("BTCUSDT", "BUY", openedAt.Add(-2*time.Second)))
	require.NoError(t, err)

	m := NewAlertMatcher(history, alerts, testLogger())
	summary, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 0, summary.Unmatched)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Matched)
	require.NotNil(t, summary.Results[0].AlertID)
	assert.Equal(t, alertID, *summary.Results[0].AlertID)
	assert.Equal(t, int64(2000), summary.Results[0].TimeDiffMs)

	got := history.records[stored.ID]
	require.NotNil(t, got.AlertID)
	assert.Equal(t, alertID, *got.AlertID)
	require.NotNil(t, got.Alert)
	assert.Equal(t, "sniper", got.Alert.Tier)
}

func TestAlertMatcherRejectsOutsideWindow(t *testing.T) {
	history := newFakeHistoryStore()
	alerts := &fakeAlertStore{}

	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := unmatchedRecord("BTCUSDT", domain.SideBuy, openedAt)
	stored := history.add(rec)

	// 15 seconds away: outside the 10-second window.
	_, err := alerts.Insert(context.Background(),
		alertAt("BTCUSDT", "BUY", openedAt.Add(-15*time.Second)))
	require.NoError(t, err)

	m := NewAlertMatcher(history, alerts, testLogger())
	summary, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Unmatched)
	require.Len(t, summary.Results, 1)
	assert.False(t, summary.Results[0].Matched)
	assert.Equal(t, "no matching alert found within window", summary.Results[0].Reason)
	assert.Nil(t, history.records[stored.ID].AlertID)
}

func TestAlertMatcherRejectsSymbolMismatch(t *testing.T) {
	history := newFakeHistoryStore()
	alerts := &fakeAlertStore{}

	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	history.add(unmatchedRecord("BTCUSDT", domain.SideBuy, openedAt))

	_, err := alerts.Insert(context.Background(),
		alertAt("ETHUSDT", "BUY", openedAt.Add(time.Second)))
	require.NoError(t, err)

	m := NewAlertMatcher(history, alerts, testLogger())
	summary, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)
}

func TestAlertMatcherRejectsSideMismatch(t *testing.T) {
	history := newFakeHistoryStore()
	alerts := &fakeAlertStore{}

	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	history.add(unmatchedRecord("BTCUSDT", domain.SideBuy, openedAt))

	_, err := alerts.Insert(context.Background(),
		alertAt("BTCUSDT", "SELL", openedAt.Add(time.Second)))
	require.NoError(t, err)

	m := NewAlertMatcher(history, alerts, testLogger())
	summary, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)
}

func TestAlertMatcherSidelessAlertStillMatches(t *testing.T) {
	history := newFakeHistoryStore()
	alerts := &fakeAlertStore{}

	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	history.add(unmatchedRecord("BTCUSDT", domain.SideSell, openedAt))

	// No side recorded on the alert; symbol and time alone decide.
	_, err := alerts.Insert(context.Background(),
		alertAt("BTCUSDT", "", openedAt.Add(3*time.Second)))
	require.NoError(t, err)

	m := NewAlertMatcher(history, alerts, testLogger())
	summary, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)
}

func TestAlertMatcherFirstPlausibleWins(t *testing.T) {
	history := newFakeHistoryStore()
	alerts := &fakeAlertStore{}

	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	history.add(unmatchedRecord("BTCUSDT", domain.SideBuy, openedAt))

	// Both are plausible; fetch order decides, not temporal proximity.
	firstID, err := alerts.Insert(context.Background(),
		alertAt("BTCUSDT", "BUY", openedAt.Add(-8*time.Second)))
	require.NoError(t, err)
	_, err = alerts.Insert(context.Background(),
		alertAt("BTCUSDT", "BUY", openedAt.Add(-time.Second)))
	require.NoError(t, err)

	m := NewAlertMatcher(history, alerts, testLogger())
	summary, err := m.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	require.NotNil(t, summary.Results[0].AlertID)
	assert.Equal(t, firstID, *summary.Results[0].AlertID)
}

func TestAlertMatcherRerunSkipsMatchedRows(t *testing.T) {
	history := newFakeHistoryStore()
	alerts := &fakeAlertStore{}

	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	history.add(unmatchedRecord("BTCUSDT", domain.SideBuy, openedAt))

	_, err := alerts.Insert(context.Background(),
		alertAt("BTCUSDT", "BUY", openedAt.Add(time.Second)))
	require.NoError(t, err)

	m := NewAlertMatcher(history, alerts, testLogger())

	first, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Matched)

	second, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Total)
}

func TestAlertMatcherReportsAttachFailure(t *testing.T) {
	history := newFakeHistoryStore()
	alerts := &fakeAlertStore{}

	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	history.add(unmatchedRecord("BTCUSDT", domain.SideBuy, openedAt))
	history.failAttach = true

	_, err := alerts.Insert(context.Background(),
		alertAt("BTCUSDT", "BUY", openedAt.Add(time.Second)))
	require.NoError(t, err)

	m := NewAlertMatcher(history, alerts, testLogger())
	summary, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Unmatched)
	require.Len(t, summary.Results, 1)
	assert.Contains(t, summary.Results[0].Reason, "attach failed")
}
