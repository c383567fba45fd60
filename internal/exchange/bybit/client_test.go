package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botdesk/backend/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   srv.URL,
	})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestSignDeterministic(t *testing.T) {
	got := sign("test-secret", "1700000000000", "test-key", "category=linear&settleCoin=USDT")
	// Same inputs must always produce the same hex digest.
	assert.Equal(t, got, sign("test-secret", "1700000000000", "test-key", "category=linear&settleCoin=USDT"))
	assert.Len(t, got, 64)
}

func TestListOpenPositions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/position/list", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-BAPI-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		assert.Equal(t, "1700000000000", r.Header.Get("X-BAPI-TIMESTAMP"))

		w.Write([]byte(`{
			"retCode": 0, "retMsg": "OK",
			"result": {"list": [
				{"symbol": "BTCUSDT", "side": "Buy", "size": "0.5", "avgPrice": "64000", "unrealisedPnl": "125.5", "leverage": "10"},
				{"symbol": "ETHUSDT", "side": "Sell", "size": "0", "avgPrice": "0", "unrealisedPnl": "0", "leverage": "5"}
			]}
		}`))
	})

	positions, err := c.ListOpenPositions(context.Background())
	require.NoError(t, err)

	// The zero-size ETHUSDT entry is dropped.
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, domain.SideBuy, positions[0].Side)
	assert.Equal(t, 125.5, positions[0].UnrealizedPnL)
}

func TestListOpenPositionsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode": 10003, "retMsg": "API key is invalid."}`))
	})

	_, err := c.ListOpenPositions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExchangeAPI)
}

func TestMissingCredentials(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:1"})
	_, err := c.ListOpenPositions(context.Background())
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
}

func TestClosePosition(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v5/order/create", r.URL.Path)
		w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"orderId": "ord-123"}}`))
	})

	// Closing a BUY position must submit a Sell reduce-only order; here we
	// only verify the happy path returns the order id.
	orderID, err := c.ClosePosition(context.Background(), "BTC/USDT", domain.SideBuy, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "ord-123", orderID)
}

func TestCurrentPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"list": [{"symbol": "BTCUSDT", "lastPrice": "64250.10"}]}}`))
	})

	price, err := c.CurrentPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 64250.10, price)
}

func TestRealizedPnL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/position/closed-pnl", r.URL.Path)
		w.Write([]byte(`{
			"retCode": 0, "retMsg": "OK",
			"result": {"list": [
				{"orderId": "ord-1", "symbol": "BTCUSDT", "closedPnl": "-12.3"},
				{"orderId": "ord-2", "symbol": "BTCUSDT", "closedPnl": "88.8"}
			]}
		}`))
	})

	pnl, err := c.RealizedPnL(context.Background(), "ord-2", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 88.8, pnl)

	_, err = c.RealizedPnL(context.Background(), "ord-9", "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestToExchangeSymbol(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "BTCUSDT", c.ToExchangeSymbol("BTC/USDT"))
	assert.Equal(t, "BTCUSDT", c.ToExchangeSymbol("BTCUSDT.P"))
	assert.Equal(t, "BTCUSDT", c.ToExchangeSymbol("btcusdt.p"))
	assert.Equal(t, "ETHUSDT", c.ToExchangeSymbol("ethusdt"))
}
