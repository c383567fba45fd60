// Package bybit implements domain.Exchange against the Bybit v5 REST API
// for USDT-settled linear perpetuals.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/botdesk/backend/internal/domain"
)

const (
	categoryLinear = "linear"
	settleCoin     = "USDT"
)

// Config holds the Bybit API credentials and endpoint.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// Client is a Bybit v5 REST client. It is safe for concurrent use.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *http.Client
	now       func() time.Time
}

// New creates a Client from the given config. Requests time out after 30s.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.bybit.com"
	}
	return &Client{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		baseURL:   base,
		http:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// Configured reports whether API credentials are present. Callers check this
// before triggering authenticated flows so that a misconfigured deployment
// fails with a client error rather than a signed request rejection.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// ToExchangeSymbol maps the ledger's symbol spelling to Bybit's: slashes are
// stripped ("BTC/USDT" -> "BTCUSDT") along with the ".P" perpetual suffix
// used by charting sources.
func (c *Client) ToExchangeSymbol(symbol string) string {
	s := strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
	return strings.TrimSuffix(s, ".P")
}

// ListOpenPositions fetches all open linear positions settled in USDT and
// translates them to the ledger vocabulary. Entries with zero size are
// dropped; Bybit reports them for recently flattened symbols.
func (c *Client) ListOpenPositions(ctx context.Context) ([]domain.LivePosition, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("settleCoin", settleCoin)

	var resp positionListResponse
	if err := c.get(ctx, "/v5/position/list", query, &resp); err != nil {
		return nil, err
	}

	var out []domain.LivePosition
	for _, p := range resp.Result.List {
		size, err := strconv.ParseFloat(p.Size, 64)
		if err != nil || size == 0 {
			continue
		}
		side, ok := toLedgerSide(p.Side)
		if !ok {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgPrice, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		out = append(out, domain.LivePosition{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			UnrealizedPnL: pnl,
			Leverage:      lev,
		})
	}
	return out, nil
}

// ClosePosition submits a reduce-only market order on the opposite side of
// the position and returns the exchange order id.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side domain.Side, qty float64) (string, error) {
	body := map[string]any{
		"category":   categoryLinear,
		"symbol":     c.ToExchangeSymbol(symbol),
		"side":       toExchangeSide(opposite(side)),
		"orderType":  "Market",
		"qty":        strconv.FormatFloat(qty, 'f', -1, 64),
		"reduceOnly": true,
	}

	var resp orderCreateResponse
	if err := c.post(ctx, "/v5/order/create", body, &resp); err != nil {
		return "", err
	}
	return resp.Result.OrderID, nil
}

// CurrentPrice returns the last traded price for a symbol.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", c.ToExchangeSymbol(symbol))

	var resp tickerResponse
	if err := c.get(ctx, "/v5/market/tickers", query, &resp); err != nil {
		return 0, err
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("bybit: no ticker data for %s", symbol)
	}
	price, err := strconv.ParseFloat(resp.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit: parse last price for %s: %w", symbol, err)
	}
	return price, nil
}

// RealizedPnL looks up the settled P&L for a closing order via the
// closed-pnl endpoint.
func (c *Client) RealizedPnL(ctx context.Context, orderID, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", c.ToExchangeSymbol(symbol))
	query.Set("limit", "50")

	var resp closedPnlResponse
	if err := c.get(ctx, "/v5/position/closed-pnl", query, &resp); err != nil {
		return 0, err
	}
	for _, entry := range resp.Result.List {
		if entry.OrderID != orderID {
			continue
		}
		pnl, err := strconv.ParseFloat(entry.ClosedPnl, 64)
		if err != nil {
			return 0, fmt.Errorf("bybit: parse closed pnl for order %s: %w", orderID, err)
		}
		return pnl, nil
	}
	return 0, fmt.Errorf("bybit: closed pnl for order %s: %w", orderID, domain.ErrNotFound)
}

// --------------------------------------------------------------------------
// Request plumbing
// --------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{ envelope() (int, string) }) error {
	if !c.Configured() {
		return domain.ErrMissingCredentials
	}

	rawQuery := query.Encode()
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	sig := sign(c.apiSecret, ts, c.apiKey, rawQuery)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+rawQuery, nil)
	if err != nil {
		return fmt.Errorf("bybit: create request: %w", err)
	}
	setAuthHeaders(req, c.apiKey, ts, sig)

	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out interface{ envelope() (int, string) }) error {
	if !c.Configured() {
		return domain.ErrMissingCredentials
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bybit: marshal body: %w", err)
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	sig := sign(c.apiSecret, ts, c.apiKey, string(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("bybit: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuthHeaders(req, c.apiKey, ts, sig)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{ envelope() (int, string) }) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bybit: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("bybit: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bybit: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("bybit: unmarshal response: %w", err)
	}
	if code, msg := out.envelope(); code != 0 {
		return fmt.Errorf("%w: retCode=%d %s", domain.ErrExchangeAPI, code, msg)
	}
	return nil
}

// envelope exposes retCode/retMsg so do() can reject API-level failures.
func (r *baseResponse) envelope() (int, string) { return r.RetCode, r.RetMsg }

// --------------------------------------------------------------------------
// Side vocabulary mapping
// --------------------------------------------------------------------------

func toLedgerSide(s string) (domain.Side, bool) {
	switch s {
	case "Buy":
		return domain.SideBuy, true
	case "Sell":
		return domain.SideSell, true
	default:
		return "", false
	}
}

func toExchangeSide(s domain.Side) string {
	if s == domain.SideSell {
		return "Sell"
	}
	return "Buy"
}

func opposite(s domain.Side) domain.Side {
	if s == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

// Compile-time interface check.
var _ domain.Exchange = (*Client)(nil)
