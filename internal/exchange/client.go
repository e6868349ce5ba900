// Package exchange implements the Kraken spot REST client.
//
// Public endpoints (market data):
//   - ServerTime:     GET  /0/public/Time       — clock check at startup
//   - Ticker:         GET  /0/public/Ticker     — batched last-trade view
//   - OHLC:           GET  /0/public/OHLC       — candle history per pair
//   - AssetPairRules: GET  /0/public/AssetPairs — order validation metadata
//
// Private endpoints (signed with API-Key / API-Sign headers):
//   - TradeBalance:      POST /0/private/TradeBalance
//   - AddOrder:          POST /0/private/AddOrder
//   - CancelAllOrders:   POST /0/private/CancelAll
//   - GetTradeActualFee: POST /0/private/Ledgers (polled)
//
// Every request is rate-limited through per-category TokenBuckets and
// retried with exponential backoff on transport errors and 5xx
// responses. Application-level errors in the response envelope are
// never retried. In dry-run mode the mutating methods log and return
// synthetic success without touching the network.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/pkg/types"
)

// feePollInterval is how often GetTradeActualFee re-reads the ledger.
const feePollInterval = 500 * time.Millisecond

// Client is the Kraken REST API client.
type Client struct {
	http   *resty.Client
	signer *Signer
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger

	mu    sync.Mutex
	rules map[string]types.AssetPairRules // per configured pair, fetched once
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.ExchangeConfig, dryRun bool, logger *slog.Logger) (*Client, error) {
	signer, err := NewSigner(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:   httpClient,
		signer: signer,
		rl:     NewRateLimiter(cfg.RateLimit),
		dryRun: dryRun,
		logger: logger.With("component", "exchange"),
		rules:  make(map[string]types.AssetPairRules),
	}, nil
}

// DryRun reports whether mutating calls are simulated.
func (c *Client) DryRun() bool { return c.dryRun }

// envelope is the fixed response wrapper around every endpoint.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// public performs a rate-limited GET against a public endpoint and
// decodes the result payload into out.
func (c *Client) public(ctx context.Context, endpoint string, query map[string]string, out any) error {
	if err := c.rl.Public.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get("/0/public/" + endpoint)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	return c.decode(endpoint, resp, out)
}

// private performs a rate-limited, signed POST against a private
// endpoint. The signature covers the exact form body sent.
func (c *Client) private(ctx context.Context, endpoint string, form url.Values, out any) error {
	if err := c.rl.Private.Wait(ctx); err != nil {
		return err
	}

	if form == nil {
		form = url.Values{}
	}
	nonce := c.signer.Nonce()
	form.Set("nonce", nonce)
	body := form.Encode()
	path := "/0/private/" + endpoint

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("API-Key", c.signer.Key()).
		SetHeader("API-Sign", c.signer.Sign(path, nonce, body)).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	return c.decode(endpoint, resp, out)
}

// decode unwraps the response envelope, classifying application errors.
func (c *Client) decode(endpoint string, resp *resty.Response, out any) error {
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode(), resp.String())
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%s: decode: %w", endpoint, err)
	}
	if len(env.Error) > 0 {
		return classifyAPIError(endpoint, env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", endpoint, err)
	}
	return nil
}

// ServerTime returns the exchange clock. Used at startup to verify
// connectivity before any signed call.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var result struct {
		Unixtime int64 `json:"unixtime"`
	}
	if err := c.public(ctx, "Time", nil, &result); err != nil {
		return time.Time{}, err
	}
	return time.Unix(result.Unixtime, 0), nil
}

// TradeBalance returns the account's equivalent balance in the given
// quote asset.
func (c *Client) TradeBalance(ctx context.Context, asset string) (float64, error) {
	form := url.Values{}
	if asset != "" {
		form.Set("asset", asset)
	}
	var result struct {
		EquivalentBalance string `json:"eb"`
	}
	if err := c.private(ctx, "TradeBalance", form, &result); err != nil {
		return 0, err
	}
	bal, err := strconv.ParseFloat(result.EquivalentBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("TradeBalance: parse %q: %w", result.EquivalentBalance, err)
	}
	return bal, nil
}

// wireTicker is one pair's entry in the Ticker response.
type wireTicker struct {
	C []string `json:"c"` // last trade [price, lot volume]
	H []string `json:"h"` // high [today, 24h]
	L []string `json:"l"` // low [today, 24h]
	V []string `json:"v"` // volume [today, 24h]
}

// Ticker fetches last-trade data for all pairs in one request. The
// result is keyed by the configured pair spelling; pairs missing from
// the response are absent from the map.
func (c *Client) Ticker(ctx context.Context, pairs []string) (map[string]types.Ticker, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	var result map[string]wireTicker
	query := map[string]string{"pair": strings.Join(pairs, ",")}
	if err := c.public(ctx, "Ticker", query, &result); err != nil {
		return nil, err
	}

	out := make(map[string]types.Ticker, len(pairs))
	for _, pair := range pairs {
		key, ok := matchPairKey(result, pair)
		if !ok {
			c.logger.Warn("pair missing from ticker response", "pair", pair)
			continue
		}
		w := result[key]
		t := types.Ticker{Symbol: pair}
		if len(w.C) > 0 {
			t.Last = parseFloat(w.C[0])
		}
		if len(w.H) > 1 {
			t.High = parseFloat(w.H[1])
		}
		if len(w.L) > 1 {
			t.Low = parseFloat(w.L[1])
		}
		if len(w.V) > 1 {
			t.Volume = parseFloat(w.V[1])
		}
		out[pair] = t
	}
	return out, nil
}

// OHLC fetches candles for one pair. since is the cursor returned by
// the previous call (0 for full history); the returned cursor feeds the
// next call. The final row is the still-forming candle.
func (c *Client) OHLC(ctx context.Context, pair string, interval int, since int64) ([]types.Candle, int64, error) {
	query := map[string]string{
		"pair":     pair,
		"interval": strconv.Itoa(interval),
	}
	if since > 0 {
		query["since"] = strconv.FormatInt(since, 10)
	}

	var result map[string]json.RawMessage
	if err := c.public(ctx, "OHLC", query, &result); err != nil {
		return nil, 0, err
	}

	var last int64
	if raw, ok := result["last"]; ok {
		if err := json.Unmarshal(raw, &last); err != nil {
			return nil, 0, fmt.Errorf("OHLC: decode cursor: %w", err)
		}
		delete(result, "last")
	}

	key, ok := matchPairKey(result, pair)
	if !ok {
		return nil, 0, fmt.Errorf("OHLC: %w: %s", ErrInvalidPair, pair)
	}

	// Rows mix raw numbers (time, trade count) and decimal strings.
	var rows [][]any
	if err := json.Unmarshal(result[key], &rows); err != nil {
		return nil, 0, fmt.Errorf("OHLC: decode rows: %w", err)
	}

	candles := make([]types.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 8 {
			continue
		}
		candles = append(candles, types.Candle{
			Time:   int64(anyFloat(row[0])),
			Open:   anyFloat(row[1]),
			High:   anyFloat(row[2]),
			Low:    anyFloat(row[3]),
			Close:  anyFloat(row[4]),
			VWAP:   anyFloat(row[5]),
			Volume: anyFloat(row[6]),
			Count:  int(anyFloat(row[7])),
		})
	}
	return candles, last, nil
}

// AssetPairRules returns the validation metadata for a pair, fetching
// it once and caching it for the process lifetime.
func (c *Client) AssetPairRules(ctx context.Context, pair string) (types.AssetPairRules, error) {
	c.mu.Lock()
	if rules, ok := c.rules[pair]; ok {
		c.mu.Unlock()
		return rules, nil
	}
	c.mu.Unlock()

	var result map[string]pairInfo
	if err := c.public(ctx, "AssetPairs", map[string]string{"pair": pair}, &result); err != nil {
		return types.AssetPairRules{}, err
	}
	info, ok := findPairInfo(result, pair)
	if !ok {
		return types.AssetPairRules{}, fmt.Errorf("AssetPairs: %w: %s", ErrInvalidPair, pair)
	}

	rules := rulesFromInfo(info)
	c.mu.Lock()
	c.rules[pair] = rules
	c.mu.Unlock()
	return rules, nil
}

// AddOrder places one normalized order and returns its transaction ID.
// In dry-run mode no request is made and a synthetic ID comes back.
func (c *Client) AddOrder(ctx context.Context, pair string, side types.Side, ordertype types.OrderType, order NormalizedOrder) (string, error) {
	if c.dryRun {
		txid := fmt.Sprintf("DRYRUN-%d", time.Now().UnixMilli())
		c.logger.Info("DRY-RUN: would place order",
			"pair", pair,
			"side", side,
			"ordertype", ordertype,
			"volume", order.Volume,
			"price", order.Price,
			"txid", txid,
		)
		return txid, nil
	}

	form := url.Values{}
	form.Set("pair", pair)
	form.Set("type", string(side))
	form.Set("ordertype", string(ordertype))
	form.Set("volume", order.Volume.String())
	if ordertype == types.OrderLimit && order.Price != nil {
		form.Set("price", order.Price.String())
	}

	var result struct {
		TxIDs []string `json:"txid"`
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
	}
	if err := c.private(ctx, "AddOrder", form, &result); err != nil {
		return "", err
	}
	if len(result.TxIDs) == 0 {
		return "", fmt.Errorf("AddOrder: no txid in response")
	}

	c.logger.Info("order placed", "pair", pair, "txid", result.TxIDs[0], "descr", result.Descr.Order)
	return result.TxIDs[0], nil
}

// CancelAllOrders cancels every open order and returns the count.
func (c *Client) CancelAllOrders(ctx context.Context) (int, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return 0, nil
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := c.private(ctx, "CancelAll", nil, &result); err != nil {
		return 0, err
	}
	c.logger.Warn("all orders cancelled", "count", result.Count)
	return result.Count, nil
}

// ledgerEntry is one row of the Ledgers response.
type ledgerEntry struct {
	RefID string `json:"refid"`
	Type  string `json:"type"`
	Fee   string `json:"fee"`
}

// GetTradeActualFee polls the trade ledger for the fee charged on a
// filled order. Fills can take a moment to settle into the ledger, so
// the poll repeats every 500ms up to the timeout; on timeout it returns
// 0 and logs a warning, and the caller falls back to an estimate.
func (c *Client) GetTradeActualFee(ctx context.Context, txid string, timeout time.Duration) (float64, error) {
	deadline := time.Now().Add(timeout)
	for {
		var result struct {
			Ledger map[string]ledgerEntry `json:"ledger"`
		}
		form := url.Values{}
		form.Set("type", "trade")
		if err := c.private(ctx, "Ledgers", form, &result); err != nil {
			return 0, err
		}
		for _, entry := range result.Ledger {
			if entry.RefID == txid {
				return parseFloat(entry.Fee), nil
			}
		}

		if time.Now().After(deadline) {
			c.logger.Warn("fee not found in ledger, falling back to estimate", "txid", txid)
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(feePollInterval):
		}
	}
}

// parseFloat converts a wire decimal string, returning 0 on garbage.
// The exchange formats all numbers as strings.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// anyFloat coerces an OHLC row cell to float64.
func anyFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		return parseFloat(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	}
	return 0
}
