package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestClient points a live-mode client at a stub exchange.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.ExchangeConfig{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		APISecret: "c2VjcmV0",
		Timeout:   5 * time.Second,
		RateLimit: 100,
	}, false, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestTickerResolvesLegacyKeys(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/0/public/Ticker" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("pair"); got != "XBTUSD,ETHUSD" {
			t.Errorf("pair param = %q", got)
		}
		fmt.Fprint(w, `{"error":[],"result":{
			"XXBTZUSD":{"c":["30123.4","0.1"],"h":["31000.0","31500.0"],"l":["29000.0","28500.0"],"v":["100.0","250.0"]},
			"XETHZUSD":{"c":["2000.5","1.0"],"h":["2100.0","2150.0"],"l":["1900.0","1850.0"],"v":["500.0","900.0"]}
		}}`)
	}))

	got, err := c.Ticker(context.Background(), []string{"XBTUSD", "ETHUSD"})
	if err != nil {
		t.Fatal(err)
	}
	btc, ok := got["XBTUSD"]
	if !ok {
		t.Fatal("XBTUSD missing from result")
	}
	if btc.Last != 30123.4 || btc.High != 31500.0 || btc.Low != 28500.0 || btc.Volume != 250.0 {
		t.Errorf("ticker = %+v", btc)
	}
	if got["ETHUSD"].Last != 2000.5 {
		t.Errorf("eth last = %v, want 2000.5", got["ETHUSD"].Last)
	}
}

func TestOHLCParsesRowsAndCursor(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":[],"result":{
			"XXBTZUSD":[
				[1688671200,"30306.1","30306.2","30305.7","30305.7","30306.1","3.39243896",23],
				[1688671500,"30305.7","30306.0","30300.0","30301.2","30303.5","1.10000000",10]
			],
			"last":1688671500
		}}`)
	}))

	candles, last, err := c.OHLC(context.Background(), "XBTUSD", 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if last != 1688671500 {
		t.Errorf("cursor = %d, want 1688671500", last)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}
	first := candles[0]
	if first.Time != 1688671200 || first.Open != 30306.1 || first.Close != 30305.7 || first.Count != 23 {
		t.Errorf("candle = %+v", first)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want error
	}{
		{"auth", `{"error":["EAPI:Invalid key"],"result":null}`, ErrAuth},
		{"pair", `{"error":["EQuery:Unknown asset pair"],"result":null}`, ErrInvalidPair},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			_, err := c.ServerTime(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAddOrderSendsSignedForm(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/0/private/AddOrder" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("API-Key") != "test-key" {
			t.Error("missing API-Key header")
		}
		if r.Header.Get("API-Sign") == "" {
			t.Error("missing API-Sign header")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("nonce") == "" {
			t.Error("missing nonce")
		}
		if got := r.PostForm.Get("pair"); got != "XBTUSD" {
			t.Errorf("pair = %q", got)
		}
		if got := r.PostForm.Get("type"); got != "buy" {
			t.Errorf("type = %q", got)
		}
		if got := r.PostForm.Get("volume"); got != "0.1" {
			t.Errorf("volume = %q", got)
		}
		if got := r.PostForm.Get("price"); got != "30000" {
			t.Errorf("price = %q", got)
		}
		fmt.Fprint(w, `{"error":[],"result":{"txid":["OABC12-DEF34-GHI56"],"descr":{"order":"buy 0.1 XBTUSD @ limit 30000"}}}`)
	}))

	order, err := NormalizeOrder(types.AssetPairRules{LotDecimals: 8, PairDecimals: 1}, types.OrderLimit, 0.1, fptr(30000), nil)
	if err != nil {
		t.Fatal(err)
	}
	txid, err := c.AddOrder(context.Background(), "XBTUSD", types.Buy, types.OrderLimit, order)
	if err != nil {
		t.Fatal(err)
	}
	if txid != "OABC12-DEF34-GHI56" {
		t.Errorf("txid = %q", txid)
	}
}

func TestAddOrderDryRunSkipsNetwork(t *testing.T) {
	t.Parallel()
	c, err := NewClient(config.ExchangeConfig{
		BaseURL:   "http://127.0.0.1:0", // unreachable on purpose
		APIKey:    "k",
		APISecret: "c2VjcmV0",
		RateLimit: 100,
	}, true, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	order, _ := NormalizeOrder(types.AssetPairRules{LotDecimals: 8}, types.OrderMarket, 0.1, nil, nil)
	txid, err := c.AddOrder(context.Background(), "XBTUSD", types.Buy, types.OrderMarket, order)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(txid, "DRYRUN-") {
		t.Errorf("txid = %q, want DRYRUN prefix", txid)
	}
}

func TestAssetPairRulesCached(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"error":[],"result":{
			"XXBTZUSD":{"altname":"XBTUSD","lot_decimals":8,"pair_decimals":1,"tick_size":"0.1","ordermin":"0.0001","costmin":"0.5"}
		}}`)
	}))

	for i := 0; i < 3; i++ {
		rules, err := c.AssetPairRules(context.Background(), "XBTUSD")
		if err != nil {
			t.Fatal(err)
		}
		if rules.LotDecimals != 8 || rules.OrderMin == nil {
			t.Errorf("rules = %+v", rules)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("fetches = %d, want 1", hits.Load())
	}
}

func TestGetTradeActualFee(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The fill settles into the ledger on the second poll.
		if calls.Add(1) == 1 {
			fmt.Fprint(w, `{"error":[],"result":{"ledger":{}}}`)
			return
		}
		fmt.Fprint(w, `{"error":[],"result":{"ledger":{
			"L1":{"refid":"OTHER-TX","type":"trade","fee":"9.99"},
			"L2":{"refid":"OABC12-DEF34-GHI56","type":"trade","fee":"0.78"}
		}}}`)
	}))

	fee, err := c.GetTradeActualFee(context.Background(), "OABC12-DEF34-GHI56", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if fee != 0.78 {
		t.Errorf("fee = %v, want 0.78", fee)
	}
}

func TestGetTradeActualFeeTimesOut(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":[],"result":{"ledger":{}}}`)
	}))

	fee, err := c.GetTradeActualFee(context.Background(), "NEVER-SETTLES", 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if fee != 0 {
		t.Errorf("fee = %v, want 0 on timeout", fee)
	}
}
