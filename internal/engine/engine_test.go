package engine

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/exchange"
	"kraken-adaptive/internal/store"
	"kraken-adaptive/pkg/types"
)

type placedOrder struct {
	pair  string
	side  types.Side
	order exchange.NormalizedOrder
}

// fakeExchange satisfies Exchange with canned responses and records
// every order it receives.
type fakeExchange struct {
	dryRun  bool
	balance float64
	rules   types.AssetPairRules
	fee     float64
	orders  []placedOrder
}

func (f *fakeExchange) ServerTime(context.Context) (time.Time, error) { return time.Now(), nil }

func (f *fakeExchange) TradeBalance(context.Context, string) (float64, error) {
	return f.balance, nil
}

func (f *fakeExchange) Ticker(context.Context, []string) (map[string]types.Ticker, error) {
	return map[string]types.Ticker{}, nil
}

func (f *fakeExchange) OHLC(context.Context, string, int, int64) ([]types.Candle, int64, error) {
	return nil, 0, nil
}

func (f *fakeExchange) AssetPairRules(context.Context, string) (types.AssetPairRules, error) {
	return f.rules, nil
}

func (f *fakeExchange) AddOrder(_ context.Context, pair string, side types.Side, _ types.OrderType, order exchange.NormalizedOrder) (string, error) {
	f.orders = append(f.orders, placedOrder{pair: pair, side: side, order: order})
	return fmt.Sprintf("TX-%d", len(f.orders)), nil
}

func (f *fakeExchange) CancelAllOrders(context.Context) (int, error) { return 0, nil }

func (f *fakeExchange) GetTradeActualFee(context.Context, string, time.Duration) (float64, error) {
	return f.fee, nil
}

func (f *fakeExchange) DryRun() bool { return f.dryRun }

func testRules() types.AssetPairRules {
	tick := decimal.RequireFromString("0.1")
	ordermin := decimal.RequireFromString("0.0001")
	costmin := decimal.RequireFromString("0.5")
	return types.AssetPairRules{
		LotDecimals:  8,
		PairDecimals: 1,
		TickSize:     &tick,
		OrderMin:     &ordermin,
		CostMin:      &costmin,
	}
}

func testEngineConfig() config.Config {
	return config.Config{
		DryRun:  true,
		Trading: testTradingConfig(),
		Portfolio: config.PortfolioConfig{
			SizingMode:       "equal",
			MaxTotalExposure: 100,
			MaxPerCoin:       50,
			FeeBufferPct:     1,
		},
		Fees:     config.FeeConfig{MakerFee: 0.0016, TakerFee: 0.0026, TrackFees: true},
		Strategy: testStrategyConfig(),
		Analyzer: config.AnalyzerConfig{
			ADXPeriod: 14, ATRPeriod: 14, RangePeriod: 20,
			ChoppinessPeriod: 14, SlopePeriod: 10,
		},
	}
}

// newTestEngine wires an engine over a fake exchange and a temp store.
// The returned clock pointer controls the engine's wall time.
func newTestEngine(t *testing.T, fake *fakeExchange) (*Engine, *time.Time) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "trader.db"), testLogger())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	e := New(testEngineConfig(), fake, st, testLogger())
	e.balance = 1000

	clock := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }
	return e, &clock
}

func TestBuyOpensPosition(t *testing.T) {
	t.Parallel()

	fake := &fakeExchange{dryRun: true, balance: 1000, rules: testRules()}
	e, _ := newTestEngine(t, fake)
	tr := e.traders["XBTUSD"]
	tr.currentKind = types.StrategyGrid

	cond := &types.MarketCondition{State: types.StateLowVolatility}
	e.executeSignal(context.Background(), "XBTUSD", tr, types.SignalBuy, 100.0, cond)

	if len(fake.orders) != 1 {
		t.Fatalf("orders placed = %d, want 1", len(fake.orders))
	}
	if fake.orders[0].side != types.Buy {
		t.Fatalf("order side = %q, want buy", fake.orders[0].side)
	}
	// Equal split 990 capped by max_per_coin to 500 quote; 5.0 base at 100.
	if got := fake.orders[0].order.Volume.String(); got != "5" {
		t.Fatalf("order volume = %s, want 5", got)
	}

	open, err := e.store.GetOpenPosition(context.Background(), "XBTUSD")
	if err != nil || open == nil {
		t.Fatalf("open position after buy: %v, %v", open, err)
	}
	if open.EntryPrice != 100 || open.EntryVolume != 5 {
		t.Fatalf("entry %v @ %v, want 5 @ 100", open.EntryVolume, open.EntryPrice)
	}
	// Dry run estimates the taker fee: 500 * 0.0026.
	if math.Abs(open.EntryFee-1.3) > 1e-9 {
		t.Fatalf("entry fee = %v, want 1.3", open.EntryFee)
	}
	if !open.DryRun {
		t.Fatalf("position must carry the dry-run flag")
	}
}

func TestBuySkippedWhenPositionOpen(t *testing.T) {
	t.Parallel()

	fake := &fakeExchange{dryRun: true, balance: 1000, rules: testRules()}
	e, _ := newTestEngine(t, fake)
	tr := e.traders["XBTUSD"]
	tr.currentKind = types.StrategyGrid

	ctx := context.Background()
	e.executeSignal(ctx, "XBTUSD", tr, types.SignalBuy, 100.0, nil)
	e.executeSignal(ctx, "XBTUSD", tr, types.SignalBuy, 101.0, nil)

	if len(fake.orders) != 1 {
		t.Fatalf("orders placed = %d, want 1 (second buy gated)", len(fake.orders))
	}
}

func TestSellSkippedWhenFlat(t *testing.T) {
	t.Parallel()

	fake := &fakeExchange{dryRun: true, balance: 1000, rules: testRules()}
	e, _ := newTestEngine(t, fake)
	tr := e.traders["XBTUSD"]
	tr.currentKind = types.StrategyGrid

	e.executeSignal(context.Background(), "XBTUSD", tr, types.SignalSell, 100.0, nil)

	if len(fake.orders) != 0 {
		t.Fatalf("orders placed = %d, want 0 (never short)", len(fake.orders))
	}
}

func TestSellClosesPositionWithPnL(t *testing.T) {
	t.Parallel()

	fake := &fakeExchange{dryRun: true, balance: 1000, rules: testRules()}
	e, clock := newTestEngine(t, fake)
	tr := e.traders["XBTUSD"]
	tr.currentKind = types.StrategyGrid

	ctx := context.Background()
	e.executeSignal(ctx, "XBTUSD", tr, types.SignalBuy, 100.0, nil)
	*clock = clock.Add(time.Hour)
	e.executeSignal(ctx, "XBTUSD", tr, types.SignalSell, 110.0, nil)

	if len(fake.orders) != 2 {
		t.Fatalf("orders placed = %d, want 2", len(fake.orders))
	}

	open, err := e.store.GetOpenPosition(ctx, "XBTUSD")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if open != nil {
		t.Fatalf("position still open after sell")
	}

	st := tr.Stats()
	if st.Trades != 2 {
		t.Fatalf("trades = %d, want 2", st.Trades)
	}
	// gross (110-100)*5 = 50; fees 1.3 entry + 1.43 exit.
	if st.GrossPnL != 50 {
		t.Fatalf("gross = %v, want 50", st.GrossPnL)
	}
	if st.Wins != 1 {
		t.Fatalf("wins = %d, want 1", st.Wins)
	}
}

func TestMACDGateDefersEarlyProfitableExit(t *testing.T) {
	t.Parallel()

	fake := &fakeExchange{dryRun: true, balance: 1000, rules: testRules()}
	e, clock := newTestEngine(t, fake)
	tr := e.traders["XBTUSD"]
	tr.currentKind = types.StrategyMACD

	ctx := context.Background()
	pos := &types.Position{
		Symbol:       "XBTUSD",
		Strategy:     types.StrategyMACD,
		PositionType: types.Long,
		EntryTime:    *clock,
		EntryPrice:   100,
		EntryVolume:  5,
		EntryFee:     1.3,
		Status:       types.PositionOpen,
		DryRun:       true,
	}
	entry := &types.Trade{
		Timestamp: *clock, Symbol: "XBTUSD", Strategy: types.StrategyMACD,
		TradeType: types.TradeEntry, PositionType: types.Long, Side: types.Buy,
		Price: 100, Volume: 5, Value: 500, Fee: 1.3, DryRun: true,
	}
	if err := e.store.OpenPosition(ctx, pos, entry); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	// Profitable exit one minute in: blocked by min hold.
	*clock = clock.Add(time.Minute)
	e.executeSignal(ctx, "XBTUSD", tr, types.SignalSell, 110.0, nil)
	if len(fake.orders) != 0 {
		t.Fatalf("profitable MACD exit executed before min hold")
	}

	// Same exit past the hold window passes both gates.
	*clock = clock.Add(time.Hour)
	e.executeSignal(ctx, "XBTUSD", tr, types.SignalSell, 110.0, nil)
	if len(fake.orders) != 1 {
		t.Fatalf("orders = %d, want 1 after hold elapsed", len(fake.orders))
	}
}

func TestMACDGateAllowsLosingExit(t *testing.T) {
	t.Parallel()

	fake := &fakeExchange{dryRun: true, balance: 1000, rules: testRules()}
	e, clock := newTestEngine(t, fake)
	tr := e.traders["XBTUSD"]
	tr.currentKind = types.StrategyMACD

	ctx := context.Background()
	pos := &types.Position{
		Symbol:       "XBTUSD",
		Strategy:     types.StrategyMACD,
		PositionType: types.Long,
		EntryTime:    *clock,
		EntryPrice:   100,
		EntryVolume:  5,
		Status:       types.PositionOpen,
		DryRun:       true,
	}
	entry := &types.Trade{
		Timestamp: *clock, Symbol: "XBTUSD", Strategy: types.StrategyMACD,
		TradeType: types.TradeEntry, PositionType: types.Long, Side: types.Buy,
		Price: 100, Volume: 5, Value: 500, DryRun: true,
	}
	if err := e.store.OpenPosition(ctx, pos, entry); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	// A losing cross exits immediately, min hold notwithstanding.
	e.executeSignal(ctx, "XBTUSD", tr, types.SignalSell, 95.0, nil)
	if len(fake.orders) != 1 {
		t.Fatalf("losing MACD exit blocked, orders = %d", len(fake.orders))
	}

	open, err := e.store.GetOpenPosition(ctx, "XBTUSD")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if open != nil {
		t.Fatalf("position still open after losing exit")
	}
}

func TestSnapshotPublishing(t *testing.T) {
	t.Parallel()

	fake := &fakeExchange{dryRun: true, balance: 1000, rules: testRules()}
	e, _ := newTestEngine(t, fake)
	e.tickers = map[string]types.Ticker{"XBTUSD": {Symbol: "XBTUSD", Last: 123.4}}

	e.publishSnapshot()

	snap := e.Snapshot()
	if !snap.DryRun {
		t.Fatalf("snapshot dry_run = false, want true")
	}
	if snap.Balance != 1000 {
		t.Fatalf("snapshot balance = %v, want 1000", snap.Balance)
	}
	if len(snap.Pairs) != 1 || snap.Pairs[0].Symbol != "XBTUSD" {
		t.Fatalf("snapshot pairs = %+v", snap.Pairs)
	}
	if snap.Pairs[0].LastPrice != 123.4 {
		t.Fatalf("last price = %v, want 123.4", snap.Pairs[0].LastPrice)
	}
}

func TestSnapshotUnrealizedPnLNetOfFees(t *testing.T) {
	t.Parallel()

	fake := &fakeExchange{dryRun: true, balance: 1000, rules: testRules()}
	e, _ := newTestEngine(t, fake)
	tr := e.traders["XBTUSD"]
	tr.currentKind = types.StrategyGrid

	// Entry 5.0 @ 100 with a 1.3 estimated fee.
	cond := &types.MarketCondition{State: types.StateLowVolatility}
	e.executeSignal(context.Background(), "XBTUSD", tr, types.SignalBuy, 100.0, cond)

	e.tickers = map[string]types.Ticker{"XBTUSD": {Symbol: "XBTUSD", Last: 110}}
	e.publishSnapshot()

	snap := e.Snapshot()
	if len(snap.Pairs) != 1 || snap.Pairs[0].Position == nil {
		t.Fatalf("snapshot carries no open position: %+v", snap.Pairs)
	}
	// Gross 50, minus entry fee 1.3 and estimated exit fee 550*0.0026.
	want := 50.0 - 1.3 - 550*0.0026
	if got := snap.Pairs[0].Position.UnrealizedPnL; math.Abs(got-want) > 1e-9 {
		t.Fatalf("unrealized = %v, want %v", got, want)
	}
}
