// Package engine is the central orchestrator of the adaptive trading bot.
//
// It wires together all subsystems:
//
//  1. A single scheduler goroutine ticks every api_call_delay.
//  2. Each tick refreshes the balance, batch-fetches tickers, updates the
//     per-pair OHLC caches, and runs every CoinTrader.
//  3. CoinTrader classifies the regime, manages confirmation-gated
//     strategy switches, and emits buy/sell signals.
//  4. The coordinator enforces spot invariants against the store's
//     open-position row, sizes and normalizes orders, places them, and
//     records fills, positions, switches, and conditions durably.
//  5. Dashboard events and snapshots are published without blocking.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"kraken-adaptive/internal/analysis"
	"kraken-adaptive/internal/api"
	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/exchange"
	"kraken-adaptive/internal/market"
	"kraken-adaptive/internal/portfolio"
	"kraken-adaptive/internal/store"
	"kraken-adaptive/internal/strategy"
	"kraken-adaptive/pkg/types"
)

// balanceAsset is the quote asset the engine trades against.
const balanceAsset = "ZUSD"

// feeWait bounds the ledger poll after a live fill.
const feeWait = 10 * time.Second

// balanceLogEvery throttles the once-per-tick balance log line.
const balanceLogEvery = time.Minute

// Exchange is the client surface the coordinator consumes. Satisfied by
// *exchange.Client; tests substitute a scripted fake.
type Exchange interface {
	ServerTime(ctx context.Context) (time.Time, error)
	TradeBalance(ctx context.Context, asset string) (float64, error)
	Ticker(ctx context.Context, pairs []string) (map[string]types.Ticker, error)
	OHLC(ctx context.Context, pair string, interval int, since int64) ([]types.Candle, int64, error)
	AssetPairRules(ctx context.Context, pair string) (types.AssetPairRules, error)
	AddOrder(ctx context.Context, pair string, side types.Side, ordertype types.OrderType, order exchange.NormalizedOrder) (string, error)
	CancelAllOrders(ctx context.Context) (int, error)
	GetTradeActualFee(ctx context.Context, txid string, timeout time.Duration) (float64, error)
	DryRun() bool
}

// Engine is the multi-instrument execution coordinator. All trading
// state (traders, caches, balance, last signals) is owned by the
// scheduler goroutine; the dashboard reads only through the published
// snapshot and the event channel.
type Engine struct {
	cfg      config.Config
	client   Exchange
	store    *store.Store
	sizer    *portfolio.Sizer
	fees     *portfolio.FeeCalculator
	analyzer *analysis.Analyzer
	selector *strategy.Selector
	logger   *slog.Logger

	pairs       []string
	traders     map[string]*CoinTrader
	caches      map[string]*market.OHLCCache
	tickers     map[string]types.Ticker
	lastSignals map[string]types.Signal

	balance    float64
	lastBalLog time.Time
	startedAt  time.Time
	now        func() time.Time

	// events is nil when the dashboard is disabled.
	events chan api.DashboardEvent

	snapMu sync.RWMutex
	latest api.EngineSnapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, client Exchange, st *store.Store, logger *slog.Logger) *Engine {
	analyzer := analysis.New(cfg.Analyzer, logger)
	selector := strategy.NewSelector(cfg.Strategy, cfg.Trading, logger)

	traders := make(map[string]*CoinTrader, len(cfg.Trading.Pairs))
	caches := make(map[string]*market.OHLCCache, len(cfg.Trading.Pairs))
	for _, pair := range cfg.Trading.Pairs {
		traders[pair] = NewCoinTrader(pair, cfg.Trading, analyzer, selector, logger)
		caches[pair] = market.NewOHLCCache(pair, cfg.Trading.OHLCInterval, market.DefaultMaxCandles)
	}

	var events chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		events = make(chan api.DashboardEvent, 100)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:         cfg,
		client:      client,
		store:       st,
		sizer:       portfolio.NewSizer(cfg.Portfolio, logger),
		fees:        portfolio.NewFeeCalculator(cfg.Fees),
		analyzer:    analyzer,
		selector:    selector,
		logger:      logger.With("component", "engine"),
		pairs:       cfg.Trading.Pairs,
		traders:     traders,
		caches:      caches,
		tickers:     make(map[string]types.Ticker),
		lastSignals: make(map[string]types.Signal),
		now:         time.Now,
		events:      events,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the scheduler goroutine. In live mode it pauses first
// so an operator can abort before real orders go out.
func (e *Engine) Start() error {
	e.startedAt = e.now()

	if !e.client.DryRun() {
		e.logger.Warn("LIVE TRADING MODE: real orders will be placed in 5s (Ctrl-C to abort)")
		select {
		case <-e.ctx.Done():
			return e.ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}

	if t, err := e.client.ServerTime(e.ctx); err != nil {
		e.logger.Warn("server time check failed", "error", err)
	} else {
		e.logger.Info("exchange reachable", "server_time", t.UTC().Format(time.RFC3339))
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()

	e.logger.Info("engine started",
		"pairs", e.pairs,
		"interval_min", e.cfg.Trading.OHLCInterval,
		"dry_run", e.client.DryRun())
	return nil
}

// Stop cancels the scheduler, waits for the current tick to finish, and
// in live mode sends a best-effort cancel-all for resting limit orders.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()

	if !e.client.DryRun() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if n, err := e.client.CancelAllOrders(ctx); err != nil {
			e.logger.Error("cancel-all on shutdown failed", "error", err)
		} else if n > 0 {
			e.logger.Info("open orders cancelled", "count", n)
		}
	}

	if e.events != nil {
		close(e.events)
	}
	e.logger.Info("shutdown complete")
}

// Events returns the dashboard event channel (nil when disabled).
func (e *Engine) Events() <-chan api.DashboardEvent {
	return e.events
}

// run is the scheduler loop. One tick, then sleep api_call_delay.
func (e *Engine) run() {
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		e.tick(e.ctx)

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(e.cfg.Trading.APICallDelay):
		}
	}
}

// tick drives one full pass over all pairs.
func (e *Engine) tick(ctx context.Context) {
	e.refreshBalance(ctx)

	tickers, err := e.client.Ticker(ctx, e.pairs)
	if err != nil {
		e.logger.Error("ticker fetch failed", "error", err)
		return
	}
	e.tickers = tickers

	for _, pair := range e.pairs {
		if ctx.Err() != nil {
			return
		}
		e.processPair(ctx, pair)
	}

	e.publishSnapshot()
}

// refreshBalance updates the cached quote balance. Failures keep the
// previous value; the info line is throttled.
func (e *Engine) refreshBalance(ctx context.Context) {
	bal, err := e.client.TradeBalance(ctx, balanceAsset)
	if err != nil {
		e.logger.Warn("balance refresh failed, keeping cached value",
			"cached", e.balance, "error", err)
		return
	}
	e.balance = bal
	if now := e.now(); now.Sub(e.lastBalLog) >= balanceLogEvery {
		e.logger.Info("account balance", "asset", balanceAsset, "balance", bal)
		e.lastBalLog = now
	}
}

// processPair updates one pair's candles, runs its trader, and executes
// any resulting signal.
func (e *Engine) processPair(ctx context.Context, pair string) {
	tk, ok := e.tickers[pair]
	if !ok {
		e.logger.Warn("no ticker for pair, skipping", "pair", pair)
		return
	}

	cache := e.caches[pair]
	rows, last, err := e.client.OHLC(ctx, pair, e.cfg.Trading.OHLCInterval, cache.Since())
	if err != nil {
		e.logger.Error("ohlc fetch failed", "pair", pair, "error", err)
		return
	}
	cache.Update(rows, last)

	series, ok := cache.Series()
	if !ok {
		return
	}

	trader := e.traders[pair]
	res := trader.Analyze(series)

	if res.Switch != nil {
		if _, err := e.store.RecordSwitch(ctx, res.Switch); err != nil {
			e.logger.Error("switch record failed", "pair", pair, "error", err)
		}
		e.emit(api.NewSwitchEvent(res.Switch))
	}

	if res.FreshAnalysis && res.Condition != nil {
		if err := e.store.RecordCondition(ctx, pair, res.Condition, tk.Last, tk.Volume,
			res.Condition.State.Recommended(), trader.Strategy()); err != nil {
			e.logger.Error("condition record failed", "pair", pair, "error", err)
		}
		e.emit(api.NewConditionEvent(pair, res.Condition))
	}

	if res.Signal == types.SignalNone {
		return
	}

	// A strategy repeating the same verdict every candle is one trading
	// decision, not many.
	if e.lastSignals[pair] == res.Signal {
		e.logger.Debug("duplicate signal suppressed", "pair", pair, "signal", res.Signal)
		return
	}
	e.lastSignals[pair] = res.Signal

	e.emit(api.NewSignalEvent(pair, trader.Strategy(), res.Signal, tk.Last, res.Condition))
	e.executeSignal(ctx, pair, trader, res.Signal, tk.Last, res.Condition)
}

// executeSignal applies the spot invariants and exit gates, then routes
// to entry or exit execution.
func (e *Engine) executeSignal(ctx context.Context, pair string, trader *CoinTrader, sig types.Signal, price float64, cond *types.MarketCondition) {
	open, err := e.store.GetOpenPosition(ctx, pair)
	if err != nil {
		e.logger.Error("open-position lookup failed", "pair", pair, "error", err)
		return
	}

	switch sig {
	case types.SignalBuy:
		if open != nil {
			e.logger.Debug("buy skipped, position already open",
				"pair", pair, "position_id", open.ID)
			return
		}
		e.openTrade(ctx, pair, trader, price, cond)

	case types.SignalSell:
		if open == nil {
			e.logger.Debug("sell skipped, no open position", "pair", pair)
			return
		}
		if !e.exitAllowed(open, price) {
			return
		}
		e.closeTrade(ctx, pair, trader, open, price, cond)
	}
}

// exitAllowed applies the MACD-only profitable-exit gate: a winning MACD
// exit must satisfy the minimum hold time and the minimum net profit
// target. Losing exits always pass so the cross can cut a bad trade.
func (e *Engine) exitAllowed(open *types.Position, price float64) bool {
	if open.Strategy != types.StrategyMACD {
		return true
	}
	net := (price-open.EntryPrice)/open.EntryPrice - e.fees.BreakevenFraction(false)
	if net <= 0 {
		return true
	}
	if held := e.now().Sub(open.EntryTime); held < e.cfg.Trading.MinHoldTime {
		e.logger.Info("macd exit deferred",
			"pair", open.Symbol, "reason", "min hold", "held", held, "net", net)
		return false
	}
	if price < e.fees.MinTargetPrice(open.EntryPrice, open.PositionType, e.cfg.Trading.MinProfitTarget) {
		e.logger.Info("macd exit deferred",
			"pair", open.Symbol, "reason", "below profit target", "net", net)
		return false
	}
	return true
}

// maxPositionPct resolves the per-pair position cap, falling back to the
// global max_per_coin.
func (e *Engine) maxPositionPct(pair string) float64 {
	if ov, ok := e.cfg.Trading.PairOverrides[pair]; ok && ov.MaxPositionPct > 0 {
		return ov.MaxPositionPct
	}
	return e.cfg.Portfolio.MaxPerCoin
}

// openNotional sums the entry value of every open position. Used by the
// pct sizing mode to compute exposure headroom.
func (e *Engine) openNotional(ctx context.Context) float64 {
	var total float64
	for _, pair := range e.pairs {
		p, err := e.store.GetOpenPosition(ctx, pair)
		if err != nil {
			e.logger.Warn("open notional lookup failed", "pair", pair, "error", err)
			continue
		}
		if p != nil {
			total += p.Notional()
		}
	}
	return total
}

// openTrade sizes, normalizes, places, and records an entry.
func (e *Engine) openTrade(ctx context.Context, pair string, trader *CoinTrader, price float64, cond *types.MarketCondition) {
	rules, err := e.client.AssetPairRules(ctx, pair)
	if err != nil {
		e.logger.Error("pair rules unavailable", "pair", pair, "error", err)
		return
	}

	quote := e.sizer.QuoteAllocation(e.balance, len(e.pairs), e.maxPositionPct(pair), e.openNotional(ctx))
	if quote <= 0 || price <= 0 {
		e.logger.Warn("no quote budget for entry", "pair", pair, "quote", quote)
		return
	}
	e.logger.Debug("entry sized",
		"pair", pair, "quote", quote, "est_round_trip_fee", e.fees.RoundTrip(quote, false))

	norm, err := exchange.NormalizeOrder(rules, types.OrderLimit, quote/price, &price, &price)
	if err != nil {
		e.logger.Warn("entry order rejected by normalization",
			"pair", pair, "quote", quote, "price", price, "error", err)
		return
	}

	txid, err := e.client.AddOrder(ctx, pair, types.Buy, types.OrderLimit, norm)
	if err != nil {
		e.logger.Error("entry order failed", "pair", pair, "error", err)
		return
	}

	execPrice := price
	if norm.Price != nil {
		execPrice, _ = norm.Price.Float64()
	}
	volume, _ := norm.Volume.Float64()
	value := execPrice * volume
	fee := e.resolveFee(ctx, txid, value)

	now := e.now()
	state := ""
	if cond != nil {
		state = string(cond.State)
	}

	pos := &types.Position{
		Symbol:       pair,
		Strategy:     trader.Strategy(),
		MarketState:  state,
		PositionType: types.Long,
		EntryTime:    now,
		EntryPrice:   execPrice,
		EntryVolume:  volume,
		EntryFee:     fee,
		Status:       types.PositionOpen,
		DryRun:       e.client.DryRun(),
	}
	entry := &types.Trade{
		Timestamp:    now,
		Symbol:       pair,
		Strategy:     trader.Strategy(),
		MarketState:  state,
		TradeType:    types.TradeEntry,
		PositionType: types.Long,
		Side:         types.Buy,
		Price:        execPrice,
		Volume:       volume,
		Value:        value,
		Fee:          fee,
		FeeCurrency:  balanceAsset,
		TxID:         txid,
		DryRun:       e.client.DryRun(),
	}

	if err := e.store.OpenPosition(ctx, pos, entry); err != nil {
		e.logger.Error("entry persist failed", "pair", pair, "txid", txid, "error", err)
		// The fill happened on the venue; keep the leg in the ledger
		// even without a position row.
		entry.Notes = "position insert failed"
		if _, rerr := e.store.RecordTrade(ctx, entry); rerr != nil {
			e.logger.Error("orphan entry record failed", "pair", pair, "txid", txid, "error", rerr)
		}
		return
	}

	trader.RecordEntry(entry)
	e.emit(api.NewTradeEvent(entry, nil))
	e.logger.Info("position opened",
		"pair", pair,
		"strategy", trader.Strategy(),
		"price", execPrice,
		"volume", volume,
		"value", value,
		"fee", fee,
		"txid", txid,
		"dry_run", e.client.DryRun())
}

// closeTrade places and records the exit for an open position.
func (e *Engine) closeTrade(ctx context.Context, pair string, trader *CoinTrader, open *types.Position, price float64, cond *types.MarketCondition) {
	rules, err := e.client.AssetPairRules(ctx, pair)
	if err != nil {
		e.logger.Error("pair rules unavailable", "pair", pair, "error", err)
		return
	}

	norm, err := exchange.NormalizeOrder(rules, types.OrderLimit, open.EntryVolume, &price, &price)
	if err != nil {
		e.logger.Warn("exit order rejected by normalization",
			"pair", pair, "volume", open.EntryVolume, "price", price, "error", err)
		return
	}

	txid, err := e.client.AddOrder(ctx, pair, types.Sell, types.OrderLimit, norm)
	if err != nil {
		e.logger.Error("exit order failed", "pair", pair, "error", err)
		return
	}

	execPrice := price
	if norm.Price != nil {
		execPrice, _ = norm.Price.Float64()
	}
	volume, _ := norm.Volume.Float64()
	value := execPrice * volume
	fee := e.resolveFee(ctx, txid, value)

	state := ""
	if cond != nil {
		state = string(cond.State)
	}

	exit := &types.Trade{
		Timestamp:    e.now(),
		Symbol:       pair,
		Strategy:     open.Strategy,
		MarketState:  state,
		TradeType:    types.TradeExit,
		PositionType: open.PositionType,
		Side:         types.Sell,
		Price:        execPrice,
		Volume:       volume,
		Value:        value,
		Fee:          fee,
		FeeCurrency:  balanceAsset,
		TxID:         txid,
		DryRun:       open.DryRun,
	}

	closed, err := e.store.ClosePosition(ctx, open.ID, exit)
	if err != nil {
		e.logger.Error("exit persist failed", "pair", pair, "txid", txid, "error", err)
		exit.PositionID = &open.ID
		exit.Notes = "position close failed"
		if _, rerr := e.store.RecordTrade(ctx, exit); rerr != nil {
			e.logger.Error("orphan exit record failed", "pair", pair, "txid", txid, "error", rerr)
		}
		return
	}

	trader.RecordExit(closed, exit)
	e.emit(api.NewTradeEvent(exit, closed.NetPnL))
	e.logger.Info("position closed",
		"pair", pair,
		"strategy", open.Strategy,
		"entry", open.EntryPrice,
		"exit", execPrice,
		"volume", volume,
		"net_pnl", types.Metric(closed.NetPnL),
		"pnl_pct", types.Metric(closed.PnLPercent),
		"txid", txid,
		"dry_run", open.DryRun)
}

// resolveFee returns the actual fee from the ledger for live fills, the
// taker estimate for dry runs. The ledger entry can lag the fill; when
// the poll deadline passes the zero fee is recorded as-is so the row
// never carries an invented number.
func (e *Engine) resolveFee(ctx context.Context, txid string, value float64) float64 {
	if e.client.DryRun() || !e.cfg.Fees.TrackFees {
		return e.fees.Fee(value, false)
	}
	fee, err := e.client.GetTradeActualFee(ctx, txid, feeWait)
	if err != nil {
		e.logger.Warn("fee lookup failed, recording zero fee", "txid", txid, "error", err)
		return 0
	}
	if fee == 0 {
		e.logger.Warn("fee not settled within deadline, recording zero fee", "txid", txid)
	}
	return fee
}

// emit pushes a dashboard event without blocking; a slow or absent
// dashboard never stalls trading.
func (e *Engine) emit(evt api.DashboardEvent) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- evt:
	default:
	}
}

// publishSnapshot rebuilds the dashboard snapshot from trader stats and
// the store's open rows, then swaps it into the latest-snapshot cell.
func (e *Engine) publishSnapshot() {
	now := e.now()
	snap := api.EngineSnapshot{
		Timestamp: now,
		StartedAt: e.startedAt,
		UptimeSec: now.Sub(e.startedAt).Seconds(),
		DryRun:    e.client.DryRun(),
		Balance:   e.balance,
		Pairs:     make([]api.PairStatus, 0, len(e.pairs)),
		Config:    api.NewConfigSummary(e.cfg),
	}

	for _, pair := range e.pairs {
		st := e.traders[pair].Stats()
		ps := api.PairStatus{
			Symbol:        pair,
			Strategy:      string(st.Strategy),
			MarketState:   string(st.State),
			Confidence:    st.Confidence,
			LastPrice:     e.tickers[pair].Last,
			Candles:       e.caches[pair].Len(),
			LastAnalysis:  st.LastAnalysis,
			Trades:        st.Trades,
			Wins:          st.Wins,
			GrossPnL:      st.GrossPnL,
			NetPnL:        st.NetPnL,
			Fees:          st.Fees,
			Volume:        st.Volume,
			SwitchesToday: st.SwitchesToday,
		}
		if st.Trades > 0 {
			ps.WinRate = float64(st.Wins) / float64(st.Trades) * 100
		}

		if open, err := e.store.GetOpenPosition(e.ctx, pair); err == nil && open != nil {
			cur := e.tickers[pair].Last
			// Unrealized P&L nets out the actual entry fee and an
			// estimated exit fee at the current price.
			_, _, unrealized := e.fees.NetPnL(open.EntryPrice, cur, open.EntryVolume,
				open.PositionType, &open.EntryFee, nil)
			ps.Position = &api.OpenPositionStatus{
				ID:            open.ID,
				Strategy:      string(open.Strategy),
				EntryTime:     open.EntryTime,
				EntryPrice:    open.EntryPrice,
				Volume:        open.EntryVolume,
				EntryFee:      open.EntryFee,
				CurrentPrice:  cur,
				UnrealizedPnL: unrealized,
				DryRun:        open.DryRun,
			}
		}

		snap.TotalTrades += st.Trades
		snap.TotalGrossPnL += st.GrossPnL
		snap.TotalNetPnL += st.NetPnL
		snap.TotalFees += st.Fees
		snap.Pairs = append(snap.Pairs, ps)
	}

	e.snapMu.Lock()
	e.latest = snap
	e.snapMu.Unlock()

	e.emit(api.DashboardEvent{Type: api.EventSnapshot, Timestamp: now, Data: snap})
}

// Snapshot returns the most recently published snapshot.
func (e *Engine) Snapshot() api.EngineSnapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.latest
}
