package engine

import (
	"fmt"
	"log/slog"
	"time"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/strategy"
	"kraken-adaptive/pkg/types"
)

// classifier is the slice of the market analyzer the trader needs.
type classifier interface {
	RequiredPoints() int
	Analyze(symbol string, s types.Series) types.MarketCondition
}

// AnalysisResult is what one trader iteration hands back to the
// coordinator. The trader never touches the store; the coordinator
// persists the switch and condition rows so there is a single writer.
type AnalysisResult struct {
	Signal        types.Signal
	Condition     *types.MarketCondition
	FreshAnalysis bool
	Switch        *types.StrategySwitch
}

// CoinTrader is the per-instrument adaptive controller. It owns the
// regime confirmation state, the switch budget, and the active strategy
// instance for one pair. All methods are called from the scheduler
// goroutine only.
type CoinTrader struct {
	symbol   string
	cfg      config.TradingConfig
	analyzer classifier
	selector *strategy.Selector
	logger   *slog.Logger
	now      func() time.Time

	current     strategy.Strategy
	currentKind types.StrategyKind

	condition    *types.MarketCondition
	lastAnalysis time.Time

	pendingState  types.MarketState
	pendingCount  int
	lastSwitch    time.Time
	switchesToday int
	currentDay    string

	// Running totals for the live snapshot. Closed-trade truth lives in
	// the store; these only cover the current process lifetime.
	trades   int
	wins     int
	grossPnL float64
	netPnL   float64
	fees     float64
	volume   float64

	// Per-strategy counters, reset on each switch, recorded on the
	// switch row that retires the strategy.
	tradesWithCurrent int
	pnlWithCurrent    float64
}

// NewCoinTrader creates a controller for one pair. The analyzer and
// selector are shared across traders; confirmation and switch state are
// per-trader.
func NewCoinTrader(symbol string, cfg config.TradingConfig, analyzer classifier, selector *strategy.Selector, logger *slog.Logger) *CoinTrader {
	return &CoinTrader{
		symbol:   symbol,
		cfg:      cfg,
		analyzer: analyzer,
		selector: selector,
		logger:   logger.With("component", "trader", "symbol", symbol),
		now:      time.Now,
	}
}

// Symbol returns the pair this trader controls.
func (t *CoinTrader) Symbol() string { return t.symbol }

// Strategy returns the active strategy kind, or "" before adoption.
func (t *CoinTrader) Strategy() types.StrategyKind { return t.currentKind }

// Analyze runs one controller iteration over the pair's candle series:
// classify the regime (throttled by the reanalysis interval), count
// confirmations toward a strategy switch, then let the active strategy
// read the series.
func (t *CoinTrader) Analyze(s types.Series) AnalysisResult {
	var res AnalysisResult

	// Insufficient history parks the controller entirely; the reanalysis
	// clock must not advance on data we could not classify.
	if s.Len() < t.analyzer.RequiredPoints() {
		t.logger.Debug("waiting for history",
			"have", s.Len(), "need", t.analyzer.RequiredPoints())
		return res
	}

	now := t.now()
	if t.condition == nil || now.Sub(t.lastAnalysis) >= t.cfg.ReanalysisInterval {
		cond := t.analyzer.Analyze(t.symbol, s)
		t.condition = &cond
		t.lastAnalysis = now
		res.FreshAnalysis = true
	}

	cond := *t.condition
	res.Condition = &cond

	recommended := cond.State.Recommended()

	if t.current == nil {
		t.adopt(recommended, cond)
		return res
	}

	// Confirmations count classifications, not ticks. A stale cached
	// condition re-observed within the reanalysis window adds nothing.
	if res.FreshAnalysis {
		res.Switch = t.confirm(now, recommended, cond)
	}

	res.Signal = t.current.Analyze(s, t.condition)
	return res
}

// adopt installs the first strategy without a switch row and without
// emitting a signal for this iteration.
func (t *CoinTrader) adopt(kind types.StrategyKind, cond types.MarketCondition) {
	t.current = t.selector.New(kind)
	t.currentKind = kind
	t.logger.Info("strategy adopted",
		"strategy", kind,
		"state", cond.State,
		"confidence", fmt.Sprintf("%.2f", cond.Confidence))
}

// confirm advances the pending-regime counter and performs the switch
// once enough consecutive same-state classifications have accumulated
// and the switch budget allows it.
func (t *CoinTrader) confirm(now time.Time, recommended types.StrategyKind, cond types.MarketCondition) *types.StrategySwitch {
	if recommended == t.currentKind {
		if t.pendingCount > 0 {
			t.logger.Debug("pending switch cancelled", "state", cond.State)
		}
		t.pendingState = ""
		t.pendingCount = 0
		return nil
	}

	if t.pendingState == cond.State {
		t.pendingCount++
	} else {
		t.pendingState = cond.State
		t.pendingCount = 1
	}
	t.logger.Debug("switch confirmation",
		"state", cond.State,
		"count", t.pendingCount,
		"required", t.cfg.ConfirmationsRequired)

	if t.pendingCount < t.cfg.ConfirmationsRequired || !t.canSwitch(now) {
		return nil
	}
	return t.performSwitch(now, recommended, cond)
}

// canSwitch enforces the daily switch budget and the cooldown. The daily
// counter resets on local-date rollover.
func (t *CoinTrader) canSwitch(now time.Time) bool {
	day := now.Format("2006-01-02")
	if day != t.currentDay {
		t.currentDay = day
		t.switchesToday = 0
	}
	if t.switchesToday >= t.cfg.MaxSwitchesPerDay {
		t.logger.Debug("switch denied", "reason", "daily cap", "switches_today", t.switchesToday)
		return false
	}
	if !t.lastSwitch.IsZero() && now.Sub(t.lastSwitch) < t.cfg.SwitchCooldown {
		t.logger.Debug("switch denied", "reason", "cooldown", "since_last", now.Sub(t.lastSwitch))
		return false
	}
	return true
}

func (t *CoinTrader) performSwitch(now time.Time, to types.StrategyKind, cond types.MarketCondition) *types.StrategySwitch {
	from := t.currentKind

	oldTrades := t.tradesWithCurrent
	oldPnL := t.pnlWithCurrent

	sw := &types.StrategySwitch{
		Timestamp:             now,
		Symbol:                t.symbol,
		FromStrategy:          from,
		ToStrategy:            to,
		Reason:                fmt.Sprintf("market state %s confirmed %dx", cond.State, t.pendingCount),
		MarketState:           string(cond.State),
		Confidence:            cond.Confidence,
		ConfirmationsReceived: t.pendingCount,
		SwitchesToday:         t.switchesToday + 1,
		TradesWithOldStrategy: &oldTrades,
		PnLWithOldStrategy:    &oldPnL,
	}

	t.current = t.selector.New(to)
	t.currentKind = to
	t.lastSwitch = now
	t.switchesToday++
	t.pendingState = ""
	t.pendingCount = 0
	t.tradesWithCurrent = 0
	t.pnlWithCurrent = 0

	t.logger.Info("strategy switched",
		"from", from,
		"to", to,
		"state", cond.State,
		"confidence", fmt.Sprintf("%.2f", cond.Confidence),
		"switches_today", t.switchesToday)
	return sw
}

// RecordEntry folds an executed entry into the running totals.
func (t *CoinTrader) RecordEntry(tr *types.Trade) {
	t.trades++
	t.tradesWithCurrent++
	t.fees += tr.Fee
	t.volume += tr.Value
}

// RecordExit folds a closed position into the running totals. p must be
// the closed row returned by the store so the derived P&L is used.
func (t *CoinTrader) RecordExit(p *types.Position, tr *types.Trade) {
	t.trades++
	t.tradesWithCurrent++
	t.fees += tr.Fee
	t.volume += tr.Value
	if p.GrossPnL != nil {
		t.grossPnL += *p.GrossPnL
	}
	if p.NetPnL != nil {
		t.netPnL += *p.NetPnL
		t.pnlWithCurrent += *p.NetPnL
		if *p.NetPnL > 0 {
			t.wins++
		}
	}
}

// TraderStats is the trader's contribution to the engine snapshot.
type TraderStats struct {
	Symbol        string
	Strategy      types.StrategyKind
	State         types.MarketState
	Confidence    float64
	LastAnalysis  time.Time
	Trades        int
	Wins          int
	GrossPnL      float64
	NetPnL        float64
	Fees          float64
	Volume        float64
	SwitchesToday int
}

// Stats returns a copy of the running totals.
func (t *CoinTrader) Stats() TraderStats {
	st := TraderStats{
		Symbol:        t.symbol,
		Strategy:      t.currentKind,
		LastAnalysis:  t.lastAnalysis,
		Trades:        t.trades,
		Wins:          t.wins,
		GrossPnL:      t.grossPnL,
		NetPnL:        t.netPnL,
		Fees:          t.fees,
		Volume:        t.volume,
		SwitchesToday: t.switchesToday,
	}
	if t.condition != nil {
		st.State = t.condition.State
		st.Confidence = t.condition.Confidence
	}
	return st
}
