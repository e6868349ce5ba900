// Package strategy implements the trading strategy family the adaptive
// engine switches between: mean reversion, SMA crossover, MACD, breakout
// and grid. Each strategy converts a committed candle series into a
// buy/sell signal (or none) and owns only its internal memory: previous
// indicator values, entry price/time, filled grid levels. Strategies
// never touch the exchange or the database; the engine acts on their
// signals.
//
// A strategy instance is built fresh by the Selector on every regime
// switch, so stale crossover state never leaks across strategies.
package strategy

import (
	"log/slog"
	"time"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/pkg/types"
)

// Strategy is the family contract. Analyze returns SignalNone when it
// has no opinion, including whenever the series is shorter than the
// strategy's minimum.
type Strategy interface {
	Kind() types.StrategyKind
	Analyze(s types.Series, cond *types.MarketCondition) types.Signal
	Reset()
}

// tracker is the strategy-local position memory shared by all families.
// It mirrors what the strategy believes it holds; the engine keeps the
// authoritative position in the store.
type tracker struct {
	long       bool
	entryPrice float64
	entryTime  time.Time
	lastSignal types.Signal
}

func (t *tracker) markBuy(price float64) {
	t.long = true
	t.entryPrice = price
	t.entryTime = time.Now()
	t.lastSignal = types.SignalBuy
}

func (t *tracker) markSell() {
	t.long = false
	t.entryPrice = 0
	t.entryTime = time.Time{}
	t.lastSignal = types.SignalSell
}

func (t *tracker) reset() {
	*t = tracker{}
}

// profitFraction returns (price-entry)/entry for the tracked long, or 0
// when nothing is held.
func (t *tracker) profitFraction(price float64) float64 {
	if !t.long || t.entryPrice <= 0 {
		return 0
	}
	return (price - t.entryPrice) / t.entryPrice
}

// Selector builds strategy instances from regime states. One selector is
// shared by all per-pair traders; instances it returns are not.
type Selector struct {
	cfg       config.StrategyConfig
	minProfit float64
	minHold   time.Duration
	logger    *slog.Logger
}

// NewSelector wires the per-family config plus the shared exit guards
// (minimum profit target and hold time).
func NewSelector(cfg config.StrategyConfig, trading config.TradingConfig, logger *slog.Logger) *Selector {
	return &Selector{
		cfg:       cfg,
		minProfit: trading.MinProfitTarget,
		minHold:   trading.MinHoldTime,
		logger:    logger,
	}
}

// ForState returns a fresh instance of the strategy recommended for a
// market state.
func (sel *Selector) ForState(state types.MarketState) Strategy {
	return sel.New(state.Recommended())
}

// New returns a fresh instance of the given strategy kind.
func (sel *Selector) New(kind types.StrategyKind) Strategy {
	switch kind {
	case types.StrategySMACrossover:
		return NewSMACrossover(sel.cfg.SMACrossover, sel.minProfit, sel.minHold, sel.logger)
	case types.StrategyMACD:
		return NewMACD(sel.cfg.MACD, sel.logger)
	case types.StrategyBreakout:
		return NewBreakout(sel.cfg.Breakout, sel.logger)
	case types.StrategyGrid:
		return NewGrid(sel.cfg.Grid, sel.logger)
	default:
		return NewMeanReversion(sel.cfg.MeanReversion, sel.minProfit, sel.logger)
	}
}
