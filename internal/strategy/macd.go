package strategy

import (
	"log/slog"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/indicator"
	"kraken-adaptive/pkg/types"
)

// MACDStrategy trades MACD/signal-line crosses. Built for moderate
// trends, where momentum shifts lead price.
//
// A bullish cross (MACD line moves above the signal line) buys, a
// bearish cross sells. With histogram_confirm enabled the histogram
// sign must agree with the cross direction, which filters crosses that
// happen right at the zero line.
type MACDStrategy struct {
	cfg    config.MACDConfig
	logger *slog.Logger
	tracker

	prevMACD    float64
	prevSignal  float64
	initialized bool
}

// NewMACD creates the strategy.
func NewMACD(cfg config.MACDConfig, logger *slog.Logger) *MACDStrategy {
	return &MACDStrategy{
		cfg:    cfg,
		logger: logger.With("component", "strategy", "kind", types.StrategyMACD),
	}
}

func (m *MACDStrategy) Kind() types.StrategyKind { return types.StrategyMACD }

// Reset clears crossover and position memory.
func (m *MACDStrategy) Reset() {
	m.tracker.reset()
	m.prevMACD, m.prevSignal = 0, 0
	m.initialized = false
}

// Analyze implements Strategy.
func (m *MACDStrategy) Analyze(s types.Series, cond *types.MarketCondition) types.Signal {
	macd, signal, hist, ok := indicator.MACD(s.Closes, m.cfg.FastPeriod, m.cfg.SlowPeriod, m.cfg.SignalPeriod)
	if !ok {
		return types.SignalNone
	}

	// The first computable value only seeds the cross memory.
	if !m.initialized {
		m.prevMACD, m.prevSignal = macd, signal
		m.initialized = true
		return types.SignalNone
	}

	bullish := m.prevMACD <= m.prevSignal && macd > signal
	bearish := m.prevMACD >= m.prevSignal && macd < signal
	m.prevMACD, m.prevSignal = macd, signal

	price := s.Closes[len(s.Closes)-1]

	switch {
	case bullish && !m.long:
		if m.cfg.HistogramConfirm && hist <= 0 {
			m.logger.Debug("bullish cross without histogram confirmation", "histogram", hist)
			return types.SignalNone
		}
		m.markBuy(price)
		m.logger.Debug("bullish cross", "macd", macd, "signal", signal, "price", price)
		return types.SignalBuy

	case bearish && m.long:
		if m.cfg.HistogramConfirm && hist >= 0 {
			m.logger.Debug("bearish cross without histogram confirmation", "histogram", hist)
			return types.SignalNone
		}
		m.markSell()
		m.logger.Debug("bearish cross", "macd", macd, "signal", signal, "price", price)
		return types.SignalSell
	}

	return types.SignalNone
}
