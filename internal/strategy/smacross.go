package strategy

import (
	"log/slog"
	"time"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/indicator"
	"kraken-adaptive/pkg/types"
)

// SMACrossover trades fast/slow moving-average crosses. Built for strong
// trends, where crosses mark entries into the prevailing direction.
//
// A bullish cross (fast moves above slow) buys; a bearish cross sells,
// subject to three guards: the trend filter suppresses sells in a
// classified uptrend when nothing is held, and held positions only exit
// once both the minimum profit target and minimum hold time are met.
type SMACrossover struct {
	cfg       config.SMACrossoverConfig
	minProfit float64
	minHold   time.Duration
	logger    *slog.Logger
	tracker

	prevFast    float64
	prevSlow    float64
	initialized bool
}

// NewSMACrossover creates the strategy.
func NewSMACrossover(cfg config.SMACrossoverConfig, minProfit float64, minHold time.Duration, logger *slog.Logger) *SMACrossover {
	return &SMACrossover{
		cfg:       cfg,
		minProfit: minProfit,
		minHold:   minHold,
		logger:    logger.With("component", "strategy", "kind", types.StrategySMACrossover),
	}
}

func (c *SMACrossover) Kind() types.StrategyKind { return types.StrategySMACrossover }

// Reset clears crossover and position memory.
func (c *SMACrossover) Reset() {
	c.tracker.reset()
	c.prevFast, c.prevSlow = 0, 0
	c.initialized = false
}

// Analyze implements Strategy.
func (c *SMACrossover) Analyze(s types.Series, cond *types.MarketCondition) types.Signal {
	fast, okF := indicator.SMA(s.Closes, c.cfg.FastPeriod)
	slow, okS := indicator.SMA(s.Closes, c.cfg.SlowPeriod)
	if !okF || !okS {
		return types.SignalNone
	}

	if !c.initialized {
		c.prevFast, c.prevSlow = fast, slow
		c.initialized = true
		return types.SignalNone
	}

	bullish := c.prevFast <= c.prevSlow && fast > slow
	bearish := c.prevFast >= c.prevSlow && fast < slow
	c.prevFast, c.prevSlow = fast, slow

	price := s.Closes[len(s.Closes)-1]

	switch {
	case bullish && !c.long:
		c.markBuy(price)
		c.logger.Debug("bullish cross", "fast", fast, "slow", slow, "price", price)
		return types.SignalBuy

	case bearish:
		if c.cfg.TrendFilter && !c.long && cond != nil && cond.State.IsUptrend() {
			c.logger.Debug("bearish cross suppressed by trend filter", "state", cond.State)
			return types.SignalNone
		}
		if c.long {
			if c.profitFraction(price) < c.minProfit {
				c.logger.Debug("bearish cross below profit target",
					"profit_pct", c.profitFraction(price)*100)
				return types.SignalNone
			}
			if time.Since(c.entryTime) < c.minHold {
				c.logger.Debug("bearish cross inside min hold",
					"held", time.Since(c.entryTime).Round(time.Second))
				return types.SignalNone
			}
		}
		c.markSell()
		return types.SignalSell
	}

	return types.SignalNone
}
