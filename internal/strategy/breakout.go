package strategy

import (
	"log/slog"
	"math"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/indicator"
	"kraken-adaptive/pkg/types"
)

// volumeAvgPeriod is the window for the volume-surge baseline.
const volumeAvgPeriod = 20

// retestTolerance is how close (fractionally) price must return to a
// broken level to count as a retest.
const retestTolerance = 0.02

// Breakout trades level breaks in volatile regimes. It clusters recent
// swing highs and lows into resistance and support, then signals when
// price clears the nearest level on a volume surge while volatility is
// expanding. With require_retest enabled the break only arms the
// strategy; the signal fires when price pulls back to within 2% of the
// broken level.
type Breakout struct {
	cfg    config.BreakoutConfig
	logger *slog.Logger
	tracker

	armed      types.Signal // pending retest direction, SignalNone when idle
	armedLevel float64
}

// NewBreakout creates the strategy.
func NewBreakout(cfg config.BreakoutConfig, logger *slog.Logger) *Breakout {
	return &Breakout{
		cfg:    cfg,
		logger: logger.With("component", "strategy", "kind", types.StrategyBreakout),
	}
}

func (b *Breakout) Kind() types.StrategyKind { return types.StrategyBreakout }

// Reset clears retest and position memory.
func (b *Breakout) Reset() {
	b.tracker.reset()
	b.armed = types.SignalNone
	b.armedLevel = 0
}

// required is the minimum series length: the full lookback window, one
// spare bar for the ATR baseline, and the volume average.
func (b *Breakout) required() int {
	need := b.cfg.Lookback + 1
	if n := b.cfg.ATRPeriod + 1; n > need {
		need = n
	}
	if volumeAvgPeriod+1 > need {
		need = volumeAvgPeriod + 1
	}
	return need
}

// Analyze implements Strategy.
func (b *Breakout) Analyze(s types.Series, cond *types.MarketCondition) types.Signal {
	if s.Len() < b.required() {
		return types.SignalNone
	}

	price := s.Closes[len(s.Closes)-1]

	if b.armed != types.SignalNone {
		return b.checkRetest(price)
	}

	// Levels come from the window before the current bar, bracketed
	// around the previous close, so the current bar can break them.
	end := len(s.Closes) - 1
	window := s.Closes[end-b.cfg.Lookback : end]
	prev := s.Closes[end-1]
	supports, resistances := indicator.SupportResistance(window, b.cfg.ClusterWindow)

	resistance, okR := nearestAbove(resistances, prev)
	support, okS := nearestBelow(supports, prev)

	surge := b.volumeSurge(s.Volumes)
	expanding := b.volatilityExpanding(s.Highs, s.Lows, s.Closes)

	switch {
	case okR && price > resistance && surge && expanding && !b.long:
		if b.cfg.RequireRetest {
			b.armed, b.armedLevel = types.SignalBuy, resistance
			b.logger.Debug("breakout armed", "level", resistance, "price", price)
			return types.SignalNone
		}
		b.markBuy(price)
		b.logger.Debug("resistance break", "level", resistance, "price", price)
		return types.SignalBuy

	case okS && price < support && surge && expanding:
		if b.cfg.RequireRetest {
			b.armed, b.armedLevel = types.SignalSell, support
			b.logger.Debug("breakdown armed", "level", support, "price", price)
			return types.SignalNone
		}
		b.markSell()
		b.logger.Debug("support break", "level", support, "price", price)
		return types.SignalSell
	}

	return types.SignalNone
}

// checkRetest emits the armed signal once price returns near the broken
// level, then disarms.
func (b *Breakout) checkRetest(price float64) types.Signal {
	if b.armedLevel <= 0 || math.Abs(price-b.armedLevel)/b.armedLevel > retestTolerance {
		return types.SignalNone
	}
	sig := b.armed
	b.armed, b.armedLevel = types.SignalNone, 0
	if sig == types.SignalBuy {
		b.markBuy(price)
	} else {
		b.markSell()
	}
	b.logger.Debug("retest confirmed", "signal", sig, "price", price)
	return sig
}

// volumeSurge reports whether the last bar traded at least
// volume_threshold times the recent average volume.
func (b *Breakout) volumeSurge(volumes []float64) bool {
	avg, ok := indicator.SMA(volumes[:len(volumes)-1], volumeAvgPeriod)
	if !ok || avg <= 0 {
		return false
	}
	return volumes[len(volumes)-1] >= b.cfg.VolumeThreshold*avg
}

// volatilityExpanding reports whether the current ATR sits above the
// mean ATR of the trailing windows, i.e. whether the range itself is
// widening.
func (b *Breakout) volatilityExpanding(highs, lows, closes []float64) bool {
	cur, ok := indicator.ATR(highs, lows, closes, b.cfg.ATRPeriod)
	if !ok {
		return false
	}

	var sum float64
	var count int
	for back := 1; back <= volumeAvgPeriod; back++ {
		end := len(closes) - back
		prev, ok := indicator.ATR(highs[:end], lows[:end], closes[:end], b.cfg.ATRPeriod)
		if !ok {
			break
		}
		sum += prev
		count++
	}
	if count == 0 {
		return false
	}
	return cur >= sum/float64(count)
}

func nearestAbove(levels []float64, price float64) (float64, bool) {
	best, found := 0.0, false
	for _, l := range levels {
		if l > price && (!found || l < best) {
			best, found = l, true
		}
	}
	return best, found
}

func nearestBelow(levels []float64, price float64) (float64, bool) {
	best, found := 0.0, false
	for _, l := range levels {
		if l < price && (!found || l > best) {
			best, found = l, true
		}
	}
	return best, found
}
