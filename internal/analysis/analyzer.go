// Package analysis classifies a pair's market regime from its indicator
// readings. The classifier is a fixed decision tree over trend strength
// (ADX), price range, choppiness and regression slope; its thresholds
// come from config. Results are cached per symbol for a short TTL so
// several strategy evaluations within one tick reuse one classification.
package analysis

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/indicator"
	"kraken-adaptive/pkg/types"
)

// Analyzer computes MarketCondition snapshots from candle series.
type Analyzer struct {
	cfg    config.AnalyzerConfig
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	cond types.MarketCondition
	at   time.Time
}

// New creates an Analyzer with the given thresholds.
func New(cfg config.AnalyzerConfig, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		logger: logger.With("component", "analyzer"),
		cache:  make(map[string]cacheEntry),
	}
}

// RequiredPoints returns the minimum number of candles before the
// classifier produces anything other than UNKNOWN. ADX needs two full
// periods of history.
func (a *Analyzer) RequiredPoints() int {
	if n := 2 * a.cfg.ADXPeriod; n > a.cfg.RangePeriod {
		return n
	}
	return a.cfg.RangePeriod
}

// Analyze classifies the market regime for symbol. A cached condition is
// reused while it is younger than the configured TTL.
func (a *Analyzer) Analyze(symbol string, s types.Series) types.MarketCondition {
	a.mu.Lock()
	if e, ok := a.cache[symbol]; ok && a.cfg.CacheTTL > 0 && time.Since(e.at) < a.cfg.CacheTTL {
		a.mu.Unlock()
		return e.cond
	}
	a.mu.Unlock()

	cond := a.classify(s)

	a.mu.Lock()
	a.cache[symbol] = cacheEntry{cond: cond, at: time.Now()}
	a.mu.Unlock()

	a.logger.Debug("market classified",
		"symbol", symbol,
		"state", cond.State,
		"confidence", cond.Confidence,
		"adx", types.Metric(cond.ADX),
		"choppiness", types.Metric(cond.Choppiness),
		"range_pct", types.Metric(cond.RangePercent),
	)
	return cond
}

// classify runs the decision tree. First match wins.
func (a *Analyzer) classify(s types.Series) types.MarketCondition {
	cond := types.MarketCondition{}

	if adx, ok := indicator.ADX(s.Highs, s.Lows, s.Closes, a.cfg.ADXPeriod); ok {
		cond.ADX = &adx
	}
	if atr, ok := indicator.ATR(s.Highs, s.Lows, s.Closes, a.cfg.ATRPeriod); ok {
		cond.ATR = &atr
	}
	if chop, ok := indicator.Choppiness(s.Highs, s.Lows, s.Closes, a.cfg.ChoppinessPeriod); ok {
		cond.Choppiness = &chop
	}
	if slope, ok := indicator.Slope(s.Closes, a.cfg.SlopePeriod); ok {
		cond.Slope = &slope
	}
	if rp, ok := indicator.RangePercent(s.Closes, a.cfg.RangePeriod); ok {
		cond.RangePercent = &rp
	}

	if cond.ADX == nil || cond.RangePercent == nil {
		cond.State = types.StateUnknown
		cond.Confidence = 0
		cond.Description = "insufficient data for classification"
		return cond
	}

	adx := *cond.ADX
	rangePct := *cond.RangePercent
	chop := cond.Choppiness

	switch {
	case adx > a.cfg.ADXStrongTrend:
		cond.Confidence = 0.8
		switch {
		case cond.Slope != nil && *cond.Slope > 0:
			cond.State = types.StateStrongUptrend
			cond.Description = fmt.Sprintf("strong uptrend (ADX %.1f, slope %.4g)", adx, *cond.Slope)
		case cond.Slope != nil && *cond.Slope < 0:
			cond.State = types.StateStrongDowntrend
			cond.Description = fmt.Sprintf("strong downtrend (ADX %.1f, slope %.4g)", adx, *cond.Slope)
		default:
			cond.State = types.StateModerateTrend
			cond.Description = fmt.Sprintf("strong trend, flat slope (ADX %.1f)", adx)
		}

	case adx < a.cfg.ADXWeakTrend:
		if rangePct < a.cfg.RangeModerate {
			switch {
			case rangePct < a.cfg.RangeTight:
				cond.State = types.StateLowVolatility
				cond.Confidence = 0.8
				cond.Description = fmt.Sprintf("tight range %.1f%%, weak trend (ADX %.1f)", rangePct, adx)
			case chop != nil && *chop < a.cfg.ChoppinessChoppy:
				cond.State = types.StateRangeBound
				cond.Confidence = 0.75
				cond.Description = fmt.Sprintf("range-bound %.1f%% (chop %.1f)", rangePct, *chop)
			default:
				cond.State = types.StateChoppy
				cond.Confidence = 0.6
				cond.Description = fmt.Sprintf("choppy inside %.1f%% range", rangePct)
			}
		} else {
			if chop != nil && *chop > a.cfg.ChoppinessChoppy {
				cond.State = types.StateChoppy
				cond.Confidence = 0.7
				cond.Description = fmt.Sprintf("wide choppy range %.1f%% (chop %.1f)", rangePct, *chop)
			} else {
				cond.State = types.StateVolatileBreakout
				cond.Confidence = 0.6
				cond.Description = fmt.Sprintf("wide range %.1f%%, weak trend: breakout conditions", rangePct)
			}
		}

	default: // transitioning between regimes
		if chop != nil && *chop < a.cfg.ChoppinessTrending {
			cond.State = types.StateModerateTrend
			cond.Confidence = 0.65
			cond.Description = fmt.Sprintf("trend forming (ADX %.1f, chop %.1f)", adx, *chop)
		} else {
			cond.State = types.StateRangeBound
			cond.Confidence = 0.6
			cond.Description = fmt.Sprintf("transitioning (ADX %.1f)", adx)
		}
	}

	return cond
}
