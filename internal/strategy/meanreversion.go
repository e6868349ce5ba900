package strategy

import (
	"log/slog"
	"math"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/indicator"
	"kraken-adaptive/pkg/types"
)

// defaultLevelLookback is the window used for auto-detected support and
// resistance and for the Fibonacci swing when fib_lookback is unset.
const defaultLevelLookback = 50

// fibConfluenceWeight is the minimum Fibonacci confluence that relaxes
// the RSI gates by fibRSIRelax points.
const (
	fibConfluenceWeight = 1.15
	fibRSIRelax         = 5.0
)

// MeanReversion buys oversold dips into support and sells overbought
// pushes into resistance. Built for range-bound and choppy regimes.
//
// Entry: price inside the support zone, RSI below the oversold gate and
// price under the lower Bollinger band. Exit: the mirror condition at
// resistance (gated on the minimum profit target), or a profit-cut once
// the position is up 2% with RSI back above 50 and price above the
// middle band. Proximity to a weighted Fibonacci level relaxes the RSI
// gates, trading confluence for patience.
type MeanReversion struct {
	cfg       config.MeanReversionConfig
	minProfit float64
	logger    *slog.Logger
	tracker
}

// profitCutFraction closes winners early once reversion has played out.
const profitCutFraction = 0.02

// NewMeanReversion creates the strategy. minProfit applies to the
// resistance-zone exit only; the profit-cut has its own threshold.
func NewMeanReversion(cfg config.MeanReversionConfig, minProfit float64, logger *slog.Logger) *MeanReversion {
	return &MeanReversion{
		cfg:       cfg,
		minProfit: minProfit,
		logger:    logger.With("component", "strategy", "kind", types.StrategyMeanReversion),
	}
}

func (m *MeanReversion) Kind() types.StrategyKind { return types.StrategyMeanReversion }

// Reset clears position memory.
func (m *MeanReversion) Reset() { m.tracker.reset() }

// Analyze implements Strategy.
func (m *MeanReversion) Analyze(s types.Series, cond *types.MarketCondition) types.Signal {
	need := m.cfg.BBPeriod
	if m.cfg.RSIPeriod+1 > need {
		need = m.cfg.RSIPeriod + 1
	}
	if len(s.Closes) < need {
		return types.SignalNone
	}

	price := s.Closes[len(s.Closes)-1]

	rsi, ok := indicator.RSI(s.Closes, m.cfg.RSIPeriod)
	if !ok {
		return types.SignalNone
	}
	upperBB, midBB, lowerBB, ok := indicator.Bollinger(s.Closes, m.cfg.BBPeriod, m.cfg.BBStdDev)
	if !ok {
		return types.SignalNone
	}

	support, resistance := m.levels(s.Closes)
	supportZone := m.zone(support)
	resistanceZone := m.zone(resistance)

	oversold := m.cfg.RSIOversold
	overbought := m.cfg.RSIOverbought
	if m.cfg.UseFibonacci {
		if fib, ok := indicator.FibLevels(s.Closes, m.lookback()); ok {
			if score, found := fib.Score(price, m.cfg.FibTolerance); found && score.Weight >= fibConfluenceWeight {
				oversold += fibRSIRelax
				overbought -= fibRSIRelax
				m.logger.Debug("fibonacci confluence",
					"ratio", score.Ratio,
					"level", score.Level,
					"weight", score.Weight,
				)
			}
		}
	}

	// A decisive move beyond the range means reversion assumptions no
	// longer hold; stand aside and let the next reanalysis reclassify.
	if price < support-2*supportZone || price > resistance+2*resistanceZone {
		m.logger.Info("range break, standing aside",
			"price", price,
			"support", support,
			"resistance", resistance,
		)
		return types.SignalNone
	}

	if m.long {
		profit := m.profitFraction(price)

		// Profit-cut: reversion completed without reaching resistance.
		if profit >= profitCutFraction && rsi > 50 && price > midBB {
			m.markSell()
			m.logger.Info("profit-cut exit", "price", price, "profit_pct", profit*100, "rsi", rsi)
			return types.SignalSell
		}

		if math.Abs(price-resistance) <= resistanceZone && rsi > overbought && price > upperBB {
			if profit < m.minProfit {
				m.logger.Debug("resistance exit below profit target", "profit_pct", profit*100)
				return types.SignalNone
			}
			m.markSell()
			return types.SignalSell
		}
		return types.SignalNone
	}

	if math.Abs(price-support) <= supportZone && rsi < oversold && price < lowerBB {
		m.markBuy(price)
		m.logger.Debug("support-zone entry", "price", price, "rsi", rsi, "lower_bb", lowerBB)
		return types.SignalBuy
	}

	return types.SignalNone
}

// lookback returns the level/Fibonacci window.
func (m *MeanReversion) lookback() int {
	if m.cfg.FibLookback > 0 {
		return m.cfg.FibLookback
	}
	return defaultLevelLookback
}

// levels returns the configured support/resistance, auto-detecting from
// recent extremes when unset.
func (m *MeanReversion) levels(closes []float64) (support, resistance float64) {
	support = m.cfg.SupportLevel
	resistance = m.cfg.ResistanceLevel
	if support > 0 && resistance > 0 {
		return support, resistance
	}

	n := m.lookback()
	if n > len(closes) {
		n = len(closes)
	}
	window := closes[len(closes)-n:]
	lo, hi := window[0], window[0]
	for _, p := range window[1:] {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	if support <= 0 {
		support = lo
	}
	if resistance <= 0 {
		resistance = hi
	}
	return support, resistance
}

// zone returns the half-width of the trade zone around a level.
func (m *MeanReversion) zone(level float64) float64 {
	if m.cfg.ZoneWidth > 0 {
		return m.cfg.ZoneWidth
	}
	return level * 0.03
}
