package strategy

import (
	"log/slog"
	"math"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/pkg/types"
)

// minGridPrices is the minimum series length before a grid is anchored.
const minGridPrices = 10

// fillTolerance is the fractional distance at which price counts as
// touching a grid level.
const fillTolerance = 0.001

// gridLevel is one resting price level. Buy levels sit below the anchor,
// sell levels above.
type gridLevel struct {
	price  float64
	side   types.Signal
	filled bool
}

// Grid lays evenly spaced buy levels below and sell levels above an
// anchor price and trades the oscillation between them. Built for
// low-volatility regimes where price chops inside a band.
//
// When price leaves the band entirely the grid is re-anchored around
// the current price and no signal is emitted that bar.
type Grid struct {
	cfg    config.GridConfig
	logger *slog.Logger
	tracker

	anchor float64
	levels []gridLevel
}

// NewGrid creates the strategy.
func NewGrid(cfg config.GridConfig, logger *slog.Logger) *Grid {
	return &Grid{
		cfg:    cfg,
		logger: logger.With("component", "strategy", "kind", types.StrategyGrid),
	}
}

func (g *Grid) Kind() types.StrategyKind { return types.StrategyGrid }

// Reset discards the grid and position memory.
func (g *Grid) Reset() {
	g.tracker.reset()
	g.anchor = 0
	g.levels = nil
}

// rebuild anchors a fresh grid around price: cfg.Levels buy levels
// below, cfg.Levels sell levels above, spaced spacing_pct apart.
func (g *Grid) rebuild(price float64) {
	spacing := g.cfg.SpacingPct / 100
	g.anchor = price
	g.levels = g.levels[:0]
	for i := 1; i <= g.cfg.Levels; i++ {
		g.levels = append(g.levels,
			gridLevel{price: price * (1 - spacing*float64(i)), side: types.SignalBuy},
			gridLevel{price: price * (1 + spacing*float64(i)), side: types.SignalSell},
		)
	}
}

// outOfBand reports whether price has escaped the grid by more than one
// spacing beyond the outermost levels.
func (g *Grid) outOfBand(price float64) bool {
	spacing := g.cfg.SpacingPct / 100
	band := spacing * float64(g.cfg.Levels+1)
	return price < g.anchor*(1-band) || price > g.anchor*(1+band)
}

// Analyze implements Strategy.
func (g *Grid) Analyze(s types.Series, cond *types.MarketCondition) types.Signal {
	if s.Len() < minGridPrices {
		return types.SignalNone
	}
	price := s.Closes[len(s.Closes)-1]

	if g.anchor == 0 || g.outOfBand(price) {
		g.rebuild(price)
		g.logger.Debug("grid anchored", "anchor", price, "levels", len(g.levels))
		return types.SignalNone
	}

	for i := range g.levels {
		lvl := &g.levels[i]
		if lvl.filled || math.Abs(price-lvl.price)/lvl.price >= fillTolerance {
			continue
		}

		switch {
		case lvl.side == types.SignalBuy && !g.long:
			lvl.filled = true
			g.markBuy(price)
			g.logger.Debug("grid buy level hit", "level", lvl.price, "price", price)
			return types.SignalBuy

		case lvl.side == types.SignalSell && g.long:
			lvl.filled = true
			g.markSell()
			// The round trip is done; buy levels may fill again.
			for j := range g.levels {
				if g.levels[j].side == types.SignalBuy {
					g.levels[j].filled = false
				}
			}
			g.logger.Debug("grid sell level hit", "level", lvl.price, "price", price)
			return types.SignalSell
		}
	}

	return types.SignalNone
}
