// Package portfolio apportions the shared quote balance across
// instruments and prices the fee side of every round trip. It is pure
// arithmetic: no exchange, no store, no clocks.
package portfolio

import (
	"log/slog"

	"kraken-adaptive/internal/config"
)

// Sizer converts the account balance into a per-order quote allocation
// under the configured exposure limits. One sizer is shared by all
// instruments; it holds no per-instrument state.
type Sizer struct {
	cfg    config.PortfolioConfig
	logger *slog.Logger
}

// NewSizer creates a sizer from the portfolio limits.
func NewSizer(cfg config.PortfolioConfig, logger *slog.Logger) *Sizer {
	return &Sizer{
		cfg:    cfg,
		logger: logger.With("component", "sizer"),
	}
}

// QuoteAllocation returns the quote value to commit to one new position.
//
//   - balance: current total quote balance.
//   - numPairs: instruments sharing the exposure budget (equal mode).
//   - maxPositionPct: per-instrument cap in percent of balance.
//   - openNotional: quote value already deployed in open positions
//     (pct mode headroom).
//
// The result is never negative and never exceeds the per-instrument cap.
func (s *Sizer) QuoteAllocation(balance float64, numPairs int, maxPositionPct, openNotional float64) float64 {
	if balance <= 0 || numPairs <= 0 {
		return 0
	}
	maxPositionPct = clampPct(maxPositionPct)

	var alloc float64
	switch s.cfg.SizingMode {
	case "pct":
		alloc = s.headroomAllocation(balance, openNotional)
	default:
		alloc = s.equalSplit(balance, numPairs)
	}

	if cap := balance * maxPositionPct / 100; alloc > cap {
		s.logger.Debug("allocation capped", "allocation", alloc, "cap", cap)
		alloc = cap
	}
	if alloc < 0 {
		return 0
	}
	return alloc
}

// equalSplit divides the deployable budget evenly: the exposure slice of
// the balance, minus the fee buffer, split across all instruments.
func (s *Sizer) equalSplit(balance float64, numPairs int) float64 {
	deployable := balance * clampPct(s.cfg.MaxTotalExposure) / 100
	deployable *= 1 - s.cfg.FeeBufferPct/100
	return deployable / float64(numPairs)
}

// headroomAllocation sizes from whatever exposure budget remains after
// the currently open positions.
func (s *Sizer) headroomAllocation(balance, openNotional float64) float64 {
	budget := balance * clampPct(s.cfg.MaxTotalExposure) / 100
	headroom := budget - openNotional
	if headroom <= 0 {
		return 0
	}
	return headroom * (1 - s.cfg.FeeBufferPct/100)
}

// clampPct bounds a percentage into [0, 100]. Config validation rejects
// out-of-range values at startup; this keeps the invariant for any caller.
func clampPct(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
