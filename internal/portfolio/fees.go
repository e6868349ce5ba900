package portfolio

import (
	"kraken-adaptive/internal/config"
	"kraken-adaptive/pkg/types"
)

// FeeCalculator prices round trips against the exchange's maker/taker
// schedule. Fee rates are fractions (0.0026 = 0.26%).
type FeeCalculator struct {
	maker float64
	taker float64
}

// NewFeeCalculator creates a calculator from the fee schedule.
func NewFeeCalculator(cfg config.FeeConfig) *FeeCalculator {
	return &FeeCalculator{maker: cfg.MakerFee, taker: cfg.TakerFee}
}

// rate returns the fee fraction for one fill.
func (f *FeeCalculator) rate(maker bool) float64 {
	if maker {
		return f.maker
	}
	return f.taker
}

// Fee returns the fee charged on a fill of the given quote value.
func (f *FeeCalculator) Fee(value float64, maker bool) float64 {
	return value * f.rate(maker)
}

// RoundTrip returns the combined entry plus exit fee for a position of
// the given quote value, assuming both legs fill the same way.
func (f *FeeCalculator) RoundTrip(value float64, maker bool) float64 {
	return 2 * f.Fee(value, maker)
}

// BreakevenFraction is the price move, as a fraction of entry, needed
// just to cover both legs' fees.
func (f *FeeCalculator) BreakevenFraction(maker bool) float64 {
	return 2 * f.rate(maker)
}

// NetPnL settles a closed round trip. Actual fees are used when known;
// nil fees fall back to taker estimates on each leg's value.
func (f *FeeCalculator) NetPnL(entryPrice, exitPrice, volume float64, posType types.PositionType, entryFee, exitFee *float64) (gross, fees, net float64) {
	if posType == types.Short {
		gross = (entryPrice - exitPrice) * volume
	} else {
		gross = (exitPrice - entryPrice) * volume
	}

	eFee := f.Fee(entryPrice*volume, false)
	if entryFee != nil {
		eFee = *entryFee
	}
	xFee := f.Fee(exitPrice*volume, false)
	if exitFee != nil {
		xFee = *exitFee
	}
	fees = eFee + xFee
	return gross, fees, gross - fees
}

// MinTargetPrice is the exit price at which a position clears both fees
// and the minimum profit target.
func (f *FeeCalculator) MinTargetPrice(entryPrice float64, posType types.PositionType, minProfit float64) float64 {
	move := minProfit + f.BreakevenFraction(false)
	if posType == types.Short {
		return entryPrice * (1 - move)
	}
	return entryPrice * (1 + move)
}
