package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"kraken-adaptive/pkg/types"
)

// NormalizedOrder is the exchange-valid volume and price produced by
// NormalizeOrder. Price is nil for market orders.
type NormalizedOrder struct {
	Volume decimal.Decimal
	Price  *decimal.Decimal
}

// NormalizeOrder conforms an order to a pair's validation rules, or
// reports why it cannot trade. All arithmetic is decimal; float noise
// from upstream sizing never reaches the wire.
//
//   - Volume is floored to lot_decimals, then checked against ordermin.
//   - A limit price is floored to the tick grid, then to pair_decimals.
//   - Order cost (volume x price, falling back to currentPrice for
//     market orders) is checked against costmin.
//
// Rounding always floors, so a normalized order re-normalizes to
// itself. Failures wrap the package sentinel errors.
func NormalizeOrder(rules types.AssetPairRules, ordertype types.OrderType, volume float64, price, currentPrice *float64) (NormalizedOrder, error) {
	vol := decimal.NewFromFloat(volume).RoundDown(int32(rules.LotDecimals))
	if vol.IsZero() {
		return NormalizedOrder{}, fmt.Errorf("%w: %v at %d decimals", ErrVolumeRoundsToZero, volume, rules.LotDecimals)
	}
	if rules.OrderMin != nil && vol.LessThan(*rules.OrderMin) {
		return NormalizedOrder{}, fmt.Errorf("%w: %s < %s", ErrVolumeBelowMinimum, vol, rules.OrderMin)
	}

	out := NormalizedOrder{Volume: vol}

	if ordertype == types.OrderLimit && price != nil {
		p := decimal.NewFromFloat(*price)
		if rules.TickSize != nil && rules.TickSize.IsPositive() {
			p = p.Div(*rules.TickSize).Floor().Mul(*rules.TickSize)
		}
		p = p.RoundDown(int32(rules.PairDecimals))
		if p.IsZero() {
			return NormalizedOrder{}, fmt.Errorf("%w: %v", ErrPriceRoundsToZero, *price)
		}
		out.Price = &p
	}

	if rules.CostMin != nil {
		costPrice := out.Price
		if costPrice == nil && currentPrice != nil {
			cp := decimal.NewFromFloat(*currentPrice)
			costPrice = &cp
		}
		if costPrice != nil {
			if cost := vol.Mul(*costPrice); cost.LessThan(*rules.CostMin) {
				return NormalizedOrder{}, fmt.Errorf("%w: %s < %s", ErrCostBelowMinimum, cost, rules.CostMin)
			}
		}
	}

	return out, nil
}
