package indicator

import (
	"math"
	"sort"
)

// clusterTolerance merges detected levels within 2% of a cluster's
// running mean into one level.
const clusterTolerance = 0.02

// SupportResistance scans prices for local extremes and clusters them
// into horizontal levels. A point is a local low (resp. high) iff it
// equals the minimum (resp. maximum) of the surrounding 2w+1 points.
// Returned slices are sorted ascending.
func SupportResistance(prices []float64, window int) (supports, resistances []float64) {
	if window <= 0 || len(prices) < 2*window+1 {
		return nil, nil
	}

	var lows, highs []float64
	for i := window; i < len(prices)-window; i++ {
		lo, hi := prices[i], prices[i]
		for j := i - window; j <= i+window; j++ {
			lo = math.Min(lo, prices[j])
			hi = math.Max(hi, prices[j])
		}
		if prices[i] == lo {
			lows = append(lows, prices[i])
		}
		if prices[i] == hi {
			highs = append(highs, prices[i])
		}
	}

	return clusterLevels(lows), clusterLevels(highs)
}

// clusterLevels merges nearby levels into their running means.
func clusterLevels(levels []float64) []float64 {
	if len(levels) == 0 {
		return nil
	}
	sorted := make([]float64, len(levels))
	copy(sorted, levels)
	sort.Float64s(sorted)

	var out []float64
	mean := sorted[0]
	count := 1
	for _, lv := range sorted[1:] {
		if math.Abs(lv-mean) <= clusterTolerance*mean {
			count++
			mean += (lv - mean) / float64(count)
		} else {
			out = append(out, mean)
			mean = lv
			count = 1
		}
	}
	return append(out, mean)
}

// ————————————————————————————————————————————————————————————————————————
// Fibonacci levels
// ————————————————————————————————————————————————————————————————————————

// Standard retracement and extension ratios, in percent of the swing.
var (
	fibRetracements = []float64{23.6, 38.2, 50, 61.8, 78.6}
	fibExtensions   = []float64{127.2, 161.8, 200, 261.8}

	// Confluence weight per retracement ratio; ratios absent from the
	// table weigh 1.0. Being within 0.2% of any level always weighs 1.3.
	fibWeights = map[float64]float64{
		38.2: 1.1,
		50:   1.1,
		61.8: 1.2,
		78.6: 1.15,
	}
)

const fibExactPct = 0.2 // percent distance treated as sitting on the level

// Fib holds the price levels derived from one swing.
type Fib struct {
	SwingHigh    float64
	SwingLow     float64
	Retracements map[float64]float64 // ratio percent -> price
	Extensions   map[float64]float64
}

// FibLevels computes retracement and extension levels from the highest
// and lowest price in the last lookback entries.
func FibLevels(prices []float64, lookback int) (Fib, bool) {
	if lookback <= 0 || len(prices) < lookback {
		return Fib{}, false
	}
	window := prices[len(prices)-lookback:]
	high, low := window[0], window[0]
	for _, p := range window[1:] {
		high = math.Max(high, p)
		low = math.Min(low, p)
	}
	if high <= low {
		return Fib{}, false
	}

	diff := high - low
	f := Fib{
		SwingHigh:    high,
		SwingLow:     low,
		Retracements: make(map[float64]float64, len(fibRetracements)),
		Extensions:   make(map[float64]float64, len(fibExtensions)),
	}
	for _, r := range fibRetracements {
		f.Retracements[r] = high - diff*r/100
	}
	for _, e := range fibExtensions {
		f.Extensions[e] = high + diff*(e/100-1)
	}
	return f, true
}

// FibScore is the confluence reading for a price against a Fib ladder.
type FibScore struct {
	Ratio    float64 // percent ratio of the matched level
	Level    float64 // price of the matched level
	Weight   float64 // confluence weight, max 1.3
	Distance float64 // percent distance from the level
}

// Score returns the strongest Fibonacci confluence within tolerancePct
// of price, preferring higher weight and then smaller distance.
func (f Fib) Score(price, tolerancePct float64) (FibScore, bool) {
	if price <= 0 {
		return FibScore{}, false
	}

	best := FibScore{}
	found := false
	consider := func(ratio, level float64, weighted bool) {
		dist := math.Abs(price-level) / level * 100
		if dist > tolerancePct {
			return
		}
		w := 1.0
		if weighted {
			if tw, ok := fibWeights[ratio]; ok {
				w = tw
			}
		}
		if dist <= fibExactPct {
			w = 1.3
		}
		if !found || w > best.Weight || (w == best.Weight && dist < best.Distance) {
			best = FibScore{Ratio: ratio, Level: level, Weight: w, Distance: dist}
			found = true
		}
	}

	for r, lv := range f.Retracements {
		consider(r, lv, true)
	}
	for e, lv := range f.Extensions {
		consider(e, lv, false)
	}
	return best, found
}
