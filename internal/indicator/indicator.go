// Package indicator implements the windowed technical indicators the
// analyzer and strategies consume: SMA, EMA, RSI, Bollinger bands, ATR,
// ADX, choppiness, MACD, linear-regression slope and range percent, plus
// support/resistance clustering and Fibonacci levels (levels.go).
//
// All functions are pure. They operate on price arrays ordered oldest to
// newest and report ok=false when the input is shorter than the minimum
// the indicator needs; callers treat that as "no value yet", not an error.
package indicator

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SMA returns the simple moving average of the last n prices.
func SMA(prices []float64, n int) (float64, bool) {
	if n <= 0 || len(prices) < n {
		return 0, false
	}
	return stat.Mean(prices[len(prices)-n:], nil), true
}

// EMA returns the exponential moving average with period n, seeded with
// the SMA of the first n prices and smoothed with alpha = 2/(n+1).
func EMA(prices []float64, n int) (float64, bool) {
	series, ok := emaSeries(prices, n)
	if !ok {
		return 0, false
	}
	return series[len(series)-1], true
}

// emaSeries returns the EMA at every index from n-1 onward.
func emaSeries(prices []float64, n int) ([]float64, bool) {
	if n <= 0 || len(prices) < n {
		return nil, false
	}
	alpha := 2.0 / float64(n+1)
	series := make([]float64, 0, len(prices)-n+1)
	ema := stat.Mean(prices[:n], nil)
	series = append(series, ema)
	for _, p := range prices[n:] {
		ema += alpha * (p - ema)
		series = append(series, ema)
	}
	return series, true
}

// RSI returns the relative strength index over the last n deltas
// (requires n+1 prices). Average gain and loss are simple means; a window
// with no losses reads 100.
func RSI(prices []float64, n int) (float64, bool) {
	if n <= 0 || len(prices) < n+1 {
		return 0, false
	}
	window := prices[len(prices)-n-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgGain := gains / float64(n)
	avgLoss := losses / float64(n)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// Bollinger returns (upper, middle, lower) bands: middle is SMA(n), the
// bands sit k population standard deviations away.
func Bollinger(prices []float64, n int, k float64) (upper, middle, lower float64, ok bool) {
	if n <= 0 || len(prices) < n {
		return 0, 0, 0, false
	}
	window := prices[len(prices)-n:]
	middle = stat.Mean(window, nil)
	sigma := stat.PopStdDev(window, nil)
	return middle + k*sigma, middle, middle - k*sigma, true
}

// trueRange computes TR_i = max(H-L, |H-Cprev|, |L-Cprev|) for index i >= 1.
func trueRange(highs, lows, closes []float64, i int) float64 {
	hl := highs[i] - lows[i]
	hc := math.Abs(highs[i] - closes[i-1])
	lc := math.Abs(lows[i] - closes[i-1])
	return math.Max(hl, math.Max(hc, lc))
}

// ATR returns the average true range over the last n bars (requires n+1
// bars for the first previous close).
func ATR(highs, lows, closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) < n+1 || len(highs) != len(closes) || len(lows) != len(closes) {
		return 0, false
	}
	var sum float64
	for i := len(closes) - n; i < len(closes); i++ {
		sum += trueRange(highs, lows, closes, i)
	}
	return sum / float64(n), true
}

// ADX returns the average directional index over period n. Directional
// movement only counts when its side dominates the bar; DI values are
// normalized by true range and the final ADX is the mean of the last n DX
// readings, so at least 2n bars are required.
func ADX(highs, lows, closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) < 2*n || len(highs) != len(closes) || len(lows) != len(closes) {
		return 0, false
	}

	// Per-bar true range and directional movement.
	m := len(closes)
	tr := make([]float64, m)
	plusDM := make([]float64, m)
	minusDM := make([]float64, m)
	for i := 1; i < m; i++ {
		tr[i] = trueRange(highs, lows, closes, i)
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	// DX at each endpoint that has a full n-bar window behind it.
	var dx []float64
	for j := n; j < m; j++ {
		var sumTR, sumPlus, sumMinus float64
		for i := j - n + 1; i <= j; i++ {
			sumTR += tr[i]
			sumPlus += plusDM[i]
			sumMinus += minusDM[i]
		}
		if sumTR == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI := 100 * sumPlus / sumTR
		minusDI := 100 * sumMinus / sumTR
		if plusDI+minusDI == 0 {
			dx = append(dx, 0)
			continue
		}
		dx = append(dx, 100*math.Abs(plusDI-minusDI)/(plusDI+minusDI))
	}
	if len(dx) < n {
		return 0, false
	}
	return stat.Mean(dx[len(dx)-n:], nil), true
}

// Choppiness returns the choppiness index over the last n bars, clamped
// to [0,100]. 100 means pure sideways churn, 0 a perfectly directional
// move. A zero high-low range reads 100.
func Choppiness(highs, lows, closes []float64, n int) (float64, bool) {
	if n <= 1 || len(closes) < n+1 || len(highs) != len(closes) || len(lows) != len(closes) {
		return 0, false
	}
	var sumTR float64
	maxH := math.Inf(-1)
	minL := math.Inf(1)
	for i := len(closes) - n; i < len(closes); i++ {
		sumTR += trueRange(highs, lows, closes, i)
		maxH = math.Max(maxH, highs[i])
		minL = math.Min(minL, lows[i])
	}
	r := maxH - minL
	if r <= 0 {
		return 100, true
	}
	chop := 100 * math.Log10(sumTR/r) / math.Log10(float64(n))
	return math.Max(0, math.Min(100, chop)), true
}

// Slope returns the least-squares slope of the last n prices against
// x = 0..n-1, i.e. price change per bar.
func Slope(prices []float64, n int) (float64, bool) {
	if n < 2 || len(prices) < n {
		return 0, false
	}
	window := prices[len(prices)-n:]
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, window, nil, false)
	return beta, true
}

// RangePercent returns (max-min)/min x 100 over the last n prices.
// Not defined when the window minimum is zero or negative.
func RangePercent(prices []float64, n int) (float64, bool) {
	if n <= 0 || len(prices) < n {
		return 0, false
	}
	window := prices[len(prices)-n:]
	minP := window[0]
	maxP := window[0]
	for _, p := range window[1:] {
		minP = math.Min(minP, p)
		maxP = math.Max(maxP, p)
	}
	if minP <= 0 {
		return 0, false
	}
	return (maxP - minP) / minP * 100, true
}

// MACD returns the MACD line (EMA(fast) - EMA(slow)), its signal line
// (EMA of the MACD series over signalN) and the histogram. Requires at
// least slow + signalN prices.
func MACD(prices []float64, fast, slow, signalN int) (macd, signal, histogram float64, ok bool) {
	if fast <= 0 || slow <= fast || signalN <= 0 || len(prices) < slow+signalN {
		return 0, 0, 0, false
	}

	fastSeries, _ := emaSeries(prices, fast)
	slowSeries, _ := emaSeries(prices, slow)

	// Align the two series; the slow one starts slow-fast entries later.
	offset := slow - fast
	macdSeries := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries, ok := emaSeries(macdSeries, signalN)
	if !ok {
		return 0, 0, 0, false
	}

	macd = macdSeries[len(macdSeries)-1]
	signal = signalSeries[len(signalSeries)-1]
	return macd, signal, macd - signal, true
}
