package indicator

import (
	"math"
	"testing"
)

func approx(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestSMA(t *testing.T) {
	t.Parallel()

	prices := []float64{1, 2, 3, 4, 5}
	got, ok := SMA(prices, 3)
	if !ok || got != 4 {
		t.Errorf("SMA = %v (ok=%v), want 4", got, ok)
	}

	if _, ok := SMA(prices, 6); ok {
		t.Error("SMA accepted short input")
	}
	if _, ok := SMA(prices, 0); ok {
		t.Error("SMA accepted period 0")
	}
}

func TestEMA(t *testing.T) {
	t.Parallel()

	// Seed = mean(1,2,3) = 2, alpha = 0.5: 2 -> 3 -> 4.
	got, ok := EMA([]float64{1, 2, 3, 4, 5}, 3)
	if !ok || !approx(got, 4, 1e-12) {
		t.Errorf("EMA = %v (ok=%v), want 4", got, ok)
	}

	if _, ok := EMA([]float64{1, 2}, 3); ok {
		t.Error("EMA accepted short input")
	}
}

func TestRSI(t *testing.T) {
	t.Parallel()

	// Gains 3, losses 1 over 4 deltas: RS = 3, RSI = 75.
	got, ok := RSI([]float64{1, 2, 3, 2, 3}, 4)
	if !ok || !approx(got, 75, 1e-12) {
		t.Errorf("RSI = %v (ok=%v), want 75", got, ok)
	}

	// Monotonic rise has no losses.
	up := make([]float64, 15)
	for i := range up {
		up[i] = float64(i + 1)
	}
	if got, ok := RSI(up, 14); !ok || got != 100 {
		t.Errorf("RSI(up) = %v (ok=%v), want 100", got, ok)
	}

	if _, ok := RSI([]float64{1, 2, 3}, 3); ok {
		t.Error("RSI accepted n+0 points; needs n+1")
	}
}

func TestRSIBounded(t *testing.T) {
	t.Parallel()

	prices := []float64{50, 48, 53, 47, 55, 44, 58, 43, 60, 42, 61, 41, 63, 40, 65}
	got, ok := RSI(prices, 14)
	if !ok {
		t.Fatal("RSI returned no value")
	}
	if got < 0 || got > 100 {
		t.Errorf("RSI = %v out of [0,100]", got)
	}
}

func TestBollinger(t *testing.T) {
	t.Parallel()

	prices := []float64{2, 4, 4, 4, 5, 5, 7, 9} // mean 5, population stddev 2
	upper, middle, lower, ok := Bollinger(prices, 8, 2)
	if !ok {
		t.Fatal("Bollinger returned no value")
	}
	if !approx(middle, 5, 1e-12) || !approx(upper, 9, 1e-12) || !approx(lower, 1, 1e-12) {
		t.Errorf("Bollinger = (%v, %v, %v), want (9, 5, 1)", upper, middle, lower)
	}

	sma, _ := SMA(prices, 8)
	if middle != sma {
		t.Errorf("Bollinger middle %v != SMA %v", middle, sma)
	}
}

func TestATR(t *testing.T) {
	t.Parallel()

	highs := []float64{2, 3, 4}
	lows := []float64{1, 2, 3}
	closes := []float64{1.5, 2.5, 3.5}
	got, ok := ATR(highs, lows, closes, 2)
	if !ok || !approx(got, 1.5, 1e-12) {
		t.Errorf("ATR = %v (ok=%v), want 1.5", got, ok)
	}
	if got < 0 {
		t.Errorf("ATR negative: %v", got)
	}

	if _, ok := ATR(highs, lows, closes, 3); ok {
		t.Error("ATR accepted n+0 bars; needs n+1")
	}
}

func TestADXStrongTrend(t *testing.T) {
	t.Parallel()

	// Steady one-unit climb: all directional movement is upward, so DX
	// reads 100 on every window.
	n := 5
	var highs, lows, closes []float64
	for i := 0; i < 3*n; i++ {
		highs = append(highs, float64(i)+1)
		lows = append(lows, float64(i))
		closes = append(closes, float64(i)+0.5)
	}
	got, ok := ADX(highs, lows, closes, n)
	if !ok {
		t.Fatal("ADX returned no value")
	}
	if !approx(got, 100, 1e-9) {
		t.Errorf("ADX = %v, want 100", got)
	}

	if _, ok := ADX(highs[:2*n-1], lows[:2*n-1], closes[:2*n-1], n); ok {
		t.Error("ADX accepted fewer than 2n bars")
	}
}

func TestChoppiness(t *testing.T) {
	t.Parallel()

	// Directional move reads low.
	var highs, lows, closes []float64
	for i := 0; i < 12; i++ {
		p := 100 + float64(i)
		highs = append(highs, p)
		lows = append(lows, p)
		closes = append(closes, p)
	}
	got, ok := Choppiness(highs, lows, closes, 10)
	if !ok {
		t.Fatal("Choppiness returned no value")
	}
	if got < 0 || got > 100 {
		t.Errorf("Choppiness = %v out of [0,100]", got)
	}
	if got > 20 {
		t.Errorf("Choppiness of a pure trend = %v, want low", got)
	}

	// Zero range reads 100.
	flat := []float64{5, 5, 5, 5, 5, 5}
	if got, ok := Choppiness(flat, flat, flat, 5); !ok || got != 100 {
		t.Errorf("Choppiness(flat) = %v (ok=%v), want 100", got, ok)
	}
}

func TestSlope(t *testing.T) {
	t.Parallel()

	got, ok := Slope([]float64{1, 2, 3, 4, 5}, 5)
	if !ok || !approx(got, 1, 1e-12) {
		t.Errorf("Slope = %v (ok=%v), want 1", got, ok)
	}

	down, _ := Slope([]float64{9, 7, 5, 3, 1}, 5)
	if !approx(down, -2, 1e-12) {
		t.Errorf("Slope(down) = %v, want -2", down)
	}
}

func TestRangePercent(t *testing.T) {
	t.Parallel()

	got, ok := RangePercent([]float64{100, 95, 105}, 3)
	if !ok || !approx(got, 200.0/19.0, 1e-9) {
		t.Errorf("RangePercent = %v (ok=%v), want %v", got, ok, 200.0/19.0)
	}

	if _, ok := RangePercent([]float64{0, 1, 2}, 3); ok {
		t.Error("RangePercent accepted a zero window minimum")
	}
}

func TestMACD(t *testing.T) {
	t.Parallel()

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 100
	}
	macd, signal, hist, ok := MACD(flat, 12, 26, 9)
	if !ok {
		t.Fatal("MACD returned no value")
	}
	if !approx(macd, 0, 1e-12) || !approx(signal, 0, 1e-12) || !approx(hist, 0, 1e-12) {
		t.Errorf("MACD(flat) = (%v, %v, %v), want zeros", macd, signal, hist)
	}

	rising := make([]float64, 40)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	macd, _, _, ok = MACD(rising, 12, 26, 9)
	if !ok || macd <= 0 {
		t.Errorf("MACD(rising) = %v (ok=%v), want > 0", macd, ok)
	}

	if _, _, _, ok := MACD(flat[:34], 12, 26, 9); ok {
		t.Error("MACD accepted fewer than slow+signal points")
	}
}

func TestIndicatorsArePure(t *testing.T) {
	t.Parallel()

	prices := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5}
	snapshot := make([]float64, len(prices))
	copy(snapshot, prices)

	a1, _ := SMA(prices, 5)
	a2, _ := SMA(prices, 5)
	if a1 != a2 {
		t.Error("SMA not deterministic")
	}
	r1, _ := RSI(prices, 5)
	r2, _ := RSI(prices, 5)
	if r1 != r2 {
		t.Error("RSI not deterministic")
	}

	for i := range prices {
		if prices[i] != snapshot[i] {
			t.Fatalf("input mutated at %d: %v != %v", i, prices[i], snapshot[i])
		}
	}
}
