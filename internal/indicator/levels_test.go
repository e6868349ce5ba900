package indicator

import "testing"

func TestSupportResistance(t *testing.T) {
	t.Parallel()

	// Zigzag with lows near 8 and a high at 10. The two lows are within
	// the 2% cluster tolerance and merge into one level.
	prices := []float64{10, 8, 10, 8.1, 10}
	supports, resistances := SupportResistance(prices, 1)

	if len(supports) != 1 || !approx(supports[0], 8.05, 1e-12) {
		t.Errorf("supports = %v, want [8.05]", supports)
	}
	if len(resistances) != 1 || resistances[0] != 10 {
		t.Errorf("resistances = %v, want [10]", resistances)
	}
}

func TestSupportResistanceSeparateClusters(t *testing.T) {
	t.Parallel()

	// Lows at 80 and 100 are 25% apart and must stay distinct levels.
	prices := []float64{120, 80, 120, 100, 120}
	supports, _ := SupportResistance(prices, 1)

	if len(supports) != 2 {
		t.Fatalf("supports = %v, want two levels", supports)
	}
	if supports[0] != 80 || supports[1] != 100 {
		t.Errorf("supports = %v, want [80 100]", supports)
	}
}

func TestSupportResistanceShortInput(t *testing.T) {
	t.Parallel()

	supports, resistances := SupportResistance([]float64{1, 2}, 2)
	if supports != nil || resistances != nil {
		t.Errorf("short input produced levels: %v / %v", supports, resistances)
	}
}

func TestFibLevels(t *testing.T) {
	t.Parallel()

	prices := []float64{100, 150, 200, 180, 160}
	fib, ok := FibLevels(prices, 5)
	if !ok {
		t.Fatal("FibLevels returned no value")
	}
	if fib.SwingHigh != 200 || fib.SwingLow != 100 {
		t.Fatalf("swing = (%v, %v), want (200, 100)", fib.SwingHigh, fib.SwingLow)
	}

	if got := fib.Retracements[50]; !approx(got, 150, 1e-12) {
		t.Errorf("retracement 50%% = %v, want 150", got)
	}
	if got := fib.Retracements[61.8]; !approx(got, 138.2, 1e-9) {
		t.Errorf("retracement 61.8%% = %v, want 138.2", got)
	}
	if got := fib.Extensions[161.8]; !approx(got, 261.8, 1e-9) {
		t.Errorf("extension 161.8%% = %v, want 261.8", got)
	}
}

func TestFibScore(t *testing.T) {
	t.Parallel()

	fib, ok := FibLevels([]float64{100, 150, 200, 180, 160}, 5)
	if !ok {
		t.Fatal("FibLevels returned no value")
	}

	// Sitting exactly on the 50% level scores the exact-hit weight.
	score, ok := fib.Score(150, 1.0)
	if !ok {
		t.Fatal("Score found no level at 150")
	}
	if score.Ratio != 50 || score.Weight != 1.3 {
		t.Errorf("score = %+v, want ratio 50 weight 1.3", score)
	}

	// Near (but not on) the 61.8% level scores the table weight.
	score, ok = fib.Score(139, 1.0)
	if !ok {
		t.Fatal("Score found no level at 139")
	}
	if score.Ratio != 61.8 || score.Weight != 1.2 {
		t.Errorf("score = %+v, want ratio 61.8 weight 1.2", score)
	}

	// Outside tolerance finds nothing.
	if _, ok := fib.Score(120, 1.0); ok {
		t.Error("Score matched a level outside tolerance")
	}
}
