package strategy

import (
	"testing"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/pkg/types"
)

func TestMeanReversionBuysAtSupport(t *testing.T) {
	t.Parallel()
	m := NewMeanReversion(config.MeanReversionConfig{
		RSIPeriod: 5, RSIOversold: 80, RSIOverbought: 90,
		BBPeriod: 5, BBStdDev: 0.5,
	}, 0, testLogger())

	// Price drops hard onto the auto-detected support (the recent low)
	// with RSI crushed and price under the lower band.
	got := m.Analyze(series(100, 100, 100, 100, 85, 85), nil)
	if got != types.SignalBuy {
		t.Fatalf("Analyze() = %q, want buy", got)
	}
	if !m.long {
		t.Error("position not tracked after buy")
	}
}

func TestMeanReversionHoldsMidRange(t *testing.T) {
	t.Parallel()
	m := NewMeanReversion(config.MeanReversionConfig{
		RSIPeriod: 5, RSIOversold: 30, RSIOverbought: 70,
		BBPeriod: 5, BBStdDev: 2,
		SupportLevel: 90, ResistanceLevel: 110, ZoneWidth: 1,
	}, 0, testLogger())

	// Mid-range price trips no zone.
	if got := m.Analyze(series(100, 101, 99, 100, 101, 100), nil); got != types.SignalNone {
		t.Errorf("Analyze() = %q, want none", got)
	}
}

func TestMeanReversionProfitCut(t *testing.T) {
	t.Parallel()
	m := NewMeanReversion(config.MeanReversionConfig{
		RSIPeriod: 5, RSIOversold: 80, RSIOverbought: 95,
		BBPeriod: 5, BBStdDev: 0.5,
		SupportLevel: 85, ResistanceLevel: 200, ZoneWidth: 3,
	}, 0, testLogger())

	if got := m.Analyze(series(100, 100, 100, 100, 85, 85), nil); got != types.SignalBuy {
		t.Fatalf("entry = %q, want buy", got)
	}

	// Up 4% from entry with momentum recovered and price above the
	// middle band: the profit-cut closes without reaching resistance.
	got := m.Analyze(series(85, 85, 86, 87, 88, 88.5), nil)
	if got != types.SignalSell {
		t.Errorf("Analyze() = %q, want sell (profit-cut)", got)
	}
}

func TestMeanReversionStandsAsideOnRangeBreak(t *testing.T) {
	t.Parallel()
	m := NewMeanReversion(config.MeanReversionConfig{
		RSIPeriod: 5, RSIOversold: 80, RSIOverbought: 90,
		BBPeriod: 5, BBStdDev: 0.5,
		SupportLevel: 100, ResistanceLevel: 110, ZoneWidth: 1,
	}, 0, testLogger())

	// Price collapses far below the support zone.
	if got := m.Analyze(series(105, 105, 105, 105, 90, 90), nil); got != types.SignalNone {
		t.Errorf("Analyze() = %q, want none (range break)", got)
	}
}
