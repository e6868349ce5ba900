package portfolio

import (
	"testing"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/pkg/types"
)

func testFees() *FeeCalculator {
	return NewFeeCalculator(config.FeeConfig{MakerFee: 0.0016, TakerFee: 0.0026})
}

func TestFee(t *testing.T) {
	t.Parallel()
	f := testFees()

	if got := f.Fee(1000, false); !almostEqual(got, 2.6) {
		t.Errorf("taker fee = %v, want 2.6", got)
	}
	if got := f.Fee(1000, true); !almostEqual(got, 1.6) {
		t.Errorf("maker fee = %v, want 1.6", got)
	}
	if got := f.RoundTrip(1000, false); !almostEqual(got, 5.2) {
		t.Errorf("round trip = %v, want 5.2", got)
	}
	if got := f.BreakevenFraction(false); !almostEqual(got, 0.0052) {
		t.Errorf("breakeven = %v, want 0.0052", got)
	}
}

func TestNetPnLWithActualFees(t *testing.T) {
	t.Parallel()
	f := testFees()

	entryFee, exitFee := 1.3, 1.4
	gross, fees, net := f.NetPnL(100, 110, 1, types.Long, &entryFee, &exitFee)
	if !almostEqual(gross, 10) {
		t.Errorf("gross = %v, want 10", gross)
	}
	if !almostEqual(fees, 2.7) {
		t.Errorf("fees = %v, want 2.7", fees)
	}
	if !almostEqual(net, 7.3) {
		t.Errorf("net = %v, want 7.3", net)
	}
}

func TestNetPnLEstimatedFees(t *testing.T) {
	t.Parallel()
	f := testFees()

	// Nil fees fall back to taker estimates: 0.26% of each leg's value.
	gross, fees, net := f.NetPnL(100, 110, 2, types.Long, nil, nil)
	if !almostEqual(gross, 20) {
		t.Errorf("gross = %v, want 20", gross)
	}
	wantFees := 200*0.0026 + 220*0.0026
	if !almostEqual(fees, wantFees) {
		t.Errorf("fees = %v, want %v", fees, wantFees)
	}
	if !almostEqual(net, 20-wantFees) {
		t.Errorf("net = %v, want %v", net, 20-wantFees)
	}
}

func TestNetPnLShort(t *testing.T) {
	t.Parallel()
	f := testFees()

	zero := 0.0
	gross, _, _ := f.NetPnL(110, 100, 1, types.Short, &zero, &zero)
	if !almostEqual(gross, 10) {
		t.Errorf("short gross = %v, want 10", gross)
	}
}

func TestMinTargetPrice(t *testing.T) {
	t.Parallel()
	f := testFees()

	// 1% profit plus two taker legs on a 100 entry.
	if got := f.MinTargetPrice(100, types.Long, 0.01); !almostEqual(got, 101.52) {
		t.Errorf("long target = %v, want 101.52", got)
	}
	if got := f.MinTargetPrice(100, types.Short, 0.01); !almostEqual(got, 98.48) {
		t.Errorf("short target = %v, want 98.48", got)
	}
}
