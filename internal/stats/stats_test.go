package stats

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/types"
)

func eq(ts int64, equity float64) EquityPoint {
	return EquityPoint{Timestamp: types.Timestamp(ts), Equity: decimal.NewFromFloat(equity)}
}

const msPerDay = 86_400_000

func TestComputeShortCurveReturnsZeroValue(t *testing.T) {
	t.Parallel()
	r := Compute([]EquityPoint{eq(0, 100)}, nil, 0)
	if r != (Result{}) {
		t.Fatalf("expected zero-value Result for a single-point curve, got %+v", r)
	}
}

func TestComputeTotalReturn(t *testing.T) {
	t.Parallel()
	curve := []EquityPoint{
		eq(0, 100),
		eq(msPerDay, 110),
	}
	r := Compute(curve, nil, 0.02)
	want := 0.10
	if math.Abs(r.TotalReturn-want) > 1e-9 {
		t.Errorf("TotalReturn = %v, want %v", r.TotalReturn, want)
	}
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()
	curve := []EquityPoint{
		eq(0, 100),
		eq(msPerDay, 120),
		eq(2*msPerDay, 90),
		eq(3*msPerDay, 150),
	}
	r := Compute(curve, nil, 0.02)
	want := (120.0 - 90.0) / 120.0
	if math.Abs(r.MaxDrawdown-want) > 1e-9 {
		t.Errorf("MaxDrawdown = %v, want %v", r.MaxDrawdown, want)
	}
	if r.MaxDrawdownDays != 1 {
		t.Errorf("MaxDrawdownDays = %d, want 1", r.MaxDrawdownDays)
	}
}

func trade(entry, exit float64, entryTs, exitTs int64) types.ClosedTrade {
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	return types.ClosedTrade{
		Entry: e, Exit: x,
		EntryTime: types.Timestamp(entryTs), ExitTime: types.Timestamp(exitTs),
		NetPnl: x.Sub(e),
	}
}

func TestTradeStatsWinRateAndProfitFactor(t *testing.T) {
	t.Parallel()
	trades := []types.ClosedTrade{
		trade(100, 110, 0, 1000), // +10 win
		trade(100, 90, 0, 1000),  // -10 loss
		trade(100, 120, 0, 1000), // +20 win
	}
	curve := []EquityPoint{eq(0, 100), eq(msPerDay, 120)}
	r := Compute(curve, trades, 0.02)

	if math.Abs(r.WinRate-2.0/3.0) > 1e-9 {
		t.Errorf("WinRate = %v, want %v", r.WinRate, 2.0/3.0)
	}
	if math.Abs(r.AvgWin-15.0) > 1e-9 {
		t.Errorf("AvgWin = %v, want 15", r.AvgWin)
	}
	if math.Abs(r.AvgLoss+10.0) > 1e-9 {
		t.Errorf("AvgLoss = %v, want -10", r.AvgLoss)
	}
	wantPF := 30.0 / 10.0
	if math.Abs(r.ProfitFactor-wantPF) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want %v", r.ProfitFactor, wantPF)
	}
}

func TestRollingWindowSharpeRequiresMinimumSamples(t *testing.T) {
	t.Parallel()
	w := NewRollingWindow(40)
	for i := 0; i < 29; i++ {
		w.Add(0.001)
	}
	if _, ok := w.Sharpe(0.02); ok {
		t.Fatal("Sharpe reported ok=true with fewer than 30 samples")
	}
	w.Add(0.001)
	if _, ok := w.Sharpe(0.02); !ok {
		t.Fatal("Sharpe reported ok=false with 30 samples")
	}
}

func TestRollingWindowWrapsAtCapacity(t *testing.T) {
	t.Parallel()
	w := NewRollingWindow(3)
	w.Add(1)
	w.Add(2)
	w.Add(3)
	w.Add(4) // overwrites the first sample

	vals := w.Values()
	want := []float64{2, 3, 4}
	if len(vals) != len(want) {
		t.Fatalf("Values() length = %d, want %d", len(vals), len(want))
	}
	for i, v := range want {
		if vals[i] != v {
			t.Errorf("vals[%d] = %v, want %v", i, vals[i], v)
		}
	}
}
