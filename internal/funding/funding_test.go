package funding

import (
	"math"
	"testing"

	"github.com/perpx/engine/internal/types"
)

func TestPredictFallsBackBelowThreeObservations(t *testing.T) {
	c := New(DefaultConfig())
	c.Record(types.Binance, "BTC-USDT", 0.0001, 0.00015)
	pred, ok := c.Predict(types.Binance, "BTC-USDT")
	if !ok {
		t.Fatal("expected a prediction")
	}
	if pred.Confidence != 0.3 {
		t.Fatalf("expected fallback confidence 0.3, got %f", pred.Confidence)
	}
	if pred.Rate != 0.00015 {
		t.Fatalf("expected fallback rate to use exchange-provided value, got %f", pred.Rate)
	}
}

func TestPredictEnsembleAfterThreeObservations(t *testing.T) {
	c := New(DefaultConfig())
	rates := []float64{0.0001, 0.00012, 0.00011, 0.00013, 0.00014}
	for _, r := range rates {
		c.Record(types.Binance, "BTC-USDT", r, r)
	}
	pred, ok := c.Predict(types.Binance, "BTC-USDT")
	if !ok {
		t.Fatal("expected a prediction")
	}
	if pred.Confidence < 0.1 || pred.Confidence > 0.9 {
		t.Fatalf("confidence out of clamp range: %f", pred.Confidence)
	}
	if math.IsNaN(pred.Rate) {
		t.Fatal("prediction rate is NaN")
	}
}

func TestHighestLowestRateExchange(t *testing.T) {
	c := New(DefaultConfig())
	for i := 0; i < 3; i++ {
		c.Record(types.Binance, "BTC-USDT", 0.0001, 0.0001)
		c.Record(types.Bybit, "BTC-USDT", 0.0005, 0.0005)
	}
	exs := []types.Exchange{types.Binance, types.Bybit}
	highest, _, ok := c.HighestRateExchange("BTC-USDT", exs)
	if !ok || highest != types.Bybit {
		t.Fatalf("expected bybit to have the highest rate, got %s", highest)
	}
	lowest, _, ok := c.LowestRateExchange("BTC-USDT", exs)
	if !ok || lowest != types.Binance {
		t.Fatalf("expected binance to have the lowest rate, got %s", lowest)
	}
}

func TestAnnualized(t *testing.T) {
	got := Annualized(0.0001)
	want := 0.0001 * 3 * 365
	if got != want {
		t.Fatalf("annualized mismatch: got %f want %f", got, want)
	}
}
