package arbitrage

import (
	"testing"
	"time"

	"github.com/perpx/engine/internal/types"
)

func TestScanFindsDirectionalOpportunity(t *testing.T) {
	d := New(DefaultConfig())
	rates := []VenueRate{
		{Exchange: types.Binance, Annualized: 0.05, Confidence: 0.8},
		{Exchange: types.Bybit, Annualized: 0.30, Confidence: 0.8},
	}
	opps := d.Scan("BTC-USDT", rates, time.Now())
	if len(opps) != 1 {
		t.Fatalf("expected exactly one opportunity, got %d", len(opps))
	}
	o := opps[0]
	if o.LongExchange != types.Binance || o.ShortExchange != types.Bybit {
		t.Fatalf("expected long binance / short bybit, got %+v", o)
	}
	if o.SpreadAnnualized <= 0 {
		t.Fatal("expected a positive spread")
	}
}

func TestScanRejectsBelowMinSpread(t *testing.T) {
	d := New(DefaultConfig())
	rates := []VenueRate{
		{Exchange: types.Binance, Annualized: 0.05, Confidence: 0.9},
		{Exchange: types.Bybit, Annualized: 0.06, Confidence: 0.9},
	}
	if opps := d.Scan("BTC-USDT", rates, time.Now()); len(opps) != 0 {
		t.Fatalf("expected no opportunities below minSpreadAnnualized, got %d", len(opps))
	}
}

func TestScanRejectsLowCombinedConfidence(t *testing.T) {
	d := New(DefaultConfig())
	rates := []VenueRate{
		{Exchange: types.Binance, Annualized: 0.05, Confidence: 0.1},
		{Exchange: types.Bybit, Annualized: 0.40, Confidence: 0.9},
	}
	if opps := d.Scan("BTC-USDT", rates, time.Now()); len(opps) != 0 {
		t.Fatalf("expected no opportunities below minCombinedConfidence, got %d", len(opps))
	}
}

func TestPairStatsTracksHistory(t *testing.T) {
	d := New(DefaultConfig())
	rates := []VenueRate{
		{Exchange: types.Binance, Annualized: 0.05, Confidence: 0.9},
		{Exchange: types.Bybit, Annualized: 0.30, Confidence: 0.9},
	}
	d.Scan("BTC-USDT", rates, time.Now())
	d.Scan("BTC-USDT", rates, time.Now())

	mean, _, _, ok := d.PairStats("BTC-USDT", types.Binance, types.Bybit)
	if !ok {
		t.Fatal("expected pair stats to exist after scanning")
	}
	if mean <= 0 {
		t.Fatalf("expected a positive mean spread, got %f", mean)
	}
}
