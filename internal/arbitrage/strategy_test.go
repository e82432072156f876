package arbitrage

import (
	"testing"
	"time"

	"github.com/perpx/engine/internal/inventory"
	"github.com/perpx/engine/internal/types"
)

func baseRisk() RiskInputs {
	return RiskInputs{
		Equity: 10000, AvailableMargin: 10000, CurrentDrawdown: 0.01, TargetMaxDrawdown: 0.07,
		BaseVolatility: 1, CurrentVolatility: 1, PerPairLimit: 5000, PerExchangeLimit: 5000,
		PortfolioLimit: 5000, Leverage: 2,
	}
}

func TestTickEmitsOpenSignalForGoodOpportunity(t *testing.T) {
	inv := inventory.New(inventory.DefaultConfig())
	s := NewStrategy(DefaultStrategyConfig(), New(DefaultConfig()), inv)

	symbols := []SymbolState{{
		Symbol: "BTC-USDT", Price: 50000,
		Rates: []VenueRate{
			{Exchange: types.Binance, Annualized: 0.05, Confidence: 0.9},
			{Exchange: types.Bybit, Annualized: 0.30, Confidence: 0.9},
		},
	}}

	signals := s.Tick(time.Now(), symbols, baseRisk())
	if len(signals) != 1 || signals[0].Type != SignalOpen {
		t.Fatalf("expected one open signal, got %+v", signals)
	}
}

func TestTickClosesOnDrawdownViolation(t *testing.T) {
	inv := inventory.New(inventory.DefaultConfig())
	s := NewStrategy(DefaultStrategyConfig(), New(DefaultConfig()), inv)

	risk := baseRisk()
	risk.CurrentDrawdown = 0.08 // exceeds targetMaxDrawdown of 0.07

	signals := s.Tick(time.Now(), []SymbolState{{Symbol: "BTC-USDT"}}, risk)
	if len(signals) != 1 || signals[0].Type != SignalClose {
		t.Fatalf("expected a single close signal, got %+v", signals)
	}
}

func TestTickProducesNoSignalWhenPaused(t *testing.T) {
	inv := inventory.New(inventory.DefaultConfig())
	s := NewStrategy(DefaultStrategyConfig(), New(DefaultConfig()), inv)
	s.Pause()

	signals := s.Tick(time.Now(), []SymbolState{{Symbol: "BTC-USDT"}}, baseRisk())
	if len(signals) != 0 {
		t.Fatalf("expected no signals while paused, got %+v", signals)
	}
}

func TestRecordDailyPnlRollsSharpeOnDateChange(t *testing.T) {
	inv := inventory.New(inventory.DefaultConfig())
	s := NewStrategy(DefaultStrategyConfig(), New(DefaultConfig()), inv)

	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	_, ok := s.RecordDailyPnl(day1, 10100, 10000)
	if ok {
		t.Fatal("expected insufficient samples on the first day")
	}

	day2 := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s.RecordDailyPnl(day2, 10200, 10100)
	if s.sharpe.Len() != 1 {
		t.Fatalf("expected the first day's return to be archived on rollover, got len=%d", s.sharpe.Len())
	}
}
