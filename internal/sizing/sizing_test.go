package sizing

import "testing"

func TestSizeBasicKelly(t *testing.T) {
	in := Input{
		RiskScore: 20, ExpectedWin: 0.01,
		BaseVolatility: 1.0, CurrentVolatility: 1.0,
		CurrentDrawdown: 0, TargetMaxDrawdown: 0.1,
		Equity: 10000, AvailableMargin: 10000,
		SuggestedSize: 5000, PerPairLimit: 5000, PerExchangeLimit: 5000, PortfolioLimit: 5000,
		Leverage: 2,
	}
	res := Size(in, 100)
	if res.SuggestedNotional <= 0 {
		t.Fatalf("expected a positive notional, got %f", res.SuggestedNotional)
	}
	if res.SuggestedQuantity != res.SuggestedNotional/100 {
		t.Fatalf("quantity should equal notional/price")
	}
	if res.RequiredMargin != res.MaxNotional/2 {
		t.Fatalf("required margin should divide by leverage")
	}
}

func TestSizeZeroedByDrawdown(t *testing.T) {
	in := Input{
		RiskScore: 20, ExpectedWin: 0.01,
		BaseVolatility: 1, CurrentVolatility: 1,
		CurrentDrawdown: 0.2, TargetMaxDrawdown: 0.1,
		Equity: 10000, AvailableMargin: 10000, SuggestedSize: 5000,
		PerPairLimit: 5000, PerExchangeLimit: 5000, PortfolioLimit: 5000, Leverage: 1,
	}
	res := Size(in, 100)
	if res.SuggestedNotional != 0 {
		t.Fatalf("expected zero notional once drawdown exceeds target, got %f", res.SuggestedNotional)
	}
	if res.AdjustmentReason == "" {
		t.Fatal("expected an adjustment reason to be recorded")
	}
}

func TestSizeCappedByPortfolioLimit(t *testing.T) {
	in := Input{
		RiskScore: 0, ExpectedWin: 0.05,
		BaseVolatility: 1, CurrentVolatility: 1,
		CurrentDrawdown: 0, TargetMaxDrawdown: 1,
		Equity: 1_000_000, AvailableMargin: 1_000_000, SuggestedSize: 1_000_000,
		PerPairLimit: 1_000_000, PerExchangeLimit: 1_000_000, PortfolioLimit: 100, Leverage: 1,
	}
	res := Size(in, 10)
	if res.SuggestedNotional != 100 {
		t.Fatalf("expected portfolio limit to cap notional at 100, got %f", res.SuggestedNotional)
	}
}

func TestDailyTradeCounterResetsOnDateChange(t *testing.T) {
	c := NewDailyTradeCounter(1)
	if !c.Allow("2026-07-30") {
		t.Fatal("expected first trade of the day to be allowed")
	}
	if c.Allow("2026-07-30") {
		t.Fatal("expected second trade of the same day to be denied")
	}
	if !c.Allow("2026-07-31") {
		t.Fatal("expected counter to reset on date change")
	}
}
