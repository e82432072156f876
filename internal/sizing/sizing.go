// Package sizing implements the fractional-Kelly position sizer (C14).
package sizing

import "math"

const (
	defaultKellyFraction    = 0.25
	assumedWorstCaseLoss    = 0.002 // 0.2% slippage+fees
	defaultVolFloor         = 0.5
	defaultVolCeil          = 2.0
)

// Config tunes the sizer; zero values fall back to spec defaults.
type Config struct {
	KellyFraction float64
	VolFloor      float64
	VolCeil       float64
}

func DefaultConfig() Config {
	return Config{KellyFraction: defaultKellyFraction, VolFloor: defaultVolFloor, VolCeil: defaultVolCeil}
}

// Input is everything the sizer needs to compute one sizing decision.
type Input struct {
	RiskScore        float64 // 0-100
	ExpectedWin      float64 // expected return of the opportunity
	BaseVolatility   float64
	CurrentVolatility float64
	CurrentDrawdown  float64
	TargetMaxDrawdown float64
	Equity           float64
	AvailableMargin  float64
	SuggestedSize    float64 // opportunity's own suggested notional cap
	PerPairLimit     float64
	PerExchangeLimit float64
	PortfolioLimit   float64
	Leverage         float64
	KellyFraction    float64 // zero falls back to the default fraction
	VolFloor         float64 // zero falls back to the default floor
	VolCeil          float64 // zero falls back to the default ceiling
}

// Result is the sizer's output, per §4.13.
type Result struct {
	SuggestedNotional  float64
	SuggestedQuantity  float64
	MaxNotional        float64
	MinNotional        float64
	Leverage           float64
	RequiredMargin     float64
	AdjustmentReason   string
}

// Size runs the six-step fractional-Kelly sizing procedure.
func Size(in Input, price float64) Result {
	winProb := math.Max(0.5, 1-in.RiskScore/100)
	odds := in.ExpectedWin / assumedWorstCaseLoss

	kellyFraction := in.KellyFraction
	if kellyFraction <= 0 {
		kellyFraction = defaultKellyFraction
	}

	var fKelly float64
	if odds > 0 {
		fKelly = math.Max(0, (winProb*odds-(1-winProb))/odds)
	}
	fKelly *= kellyFraction

	volFloor, volCeil := in.VolFloor, in.VolCeil
	if volFloor <= 0 {
		volFloor = defaultVolFloor
	}
	if volCeil <= 0 {
		volCeil = defaultVolCeil
	}
	volAdj := 1.0
	if in.CurrentVolatility > 0 {
		volAdj = clamp(in.BaseVolatility/in.CurrentVolatility, volFloor, volCeil)
	}

	riskAdj := 1.0
	var reason string
	if in.TargetMaxDrawdown > 0 {
		riskAdj = 1 - in.CurrentDrawdown/in.TargetMaxDrawdown
		if riskAdj < 0 {
			riskAdj = 0
			reason = "drawdown at or beyond target max, sizing suppressed"
		}
	}

	notionalFraction := fKelly * volAdj * riskAdj
	notional := notionalFraction * in.Equity

	caps := []float64{in.PerPairLimit, in.PerExchangeLimit, in.PortfolioLimit, in.SuggestedSize, in.AvailableMargin * in.Leverage}
	maxNotional := notional
	for _, limit := range caps {
		if limit > 0 && limit < maxNotional {
			maxNotional = limit
			if reason == "" {
				reason = "capped by per-pair/per-exchange/portfolio/opportunity/margin limit"
			}
		}
	}
	if maxNotional < 0 {
		maxNotional = 0
	}

	qty := 0.0
	if price > 0 {
		qty = maxNotional / price
	}

	leverage := in.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	requiredMargin := maxNotional / leverage

	return Result{
		SuggestedNotional: maxNotional,
		SuggestedQuantity: qty,
		MaxNotional:       maxNotional,
		MinNotional:       0,
		Leverage:          leverage,
		RequiredMargin:    requiredMargin,
		AdjustmentReason:  reason,
	}
}

// CheckRiskLimits is the PositionSizer-side gate §4.17 step 2 consults
// before a strategy tick opens or holds anything: once drawdown reaches the
// target max, every signal collapses to a close.
func CheckRiskLimits(currentDrawdown, targetMaxDrawdown float64) (violated bool, reason string) {
	if targetMaxDrawdown > 0 && currentDrawdown >= targetMaxDrawdown {
		return true, "drawdown at or beyond target max drawdown"
	}
	return false, ""
}

// CanOpenPosition is the PositionSizer-side open-gate consulted alongside
// the inventory manager's own canOpenPosition in §4.17 step 4: a new
// position may only open if the required margin fits within what's free.
func CanOpenPosition(availableMargin, requiredMargin float64) bool {
	return requiredMargin > 0 && requiredMargin <= availableMargin
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DailyTradeCounter enforces a daily trade-count limit that resets on UTC
// date change, per §4.17.
type DailyTradeCounter struct {
	limit int
	date  string
	count int
}

func NewDailyTradeCounter(limit int) *DailyTradeCounter {
	return &DailyTradeCounter{limit: limit}
}

// Allow reports whether one more trade is permitted on dateUTC (formatted
// "2006-01-02"), incrementing the counter if so.
func (d *DailyTradeCounter) Allow(dateUTC string) bool {
	if dateUTC != d.date {
		d.date = dateUTC
		d.count = 0
	}
	if d.count >= d.limit {
		return false
	}
	d.count++
	return true
}
