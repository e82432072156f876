// Package stats computes the equity-curve and trade statistics (C6): max
// drawdown, annualized return/volatility, Sharpe/Sortino/Calmar, and trade
// win-rate/profit-factor figures. It also exposes the rolling-window ring
// buffer shared with the arbitrage strategy's daily-Sharpe tracking (C18).
package stats

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/types"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp types.Timestamp
	Equity    decimal.Decimal
}

const (
	riskFreeDefault        = 0.02
	volAnnualizationFactor = 252 // §4.5: daily stdev annualized by sqrt(252), distinct from the 365-day return convention (see SPEC_FULL.md open question #2)
	returnAnnualizationDays = 365
)

// Result bundles every statistic §4.5 requires.
type Result struct {
	MaxDrawdown          float64
	MaxDrawdownDays       int
	TotalReturn           float64
	AnnualizedReturn      float64
	Volatility            float64
	Sharpe                float64
	Sortino               float64
	Calmar                float64
	WinRate               float64
	AvgWin                float64
	AvgLoss                float64
	ProfitFactor          float64
	MaxConsecutiveWins    int
	MaxConsecutiveLosses  int
	AvgHoldingPeriodMs    float64
}

// Compute derives Result from an equity curve and the broker's closed trades.
func Compute(curve []EquityPoint, trades []types.ClosedTrade, riskFree float64) Result {
	if riskFree == 0 {
		riskFree = riskFreeDefault
	}
	var r Result
	if len(curve) < 2 {
		return r
	}

	dailyReturns := dailyReturns(curve)
	r.MaxDrawdown, r.MaxDrawdownDays = maxDrawdown(curve)

	first, _ := curve[0].Equity.Float64()
	last, _ := curve[len(curve)-1].Equity.Float64()
	if first != 0 {
		r.TotalReturn = (last - first) / first
	}

	days := float64(curve[len(curve)-1].Timestamp-curve[0].Timestamp) / 86_400_000.0
	if days <= 0 {
		days = 1
	}
	r.AnnualizedReturn = math.Pow(1+r.TotalReturn, returnAnnualizationDays/days) - 1

	r.Volatility = stdev(dailyReturns) * math.Sqrt(volAnnualizationFactor)
	if r.Volatility != 0 {
		r.Sharpe = (r.AnnualizedReturn - riskFree) / r.Volatility
	}

	downside := downsideDev(dailyReturns)
	if downside != 0 {
		r.Sortino = (r.AnnualizedReturn - riskFree) / downside
	}

	if r.MaxDrawdown != 0 {
		r.Calmar = r.AnnualizedReturn / r.MaxDrawdown
	}

	tradeStats(trades, &r)
	return r
}

func dailyReturns(curve []EquityPoint) []float64 {
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		cur, _ := curve[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

func maxDrawdown(curve []EquityPoint) (float64, int) {
	peak, _ := curve[0].Equity.Float64()
	peakTs := curve[0].Timestamp
	maxDD := 0.0
	maxDays := 0

	for _, p := range curve {
		eq, _ := p.Equity.Float64()
		if eq > peak {
			peak = eq
			peakTs = p.Timestamp
		}
		if peak == 0 {
			continue
		}
		dd := (peak - eq) / peak
		if dd > maxDD {
			maxDD = dd
			maxDays = int((p.Timestamp - peakTs) / 86_400_000)
		}
	}
	return maxDD, maxDays
}

func stdev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	if len(xs) > 1 {
		variance /= float64(len(xs) - 1)
	}
	return math.Sqrt(variance)
}

func downsideDev(xs []float64) float64 {
	var downs []float64
	for _, x := range xs {
		if x < 0 {
			downs = append(downs, x)
		}
	}
	return stdev(downs)
}

func tradeStats(trades []types.ClosedTrade, r *Result) {
	if len(trades) == 0 {
		return
	}
	var wins, losses int
	var winSum, lossSum decimal.Decimal
	var consecWins, consecLosses, maxConsecWins, maxConsecLosses int
	var holdingSum float64

	for _, tr := range trades {
		if tr.NetPnl.IsPositive() {
			wins++
			winSum = winSum.Add(tr.NetPnl)
			consecWins++
			consecLosses = 0
		} else if tr.NetPnl.IsNegative() {
			losses++
			lossSum = lossSum.Add(tr.NetPnl)
			consecLosses++
			consecWins = 0
		}
		if consecWins > maxConsecWins {
			maxConsecWins = consecWins
		}
		if consecLosses > maxConsecLosses {
			maxConsecLosses = consecLosses
		}
		holdingSum += float64(tr.ExitTime - tr.EntryTime)
	}

	total := wins + losses
	if total > 0 {
		r.WinRate = float64(wins) / float64(total)
	}
	if wins > 0 {
		avg, _ := winSum.Div(decimal.NewFromInt(int64(wins))).Float64()
		r.AvgWin = avg
	}
	if losses > 0 {
		avg, _ := lossSum.Div(decimal.NewFromInt(int64(losses))).Float64()
		r.AvgLoss = avg
	}
	lossAbs, _ := lossSum.Abs().Float64()
	winTotal, _ := winSum.Float64()
	if lossAbs != 0 {
		r.ProfitFactor = winTotal / lossAbs
	}
	r.MaxConsecutiveWins = maxConsecWins
	r.MaxConsecutiveLosses = maxConsecLosses
	r.AvgHoldingPeriodMs = holdingSum / float64(len(trades))
}

// RollingWindow is a fixed-capacity ring buffer of daily returns, used by
// the arbitrage strategy's rolling Sharpe (§4.17 mentions a 365-day window).
type RollingWindow struct {
	cap    int
	values []float64
	head   int
	filled bool
}

func NewRollingWindow(capacity int) *RollingWindow {
	return &RollingWindow{cap: capacity, values: make([]float64, capacity)}
}

func (w *RollingWindow) Add(v float64) {
	w.values[w.head] = v
	w.head = (w.head + 1) % w.cap
	if w.head == 0 {
		w.filled = true
	}
}

func (w *RollingWindow) Len() int {
	if w.filled {
		return w.cap
	}
	return w.head
}

func (w *RollingWindow) Values() []float64 {
	n := w.Len()
	out := make([]float64, 0, n)
	if !w.filled {
		return append(out, w.values[:w.head]...)
	}
	out = append(out, w.values[w.head:]...)
	out = append(out, w.values[:w.head]...)
	return out
}

// Sharpe computes the annualized Sharpe ratio over the window's contents,
// returning ok=false when fewer than 30 samples are present (§8 invariant).
func (w *RollingWindow) Sharpe(riskFree float64) (value float64, ok bool) {
	vals := w.Values()
	if len(vals) < 30 {
		return 0, false
	}
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	sd := stdev(vals)
	if sd == 0 {
		return 0, false
	}
	annualizedReturn := mean * returnAnnualizationDays
	annualizedVol := sd * math.Sqrt(returnAnnualizationDays)
	return (annualizedReturn - riskFree) / annualizedVol, true
}
