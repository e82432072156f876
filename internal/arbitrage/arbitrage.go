// Package arbitrage implements the cross-venue funding-rate arbitrage
// detector (C15): spread scanning, risk scoring and opportunity bookkeeping.
package arbitrage

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perpx/engine/internal/types"
)

const (
	defaultMinSpreadAnnualized = 0.15
	defaultMinCombinedConfidence = 0.5
	defaultMaxRiskScore         = 70.0
	defaultOpportunityTTL       = 30 * time.Minute
	spreadHistoryCap            = 100
	takerFeeAssumption          = 0.001
	riskReturnPenalty           = 0.02
)

var exchangeRiskCoefficient = map[types.Exchange]float64{
	types.Binance: 0.1,
	types.OKX:     0.15,
	types.Bybit:   0.2,
}

// Weights are the risk-score component weights, defaulting per §4.14.
type Weights struct {
	Stability, Confidence, Exchange, Liquidity float64
}

func DefaultWeights() Weights {
	return Weights{Stability: 0.3, Confidence: 0.3, Exchange: 0.2, Liquidity: 0.2}
}

// Config tunes the detector; zero values fall back to spec defaults.
type Config struct {
	MinSpreadAnnualized   float64
	MinCombinedConfidence float64
	MaxRiskScore          float64
	OpportunityTTL        time.Duration
	Weights               Weights
}

func DefaultConfig() Config {
	return Config{
		MinSpreadAnnualized:   defaultMinSpreadAnnualized,
		MinCombinedConfidence: defaultMinCombinedConfidence,
		MaxRiskScore:          defaultMaxRiskScore,
		OpportunityTTL:        defaultOpportunityTTL,
		Weights:               DefaultWeights(),
	}
}

// VenueRate is one venue's current annualized funding rate + prediction
// confidence for a symbol, as fed into the detector by the strategy.
type VenueRate struct {
	Exchange   types.Exchange
	Annualized float64
	Confidence float64
}

// Opportunity is one scored, directional arbitrage candidate.
type Opportunity struct {
	ID              string
	Symbol          types.Symbol
	LongExchange    types.Exchange
	ShortExchange   types.Exchange
	SpreadAnnualized float64
	CombinedConfidence float64
	RiskScore       float64
	ExpectedReturn  float64
	SuggestedSize   float64
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

type pairHistory struct {
	spreads []float64 // ring buffer capped at spreadHistoryCap
	mean    float64
	stdev   float64
	trend   float64
}

// Detector scans every exchange pair per symbol and tracks spread history.
type Detector struct {
	cfg Config

	mu       sync.Mutex
	history  map[pairKey]*pairHistory
}

type pairKey struct {
	Symbol types.Symbol
	Long   types.Exchange
	Short  types.Exchange
}

func New(cfg Config) *Detector {
	if cfg.MinSpreadAnnualized <= 0 {
		cfg.MinSpreadAnnualized = defaultMinSpreadAnnualized
	}
	if cfg.MinCombinedConfidence <= 0 {
		cfg.MinCombinedConfidence = defaultMinCombinedConfidence
	}
	if cfg.MaxRiskScore <= 0 {
		cfg.MaxRiskScore = defaultMaxRiskScore
	}
	if cfg.OpportunityTTL <= 0 {
		cfg.OpportunityTTL = defaultOpportunityTTL
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Detector{cfg: cfg, history: make(map[pairKey]*pairHistory)}
}

// Scan enumerates every ordered pair of rates and returns the accepted
// opportunities (spread/confidence/risk filters applied), per §4.14.
func (d *Detector) Scan(symbol types.Symbol, rates []VenueRate, now time.Time) []Opportunity {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Opportunity
	for i := 0; i < len(rates); i++ {
		for j := 0; j < len(rates); j++ {
			if i == j {
				continue
			}
			long, short := rates[i], rates[j]
			// Long the lower-funding venue, short the higher.
			if long.Annualized >= short.Annualized {
				continue
			}
			spread := short.Annualized - long.Annualized
			if spread < d.cfg.MinSpreadAnnualized {
				continue
			}
			combinedConfidence := math.Sqrt(long.Confidence * short.Confidence)
			if combinedConfidence < d.cfg.MinCombinedConfidence {
				continue
			}

			k := pairKey{Symbol: symbol, Long: long.Exchange, Short: short.Exchange}
			h := d.history[k]
			if h == nil {
				h = &pairHistory{}
				d.history[k] = h
			}
			h.spreads = append(h.spreads, spread)
			if len(h.spreads) > spreadHistoryCap {
				h.spreads = h.spreads[len(h.spreads)-spreadHistoryCap:]
			}
			h.mean, h.stdev = meanStdev(h.spreads)
			h.trend = linearTrend(h.spreads)

			riskScore := d.riskScore(h.stdev, combinedConfidence, long.Exchange, short.Exchange, spread)
			if riskScore > d.cfg.MaxRiskScore {
				continue
			}

			expectedReturn := spread - takerFeeAssumption - riskReturnPenalty*riskScore/100
			suggestedSize := suggestedSizeMultiplier(spread, riskScore, combinedConfidence)

			out = append(out, Opportunity{
				ID:     uuid.NewString(),
				Symbol: symbol, LongExchange: long.Exchange, ShortExchange: short.Exchange,
				SpreadAnnualized: spread, CombinedConfidence: combinedConfidence, RiskScore: riskScore,
				ExpectedReturn: expectedReturn, SuggestedSize: suggestedSize,
				CreatedAt: now, ExpiresAt: now.Add(d.cfg.OpportunityTTL),
			})
		}
	}
	return out
}

// PairStats returns the rolling mean/stdev/linear-trend of the spread
// history tracked for one directional pair, if any observations exist.
func (d *Detector) PairStats(symbol types.Symbol, long, short types.Exchange) (mean, stdev, trend float64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, found := d.history[pairKey{Symbol: symbol, Long: long, Short: short}]
	if !found {
		return 0, 0, 0, false
	}
	return h.mean, h.stdev, h.trend, true
}

func (d *Detector) riskScore(stdev, combinedConfidence float64, long, short types.Exchange, spread float64) float64 {
	stabilityRisk := clamp(stdev*1000, 0, 100) // stdev is in annualized-rate units, scale into 0-100
	confidenceRisk := (1 - combinedConfidence) * 100

	longCoef := exchangeRiskCoefficient[long]
	shortCoef := exchangeRiskCoefficient[short]
	exchangeRisk := (longCoef + shortCoef) / 2 * 100

	var liquidityRisk float64
	switch {
	case spread <= 0.30:
		liquidityRisk = 20
	case spread <= 0.50:
		liquidityRisk = 50
	default:
		liquidityRisk = 80
	}

	w := d.cfg.Weights
	return w.Stability*stabilityRisk + w.Confidence*confidenceRisk + w.Exchange*exchangeRisk + w.Liquidity*liquidityRisk
}

func suggestedSizeMultiplier(spread, riskScore, confidence float64) float64 {
	size := clamp(spread/0.5, 0, 1) * clamp(1-riskScore/100, 0, 1) * clamp(confidence, 0, 1)
	return clamp(size, 0.1, 1.0)
}

func meanStdev(xs []float64) (mean, stdev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	stdev = math.Sqrt(ss / float64(len(xs)-1))
	return mean, stdev
}

// linearTrend returns the slope of a simple linear regression over xs
// (index as the independent variable).
func linearTrend(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range xs {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
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
