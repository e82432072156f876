// Package funding implements the per-(exchange,symbol) funding-rate
// calculator (C12): a capped ring-buffer history, an EMA, and an ensemble
// prediction with a confidence score, plus cross-venue convenience queries.
package funding

import (
	"math"
	"sync"

	"github.com/perpx/engine/internal/types"
)

const (
	defaultMaxHistory  = 90
	defaultEmaWindow   = 12
	defaultLinearWindow = 12
	fundingsPerDay     = 3
	daysPerYear        = 365
)

// Config tunes the calculator; zero values fall back to spec defaults.
type Config struct {
	MaxHistory  int
	EmaWindow   int
	LinearWindow int
}

func DefaultConfig() Config {
	return Config{MaxHistory: defaultMaxHistory, EmaWindow: defaultEmaWindow, LinearWindow: defaultLinearWindow}
}

// Prediction is the ensemble forecast for the next funding rate.
type Prediction struct {
	Rate       float64
	Confidence float64
}

// series is the per-(exchange,symbol) ring buffer plus derived EMA.
type series struct {
	history []float64 // ring buffer of raw rates, oldest first after trim
	ema     float64
	emaSet  bool
	lastExchangeProvided float64 // most recent exchange-reported predicted rate
}

// Calculator tracks funding series across every (exchange,symbol) pair seen.
type Calculator struct {
	cfg Config

	mu     sync.RWMutex
	series map[key]*series
}

type key struct {
	Exchange types.Exchange
	Symbol   types.Symbol
}

func New(cfg Config) *Calculator {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.EmaWindow <= 0 {
		cfg.EmaWindow = defaultEmaWindow
	}
	if cfg.LinearWindow <= 0 {
		cfg.LinearWindow = defaultLinearWindow
	}
	return &Calculator{cfg: cfg, series: make(map[key]*series)}
}

// Record ingests one observed funding rate (and, if available, the venue's
// own predicted next rate) for (exchange, symbol).
func (c *Calculator) Record(exchange types.Exchange, symbol types.Symbol, rate float64, exchangePredicted float64) {
	k := key{exchange, symbol}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.series[k]
	if !ok {
		s = &series{}
		c.series[k] = s
	}
	s.history = append(s.history, rate)
	if len(s.history) > c.cfg.MaxHistory {
		s.history = s.history[len(s.history)-c.cfg.MaxHistory:]
	}
	alpha := 2.0 / (float64(c.cfg.EmaWindow) + 1)
	if !s.emaSet {
		s.ema = rate
		s.emaSet = true
	} else {
		s.ema = alpha*rate + (1-alpha)*s.ema
	}
	s.lastExchangeProvided = exchangePredicted
}

// Predict returns the ensemble prediction for (exchange, symbol). If fewer
// than 3 observations exist, falls back to the venue-provided rate with
// confidence 0.3, per §4.11.
func (c *Calculator) Predict(exchange types.Exchange, symbol types.Symbol) (Prediction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[key{exchange, symbol}]
	if !ok || len(s.history) == 0 {
		return Prediction{}, false
	}
	if len(s.history) < 3 {
		return Prediction{Rate: s.lastExchangeProvided, Confidence: 0.3}, true
	}

	linWindow := s.history
	if len(linWindow) > c.cfg.LinearWindow {
		linWindow = linWindow[len(linWindow)-c.cfg.LinearWindow:]
	}
	linearPred := linearRegressionPredict(linWindow)
	mostRecent := s.history[len(s.history)-1]

	rate := 0.4*s.ema + 0.3*linearPred + 0.3*mostRecent

	mean, stdev := meanStdev(s.history)
	var ratio float64
	if mean != 0 {
		ratio = math.Abs(stdev / mean)
	} else {
		ratio = 1
	}
	confidence := clamp(1-ratio, 0.1, 0.9)

	return Prediction{Rate: rate, Confidence: confidence}, true
}

// Annualized converts a per-funding rate to an annualized rate, assuming 3
// fundings/day per §4.11.
func Annualized(rate float64) float64 {
	return rate * fundingsPerDay * daysPerYear
}

// HighestRateExchange returns the exchange with the highest current EMA
// funding rate for symbol, among the given candidate exchanges.
func (c *Calculator) HighestRateExchange(symbol types.Symbol, exchanges []types.Exchange) (types.Exchange, float64, bool) {
	return c.extremeRateExchange(symbol, exchanges, true)
}

// LowestRateExchange returns the exchange with the lowest current EMA
// funding rate for symbol, among the given candidate exchanges.
func (c *Calculator) LowestRateExchange(symbol types.Symbol, exchanges []types.Exchange) (types.Exchange, float64, bool) {
	return c.extremeRateExchange(symbol, exchanges, false)
}

func (c *Calculator) extremeRateExchange(symbol types.Symbol, exchanges []types.Exchange, highest bool) (types.Exchange, float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var (
		best    types.Exchange
		bestVal float64
		found   bool
	)
	for _, ex := range exchanges {
		s, ok := c.series[key{ex, symbol}]
		if !ok || !s.emaSet {
			continue
		}
		if !found || (highest && s.ema > bestVal) || (!highest && s.ema < bestVal) {
			best, bestVal, found = ex, s.ema, true
		}
	}
	return best, bestVal, found
}

// MaxSpread returns the largest pairwise EMA funding-rate spread among the
// given exchanges for symbol.
func (c *Calculator) MaxSpread(symbol types.Symbol, exchanges []types.Exchange) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var (
		max   float64
		found bool
	)
	for i := 0; i < len(exchanges); i++ {
		for j := i + 1; j < len(exchanges); j++ {
			s1, ok1 := c.series[key{exchanges[i], symbol}]
			s2, ok2 := c.series[key{exchanges[j], symbol}]
			if !ok1 || !ok2 || !s1.emaSet || !s2.emaSet {
				continue
			}
			spread := math.Abs(s1.ema - s2.ema)
			if !found || spread > max {
				max, found = spread, true
			}
		}
	}
	return max, found
}

// CalculateSpread returns ema(exchange1) - ema(exchange2) for symbol.
func (c *Calculator) CalculateSpread(symbol types.Symbol, exchange1, exchange2 types.Exchange) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s1, ok1 := c.series[key{exchange1, symbol}]
	s2, ok2 := c.series[key{exchange2, symbol}]
	if !ok1 || !ok2 || !s1.emaSet || !s2.emaSet {
		return 0, false
	}
	return s1.ema - s2.ema, true
}

func linearRegressionPredict(xs []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}
	if n == 1 {
		return xs[0]
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
		return xs[len(xs)-1]
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	nextX := n // predicts one step past the last observed index
	return slope*nextX + intercept
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

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
