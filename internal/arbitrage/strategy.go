package arbitrage

import (
	"time"

	"github.com/google/uuid"

	"github.com/perpx/engine/internal/inventory"
	"github.com/perpx/engine/internal/sizing"
	"github.com/perpx/engine/internal/stats"
	"github.com/perpx/engine/internal/types"
)

// SignalType is one of the three trade-signal kinds §4.17 produces.
type SignalType string

const (
	SignalOpen      SignalType = "open"
	SignalClose     SignalType = "close"
	SignalRebalance SignalType = "rebalance"
)

// TradeSignal is one output of a strategy tick.
type TradeSignal struct {
	ID               string
	Type             SignalType
	Symbol           types.Symbol
	Opportunity      *Opportunity
	RebalanceActions []inventory.RebalanceAction
	Quantity         float64
	Strength         float64
	Reason           string
	GeneratedAt      time.Time
	ValidUntil       time.Time
}

// SymbolState is everything the strategy needs per configured symbol to run
// one tick: its live venue rates, current inventory snapshot and pricing.
type SymbolState struct {
	Symbol          types.Symbol
	Rates           []VenueRate
	Price           float64
	MaxCurrentSpread float64 // max spread across held legs, if any inventory is open
	HasInventory    bool
}

// RiskInputs carries the account-level figures PositionSizer/InventoryManager
// need; equivalent to the risk manager's own AccountView but scoped to what
// the strategy computes a signal from.
type RiskInputs struct {
	Equity            float64
	AvailableMargin   float64
	CurrentDrawdown   float64
	TargetMaxDrawdown float64
	BaseVolatility    float64
	CurrentVolatility float64
	PerPairLimit      float64
	PerExchangeLimit  float64
	PortfolioLimit    float64
	Leverage          float64
}

// StrategyConfig tunes the strategy's own thresholds.
type StrategyConfig struct {
	MinSpreadToHold float64
	RiskFree        float64
}

func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{MinSpreadToHold: 0.05, RiskFree: 0.02}
}

// Strategy implements C18: binds the detector (C15), funding calculator
// (C12 rates are supplied by the caller via SymbolState), inventory manager
// (C13) and position sizer (C14) into a closed-loop tick() that the risk
// manager (C17) and executor (C16) consume downstream.
type Strategy struct {
	cfg       StrategyConfig
	detector  *Detector
	inventory *inventory.Manager
	sharpe    *stats.RollingWindow

	running bool
	paused  bool

	lastDate    string
	dailyReturn float64
}

func NewStrategy(cfg StrategyConfig, detector *Detector, inv *inventory.Manager) *Strategy {
	if cfg.MinSpreadToHold <= 0 && cfg.RiskFree <= 0 {
		cfg = DefaultStrategyConfig()
	}
	return &Strategy{cfg: cfg, detector: detector, inventory: inv, sharpe: stats.NewRollingWindow(365), running: true}
}

func (s *Strategy) Pause()  { s.paused = true }
func (s *Strategy) Resume() { s.paused = false }
func (s *Strategy) Stop()   { s.running = false }

func (s *Strategy) nextID() string {
	return uuid.NewString()
}

// Tick runs one pass of §4.17 over every configured symbol.
func (s *Strategy) Tick(now time.Time, symbols []SymbolState, risk RiskInputs) []TradeSignal {
	if !s.running || s.paused {
		return nil
	}

	var out []TradeSignal

	if violated, reason := sizing.CheckRiskLimits(risk.CurrentDrawdown, risk.TargetMaxDrawdown); violated {
		out = append(out, TradeSignal{ID: s.nextID(), Type: SignalClose, Reason: reason, GeneratedAt: now})
		return out
	}

	for _, sym := range symbols {
		if sig, ok := s.tickSymbol(now, sym, risk); ok {
			out = append(out, sig)
		}
	}
	return out
}

func (s *Strategy) tickSymbol(now time.Time, sym SymbolState, risk RiskInputs) (TradeSignal, bool) {
	if s.inventory != nil && s.inventory.NeedsRebalance(sym.Symbol, now) {
		actions := s.inventory.GenerateRebalanceActions(sym.Symbol, now)
		if len(actions) > 0 {
			return TradeSignal{
				ID: s.nextID(), Type: SignalRebalance, Symbol: sym.Symbol,
				RebalanceActions: actions, Reason: "inventory imbalance exceeds threshold",
				GeneratedAt: now,
			}, true
		}
	}

	opps := s.detector.Scan(sym.Symbol, sym.Rates, now)
	if len(opps) == 0 {
		if sym.HasInventory && sym.MaxCurrentSpread < s.cfg.MinSpreadToHold {
			return TradeSignal{
				ID: s.nextID(), Type: SignalClose, Symbol: sym.Symbol,
				Reason: "spread decayed below minSpreadToHold", GeneratedAt: now,
			}, true
		}
		return TradeSignal{}, false
	}

	best := bestOpportunity(opps)

	requiredMargin := 0.0
	if sym.Price > 0 && best.SuggestedSize > 0 {
		lev := risk.Leverage
		if lev <= 0 {
			lev = 1
		}
		requiredMargin = best.SuggestedSize * risk.Equity / lev
	}
	canOpenSizer := sizing.CanOpenPosition(risk.AvailableMargin, requiredMargin)
	canOpenInventory := s.inventory == nil || s.inventory.CanOpenPosition(sym.Symbol, risk.Equity)
	if !canOpenSizer || !canOpenInventory {
		return TradeSignal{}, false
	}

	result := sizing.Size(sizing.Input{
		RiskScore: best.RiskScore, ExpectedWin: best.ExpectedReturn,
		BaseVolatility: risk.BaseVolatility, CurrentVolatility: risk.CurrentVolatility,
		CurrentDrawdown: risk.CurrentDrawdown, TargetMaxDrawdown: risk.TargetMaxDrawdown,
		Equity: risk.Equity, AvailableMargin: risk.AvailableMargin,
		SuggestedSize: best.SuggestedSize * risk.Equity,
		PerPairLimit: risk.PerPairLimit, PerExchangeLimit: risk.PerExchangeLimit,
		PortfolioLimit: risk.PortfolioLimit, Leverage: risk.Leverage,
	}, sym.Price)

	if result.SuggestedQuantity <= 0 {
		return TradeSignal{}, false
	}

	return TradeSignal{
		ID: s.nextID(), Type: SignalOpen, Symbol: sym.Symbol,
		Opportunity: &best, Quantity: result.SuggestedQuantity, Strength: best.CombinedConfidence,
		Reason: "arbitrage opportunity within risk and sizing limits",
		GeneratedAt: now, ValidUntil: best.ExpiresAt,
	}, true
}

// RecordDailyPnl archives one day's return, rolling the Sharpe window
// forward on UTC date change per §4.17 step 5.
func (s *Strategy) RecordDailyPnl(now time.Time, equity, dayStartEquity float64) (sharpe float64, ok bool) {
	date := now.UTC().Format("2006-01-02")
	if date != s.lastDate {
		if s.lastDate != "" {
			s.sharpe.Add(s.dailyReturn)
		}
		s.lastDate = date
	}
	if dayStartEquity != 0 {
		s.dailyReturn = (equity - dayStartEquity) / dayStartEquity
	}
	return s.sharpe.Sharpe(s.cfg.RiskFree)
}

func bestOpportunity(opps []Opportunity) Opportunity {
	best := opps[0]
	for _, o := range opps[1:] {
		if o.ExpectedReturn > best.ExpectedReturn {
			best = o
		}
	}
	return best
}
