// Package inventory implements the per-symbol cross-venue inventory
// tracker (C13): aggregated notional/margin/funding accounting, rebalance
// detection and the open-position gate.
package inventory

import (
	"sync"
	"time"

	"github.com/perpx/engine/internal/types"
)

const (
	defaultRebalanceThreshold = 0.20
	defaultRebalanceCooldown  = 5 * time.Minute
	defaultMaxRebalanceRatio  = 0.5
	defaultMinRebalanceSize   = 50.0 // notional
	defaultMaxInventoryRatio  = 0.30
	rebalancePriority         = 8
)

// Config tunes the thresholds; zero values fall back to spec defaults.
type Config struct {
	RebalanceThreshold float64
	RebalanceCooldown  time.Duration
	MaxRebalanceRatio  float64
	MinRebalanceSize   float64
	MaxInventoryRatio  float64
}

func DefaultConfig() Config {
	return Config{
		RebalanceThreshold: defaultRebalanceThreshold,
		RebalanceCooldown:  defaultRebalanceCooldown,
		MaxRebalanceRatio:  defaultMaxRebalanceRatio,
		MinRebalanceSize:   defaultMinRebalanceSize,
		MaxInventoryRatio:  defaultMaxInventoryRatio,
	}
}

// symbolState aggregates every venue leg for one symbol.
type symbolState struct {
	legs          map[types.Exchange]*leg
	realizedPnl   float64
	fundingPaid   float64
	fundingRecv   float64
	lastRebalance time.Time
}

type leg struct {
	side     types.PositionSide
	quantity float64
	entry    float64
	leverage float64
	notional float64
	margin   float64
}

// RebalanceAction is a single corrective order the caller should submit.
type RebalanceAction struct {
	Type     string // "reduce"
	Exchange types.Exchange
	Side     types.Side
	Quantity float64
	Reason   string
	Priority int
}

// Manager is the cross-venue inventory tracker for every symbol it sees.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	symbols map[types.Symbol]*symbolState
}

func New(cfg Config) *Manager {
	if cfg.RebalanceThreshold <= 0 {
		cfg.RebalanceThreshold = defaultRebalanceThreshold
	}
	if cfg.RebalanceCooldown <= 0 {
		cfg.RebalanceCooldown = defaultRebalanceCooldown
	}
	if cfg.MaxRebalanceRatio <= 0 {
		cfg.MaxRebalanceRatio = defaultMaxRebalanceRatio
	}
	if cfg.MinRebalanceSize <= 0 {
		cfg.MinRebalanceSize = defaultMinRebalanceSize
	}
	if cfg.MaxInventoryRatio <= 0 {
		cfg.MaxInventoryRatio = defaultMaxInventoryRatio
	}
	return &Manager{cfg: cfg, symbols: make(map[types.Symbol]*symbolState)}
}

func (m *Manager) state(symbol types.Symbol) *symbolState {
	s, ok := m.symbols[symbol]
	if !ok {
		s = &symbolState{legs: make(map[types.Exchange]*leg)}
		m.symbols[symbol] = s
	}
	return s
}

// UpdatePosition records the latest known leg for (exchange, symbol).
func (m *Manager) UpdatePosition(exchange types.Exchange, symbol types.Symbol, side types.PositionSide, qty, entry, leverage float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(symbol)
	notional := qty * entry
	margin := 0.0
	if leverage > 0 {
		margin = notional / leverage
	}
	s.legs[exchange] = &leg{side: side, quantity: qty, entry: entry, leverage: leverage, notional: notional, margin: margin}
}

// RecordFundingFee accrues a funding payment for (exchange, symbol); a
// positive fee means funding was paid, negative means received.
func (m *Manager) RecordFundingFee(exchange types.Exchange, symbol types.Symbol, fee float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(symbol)
	if fee > 0 {
		s.fundingPaid += fee
	} else {
		s.fundingRecv += -fee
	}
}

// NetFunding returns paid-received for symbol.
func (m *Manager) NetFunding(symbol types.Symbol) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols[symbol]
	if !ok {
		return 0
	}
	return s.fundingPaid - s.fundingRecv
}

// TotalInventory returns the aggregated long/short notional across every
// venue leg for symbol, rebuilt from the current leg snapshot.
func (m *Manager) TotalInventory(symbol types.Symbol) (longNotional, shortNotional, netPosition, totalQty float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols[symbol]
	if !ok {
		return 0, 0, 0, 0
	}
	for _, l := range s.legs {
		totalQty += l.quantity
		switch l.side {
		case types.PositionLong:
			longNotional += l.notional
			netPosition += l.quantity
		case types.PositionShort:
			shortNotional += l.notional
			netPosition -= l.quantity
		}
	}
	return
}

// NeedsRebalance reports whether symbol's long/short imbalance exceeds the
// threshold and the cooldown since the last rebalance has elapsed.
func (m *Manager) NeedsRebalance(symbol types.Symbol, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols[symbol]
	if !ok {
		return false
	}
	if now.Sub(s.lastRebalance) < m.cfg.RebalanceCooldown {
		return false
	}
	ratio := imbalanceRatio(s)
	return ratio > m.cfg.RebalanceThreshold
}

func imbalanceRatio(s *symbolState) float64 {
	var long, short float64
	for _, l := range s.legs {
		switch l.side {
		case types.PositionLong:
			long += l.notional
		case types.PositionShort:
			short += l.notional
		}
	}
	total := long + short
	if total == 0 {
		return 0
	}
	diff := long - short
	if diff < 0 {
		diff = -diff
	}
	return diff / total
}

// GenerateRebalanceActions builds the corrective reduce-order(s) for symbol
// and marks the rebalance timestamp, per §4.12.
func (m *Manager) GenerateRebalanceActions(symbol types.Symbol, now time.Time) []RebalanceAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.symbols[symbol]
	if !ok {
		return nil
	}

	var netPosition, totalQty float64
	var overExchange types.Exchange
	var overSide types.PositionSide
	var overNotional, overEntry float64
	for ex, l := range s.legs {
		totalQty += l.quantity
		switch l.side {
		case types.PositionLong:
			netPosition += l.quantity
		case types.PositionShort:
			netPosition -= l.quantity
		}
		if l.notional > overNotional {
			overNotional = l.notional
			overEntry = l.entry
			overExchange = ex
			overSide = l.side
		}
	}

	if netPosition < 0 {
		netPosition = -netPosition
	}
	reduceQty := netPosition / 2
	capQty := m.cfg.MaxRebalanceRatio * totalQty
	if reduceQty > capQty {
		reduceQty = capQty
	}
	if reduceQty*overEntry < m.cfg.MinRebalanceSize || overSide == "" {
		return nil
	}

	side := types.Sell
	if overSide == types.PositionShort {
		side = types.Buy
	}

	s.lastRebalance = now
	return []RebalanceAction{{
		Type: "reduce", Exchange: overExchange, Side: side, Quantity: reduceQty,
		Reason: "inventory imbalance exceeds threshold", Priority: rebalancePriority,
	}}
}

// CanOpenPosition reports whether symbol's aggregated notional is still
// below maxInventoryRatio of equity.
func (m *Manager) CanOpenPosition(symbol types.Symbol, equity float64) bool {
	if equity <= 0 {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols[symbol]
	if !ok {
		return true
	}
	var total float64
	for _, l := range s.legs {
		total += l.notional
	}
	return total/equity < m.cfg.MaxInventoryRatio
}
