// Package risk implements the process-wide risk manager (C17): a
// single-writer singleton that runs periodic margin/concentration/BTC-crash/
// drawdown/liquidation-distance checks and gates new position opens.
//
// State is mutex-protected and checks run on a periodic tick with
// cooldown-gated alerts, operating at the exchange-wide level described in
// §4.16. Per §9, this package exposes an explicit handle constructed
// once at engine start and threaded through dependents — never a package
// level global — with a Reset method reserved for tests.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/perpx/engine/internal/types"
)

const (
	defaultCooldown           = 5 * time.Minute
	defaultMinMarginRatio     = 0.35
	defaultMaxPositionRatio   = 0.12
	defaultBTCCrashWindow     = 10 * time.Minute
	defaultBTCCrashThreshold  = 0.06
	defaultAltcoinReduceRatio = 0.70
	defaultMaxDailyDrawdown   = 0.07
	liquidationDistanceWarn   = 0.05
)

// Config tunes every threshold. New replaces the whole Config with
// DefaultConfig when CooldownPeriod is zero or negative; other zero fields
// are used as given.
type Config struct {
	CooldownPeriod     time.Duration
	MinMarginRatio     float64
	MaxPositionRatio   float64
	BTCCrashWindow     time.Duration
	BTCCrashThreshold  float64
	AltcoinReduceRatio float64
	MaxDailyDrawdown   float64
}

func DefaultConfig() Config {
	return Config{
		CooldownPeriod: defaultCooldown, MinMarginRatio: defaultMinMarginRatio,
		MaxPositionRatio: defaultMaxPositionRatio, BTCCrashWindow: defaultBTCCrashWindow,
		BTCCrashThreshold: defaultBTCCrashThreshold, AltcoinReduceRatio: defaultAltcoinReduceRatio,
		MaxDailyDrawdown: defaultMaxDailyDrawdown,
	}
}

// Executor is the minimal surface the risk manager needs from the order
// executor, breaking the risk<->executor cyclic reference per §9.
type Executor interface {
	PauseAll(reason string)
	ResumeAll()
	EmergencyCloseAll(reason string)
	ReducePosition(exchange types.Exchange, symbol types.Symbol, ratio float64, reason string)
}

// AccountView is a read-only snapshot the risk manager evaluates every tick.
type AccountView struct {
	Equity           float64
	Notional         float64
	DailyStartEquity float64
	Positions        []PositionView
	Now              time.Time
}

// PositionView is one position's state for concentration/liquidation checks.
type PositionView struct {
	Exchange  types.Exchange
	Symbol    types.Symbol
	Side      types.PositionSide
	Notional  float64
	Entry     float64
	Current   float64
	Leverage  float64
	MMR       float64 // maintenance margin ratio
	IsBaseBTC bool
}

type checkCooldowns struct {
	margin        time.Time
	concentration time.Time
	btcCrash      time.Time
	drawdown      time.Time
	liquidation   time.Time
}

// Alert is emitted whenever a check fires.
type Alert struct {
	Kind     string // "emergency_close", "position_alert", "liquidation_warning"
	Severity string // "warning", "critical"
	Reason   string
	At       time.Time
}

// Manager is the singleton risk handle. Construct once at engine start and
// thread the pointer through every dependent.
type Manager struct {
	cfg      Config
	executor Executor
	logger   *slog.Logger

	mu               sync.Mutex
	cooldowns        checkCooldowns
	strategiesPaused bool
	dailyPeak        float64
	dailyStartEquity float64
	lastDate         string
	btcHistory       []btcSample
	alerts           []Alert
}

type btcSample struct {
	price float64
	at    time.Time
}

// New constructs the singleton handle. The caller owns its lifetime.
func New(cfg Config, executor Executor, logger *slog.Logger) *Manager {
	if cfg.CooldownPeriod <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{cfg: cfg, executor: executor, logger: logger.With("component", "risk_manager")}
}

// Reset clears all mutable state. Reserved for tests, per §9.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns = checkCooldowns{}
	m.strategiesPaused = false
	m.dailyPeak = 0
	m.dailyStartEquity = 0
	m.lastDate = ""
	m.btcHistory = nil
	m.alerts = nil
}

// Alerts returns and clears the buffered alert log.
func (m *Manager) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.alerts
	m.alerts = nil
	return out
}

func (m *Manager) alert(kind, severity, reason string, at time.Time) {
	m.alerts = append(m.alerts, Alert{Kind: kind, Severity: severity, Reason: reason, At: at})
}

// OnUpdate runs every check in order against the latest account view. Each
// check is independently cooldown-gated.
func (m *Manager) OnUpdate(view AccountView) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverIfNewDate(view)
	if view.Equity > m.dailyPeak {
		m.dailyPeak = view.Equity
	}

	m.checkMargin(view)
	m.checkConcentration(view)
	m.checkBTCCrash(view)
	m.checkDrawdown(view)
	m.checkLiquidationDistance(view)
}

func (m *Manager) ready(last time.Time, now time.Time) bool {
	return now.Sub(last) >= m.cfg.CooldownPeriod
}

func (m *Manager) checkMargin(view AccountView) {
	if view.Notional == 0 {
		return
	}
	ratio := view.Equity / view.Notional
	if ratio >= m.cfg.MinMarginRatio || !m.ready(m.cooldowns.margin, view.Now) {
		return
	}
	m.cooldowns.margin = view.Now
	m.strategiesPaused = true
	m.alert("emergency_close", "critical", "total margin ratio below minMarginRatio", view.Now)
	m.executor.PauseAll("margin ratio breach")
	m.executor.EmergencyCloseAll("margin ratio breach")
}

func (m *Manager) checkConcentration(view AccountView) {
	if view.Equity == 0 || !m.ready(m.cooldowns.concentration, view.Now) {
		return
	}
	for _, p := range view.Positions {
		if p.Notional/view.Equity > m.cfg.MaxPositionRatio {
			m.cooldowns.concentration = view.Now
			m.alert("position_alert", "warning", "position exceeds maxPositionRatio of equity", view.Now)
			return
		}
	}
}

func (m *Manager) checkBTCCrash(view AccountView) {
	var btcPrice float64
	var found bool
	for _, p := range view.Positions {
		if p.IsBaseBTC {
			btcPrice = p.Current
			found = true
			break
		}
	}
	if !found {
		return
	}
	m.btcHistory = append(m.btcHistory, btcSample{price: btcPrice, at: view.Now})
	cutoff := view.Now.Add(-m.cfg.BTCCrashWindow)
	trimmed := m.btcHistory[:0]
	for _, s := range m.btcHistory {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	m.btcHistory = trimmed

	var maxPrice float64
	for _, s := range m.btcHistory {
		if s.price > maxPrice {
			maxPrice = s.price
		}
	}
	if maxPrice == 0 || !m.ready(m.cooldowns.btcCrash, view.Now) {
		return
	}
	drop := (maxPrice - btcPrice) / maxPrice
	if drop < m.cfg.BTCCrashThreshold {
		return
	}
	m.cooldowns.btcCrash = view.Now
	m.alert("emergency_close", "critical", "BTC crash window threshold breached", view.Now)
	for _, p := range view.Positions {
		if p.IsBaseBTC {
			continue
		}
		m.executor.ReducePosition(p.Exchange, p.Symbol, m.cfg.AltcoinReduceRatio, "BTC crash protective reduce")
	}
}

func (m *Manager) checkDrawdown(view AccountView) {
	if m.dailyStartEquity == 0 || !m.ready(m.cooldowns.drawdown, view.Now) {
		return
	}
	drawdown := m.dailyDrawdown(view.Equity)
	if drawdown < m.cfg.MaxDailyDrawdown {
		return
	}
	m.cooldowns.drawdown = view.Now
	m.strategiesPaused = true
	m.alert("emergency_close", "critical", "daily drawdown exceeds maxDailyDrawdown", view.Now)
	m.executor.PauseAll("daily drawdown breach")
	m.executor.EmergencyCloseAll("daily drawdown breach")
}

// dailyDrawdown is 1 - currentEquity/dailyPeakEquity, per §3.
func (m *Manager) dailyDrawdown(equity float64) float64 {
	if m.dailyPeak == 0 {
		return 0
	}
	return 1 - equity/m.dailyPeak
}

func (m *Manager) checkLiquidationDistance(view AccountView) {
	if !m.ready(m.cooldowns.liquidation, view.Now) {
		return
	}
	for _, p := range view.Positions {
		if p.Leverage <= 0 || p.Current == 0 {
			continue
		}
		var liq float64
		switch p.Side {
		case types.PositionLong:
			liq = p.Entry * (1 - 1/p.Leverage + p.MMR)
		case types.PositionShort:
			liq = p.Entry * (1 + 1/p.Leverage - p.MMR)
		default:
			continue
		}
		distance := absFloat(liq-p.Current) / p.Current
		if distance < liquidationDistanceWarn {
			m.cooldowns.liquidation = view.Now
			m.alert("liquidation_warning", "critical", "position within 5% of estimated liquidation price", view.Now)
		}
	}
}

// CanOpenPosition is the open-gate consulted before new orders, per §4.16.
func (m *Manager) CanOpenPosition(view AccountView) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.strategiesPaused {
		return false
	}
	if view.Notional != 0 {
		ratio := view.Equity / view.Notional
		if ratio < 1.5*m.cfg.MinMarginRatio {
			return false
		}
	}
	if m.dailyDrawdown(view.Equity) >= 0.8*m.cfg.MaxDailyDrawdown {
		return false
	}
	return true
}

// rolloverIfNewDate snapshots dailyStartEquity/dailyPeak and attempts a
// strategy resume on UTC date change, per §4.16.
func (m *Manager) rolloverIfNewDate(view AccountView) {
	date := view.Now.UTC().Format("2006-01-02")
	if date == m.lastDate {
		return
	}
	m.lastDate = date
	m.dailyStartEquity = view.Equity
	m.dailyPeak = view.Equity
	if m.strategiesPaused && view.Notional != 0 && view.Equity/view.Notional >= m.cfg.MinMarginRatio {
		m.strategiesPaused = false
		m.executor.ResumeAll()
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
