package inventory

import (
	"testing"
	"time"

	"github.com/perpx/engine/internal/types"
)

func TestNeedsRebalanceRequiresThresholdAndCooldown(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	m.UpdatePosition(types.Binance, "BTC-USDT", types.PositionLong, 10, 100, 5)
	m.UpdatePosition(types.Bybit, "BTC-USDT", types.PositionShort, 2, 100, 5)

	if !m.NeedsRebalance("BTC-USDT", now) {
		t.Fatal("expected imbalance to trigger rebalance")
	}
}

func TestGenerateRebalanceActionsReducesOverExposedLeg(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	m.UpdatePosition(types.Binance, "BTC-USDT", types.PositionLong, 10, 100, 5)
	m.UpdatePosition(types.Bybit, "BTC-USDT", types.PositionShort, 1, 100, 5)

	actions := m.GenerateRebalanceActions("BTC-USDT", now)
	if len(actions) != 1 {
		t.Fatalf("expected exactly one rebalance action, got %d", len(actions))
	}
	a := actions[0]
	if a.Exchange != types.Binance || a.Side != types.Sell {
		t.Fatalf("expected a sell reduce on binance (the over-long leg), got %+v", a)
	}
}

func TestGenerateRebalanceActionsSkipsBelowMinSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRebalanceSize = 1_000_000
	m := New(cfg)
	now := time.Now()
	m.UpdatePosition(types.Binance, "BTC-USDT", types.PositionLong, 10, 100, 5)
	m.UpdatePosition(types.Bybit, "BTC-USDT", types.PositionShort, 1, 100, 5)

	if actions := m.GenerateRebalanceActions("BTC-USDT", now); actions != nil {
		t.Fatalf("expected no action below minRebalanceSize, got %+v", actions)
	}
}

func TestCanOpenPositionRespectsMaxInventoryRatio(t *testing.T) {
	m := New(DefaultConfig())
	m.UpdatePosition(types.Binance, "BTC-USDT", types.PositionLong, 100, 100, 1)
	if m.CanOpenPosition("BTC-USDT", 1000) {
		t.Fatal("expected notional/equity to exceed maxInventoryRatio")
	}
	if !m.CanOpenPosition("BTC-USDT", 1_000_000) {
		t.Fatal("expected ample equity to pass the gate")
	}
}
