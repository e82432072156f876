package store

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/types"
)

func TestSaveAndLoadPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos := types.Position{
		Exchange: types.Binance, Symbol: "BTC-USDT", Side: types.PositionLong,
		Quantity: decimal.NewFromFloat(10.5), EntryPrice: decimal.NewFromFloat(50000),
		RealizedPnl: decimal.NewFromFloat(1.23),
		Leverage:    decimal.NewFromInt(1),
	}

	if err := s.SavePosition(types.Binance, "BTC-USDT", pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	loaded, err := s.LoadPosition(types.Binance, "BTC-USDT")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadPosition returned nil")
	}
	if !loaded.Quantity.Equal(pos.Quantity) {
		t.Errorf("Quantity = %v, want %v", loaded.Quantity, pos.Quantity)
	}
	if !loaded.RealizedPnl.Equal(pos.RealizedPnl) {
		t.Errorf("RealizedPnl = %v, want %v", loaded.RealizedPnl, pos.RealizedPnl)
	}
}

func TestLoadPositionMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadPosition(types.Binance, "BTC-USDT")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing position, got %+v", loaded)
	}
}

func TestSavePositionOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos1 := types.Position{Quantity: decimal.NewFromInt(10)}
	pos2 := types.Position{Quantity: decimal.NewFromInt(20)}

	_ = s.SavePosition(types.Binance, "BTC-USDT", pos1)
	_ = s.SavePosition(types.Binance, "BTC-USDT", pos2)

	loaded, err := s.LoadPosition(types.Binance, "BTC-USDT")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if !loaded.Quantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Quantity = %v, want 20 (latest save)", loaded.Quantity)
	}
}

func TestSaveAndLoadAccount(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	acc := types.Account{Balance: decimal.NewFromInt(10000), AvailableBalance: decimal.NewFromInt(9000)}
	if err := s.SaveAccount(acc); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	loaded, err := s.LoadAccount()
	if err != nil {
		t.Fatalf("LoadAccount: %v", err)
	}
	if loaded == nil || !loaded.Balance.Equal(acc.Balance) {
		t.Fatalf("LoadAccount = %+v, want balance %v", loaded, acc.Balance)
	}
}
