package executor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/book"
	"github.com/perpx/engine/internal/matching"
	"github.com/perpx/engine/internal/types"
	"github.com/perpx/engine/internal/xerrors"
)

type testBooks struct {
	b *book.Book
}

func (t *testBooks) Get(exchange types.Exchange, symbol types.Symbol) *book.Book { return t.b }

func noPosition(types.Exchange, types.Symbol) *types.Position { return nil }

func lvl(price, qty float64) types.PriceLevel {
	return types.PriceLevel{Price: decimal.NewFromFloat(price), Qty: decimal.NewFromFloat(qty)}
}

func TestSubmitMarketOrderFillsThroughPaperAdapter(t *testing.T) {
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	b.ApplySnapshot(nil, []types.PriceLevel{lvl(100, 5)}, 1)
	books := &testBooks{b: b}
	engine := matching.New(matching.DefaultConfig(), books, noPosition)
	adapter := NewPaperAdapter(engine)

	e := New(DefaultConfig(), adapter, books)
	e.RegisterAccount(types.Binance, Account{ID: "acct-1", Weight: 1})

	res, err := e.Submit(context.Background(), types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Buy,
		Type: types.OrderMarket, Quantity: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != types.OrderFilled2 {
		t.Fatalf("status = %s, want filled", res.Status)
	}
}

func TestSubmitRejectsWhenNoAccountRegistered(t *testing.T) {
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	books := &testBooks{b: b}
	engine := matching.New(matching.DefaultConfig(), books, noPosition)
	adapter := NewPaperAdapter(engine)

	e := New(DefaultConfig(), adapter, books)
	_, err := e.Submit(context.Background(), types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Buy,
		Type: types.OrderMarket, Quantity: decimal.NewFromInt(1),
	})
	if err == nil {
		t.Fatal("expected an error with no registered account")
	}
}

func TestSubmitRejectsWhenPaused(t *testing.T) {
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	books := &testBooks{b: b}
	engine := matching.New(matching.DefaultConfig(), books, noPosition)
	adapter := NewPaperAdapter(engine)

	e := New(DefaultConfig(), adapter, books)
	e.RegisterAccount(types.Binance, Account{ID: "acct-1", Weight: 1})
	e.PauseAll("risk breach")

	_, err := e.Submit(context.Background(), types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Buy,
		Type: types.OrderMarket, Quantity: decimal.NewFromInt(1),
	})
	if err == nil {
		t.Fatal("expected submission to be rejected while paused")
	}

	e.ResumeAll()
	b.ApplySnapshot(nil, []types.PriceLevel{lvl(100, 5)}, 1)
	if _, err := e.Submit(context.Background(), types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Buy,
		Type: types.OrderMarket, Quantity: decimal.NewFromInt(1),
	}); err != nil {
		t.Fatalf("expected submission to succeed after resume, got %v", err)
	}
}

func TestSelfTradeGuardAdjustsPostOnlyPrice(t *testing.T) {
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	b.ApplySnapshot([]types.PriceLevel{lvl(99, 1)}, []types.PriceLevel{lvl(101, 1)}, 1)
	books := &testBooks{b: b}
	engine := matching.New(matching.DefaultConfig(), books, noPosition)
	adapter := NewPaperAdapter(engine)

	e := New(DefaultConfig(), adapter, books)
	e.RegisterAccount(types.Binance, Account{ID: "acct-1", Weight: 1})

	// Resting own sell at 100; a post-only buy at 100 would cross it.
	e.trackOwnOrder("acct-1", "own-sell-1", types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Sell, Price: decimal.NewFromInt(100),
	})

	adjusted, err := e.applySelfTradeGuard("acct-1", types.OrderRequest{
		AccountID: "acct-1", Exchange: types.Binance, Symbol: "BTC/USDT",
		Side: types.Buy, Type: types.OrderLimit, PostOnly: true,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("unexpected guard error for post-only order: %v", err)
	}
	if !adjusted.Price.LessThan(decimal.NewFromInt(100)) {
		t.Fatalf("expected the guard to shade the price below the resting own order, got %v", adjusted.Price)
	}
}

func TestSelfTradeGuardRejectsNonPostOnlyCross(t *testing.T) {
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	b.ApplySnapshot([]types.PriceLevel{lvl(99, 1)}, []types.PriceLevel{lvl(101, 1)}, 1)
	books := &testBooks{b: b}
	engine := matching.New(matching.DefaultConfig(), books, noPosition)
	adapter := NewPaperAdapter(engine)

	e := New(DefaultConfig(), adapter, books)
	e.trackOwnOrder("acct-1", "own-sell-1", types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Sell, Price: decimal.NewFromInt(100),
	})

	_, err := e.applySelfTradeGuard("acct-1", types.OrderRequest{
		AccountID: "acct-1", Exchange: types.Binance, Symbol: "BTC/USDT",
		Side: types.Buy, Type: types.OrderLimit, PostOnly: false,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
	})
	if err == nil {
		t.Fatal("expected a self-trade rejection for a non-post-only crossing order")
	}
	xerr, ok := err.(*xerrors.Error)
	if !ok || xerr.Code != xerrors.CodeSelfTradeRisk {
		t.Fatalf("expected CodeSelfTradeRisk, got %+v", err)
	}
}

func TestNextNonceIsMonotonicAndClockBound(t *testing.T) {
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	books := &testBooks{b: b}
	engine := matching.New(matching.DefaultConfig(), books, noPosition)
	adapter := NewPaperAdapter(engine)
	e := New(DefaultConfig(), adapter, books)

	n1 := e.nextNonce("acct-1", 100)
	n2 := e.nextNonce("acct-1", 100)
	if n2 <= n1 {
		t.Fatalf("expected nonce to strictly increase, got %d then %d", n1, n2)
	}

	future := time.Now().Add(time.Hour).UnixMilli()
	n3 := e.nextNonce("acct-1", future)
	if n3 != future {
		t.Fatalf("expected nonce to jump to the clock when it outruns the counter, got %d want %d", n3, future)
	}
}
