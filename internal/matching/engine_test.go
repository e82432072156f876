package matching

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/book"
	"github.com/perpx/engine/internal/types"
)

type testBooks struct {
	b *book.Book
}

func (t *testBooks) Get(exchange types.Exchange, symbol types.Symbol) *book.Book { return t.b }

func noPosition(types.Exchange, types.Symbol) *types.Position { return nil }

func lvl(price, qty float64) types.PriceLevel {
	return types.PriceLevel{Price: decimal.NewFromFloat(price), Qty: decimal.NewFromFloat(qty)}
}

func TestMarketBuyDynamicSlippage(t *testing.T) {
	t.Parallel()
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	b.ApplySnapshot(nil, []types.PriceLevel{lvl(100, 1), lvl(101, 2)}, 1)

	e := New(DefaultConfig(), &testBooks{b: b}, noPosition)
	res := e.SubmitOrder(types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Buy,
		Type: types.OrderMarket, Quantity: decimal.NewFromFloat(2.5),
	})

	if res.Rejected {
		t.Fatalf("unexpected rejection: %s", res.Reason)
	}
	if res.Order.Status != types.OrderFilled2 {
		t.Errorf("status = %s, want filled", res.Order.Status)
	}
	wantAvg := decimal.NewFromFloat(100.6)
	if res.Order.AvgFillPrice.Sub(wantAvg).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Errorf("avgFillPrice = %v, want ~100.6", res.Order.AvgFillPrice)
	}
	wantFee := decimal.NewFromFloat(0.1006)
	if res.Order.TotalFee.Sub(wantFee).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Errorf("fee = %v, want ~0.1006", res.Order.TotalFee)
	}
}

func TestPostOnlyRejection(t *testing.T) {
	t.Parallel()
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	b.ApplySnapshot([]types.PriceLevel{lvl(99, 1)}, []types.PriceLevel{lvl(100, 1)}, 1)

	e := New(DefaultConfig(), &testBooks{b: b}, noPosition)
	res := e.SubmitOrder(types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Buy,
		Type: types.OrderLimit, PostOnly: true,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
	})

	if !res.Rejected || res.Reason != "post_only_would_cross" {
		t.Fatalf("expected post_only_would_cross rejection, got %+v", res)
	}
}

func TestPartialFillOnDepthUpdate(t *testing.T) {
	t.Parallel()
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	// start with no crossing liquidity, below price 100
	b.ApplySnapshot(nil, []types.PriceLevel{lvl(105, 5)}, 1)

	e := New(DefaultConfig(), &testBooks{b: b}, noPosition)
	res := e.SubmitOrder(types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Buy,
		Type: types.OrderLimit, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(3),
	})
	if res.Rejected {
		t.Fatalf("unexpected rejection: %s", res.Reason)
	}

	events := e.OnDepth(types.Event{
		Type: types.EventDepth, Timestamp: 2, Exchange: types.Binance, Symbol: "BTC/USDT",
		Asks: []types.PriceLevel{lvl(99, 1), lvl(100, 1)},
	})

	if len(events) != 1 {
		t.Fatalf("expected 1 fill event, got %d", len(events))
	}
	if !events[0].FillQty.Equal(decimal.NewFromInt(2)) {
		t.Errorf("fillQty = %v, want 2", events[0].FillQty)
	}
	o := e.Order(res.Order.ID)
	if o == nil || o.Status != types.OrderPartial {
		t.Fatalf("expected partial order, got %+v", o)
	}
	if !o.FilledQuantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("filledQuantity = %v, want 2", o.FilledQuantity)
	}
}

func TestCancelIdempotent(t *testing.T) {
	t.Parallel()
	b := book.New(types.Binance, "BTC/USDT", book.DefaultSlippageConfig())
	b.ApplySnapshot(nil, []types.PriceLevel{lvl(105, 5)}, 1)

	e := New(DefaultConfig(), &testBooks{b: b}, noPosition)
	res := e.SubmitOrder(types.OrderRequest{
		Exchange: types.Binance, Symbol: "BTC/USDT", Side: types.Buy,
		Type: types.OrderLimit, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(3),
	})

	if !e.CancelOrder(res.Order.ID) {
		t.Fatal("first cancel should succeed")
	}
	if e.CancelOrder(res.Order.ID) {
		t.Fatal("second cancel should be a no-op returning false")
	}
}
