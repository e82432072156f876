// Package matching implements the limit-order matching simulator (C4): order
// lifecycle plus market/limit/post-only/reduce-only semantics against the
// order book package.
package matching

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/book"
	"github.com/perpx/engine/internal/types"
)

// FeeRates holds the maker/taker fee for one venue.
type FeeRates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// DefaultFeeRates mirrors §4.3's per-venue defaults.
func DefaultFeeRates() map[types.Exchange]FeeRates {
	return map[types.Exchange]FeeRates{
		types.Binance: {Maker: decimal.NewFromFloat(0.0002), Taker: decimal.NewFromFloat(0.0004)},
		types.Bybit:   {Maker: decimal.NewFromFloat(0.0001), Taker: decimal.NewFromFloat(0.0006)},
		types.OKX:     {Maker: decimal.NewFromFloat(0.0002), Taker: decimal.NewFromFloat(0.0005)},
	}
}

// BookManager hands back the live order book for an (exchange, symbol) pair.
type BookManager interface {
	Get(exchange types.Exchange, symbol types.Symbol) *book.Book
}

// PositionLookup resolves the current position for reduceOnly validation.
type PositionLookup func(exchange types.Exchange, symbol types.Symbol) *types.Position

// SubmitResult is returned by SubmitOrder.
type SubmitResult struct {
	Order   types.Order
	Events  []types.Event
	Rejected bool
	Reason   string
}

// Config bounds order quantities.
type Config struct {
	MinQty decimal.Decimal
	MaxQty decimal.Decimal
	Fees   map[types.Exchange]FeeRates
}

func DefaultConfig() Config {
	return Config{
		MinQty: decimal.NewFromFloat(0.0001),
		MaxQty: decimal.NewFromInt(1_000_000),
		Fees:   DefaultFeeRates(),
	}
}

// Engine owns the active-order table for every (exchange, symbol) it sees.
type Engine struct {
	mu              sync.Mutex
	cfg             Config
	books           BookManager
	getPosition     PositionLookup
	activeOrders    map[int64]*types.Order
	clientIDIndex   map[string]int64
	currentTs       types.Timestamp
	orderSeq        int64
}

func New(cfg Config, books BookManager, getPosition PositionLookup) *Engine {
	return &Engine{
		cfg:           cfg,
		books:         books,
		getPosition:   getPosition,
		activeOrders:  make(map[int64]*types.Order),
		clientIDIndex: make(map[string]int64),
	}
}

// SetClock advances the engine's notion of "now" for synthesized events;
// called by the backtest loop as it dequeues events in timestamp order.
func (e *Engine) SetClock(ts types.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentTs = ts
}

func (e *Engine) nextOrderID() int64 {
	e.orderSeq++
	return e.orderSeq
}

func (e *Engine) feeRate(exchange types.Exchange, isMaker bool) decimal.Decimal {
	rates, ok := e.cfg.Fees[exchange]
	if !ok {
		return decimal.Zero
	}
	if isMaker {
		return rates.Maker
	}
	return rates.Taker
}

// SubmitOrder validates and executes a new order request per §4.3.
func (e *Engine) SubmitOrder(req types.OrderRequest) SubmitResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reason, ok := e.validate(req); !ok {
		return SubmitResult{Rejected: true, Reason: reason}
	}

	id := e.nextOrderID()
	order := types.Order{
		ID:             id,
		ClientOrderID:  req.ClientOrderID,
		Exchange:       req.Exchange,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		PostOnly:       req.PostOnly,
		ReduceOnly:     req.ReduceOnly,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Status:         types.OrderPending,
		FilledQuantity: decimal.Zero,
		UpdatedAt:      e.currentTs,
	}

	b := e.books.Get(req.Exchange, req.Symbol)

	if req.Type == types.OrderMarket {
		return e.submitMarket(b, &order)
	}
	return e.submitLimit(b, &order)
}

func (e *Engine) validate(req types.OrderRequest) (string, bool) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return "invalid_quantity", false
	}
	if req.Quantity.LessThan(e.cfg.MinQty) || req.Quantity.GreaterThan(e.cfg.MaxQty) {
		return "quantity_out_of_range", false
	}
	if req.Type == types.OrderLimit && req.Price.LessThanOrEqual(decimal.Zero) {
		return "missing_or_invalid_price", false
	}
	if req.ReduceOnly {
		pos := e.getPosition(req.Exchange, req.Symbol)
		if pos == nil || pos.IsFlat() {
			return "reduce_only_no_position", false
		}
		opposing := (pos.Side == types.PositionLong && req.Side == types.Sell) ||
			(pos.Side == types.PositionShort && req.Side == types.Buy)
		if !opposing || pos.Quantity.LessThan(req.Quantity) {
			return "reduce_only_insufficient_position", false
		}
	}
	return "", true
}

func (e *Engine) submitMarket(b *book.Book, order *types.Order) SubmitResult {
	res := b.CalculateSlippage(order.Side, order.Quantity, decimal.Zero)
	if !res.Fillable {
		order.Status = types.OrderRejected
		order.RejectReason = "insufficient_liquidity"
		return SubmitResult{Order: *order, Rejected: true, Reason: "insufficient_liquidity"}
	}

	fee := e.feeRate(order.Exchange, false)
	filledNotional := res.AvgPrice.Mul(res.FilledQty)
	order.FilledQuantity = res.FilledQty
	order.AvgFillPrice = res.AvgPrice
	order.TotalFee = filledNotional.Mul(fee)
	order.Status = types.OrderFilled2
	order.UpdatedAt = e.currentTs

	ev := types.Event{
		Type: types.EventOrderFilled, Timestamp: e.currentTs,
		Exchange: order.Exchange, Symbol: order.Symbol,
		OrderID: order.ID, FillPrice: res.AvgPrice, FillQty: res.FilledQty,
		Fee: order.TotalFee, IsMaker: false,
	}
	return SubmitResult{Order: *order, Events: []types.Event{ev}}
}

func (e *Engine) submitLimit(b *book.Book, order *types.Order) SubmitResult {
	crossing := b.CanFillImmediately(order.Side, order.Price)

	if crossing && order.PostOnly {
		order.Status = types.OrderRejected
		order.RejectReason = "post_only_would_cross"
		return SubmitResult{Order: *order, Rejected: true, Reason: "post_only_would_cross"}
	}

	var events []types.Event
	if crossing {
		fillable := b.GetFillableQuantity(order.Side, order.Price, order.Quantity)
		if fillable.GreaterThan(decimal.Zero) {
			fee := e.feeRate(order.Exchange, true)
			filledNotional := order.Price.Mul(fillable)
			order.FilledQuantity = fillable
			order.AvgFillPrice = order.Price
			order.TotalFee = filledNotional.Mul(fee)
			order.UpdatedAt = e.currentTs

			events = append(events, types.Event{
				Type: types.EventOrderFilled, Timestamp: e.currentTs,
				Exchange: order.Exchange, Symbol: order.Symbol,
				OrderID: order.ID, FillPrice: order.Price, FillQty: fillable,
				Fee: order.TotalFee, IsMaker: true,
			})
		}
	}

	if order.FilledQuantity.Equal(order.Quantity) {
		order.Status = types.OrderFilled2
		return SubmitResult{Order: *order, Events: events}
	}

	if order.FilledQuantity.GreaterThan(decimal.Zero) {
		order.Status = types.OrderPartial
	} else {
		order.Status = types.OrderPending
	}
	e.activeOrders[order.ID] = order
	if order.ClientOrderID != "" {
		e.clientIDIndex[order.ClientOrderID] = order.ID
	}
	return SubmitResult{Order: *order, Events: events}
}

// ModifyOrder adjusts price/quantity of a resting limit order.
func (e *Engine) ModifyOrder(id int64, newPrice, newQty decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.activeOrders[id]
	if !ok {
		return fmt.Errorf("order %d not found or not active", id)
	}
	if order.Status != types.OrderPending && order.Status != types.OrderPartial {
		return fmt.Errorf("order %d not modifiable in status %s", id, order.Status)
	}
	if !newQty.IsZero() {
		if newQty.LessThan(order.FilledQuantity) {
			return fmt.Errorf("new quantity %s below filled quantity %s", newQty, order.FilledQuantity)
		}
		order.Quantity = newQty
	}
	if !newPrice.IsZero() {
		order.Price = newPrice
	}
	order.UpdatedAt = e.currentTs
	return nil
}

// CancelOrder is idempotent: succeeds (returns true) only if the order is
// currently pending or partial.
func (e *Engine) CancelOrder(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.activeOrders[id]
	if !ok {
		return false
	}
	if order.Status != types.OrderPending && order.Status != types.OrderPartial {
		return false
	}
	order.Status = types.OrderCancelled
	order.UpdatedAt = e.currentTs
	delete(e.activeOrders, id)
	if order.ClientOrderID != "" {
		delete(e.clientIDIndex, order.ClientOrderID)
	}
	return true
}

// OnTrade checks resting limit orders against a trade print: buy triggers
// when tradePrice <= limit, sell when tradePrice >= limit; fills at the
// resting limit price (maker).
func (e *Engine) OnTrade(ev types.Event) []types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []types.Event
	for id, order := range e.activeOrders {
		if order.Exchange != ev.Exchange || order.Symbol != ev.Symbol {
			continue
		}
		triggers := (order.Side == types.Buy && ev.Price.LessThanOrEqual(order.Price)) ||
			(order.Side == types.Sell && ev.Price.GreaterThanOrEqual(order.Price))
		if !triggers {
			continue
		}
		remaining := order.Quantity.Sub(order.FilledQuantity)
		if remaining.LessThanOrEqual(decimal.Zero) {
			continue
		}
		fee := e.feeRate(order.Exchange, true)
		order.FilledQuantity = order.FilledQuantity.Add(remaining)
		order.AvgFillPrice = order.Price
		order.TotalFee = order.TotalFee.Add(order.Price.Mul(remaining).Mul(fee))
		order.UpdatedAt = ev.Timestamp

		out = append(out, types.Event{
			Type: types.EventOrderFilled, Timestamp: ev.Timestamp,
			Exchange: order.Exchange, Symbol: order.Symbol,
			OrderID: order.ID, FillPrice: order.Price, FillQty: remaining,
			Fee: order.Price.Mul(remaining).Mul(fee), IsMaker: true,
		})

		order.Status = types.OrderFilled2
		delete(e.activeOrders, id)
		if order.ClientOrderID != "" {
			delete(e.clientIDIndex, order.ClientOrderID)
		}
	}
	return out
}

// OnDepth applies a depth update to the book, then re-checks every active
// limit order for fillability, filling up to GetFillableQuantity as maker.
func (e *Engine) OnDepth(ev types.Event) []types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.books.Get(ev.Exchange, ev.Symbol)
	b.ApplyDelta(ev.Bids, ev.Asks, ev.Timestamp)

	var out []types.Event
	for id, order := range e.activeOrders {
		if order.Exchange != ev.Exchange || order.Symbol != ev.Symbol {
			continue
		}
		if !b.CanFillImmediately(order.Side, order.Price) {
			continue
		}
		remaining := order.Quantity.Sub(order.FilledQuantity)
		fillable := b.GetFillableQuantity(order.Side, order.Price, remaining)
		if fillable.LessThanOrEqual(decimal.Zero) {
			continue
		}
		fee := e.feeRate(order.Exchange, true)
		order.FilledQuantity = order.FilledQuantity.Add(fillable)
		order.AvgFillPrice = order.Price
		order.TotalFee = order.TotalFee.Add(order.Price.Mul(fillable).Mul(fee))
		order.UpdatedAt = ev.Timestamp

		out = append(out, types.Event{
			Type: types.EventOrderFilled, Timestamp: ev.Timestamp,
			Exchange: order.Exchange, Symbol: order.Symbol,
			OrderID: order.ID, FillPrice: order.Price, FillQty: fillable,
			Fee: order.Price.Mul(fillable).Mul(fee), IsMaker: true,
		})

		if order.FilledQuantity.Equal(order.Quantity) {
			order.Status = types.OrderFilled2
			delete(e.activeOrders, id)
			if order.ClientOrderID != "" {
				delete(e.clientIDIndex, order.ClientOrderID)
			}
		} else {
			order.Status = types.OrderPartial
		}
	}
	return out
}

// Order returns a copy of the active (pending or partially filled) order
// with the given ID, or nil if no active order has that ID.
func (e *Engine) Order(id int64) *types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.activeOrders[id]; ok {
		cp := *o
		return &cp
	}
	return nil
}
