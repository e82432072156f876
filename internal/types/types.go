// Package types defines the canonical event, order, position, account and
// order-book data model shared by every other package in the engine. It is
// the one package every component is allowed to import; nothing in here
// imports back out, so it stays free of cycles.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies one of the three supported venues.
type Exchange string

const (
	Binance Exchange = "binance"
	Bybit   Exchange = "bybit"
	OKX     Exchange = "okx"
)

// Symbol is a canonical BASE/QUOTE[:SETTLE] string; venue-native symbols
// (e.g. Binance's "BTCUSDT") live only inside the exchange adapters.
type Symbol string

// Timestamp is milliseconds since the Unix epoch.
type Timestamp int64

// Now returns the current time as a Timestamp. Only callers outside the
// backtest's deterministic event loop may call this.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// Side is a trading direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide describes which direction a position is held in.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionNone  PositionSide = "none"
)

// EventType enumerates the sum-type tag for Event.
type EventType string

const (
	EventTrade       EventType = "trade"
	EventDepth       EventType = "depth"
	EventFunding     EventType = "funding"
	EventMarkPrice   EventType = "mark_price"
	EventKline       EventType = "kline"
	EventOrderFilled EventType = "order_filled"
	EventLiquidation EventType = "liquidation"
)

// PriceLevel is one (price, qty) rung of an order book ladder. qty=0 means
// delete (incremental update) or absence (snapshot).
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Event is the single envelope every component exchanges. Only the fields
// relevant to Type are populated; the rest are zero values.
type Event struct {
	Type      EventType
	Timestamp Timestamp
	Exchange  Exchange
	Symbol    Symbol

	// Trade
	TradeID    string
	Price      decimal.Decimal
	Qty        decimal.Decimal
	IsSellSide bool

	// Depth
	Bids []PriceLevel
	Asks []PriceLevel

	// Funding
	Rate            decimal.Decimal
	MarkPrice       decimal.Decimal
	NextFundingTime Timestamp

	// MarkPrice event
	IndexPrice decimal.Decimal

	// Kline
	OpenTime    Timestamp
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	Trades      int64
	IsFinal     bool

	// OrderFilled (synthesized)
	OrderID    int64
	FillPrice  decimal.Decimal
	FillQty    decimal.Decimal
	Fee        decimal.Decimal
	IsMaker    bool

	// Liquidation (synthesized)
	LiquidationPrice decimal.Decimal
	LiqSide          PositionSide
	Loss             decimal.Decimal
}

// OrderType is market or limit.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderStatus tracks the order state chart in §3: transitions are
// monotonic except pending→cancelled and pending→rejected, which are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPartial   OrderStatus = "partial"
	OrderFilled2   OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Order is a system-assigned order on one (exchange, symbol).
type Order struct {
	ID            int64
	ClientOrderID string
	Exchange      Exchange
	Symbol        Symbol
	Side          Side
	Type          OrderType
	PostOnly      bool
	ReduceOnly    bool
	Quantity      decimal.Decimal
	Price         decimal.Decimal // zero value for market orders

	Status          OrderStatus
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	TotalFee        decimal.Decimal
	UpdatedAt       Timestamp
	RejectReason    string
}

// IsFilled reports the invariant filled ⇔ filledQuantity == quantity.
func (o *Order) IsFilled() bool {
	return o.Status == OrderFilled2 && o.FilledQuantity.Equal(o.Quantity)
}

// Position is the per-(exchange,symbol) ledger position.
type Position struct {
	Exchange         Exchange
	Symbol           Symbol
	Side             PositionSide
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	UnrealizedPnl    decimal.Decimal
	RealizedPnl      decimal.Decimal
	Leverage         decimal.Decimal
	MarginMode       string
	IsolatedMargin   decimal.Decimal
	LiquidationPrice decimal.Decimal
	FundingFee       decimal.Decimal
}

// IsFlat reports the invariant side=none ⇔ quantity=0.
func (p *Position) IsFlat() bool {
	return p.Side == PositionNone && p.Quantity.IsZero()
}

// ClosedTrade is appended to the broker's trade log whenever a position is
// reduced or closed.
type ClosedTrade struct {
	Symbol     Symbol
	Side       PositionSide
	Entry      decimal.Decimal
	Exit       decimal.Decimal
	Qty        decimal.Decimal
	EntryTime  Timestamp
	ExitTime   Timestamp
	Pnl        decimal.Decimal
	PnlPercent decimal.Decimal
	Commission decimal.Decimal
	NetPnl     decimal.Decimal
}

// Account is the broker-wide cash/margin ledger.
type Account struct {
	Balance            decimal.Decimal
	AvailableBalance    decimal.Decimal
	UsedMargin          decimal.Decimal
	UnrealizedPnlTotal  decimal.Decimal
	RealizedPnlTotal    decimal.Decimal
	TotalFee            decimal.Decimal
	TotalFundingFee     decimal.Decimal
}

// Equity is balance + unrealizedPnlTotal.
func (a *Account) Equity() decimal.Decimal {
	return a.Balance.Add(a.UnrealizedPnlTotal)
}

// MarginRatio is usedMargin / equity. Returns zero if equity is zero.
func (a *Account) MarginRatio() decimal.Decimal {
	eq := a.Equity()
	if eq.IsZero() {
		return decimal.Zero
	}
	return a.UsedMargin.Div(eq)
}

// OrderBookSnapshot is the derived view of one (exchange, symbol) book.
type OrderBookSnapshot struct {
	Exchange       Exchange
	Symbol         Symbol
	Bids           []PriceLevel // descending
	Asks           []PriceLevel // ascending
	LastUpdateTime Timestamp
}

func (s *OrderBookSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 {
		return decimal.Zero, false
	}
	return s.Bids[0].Price, true
}

func (s *OrderBookSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(s.Asks) == 0 {
		return decimal.Zero, false
	}
	return s.Asks[0].Price, true
}

func (s *OrderBookSnapshot) MidPrice() (decimal.Decimal, bool) {
	bid, ok1 := s.BestBid()
	ask, ok2 := s.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

func (s *OrderBookSnapshot) Spread() (decimal.Decimal, bool) {
	bid, ok1 := s.BestBid()
	ask, ok2 := s.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// FundingRecord is one historical funding observation for (exchange, symbol).
type FundingRecord struct {
	Exchange        Exchange
	Symbol          Symbol
	FundingTime     Timestamp
	Rate            decimal.Decimal
	MarkPrice       decimal.Decimal
}

// BacktestEvent wraps an Event with the stable insertion sequence number the
// event queue uses to break timestamp ties.
type BacktestEvent struct {
	Event Event
	Seq   uint64
}

// Action is what a strategy callback returns: orders to place, cancel, or
// modify. Actions from multiple strategies are merged by concatenation.
type Action struct {
	Orders        []OrderRequest
	CancelOrders  []int64
	ModifyOrders  []ModifyRequest
}

// OrderRequest is what a strategy/executor submits to the matching engine
// or venue adapter.
type OrderRequest struct {
	AccountID     string
	Exchange      Exchange
	Symbol        Symbol
	Side          Side
	Type          OrderType
	PostOnly      bool
	ReduceOnly    bool
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string
	Timeout       time.Duration
}

// ModifyRequest adjusts a resting order's price and/or quantity.
type ModifyRequest struct {
	OrderID  int64
	NewPrice decimal.Decimal
	NewQty   decimal.Decimal
}
