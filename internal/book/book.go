// Package book maintains the bid/ask ladders for one (exchange, symbol) and
// answers fillable-quantity and slippage queries for the matching engine.
//
// It is RWMutex-protected, applies snapshots and deltas, and derives
// mid/spread accessors on top of a two-sided futures ladder, including the
// four slippage models §4.1 requires.
package book

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/types"
)

// SlippageMode selects how Book.CalculateSlippage estimates execution price.
type SlippageMode string

const (
	SlippageFixed   SlippageMode = "fixed"
	SlippageLinear  SlippageMode = "linear"
	SlippageSqrt    SlippageMode = "sqrt"
	SlippageDynamic SlippageMode = "dynamic"
)

// SlippageConfig tunes the four models. Defaults mirror §4.1: dynamic mode,
// 1% max slippage cap.
type SlippageConfig struct {
	Mode          SlippageMode
	FixedBps      decimal.Decimal
	LinearCoef    decimal.Decimal
	SqrtCoef      decimal.Decimal
	MaxSlippage   decimal.Decimal
}

func DefaultSlippageConfig() SlippageConfig {
	return SlippageConfig{
		Mode:        SlippageDynamic,
		FixedBps:    decimal.NewFromFloat(0.0005),
		LinearCoef:  decimal.NewFromFloat(0.0001),
		SqrtCoef:    decimal.NewFromFloat(0.0003),
		MaxSlippage: decimal.NewFromFloat(0.01),
	}
}

// FillLevel is one rung consumed while walking the ladder in dynamic mode.
type FillLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// SlippageResult is the outcome of CalculateSlippage.
type SlippageResult struct {
	AvgPrice      decimal.Decimal
	FilledQty     decimal.Decimal
	RemainingQty  decimal.Decimal
	Levels        []FillLevel
	Fillable      bool
}

// Book mirrors one (exchange, symbol) order book. Only the market-data
// engine or the matching engine may mutate it (§3 ownership).
type Book struct {
	mu             sync.RWMutex
	exchange       types.Exchange
	symbol         types.Symbol
	bids           []types.PriceLevel // descending by price
	asks           []types.PriceLevel // ascending by price
	lastUpdateTime types.Timestamp
	slip           SlippageConfig
}

func New(exchange types.Exchange, symbol types.Symbol, slip SlippageConfig) *Book {
	return &Book{exchange: exchange, symbol: symbol, slip: slip}
}

// ApplySnapshot replaces both sides wholesale.
func (b *Book) ApplySnapshot(bids, asks []types.PriceLevel, ts types.Timestamp) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = sortedCopy(bids, true)
	b.asks = sortedCopy(asks, false)
	b.lastUpdateTime = ts
}

// ApplyDelta upserts incoming levels; qty=0 removes the level. Sort order is
// maintained on every call.
func (b *Book) ApplyDelta(bids, asks []types.PriceLevel, ts types.Timestamp) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = applySide(b.bids, bids, true)
	b.asks = applySide(b.asks, asks, false)
	b.lastUpdateTime = ts
}

func applySide(existing, deltas []types.PriceLevel, descending bool) []types.PriceLevel {
	idx := make(map[string]int, len(existing))
	prices := make([]decimal.Decimal, len(existing))
	for i, lvl := range existing {
		idx[lvl.Price.String()] = i
		prices[i] = lvl.Price
	}
	out := append([]types.PriceLevel(nil), existing...)

	for _, d := range deltas {
		key := d.Price.String()
		if i, ok := idx[key]; ok {
			if d.Qty.IsZero() {
				out[i].Qty = decimal.Zero // marked for removal below
			} else {
				out[i].Qty = d.Qty
			}
			continue
		}
		if !d.Qty.IsZero() {
			out = append(out, d)
		}
	}

	filtered := out[:0]
	for _, lvl := range out {
		if !lvl.Qty.IsZero() {
			filtered = append(filtered, lvl)
		}
	}
	return sortedCopy(filtered, descending)
}

func sortedCopy(levels []types.PriceLevel, descending bool) []types.PriceLevel {
	out := append([]types.PriceLevel(nil), levels...)
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

func (b *Book) Snapshot() types.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return types.OrderBookSnapshot{
		Exchange:       b.exchange,
		Symbol:         b.symbol,
		Bids:           append([]types.PriceLevel(nil), b.bids...),
		Asks:           append([]types.PriceLevel(nil), b.asks...),
		LastUpdateTime: b.lastUpdateTime,
	}
}

// BestBidAsk returns the top-of-book prices. ok is false if either side is
// empty, per the §8 invariant that bestAsk > bestBid only holds when both
// sides are non-empty.
func (b *Book) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return b.bids[0].Price, b.asks[0].Price, true
}

func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// CanFillImmediately reports whether a limit order at limitPrice would cross
// the book: buy crosses when limitPrice >= bestAsk, sell when limitPrice <= bestBid.
func (b *Book) CanFillImmediately(side types.Side, limitPrice decimal.Decimal) bool {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return false
	}
	if side == types.Buy {
		return limitPrice.GreaterThanOrEqual(ask)
	}
	return limitPrice.LessThanOrEqual(bid)
}

// GetFillableQuantity walks the opposite side while price satisfies
// limitPrice, accumulating quantity capped by maxQty.
func (b *Book) GetFillableQuantity(side types.Side, limitPrice, maxQty decimal.Decimal) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ladder []types.PriceLevel
	if side == types.Buy {
		ladder = b.asks
	} else {
		ladder = b.bids
	}

	total := decimal.Zero
	for _, lvl := range ladder {
		if side == types.Buy && lvl.Price.GreaterThan(limitPrice) {
			break
		}
		if side == types.Sell && lvl.Price.LessThan(limitPrice) {
			break
		}
		remaining := maxQty.Sub(total)
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := lvl.Qty
		if take.GreaterThan(remaining) {
			take = remaining
		}
		total = total.Add(take)
	}
	return total
}

// CalculateSlippage estimates the execution price/qty for qty units of side,
// according to the configured mode. refPrice, if provided, anchors fixed and
// linear/sqrt modes; dynamic mode ignores it and walks the live ladder.
func (b *Book) CalculateSlippage(side types.Side, qty decimal.Decimal, refPrice decimal.Decimal) SlippageResult {
	switch b.slip.Mode {
	case SlippageFixed:
		return b.fixedSlippage(side, qty, refPrice)
	case SlippageLinear:
		return b.coefSlippage(side, qty, refPrice, b.slip.LinearCoef, false)
	case SlippageSqrt:
		return b.coefSlippage(side, qty, refPrice, b.slip.SqrtCoef, true)
	default:
		return b.dynamicSlippage(side, qty)
	}
}

func (b *Book) fixedSlippage(side types.Side, qty, refPrice decimal.Decimal) SlippageResult {
	adj := refPrice.Mul(b.slip.FixedBps)
	price := refPrice
	if side == types.Buy {
		price = refPrice.Add(adj)
	} else {
		price = refPrice.Sub(adj)
	}
	return SlippageResult{AvgPrice: price, FilledQty: qty, RemainingQty: decimal.Zero, Fillable: true}
}

func (b *Book) coefSlippage(side types.Side, qty, refPrice, coef decimal.Decimal, sqrtImpact bool) SlippageResult {
	impact := coef.Mul(qty)
	if sqrtImpact {
		f, _ := qty.Float64()
		impact = coef.Mul(decimal.NewFromFloat(sqrtApprox(f)))
	}
	if impact.GreaterThan(b.slip.MaxSlippage) {
		impact = b.slip.MaxSlippage
	}
	adj := refPrice.Mul(impact)
	price := refPrice
	if side == types.Buy {
		price = refPrice.Add(adj)
	} else {
		price = refPrice.Sub(adj)
	}
	return SlippageResult{AvgPrice: price, FilledQty: qty, RemainingQty: decimal.Zero, Fillable: true}
}

func sqrtApprox(f float64) float64 {
	if f <= 0 {
		return 0
	}
	x := f
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + f/x)
	}
	return x
}

// dynamicSlippage walks the opposite ladder level-by-level, returning the
// volume-weighted average price, unfilled remainder, and per-level fills,
// clamping the effective price move to MaxSlippage.
func (b *Book) dynamicSlippage(side types.Side, qty decimal.Decimal) SlippageResult {
	b.mu.RLock()
	var ladder []types.PriceLevel
	if side == types.Buy {
		ladder = append([]types.PriceLevel(nil), b.asks...)
	} else {
		ladder = append([]types.PriceLevel(nil), b.bids...)
	}
	b.mu.RUnlock()

	if len(ladder) == 0 {
		return SlippageResult{RemainingQty: qty, Fillable: false}
	}

	refPrice := ladder[0].Price
	remaining := qty
	var levels []FillLevel
	notional := decimal.Zero
	filled := decimal.Zero

	for _, lvl := range ladder {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		move := lvl.Price.Sub(refPrice).Div(refPrice)
		if move.IsNegative() {
			move = move.Neg()
		}
		if move.GreaterThan(b.slip.MaxSlippage) {
			break
		}
		take := lvl.Qty
		if take.GreaterThan(remaining) {
			take = remaining
		}
		levels = append(levels, FillLevel{Price: lvl.Price, Qty: take})
		notional = notional.Add(lvl.Price.Mul(take))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if filled.IsZero() {
		return SlippageResult{RemainingQty: qty, Fillable: false, Levels: levels}
	}

	return SlippageResult{
		AvgPrice:     notional.Div(filled),
		FilledQty:    filled,
		RemainingQty: remaining,
		Levels:       levels,
		Fillable:     true,
	}
}

// Key identifies one venue's order book for one symbol.
type Key struct {
	Exchange types.Exchange
	Symbol   types.Symbol
}

// Registry is the shared live order-book table, lazily creating one Book
// per (exchange, symbol) the first time it's requested. It satisfies both
// matching.BookManager and exchange/executor.BookSource.
type Registry struct {
	mu    sync.Mutex
	slip  SlippageConfig
	books map[Key]*Book
}

// NewRegistry creates an empty registry; every Book it lazily creates uses slip.
func NewRegistry(slip SlippageConfig) *Registry {
	return &Registry{slip: slip, books: make(map[Key]*Book)}
}

// Get returns the book for (exchange, symbol), creating it on first use.
func (r *Registry) Get(exchange types.Exchange, symbol types.Symbol) *Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Key{Exchange: exchange, Symbol: symbol}
	b, ok := r.books[key]
	if !ok {
		b = New(exchange, symbol, r.slip)
		r.books[key] = b
	}
	return b
}

func (b *Book) LastUpdateTime() types.Timestamp {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateTime
}
