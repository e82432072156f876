// Package broker implements the simulated broker (C5): cash, positions,
// realized/unrealized P&L, commission, slippage, and margin application for
// both the backtest and live engines.
//
// Position update rules (open/add/reduce/close with weighted-average entry
// price) maintain one long/short position per (exchange, symbol). When
// Config.MarginEnabled is set, opening or adding to a position posts
// notional/leverage rather than the full notional, per §4.4.
package broker

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/types"
)

// Config controls leverage/margin and whether short selling is permitted.
type Config struct {
	AllowShort    bool
	MarginEnabled bool
}

// marginFor returns the cash a fill of the given notional should deduct:
// notional/leverage when margin trading is enabled, full notional otherwise.
func (b *Broker) marginFor(notional, leverage decimal.Decimal) decimal.Decimal {
	if !b.cfg.MarginEnabled || leverage.LessThanOrEqual(decimal.Zero) {
		return notional
	}
	return notional.Div(leverage)
}

// Broker owns the ledger for a single backtest run.
type Broker struct {
	mu            sync.Mutex
	cfg           Config
	account       types.Account
	positions     map[positionKey]*types.Position
	pendingOrders map[int64]*types.Order
	closedTrades  []types.ClosedTrade
	orderCounter  int64
	tradeCounter  int64
	priceCache    map[positionKey]decimal.Decimal
}

type positionKey struct {
	Exchange types.Exchange
	Symbol   types.Symbol
}

func New(cfg Config, startingBalance decimal.Decimal) *Broker {
	return &Broker{
		cfg: cfg,
		account: types.Account{
			Balance:          startingBalance,
			AvailableBalance: startingBalance,
		},
		positions:     make(map[positionKey]*types.Position),
		pendingOrders: make(map[int64]*types.Order),
		priceCache:    make(map[positionKey]decimal.Decimal),
	}
}

func (b *Broker) Account() types.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account
}

func (b *Broker) Position(exchange types.Exchange, symbol types.Symbol) *types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[positionKey{exchange, symbol}]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (b *Broker) ClosedTrades() []types.ClosedTrade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.ClosedTrade(nil), b.closedTrades...)
}

// UpdateMarkPrice refreshes the cached mark price for a symbol and
// recomputes unrealized P&L for any open position on it.
func (b *Broker) UpdateMarkPrice(exchange types.Exchange, symbol types.Symbol, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := positionKey{exchange, symbol}
	b.priceCache[key] = price

	pos, ok := b.positions[key]
	if !ok || pos.IsFlat() {
		return
	}
	pos.UnrealizedPnl = b.unrealizedPnl(pos, price)
	b.recalcAccount()
}

func (b *Broker) unrealizedPnl(pos *types.Position, mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(pos.EntryPrice)
	if pos.Side == types.PositionShort {
		diff = diff.Neg()
	}
	return diff.Mul(pos.Quantity)
}

func (b *Broker) recalcAccount() {
	total := decimal.Zero
	for _, p := range b.positions {
		total = total.Add(p.UnrealizedPnl)
	}
	b.account.UnrealizedPnlTotal = total
}

// ApplyFill updates cash and positions for a single fill, mirroring the cash
// policy and position-update rules in §4.4. leverage sets the margin posted
// against new exposure opened by this fill; it is ignored when
// Config.MarginEnabled is false, in which case the full notional is deducted.
func (b *Broker) ApplyFill(exchange types.Exchange, symbol types.Symbol, side types.Side, fillPrice, fillQty, fee, slippageBps, leverage decimal.Decimal, ts types.Timestamp) (types.ClosedTrade, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	adjPrice := fillPrice
	if side == types.Buy {
		adjPrice = fillPrice.Add(fillPrice.Mul(slippageBps))
	} else {
		adjPrice = fillPrice.Sub(fillPrice.Mul(slippageBps))
	}

	key := positionKey{exchange, symbol}
	pos, exists := b.positions[key]

	b.account.TotalFee = b.account.TotalFee.Add(fee)
	b.account.Balance = b.account.Balance.Sub(fee)

	if !exists || pos.IsFlat() {
		if side == types.Sell && !b.cfg.AllowShort {
			// Nothing to reduce and shorting disabled: treat as a no-op open rejection upstream.
			return types.ClosedTrade{}, false
		}
		newSide := types.PositionLong
		if side == types.Sell {
			newSide = types.PositionShort
		}
		margin := b.marginFor(adjPrice.Mul(fillQty), leverage)
		b.account.Balance = b.account.Balance.Sub(margin)
		b.account.UsedMargin = b.account.UsedMargin.Add(margin)

		b.positions[key] = &types.Position{
			Exchange: exchange, Symbol: symbol, Side: newSide,
			Quantity: fillQty, EntryPrice: adjPrice, Leverage: leverage,
		}
		return types.ClosedTrade{}, false
	}

	sameSide := (pos.Side == types.PositionLong && side == types.Buy) ||
		(pos.Side == types.PositionShort && side == types.Sell)

	if sameSide {
		newQty := pos.Quantity.Add(fillQty)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Quantity).Add(adjPrice.Mul(fillQty)).Div(newQty)
		pos.Quantity = newQty
		margin := b.marginFor(adjPrice.Mul(fillQty), pos.Leverage)
		b.account.Balance = b.account.Balance.Sub(margin)
		b.account.UsedMargin = b.account.UsedMargin.Add(margin)
		return types.ClosedTrade{}, false
	}

	// Reduce or close.
	closeQty := fillQty
	if closeQty.GreaterThan(pos.Quantity) {
		closeQty = pos.Quantity
	}
	diff := adjPrice.Sub(pos.EntryPrice)
	if pos.Side == types.PositionShort {
		diff = diff.Neg()
	}
	pnl := diff.Mul(closeQty)
	pnlPercent := decimal.Zero
	if !pos.EntryPrice.IsZero() {
		pnlPercent = pnl.Div(pos.EntryPrice.Mul(closeQty)).Mul(decimal.NewFromInt(100))
	}
	netPnl := pnl.Sub(fee)

	b.tradeCounter++
	trade := types.ClosedTrade{
		Symbol: symbol, Side: pos.Side, Entry: pos.EntryPrice, Exit: adjPrice,
		Qty: closeQty, ExitTime: ts, Pnl: pnl, PnlPercent: pnlPercent,
		Commission: fee, NetPnl: netPnl,
	}
	b.closedTrades = append(b.closedTrades, trade)

	releasedMargin := b.marginFor(pos.EntryPrice.Mul(closeQty), pos.Leverage)
	b.account.Balance = b.account.Balance.Add(releasedMargin).Add(pnl)
	b.account.UsedMargin = b.account.UsedMargin.Sub(releasedMargin)
	b.account.RealizedPnlTotal = b.account.RealizedPnlTotal.Add(pnl)

	residual := pos.Quantity.Sub(closeQty)
	if residual.LessThanOrEqual(decimal.Zero) {
		delete(b.positions, key)

		overflow := fillQty.Sub(closeQty)
		if overflow.GreaterThan(decimal.Zero) {
			newSide := types.PositionLong
			if side == types.Sell {
				newSide = types.PositionShort
			}
			margin := b.marginFor(adjPrice.Mul(overflow), leverage)
			b.account.Balance = b.account.Balance.Sub(margin)
			b.account.UsedMargin = b.account.UsedMargin.Add(margin)
			b.positions[key] = &types.Position{
				Exchange: exchange, Symbol: symbol, Side: newSide,
				Quantity: overflow, EntryPrice: adjPrice, Leverage: leverage,
			}
		}
	} else {
		pos.Quantity = residual
	}

	return trade, true
}

// NextOrderID returns a monotonically increasing order id for this broker.
func (b *Broker) NextOrderID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderCounter++
	return b.orderCounter
}

func (b *Broker) String() string {
	return fmt.Sprintf("Broker{balance=%s, equity=%s}", b.account.Balance, b.account.Equity())
}
