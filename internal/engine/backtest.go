package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/arbitrage"
	"github.com/perpx/engine/internal/book"
	"github.com/perpx/engine/internal/broker"
	"github.com/perpx/engine/internal/config"
	"github.com/perpx/engine/internal/funding"
	"github.com/perpx/engine/internal/inventory"
	"github.com/perpx/engine/internal/matching"
	"github.com/perpx/engine/internal/queue"
	"github.com/perpx/engine/internal/risk"
	"github.com/perpx/engine/internal/stats"
	"github.com/perpx/engine/internal/strategyhost"
	"github.com/perpx/engine/internal/types"
)

// Backtest replays a sorted event stream through the same matching/broker/
// funding/inventory/arbitrage stack as the live Engine, but strictly
// single-threaded and deterministic per §5: one goroutine, one event at a
// time, no wall-clock reads inside the loop.
//
// Where the live Engine routes every order through the executor (C16) for
// its retry/self-trade/per-account protocol, the backtest calls the
// matching engine (C4) directly — there is no network to retry against, and
// the self-trade guard has nothing to defend since every fill is
// synthesized from the same deterministic book.
type Backtest struct {
	cfg    *config.Config
	logger *slog.Logger

	books      *book.Registry
	funding    *funding.Calculator
	inventory  *inventory.Manager
	detector   *arbitrage.Detector
	strategy   *arbitrage.Strategy
	riskMgr    *risk.Manager
	matching   *matching.Engine
	broker     *broker.Broker
	host       *strategyhost.Host

	symbols []types.Symbol
	venues  []types.Exchange

	tickInterval types.Timestamp
	nextTick     types.Timestamp

	curve []stats.EquityPoint
}

// backtestExecutor implements risk.Executor directly against the matching
// engine and broker — the backtest's equivalent of the live Engine routing
// risk actions through the order executor, minus the network protocol.
type backtestExecutor struct {
	bt *Backtest
}

func (e *backtestExecutor) PauseAll(reason string)  {}
func (e *backtestExecutor) ResumeAll()              {}
func (e *backtestExecutor) EmergencyCloseAll(reason string) {
	for _, v := range e.bt.venues {
		for _, symbol := range e.bt.symbols {
			e.bt.flatten(v, symbol, reason)
		}
	}
}
func (e *backtestExecutor) ReducePosition(exchange types.Exchange, symbol types.Symbol, ratio float64, reason string) {
	pos := e.bt.broker.Position(exchange, symbol)
	if pos == nil || pos.IsFlat() {
		return
	}
	reduceQty := pos.Quantity.Mul(decimal.NewFromFloat(ratio))
	side := types.Sell
	if pos.Side == types.PositionShort {
		side = types.Buy
	}
	e.bt.submitAndApply(exchange, symbol, side, reduceQty, true)
}

func (bt *Backtest) flatten(exchange types.Exchange, symbol types.Symbol, reason string) {
	pos := bt.broker.Position(exchange, symbol)
	if pos == nil || pos.IsFlat() {
		return
	}
	side := types.Sell
	if pos.Side == types.PositionShort {
		side = types.Buy
	}
	bt.submitAndApply(exchange, symbol, side, pos.Quantity, true)
}

// fillTracker is the strategy-host registration (C7) that counts synthesized
// OrderFilled/Liquidation events the matching engine produces, giving the
// strategy host a real consumer in backtest mode.
type fillTracker struct {
	strategyhost.NoopStrategy
	fills        int
	liquidations int
}

func (f *fillTracker) Name() string { return "fill-tracker" }
func (f *fillTracker) OnOrderFilled(ev types.Event) *types.Action {
	f.fills++
	return nil
}
func (f *fillTracker) OnLiquidation(ev types.Event) *types.Action {
	f.liquidations++
	return nil
}

// NewBacktest wires every subsystem the same way New does, but for
// direct-to-matching-engine order flow instead of the executor/venue-adapter
// protocol.
func NewBacktest(cfg *config.Config, logger *slog.Logger) (*Backtest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var venues []types.Exchange
	for _, v := range cfg.Venues {
		venues = append(venues, types.Exchange(v.Exchange))
	}
	var symbols []types.Symbol
	for _, s := range cfg.Symbols {
		symbols = append(symbols, types.Symbol(s))
	}

	books := book.NewRegistry(book.DefaultSlippageConfig())
	fundingCalc := funding.New(funding.DefaultConfig())
	invMgr := inventory.New(inventoryConfig(cfg))
	detector := arbitrage.New(arbitrage.DefaultConfig())
	strat := arbitrage.NewStrategy(strategyCfg(cfg), detector, invMgr)

	startingBalance := decimal.NewFromFloat(cfg.Backtest.StartingBalance)
	if startingBalance.IsZero() {
		startingBalance = decimal.NewFromInt(10000)
	}
	br := broker.New(broker.Config{AllowShort: true, MarginEnabled: cfg.Margin.Enabled}, startingBalance)

	matchEngine := matching.New(matching.DefaultConfig(), books, func(exchange types.Exchange, symbol types.Symbol) *types.Position {
		return br.Position(exchange, symbol)
	})

	bt := &Backtest{
		cfg: cfg, logger: logger.With("component", "backtest"),
		books: books, funding: fundingCalc, inventory: invMgr, detector: detector, strategy: strat,
		matching: matchEngine, broker: br, symbols: symbols, venues: venues,
	}
	bt.riskMgr = risk.New(riskConfig(cfg), &backtestExecutor{bt: bt}, logger)

	host := strategyhost.New(logger)
	if err := host.Register(&fillTracker{}, true); err != nil {
		return nil, fmt.Errorf("register fill tracker: %w", err)
	}
	bt.host = host

	interval := cfg.Strategy.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	bt.tickInterval = types.Timestamp(interval.Milliseconds())

	return bt, nil
}

// Run replays events in timestamp order, producing the equity-curve/trade
// statistics of C6 over the whole run.
func (bt *Backtest) Run(ctx context.Context, events []types.Event) (stats.Result, error) {
	q := queue.New()
	q.Load(events)

	var aborted error
	q.Drain(func(ev types.Event) bool {
		select {
		case <-ctx.Done():
			aborted = ctx.Err()
			return false
		default:
		}

		bt.matching.SetClock(ev.Timestamp)
		bt.applyEvent(ev)
		bt.host.Dispatch(ev)

		if bt.nextTick == 0 {
			bt.nextTick = ev.Timestamp + bt.tickInterval
		}
		if ev.Timestamp >= bt.nextTick {
			bt.tickStrategy(ev.Timestamp)
			bt.nextTick = ev.Timestamp + bt.tickInterval
			bt.riskMgr.OnUpdate(bt.accountViewAt(ev.Timestamp))
			bt.recordEquity(ev.Timestamp)
		}
		return true
	})
	if aborted != nil {
		return stats.Result{}, aborted
	}

	return stats.Compute(bt.curve, bt.broker.ClosedTrades(), riskFreeOf(bt.cfg)), nil
}

func riskFreeOf(cfg *config.Config) float64 {
	if cfg.Strategy.RiskFree > 0 {
		return cfg.Strategy.RiskFree
	}
	return 0.02
}

func (bt *Backtest) recordEquity(ts types.Timestamp) {
	acc := bt.broker.Account()
	bt.curve = append(bt.curve, stats.EquityPoint{Timestamp: ts, Equity: acc.Equity()})
}

func (bt *Backtest) applyEvent(ev types.Event) {
	switch ev.Type {
	case types.EventDepth:
		b := bt.books.Get(ev.Exchange, ev.Symbol)
		b.ApplyDelta(ev.Bids, ev.Asks, ev.Timestamp)
	case types.EventMarkPrice, types.EventFunding:
		if !ev.Rate.IsZero() {
			rate, _ := ev.Rate.Float64()
			bt.funding.Record(ev.Exchange, ev.Symbol, rate, rate)
		}
		if !ev.MarkPrice.IsZero() {
			bt.broker.UpdateMarkPrice(ev.Exchange, ev.Symbol, ev.MarkPrice)
		}
	case types.EventTrade:
		if !ev.Price.IsZero() {
			bt.broker.UpdateMarkPrice(ev.Exchange, ev.Symbol, ev.Price)
		}
	}
}

func (bt *Backtest) tickStrategy(ts types.Timestamp) {
	now := ts.Time()
	states := bt.buildSymbolStates()
	riskInputs := bt.buildRiskInputs()

	signals := bt.strategy.Tick(now, states, riskInputs)
	for _, sig := range signals {
		view := bt.accountViewAt(ts)
		if sig.Type == arbitrage.SignalOpen && !bt.riskMgr.CanOpenPosition(view) {
			continue
		}
		bt.dispatchSignal(sig)
	}
}

func (bt *Backtest) buildSymbolStates() []arbitrage.SymbolState {
	states := make([]arbitrage.SymbolState, 0, len(bt.symbols))
	for _, symbol := range bt.symbols {
		var rates []arbitrage.VenueRate
		for _, v := range bt.venues {
			if pred, ok := bt.funding.Predict(v, symbol); ok {
				rates = append(rates, arbitrage.VenueRate{Exchange: v, Annualized: funding.Annualized(pred.Rate), Confidence: pred.Confidence})
			}
		}
		var price float64
		if len(bt.venues) > 0 {
			if mid, ok := bt.books.Get(bt.venues[0], symbol).MidPrice(); ok {
				price, _ = mid.Float64()
			}
		}
		_, _, netPosition, _ := bt.inventory.TotalInventory(symbol)
		maxSpread, _ := bt.funding.MaxSpread(symbol, bt.venues)
		states = append(states, arbitrage.SymbolState{
			Symbol: symbol, Rates: rates, Price: price,
			MaxCurrentSpread: maxSpread, HasInventory: netPosition != 0,
		})
	}
	return states
}

func (bt *Backtest) buildRiskInputs() arbitrage.RiskInputs {
	acc := bt.broker.Account()
	equity, _ := acc.Equity().Float64()
	available, _ := acc.AvailableBalance.Float64()
	leverage := bt.cfg.Margin.DefaultLeverage
	if leverage <= 0 {
		leverage = 1
	}
	return arbitrage.RiskInputs{
		Equity: equity, AvailableMargin: available,
		BaseVolatility: 1, CurrentVolatility: 1,
		PerPairLimit: equity * 0.25, PerExchangeLimit: equity * 0.5, PortfolioLimit: equity,
		Leverage: leverage,
	}
}

func (bt *Backtest) accountViewAt(ts types.Timestamp) risk.AccountView {
	acc := bt.broker.Account()
	equity, _ := acc.Equity().Float64()

	var positions []risk.PositionView
	var notional float64
	for _, v := range bt.venues {
		for _, symbol := range bt.symbols {
			pos := bt.broker.Position(v, symbol)
			if pos == nil || pos.IsFlat() {
				continue
			}
			current, _ := pos.EntryPrice.Add(pos.UnrealizedPnl).Float64()
			entry, _ := pos.EntryPrice.Float64()
			qty, _ := pos.Quantity.Float64()
			lev, _ := pos.Leverage.Float64()
			n := entry * qty
			notional += n
			positions = append(positions, risk.PositionView{
				Exchange: v, Symbol: symbol, Side: pos.Side,
				Notional: n, Entry: entry, Current: current, Leverage: lev,
				MMR: 0.005, IsBaseBTC: symbol == "BTC-USDT",
			})
		}
	}
	return risk.AccountView{Equity: equity, Notional: notional, Positions: positions, Now: ts.Time()}
}

func (bt *Backtest) dispatchSignal(sig arbitrage.TradeSignal) {
	switch sig.Type {
	case arbitrage.SignalOpen:
		if sig.Opportunity == nil || sig.Quantity <= 0 {
			return
		}
		qty := decimal.NewFromFloat(sig.Quantity)
		bt.submitAndApply(sig.Opportunity.LongExchange, sig.Symbol, types.Buy, qty, false)
		bt.submitAndApply(sig.Opportunity.ShortExchange, sig.Symbol, types.Sell, qty, false)

	case arbitrage.SignalClose:
		for _, v := range bt.venues {
			bt.flatten(v, sig.Symbol, sig.Reason)
		}

	case arbitrage.SignalRebalance:
		for _, action := range sig.RebalanceActions {
			bt.submitAndApply(action.Exchange, sig.Symbol, action.Side, decimal.NewFromFloat(action.Quantity), false)
		}
	}
}

func (bt *Backtest) submitAndApply(exchange types.Exchange, symbol types.Symbol, side types.Side, qty decimal.Decimal, reduceOnly bool) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return
	}
	result := bt.matching.SubmitOrder(types.OrderRequest{
		Exchange: exchange, Symbol: symbol, Side: side, Type: types.OrderMarket,
		Quantity: qty, ReduceOnly: reduceOnly,
	})
	if result.Rejected {
		bt.logger.Debug("order rejected", "exchange", exchange, "symbol", symbol, "reason", result.Reason)
		return
	}
	for _, ev := range result.Events {
		bt.host.Dispatch(ev)
	}
	if result.Order.FilledQuantity.IsZero() {
		return
	}

	fees := matching.DefaultFeeRates()[exchange]
	fee := result.Order.FilledQuantity.Mul(result.Order.AvgFillPrice).Mul(fees.Taker)
	leverage := decimal.NewFromFloat(bt.cfg.Margin.DefaultLeverage)
	if leverage.LessThanOrEqual(decimal.Zero) {
		leverage = decimal.NewFromInt(1)
	}
	bt.broker.ApplyFill(exchange, symbol, side, result.Order.AvgFillPrice, result.Order.FilledQuantity, fee, decimal.Zero, leverage, result.Order.UpdatedAt)

	pos := bt.broker.Position(exchange, symbol)
	if pos != nil {
		entry, _ := pos.EntryPrice.Float64()
		qtyF, _ := pos.Quantity.Float64()
		lev, _ := pos.Leverage.Float64()
		bt.inventory.UpdatePosition(exchange, symbol, pos.Side, qtyF, entry, lev)
	}
}
