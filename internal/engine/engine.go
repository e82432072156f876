// Package engine is the central orchestrator of the trading system (C19).
//
// It wires together every other component:
//
//  1. Per-venue ws.Supervisor connections stream raw market data (C9).
//  2. A processing goroutine per venue normalizes frames (C10), maintains the
//     local order book mirror, and publishes through the market data engine (C11).
//  3. The funding calculator (C12) and inventory manager (C13) stay in sync
//     with every mark-price/funding event and fill.
//  4. A periodic strategy tick (C15/C18) scans for arbitrage opportunities and
//     emits trade signals, gated by the risk manager (C17) and dispatched to
//     the order executor (C16).
//  5. A periodic risk tick evaluates the account view against every hard
//     limit and can pause/flatten everything.
//
// Lifecycle: New() → Start(ctx) → [runs until ctx is cancelled or Stop() is
// called] → Stop().
//
// The dispatch loop runs a per-venue connection and frame-processing
// goroutine rather than a per-market one, since venues and symbols are a
// fixed, config-driven set per §4.18 (discovery of which markets to
// trade is not part of this system — symbols and venues are
// operator-configured, not scanned for).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/perpx/engine/internal/api"
	"github.com/perpx/engine/internal/arbitrage"
	"github.com/perpx/engine/internal/book"
	"github.com/perpx/engine/internal/broker"
	"github.com/perpx/engine/internal/config"
	"github.com/perpx/engine/internal/exchange/executor"
	"github.com/perpx/engine/internal/exchange/normalize"
	"github.com/perpx/engine/internal/exchange/ws"
	"github.com/perpx/engine/internal/funding"
	"github.com/perpx/engine/internal/inventory"
	"github.com/perpx/engine/internal/marketdata"
	"github.com/perpx/engine/internal/matching"
	"github.com/perpx/engine/internal/risk"
	"github.com/perpx/engine/internal/store"
	"github.com/perpx/engine/internal/types"
)

const defaultAccountID = "default"

// supervisorSet resolves the per-venue ws.Supervisor; satisfies
// marketdata.SupervisorSet.
type supervisorSet struct {
	sups map[types.Exchange]*ws.Supervisor
}

func (s supervisorSet) Get(exchange types.Exchange) *ws.Supervisor { return s.sups[exchange] }

// Engine orchestrates every component of the trading system. It owns the
// lifecycle of all goroutines.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	books      *book.Registry
	supervisors map[types.Exchange]*ws.Supervisor
	marketData *marketdata.Engine
	funding    *funding.Calculator
	inventory  *inventory.Manager
	detector   *arbitrage.Detector
	strategy   *arbitrage.Strategy
	riskMgr    *risk.Manager
	matchingEngine *matching.Engine
	executor   *executor.Executor
	broker     *broker.Broker
	store      *store.Store

	symbols []types.Symbol
	venues  []types.Exchange

	cancel context.CancelFunc
	group  errgroup.Group

	frameQueues map[types.Exchange]*frameQueue

	dashboardEvents chan api.DashboardEvent
}

// New wires every subsystem together from cfg but does not start any
// goroutine; call Start to connect and run.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	books := book.NewRegistry(book.DefaultSlippageConfig())

	sups := make(map[types.Exchange]*ws.Supervisor)
	var venues []types.Exchange
	for _, v := range cfg.Venues {
		exch := types.Exchange(v.Exchange)
		venues = append(venues, exch)
		sups[exch] = ws.New(ws.DefaultConfig(v.WSURL), heartbeatFor(exch), logger)
	}

	var symbols []types.Symbol
	for _, s := range cfg.Symbols {
		symbols = append(symbols, types.Symbol(s))
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	md := marketdata.New(marketdataConfig(cfg), supervisorSet{sups: sups}, nil)
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
	paperAdapter := executor.NewPaperAdapter(matchEngine)
	exec := executor.New(executorConfig(cfg), paperAdapter, books)
	for _, v := range venues {
		exec.RegisterAccount(v, executor.Account{ID: defaultAccountID, Weight: 1.0})
	}

	fq := make(map[types.Exchange]*frameQueue, len(venues))
	for _, v := range venues {
		fq[v] = newFrameQueue(maxFrameQueueSize)
	}

	e := &Engine{
		cfg: cfg, logger: logger.With("component", "engine"),
		books: books, supervisors: sups, marketData: md,
		funding: fundingCalc, inventory: invMgr, detector: detector, strategy: strat,
		matchingEngine: matchEngine, executor: exec, broker: br, store: st,
		symbols: symbols, venues: venues, frameQueues: fq,
		dashboardEvents: make(chan api.DashboardEvent, 256),
	}
	e.riskMgr = risk.New(riskConfig(cfg), &engineExecutor{e: e}, logger)
	return e, nil
}

// engineExecutor implements risk.Executor on top of the live Engine: it
// forwards the submission-gate calls to the order executor but, unlike the
// executor itself, has the broker position state and submitAndApply path
// needed to actually flatten/reduce positions when the risk manager fires.
type engineExecutor struct {
	e *Engine
}

func (w *engineExecutor) PauseAll(reason string) { w.e.executor.PauseAll(reason) }
func (w *engineExecutor) ResumeAll()             { w.e.executor.ResumeAll() }

func (w *engineExecutor) EmergencyCloseAll(reason string) {
	for _, v := range w.e.venues {
		for _, symbol := range w.e.symbols {
			w.e.flatten(v, symbol, reason)
		}
	}
}

func (w *engineExecutor) ReducePosition(exchange types.Exchange, symbol types.Symbol, ratio float64, reason string) {
	pos := w.e.broker.Position(exchange, symbol)
	if pos == nil || pos.IsFlat() {
		return
	}
	reduceQty := pos.Quantity.Mul(decimal.NewFromFloat(ratio))
	side := types.Sell
	if pos.Side == types.PositionShort {
		side = types.Buy
	}
	w.e.submitAndApply(context.Background(), exchange, symbol, side, reduceQty)
}

// flatten submits a closing market order for whatever position is open on
// (exchange, symbol), used by EmergencyCloseAll.
func (e *Engine) flatten(exchange types.Exchange, symbol types.Symbol, reason string) {
	pos := e.broker.Position(exchange, symbol)
	if pos == nil || pos.IsFlat() {
		return
	}
	side := types.Sell
	if pos.Side == types.PositionShort {
		side = types.Buy
	}
	e.submitAndApply(context.Background(), exchange, symbol, side, pos.Quantity)
}

func heartbeatFor(exchange types.Exchange) ws.Heartbeat {
	switch exchange {
	case types.Bybit:
		return ws.BybitHeartbeat()
	case types.OKX:
		return ws.OKXHeartbeat()
	default:
		return ws.BinanceHeartbeat()
	}
}

func marketdataConfig(cfg *config.Config) marketdata.Config {
	if cfg.MarketData.StatsSampleInterval <= 0 {
		return marketdata.DefaultConfig()
	}
	return marketdata.Config{StatsSampleInterval: cfg.MarketData.StatsSampleInterval}
}

func inventoryConfig(cfg *config.Config) inventory.Config {
	c := inventory.DefaultConfig()
	if cfg.Inventory.RebalanceThreshold > 0 {
		c.RebalanceThreshold = cfg.Inventory.RebalanceThreshold
	}
	if cfg.Inventory.RebalanceCooldown > 0 {
		c.RebalanceCooldown = cfg.Inventory.RebalanceCooldown
	}
	return c
}

func strategyCfg(cfg *config.Config) arbitrage.StrategyConfig {
	c := arbitrage.DefaultStrategyConfig()
	if cfg.Strategy.MinSpreadToHold > 0 {
		c.MinSpreadToHold = cfg.Strategy.MinSpreadToHold
	}
	if cfg.Strategy.RiskFree > 0 {
		c.RiskFree = cfg.Strategy.RiskFree
	}
	return c
}

func executorConfig(cfg *config.Config) executor.Config {
	c := executor.DefaultConfig()
	if cfg.Executor.MaxParallelOrders > 0 {
		c.MaxParallelOrders = cfg.Executor.MaxParallelOrders
	}
	if cfg.Executor.RequestTimeout > 0 {
		c.RequestTimeout = cfg.Executor.RequestTimeout
	}
	if cfg.Executor.PollInterval > 0 {
		c.PollInterval = cfg.Executor.PollInterval
	}
	if cfg.Executor.MaxRetries > 0 {
		c.MaxRetries = cfg.Executor.MaxRetries
	}
	if cfg.Executor.RateLimitWait > 0 {
		c.RateLimitWait = cfg.Executor.RateLimitWait
	}
	if cfg.Executor.SelfTradeDistance > 0 {
		c.SelfTradeDistance = cfg.Executor.SelfTradeDistance
	}
	return c
}

func riskConfig(cfg *config.Config) risk.Config {
	c := risk.DefaultConfig()
	if cfg.Risk.CooldownPeriod > 0 {
		c.CooldownPeriod = cfg.Risk.CooldownPeriod
	}
	if cfg.Risk.MinMarginRatio > 0 {
		c.MinMarginRatio = cfg.Risk.MinMarginRatio
	}
	if cfg.Risk.MaxPositionRatio > 0 {
		c.MaxPositionRatio = cfg.Risk.MaxPositionRatio
	}
	if cfg.Risk.BTCCrashWindow > 0 {
		c.BTCCrashWindow = cfg.Risk.BTCCrashWindow
	}
	if cfg.Risk.BTCCrashThreshold > 0 {
		c.BTCCrashThreshold = cfg.Risk.BTCCrashThreshold
	}
	if cfg.Risk.AltcoinReduceRatio > 0 {
		c.AltcoinReduceRatio = cfg.Risk.AltcoinReduceRatio
	}
	if cfg.Risk.MaxDailyDrawdown > 0 {
		c.MaxDailyDrawdown = cfg.Risk.MaxDailyDrawdown
	}
	return c
}

// Start connects every venue and launches the per-venue I/O/processing
// goroutines plus the periodic strategy and risk ticks, per §4.18 and the
// concurrency model in §5.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for exch, sup := range e.supervisors {
		sup := sup
		exch := exch
		e.group.Go(func() error {
			sup.Run(ctx)
			return nil
		})

		e.subscribeSymbols(exch)

		e.group.Go(func() error {
			e.processVenue(ctx, exch, sup)
			return nil
		})
	}

	e.group.Go(func() error {
		e.strategyLoop(ctx)
		return nil
	})

	e.group.Go(func() error {
		e.riskLoop(ctx)
		return nil
	})

	e.logger.Info("engine started", "venues", e.venues, "symbols", e.symbols)
	return nil
}

// subscribeSymbols sends the trade/depth/mark-price subscription envelopes
// for every configured symbol on one venue and registers the intent with
// the market data engine.
func (e *Engine) subscribeSymbols(exchange types.Exchange) {
	for _, symbol := range e.symbols {
		wire := wireSymbol(exchange, symbol)
		switch exchange {
		case types.Binance:
			streams := []string{wire + "@aggTrade", wire + "@depth", wire + "@markPrice"}
			payload := ws.BuildBinanceSubscribe("SUBSCRIBE", streams, 1)
			e.marketData.Subscribe(exchange, symbol, marketdata.ChannelTrade, payload)
		case types.Bybit:
			payload := ws.BuildBybitSubscribe("subscribe", []string{
				"publicTrade." + wire, "orderbook.50." + wire, "tickers." + wire,
			})
			e.marketData.Subscribe(exchange, symbol, marketdata.ChannelTrade, payload)
		case types.OKX:
			payload := ws.BuildOKXSubscribe("subscribe", []ws.OKXArg{
				{Channel: "trades", InstID: wire}, {Channel: "books5", InstID: wire}, {Channel: "funding-rate", InstID: wire},
			})
			e.marketData.Subscribe(exchange, symbol, marketdata.ChannelTrade, payload)
		}
	}
}

// wireSymbol maps the canonical "BTC-USDT" symbol to each venue's wire
// format; a real deployment would carry this per-venue mapping in config,
// but every venue in scope uses a close variant of the same pattern.
func wireSymbol(exchange types.Exchange, symbol types.Symbol) string {
	s := string(symbol)
	var out []byte
	for _, r := range s {
		if r == '-' {
			continue
		}
		out = append(out, byte(r))
	}
	switch exchange {
	case types.Binance:
		return lower(string(out))
	default:
		return string(symbol)
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// processVenue reads raw frames off one venue's supervisor, stages them
// through a bounded frame queue (§5: drop oldest non-critical depth update
// under backpressure, never heartbeat/funding), and applies each normalized
// event to the book/funding/broker/market-data state in order.
func (e *Engine) processVenue(ctx context.Context, exchange types.Exchange, sup *ws.Supervisor) {
	fq := e.frameQueues[exchange]
	drainTicker := time.NewTicker(10 * time.Millisecond)
	defer drainTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-sup.Messages():
			if normalize.IsAckOrHeartbeat(raw) {
				continue
			}
			ev, err := e.normalizeFrame(exchange, raw)
			if err != nil {
				e.logger.Debug("normalize failed", "exchange", exchange, "error", err)
				continue
			}
			fq.push(ev)
		case <-drainTicker.C:
			for _, ev := range fq.drain() {
				e.applyEvent(ev)
			}
		}
	}
}

// normalizeFrame tries every configured symbol against the venue's
// normalizer until one succeeds, since the wire frame alone does not carry
// the canonical symbol.
func (e *Engine) normalizeFrame(exchange types.Exchange, raw []byte) (types.Event, error) {
	var lastErr error
	for _, symbol := range e.symbols {
		var ev types.Event
		var err error
		switch exchange {
		case types.Binance:
			ev, err = normalize.NormalizeBinance(raw, symbol)
		case types.Bybit:
			ev, err = normalize.NormalizeBybit(raw, symbol)
		case types.OKX:
			ev, err = normalize.NormalizeOKX(raw, symbol)
		}
		if err == nil {
			return ev, nil
		}
		lastErr = err
	}
	return types.Event{}, lastErr
}

func (e *Engine) applyEvent(ev types.Event) {
	start := time.Now()
	switch ev.Type {
	case types.EventDepth:
		b := e.books.Get(ev.Exchange, ev.Symbol)
		b.ApplyDelta(ev.Bids, ev.Asks, ev.Timestamp)
	case types.EventMarkPrice, types.EventFunding:
		if !ev.Rate.IsZero() {
			rate, _ := ev.Rate.Float64()
			e.funding.Record(ev.Exchange, ev.Symbol, rate, rate)
		}
		if !ev.MarkPrice.IsZero() {
			e.broker.UpdateMarkPrice(ev.Exchange, ev.Symbol, ev.MarkPrice)
		}
	case types.EventTrade:
		if !ev.Price.IsZero() {
			e.broker.UpdateMarkPrice(ev.Exchange, ev.Symbol, ev.Price)
		}
	}
	e.marketData.Publish(ev, time.Since(start))
}

// strategyLoop ticks the arbitrage strategy on a fixed interval, risk-gates
// every signal and dispatches the survivors to the executor, per §4.17/§4.18.
func (e *Engine) strategyLoop(ctx context.Context) {
	interval := e.cfg.Strategy.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickStrategy(ctx)
		}
	}
}

func (e *Engine) tickStrategy(ctx context.Context) {
	now := time.Now()
	states := e.buildSymbolStates(now)
	riskInputs := e.buildRiskInputs()

	signals := e.strategy.Tick(now, states, riskInputs)
	for _, sig := range signals {
		view := e.accountView(now)
		if sig.Type == arbitrage.SignalOpen && !e.riskMgr.CanOpenPosition(view) {
			e.logger.Info("signal rejected by risk manager", "signal", sig.ID)
			continue
		}
		e.dispatchSignal(ctx, sig)
	}
}

func (e *Engine) buildSymbolStates(now time.Time) []arbitrage.SymbolState {
	states := make([]arbitrage.SymbolState, 0, len(e.symbols))
	for _, symbol := range e.symbols {
		var rates []arbitrage.VenueRate
		for _, v := range e.venues {
			if pred, ok := e.funding.Predict(v, symbol); ok {
				rates = append(rates, arbitrage.VenueRate{Exchange: v, Annualized: funding.Annualized(pred.Rate), Confidence: pred.Confidence})
			}
		}

		var price float64
		if len(e.venues) > 0 {
			if mid, ok := e.books.Get(e.venues[0], symbol).MidPrice(); ok {
				price, _ = mid.Float64()
			}
		}

		_, _, netPosition, _ := e.inventory.TotalInventory(symbol)
		hasInventory := netPosition != 0
		maxSpread, _ := e.funding.MaxSpread(symbol, e.venues)

		states = append(states, arbitrage.SymbolState{
			Symbol: symbol, Rates: rates, Price: price,
			MaxCurrentSpread: maxSpread, HasInventory: hasInventory,
		})
	}
	return states
}

func (e *Engine) buildRiskInputs() arbitrage.RiskInputs {
	acc := e.broker.Account()
	equity, _ := acc.Equity().Float64()
	available, _ := acc.AvailableBalance.Float64()
	leverage := e.cfg.Margin.DefaultLeverage
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

func (e *Engine) accountView(now time.Time) risk.AccountView {
	acc := e.broker.Account()
	equity, _ := acc.Equity().Float64()

	var positions []risk.PositionView
	var notional float64
	for _, v := range e.venues {
		for _, symbol := range e.symbols {
			pos := e.broker.Position(v, symbol)
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

	return risk.AccountView{Equity: equity, Notional: notional, Positions: positions, Now: now}
}

// dispatchSignal routes one trade signal to the executor, per §4.17 step 6.
func (e *Engine) dispatchSignal(ctx context.Context, sig arbitrage.TradeSignal) {
	switch sig.Type {
	case arbitrage.SignalOpen:
		if sig.Opportunity == nil || sig.Quantity <= 0 {
			return
		}
		qty := decimal.NewFromFloat(sig.Quantity)
		e.submitAndApply(ctx, sig.Opportunity.LongExchange, sig.Symbol, types.Buy, qty)
		e.submitAndApply(ctx, sig.Opportunity.ShortExchange, sig.Symbol, types.Sell, qty)

	case arbitrage.SignalClose:
		for _, v := range e.venues {
			pos := e.broker.Position(v, sig.Symbol)
			if pos == nil || pos.IsFlat() {
				continue
			}
			side := types.Sell
			if pos.Side == types.PositionShort {
				side = types.Buy
			}
			e.submitAndApply(ctx, v, sig.Symbol, side, pos.Quantity)
		}

	case arbitrage.SignalRebalance:
		for _, action := range sig.RebalanceActions {
			e.submitAndApply(ctx, action.Exchange, sig.Symbol, action.Side, decimal.NewFromFloat(action.Quantity))
		}
	}
}

func (e *Engine) submitAndApply(ctx context.Context, exchange types.Exchange, symbol types.Symbol, side types.Side, qty decimal.Decimal) {
	timeout := e.cfg.Executor.RequestTimeout
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.executor.Submit(reqCtx, types.OrderRequest{
		Exchange: exchange, Symbol: symbol, Side: side, Type: types.OrderMarket, Quantity: qty,
	})
	if err != nil {
		e.logger.Warn("order submit failed", "exchange", exchange, "symbol", symbol, "error", err)
		return
	}
	if result.Order.FilledQuantity.IsZero() {
		return
	}

	fees := matching.DefaultFeeRates()[exchange]
	fee := result.Order.FilledQuantity.Mul(result.Order.AvgFillPrice).Mul(fees.Taker)
	leverage := decimal.NewFromFloat(e.cfg.Margin.DefaultLeverage)
	if leverage.LessThanOrEqual(decimal.Zero) {
		leverage = decimal.NewFromInt(1)
	}
	trade, closed := e.broker.ApplyFill(exchange, symbol, side, result.Order.AvgFillPrice, result.Order.FilledQuantity, fee, decimal.Zero, leverage, types.Now())
	if closed {
		e.logger.Info("closed trade", "exchange", exchange, "symbol", symbol, "pnl", trade.NetPnl)
	}

	fillPrice, _ := result.Order.AvgFillPrice.Float64()
	fillQty, _ := result.Order.FilledQuantity.Float64()
	e.pushDashboardEvent(api.NewFillEvent(api.FillEventInfo{
		Exchange: string(exchange), Symbol: string(symbol), Side: string(side),
		Price: fillPrice, Quantity: fillQty,
	}))

	pos := e.broker.Position(exchange, symbol)
	if pos != nil {
		entry, _ := pos.EntryPrice.Float64()
		qtyF, _ := pos.Quantity.Float64()
		lev, _ := pos.Leverage.Float64()
		e.inventory.UpdatePosition(exchange, symbol, pos.Side, qtyF, entry, lev)
	}
}

// riskLoop evaluates the account view against every hard limit on a fixed
// interval, per §4.16.
func (e *Engine) riskLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.riskMgr.OnUpdate(e.accountView(time.Now()))
			for _, al := range e.riskMgr.Alerts() {
				e.pushDashboardEvent(api.NewAlertEvent(api.RiskAlertInfo{
					Kind: al.Kind, Severity: al.Severity, Reason: al.Reason, At: al.At,
				}))
			}
			if err := e.store.SaveAccount(e.broker.Account()); err != nil {
				e.logger.Warn("save account snapshot failed", "error", err)
			}
		}
	}
}

// pushDashboardEvent forwards an event to the dashboard hub, dropping it
// if no server is consuming (the channel is unbuffered past its backlog).
func (e *Engine) pushDashboardEvent(evt api.DashboardEvent) {
	select {
	case e.dashboardEvents <- evt:
	default:
		e.logger.Warn("dashboard event channel full, dropping event", "type", evt.Type)
	}
}

// DashboardEvents implements api.SnapshotProvider.
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// DashboardSnapshot implements api.SnapshotProvider, building a read-only
// view of account equity, open positions and config for the dashboard.
func (e *Engine) DashboardSnapshot() api.DashboardSnapshot {
	acc := e.broker.Account()

	positions := make([]api.PositionStatus, 0, len(e.venues)*len(e.symbols))
	for _, v := range e.venues {
		for _, symbol := range e.symbols {
			pos := e.broker.Position(v, symbol)
			if pos == nil || pos.Side == types.PositionNone {
				continue
			}
			entry, _ := pos.EntryPrice.Float64()
			qty, _ := pos.Quantity.Float64()
			uPnl, _ := pos.UnrealizedPnl.Float64()
			rPnl, _ := pos.RealizedPnl.Float64()
			lev, _ := pos.Leverage.Float64()
			liq, _ := pos.LiquidationPrice.Float64()
			positions = append(positions, api.PositionStatus{
				Exchange: string(v), Symbol: string(symbol), Side: string(pos.Side),
				Quantity: qty, EntryPrice: entry, UnrealizedPnl: uPnl, RealizedPnl: rPnl,
				Leverage: lev, LiquidationPrice: liq,
			})
		}
	}

	balance, _ := acc.Balance.Float64()
	avail, _ := acc.AvailableBalance.Float64()
	usedMargin, _ := acc.UsedMargin.Float64()
	uPnlTotal, _ := acc.UnrealizedPnlTotal.Float64()
	rPnlTotal, _ := acc.RealizedPnlTotal.Float64()
	fee, _ := acc.TotalFee.Float64()
	fundingFee, _ := acc.TotalFundingFee.Float64()
	marginRatio, _ := acc.MarginRatio().Float64()

	venues := make([]string, len(e.venues))
	for i, v := range e.venues {
		venues[i] = string(v)
	}
	symbols := make([]string, len(e.symbols))
	for i, s := range e.symbols {
		symbols[i] = string(s)
	}

	return api.DashboardSnapshot{
		Timestamp: time.Now(),
		Account: api.AccountStatus{
			Equity: balance + uPnlTotal, Balance: balance, AvailableBalance: avail,
			UsedMargin: usedMargin, MarginRatio: marginRatio,
			UnrealizedPnlTotal: uPnlTotal, RealizedPnlTotal: rPnlTotal,
			TotalFee: fee, TotalFundingFee: fundingFee,
		},
		Positions: positions,
		Alerts:    nil,
		Config: api.ConfigSummary{
			Mode: e.cfg.Mode, DryRun: e.cfg.DryRun, Venues: venues, Symbols: symbols,
			MinMarginRatio: e.cfg.Risk.MinMarginRatio, MaxDailyDrawdown: e.cfg.Risk.MaxDailyDrawdown,
		},
	}
}

// Stop cancels every goroutine, marks the market-data subscriptions
// inactive (no unsubscribe frame is sent to the venues) and waits for a
// graceful shutdown, per §4.18.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	for _, sub := range e.marketData.Subscriptions() {
		e.marketData.Unsubscribe(sub.ID)
	}
	if err := e.group.Wait(); err != nil {
		e.logger.Warn("engine goroutine exited with error", "error", err)
	}
	e.logger.Info("engine stopped")
}
