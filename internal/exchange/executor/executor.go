// Package executor implements the order executor (C16): per-account
// serialization, nonce discipline, a self-trade guard, submit/poll/cancel
// against a venue adapter, and the executor-side retry/classification loop.
//
// Concrete VenueAdapter implementations (real REST order-submission
// clients) are explicitly out of scope per §1; this package defines
// the adapter contract and a paper/reference adapter (SPEC_FULL.md §5
// supplement) that routes orders into the simulated matching engine so the
// executor's retry/self-trade/latch logic has something to run against in
// tests and backtests.
//
// The per-account mutex latch and bounded inter-account parallelism use a
// blocking Wait()-style gate per account plus a semaphore bounding total
// concurrent submissions.
package executor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/book"
	"github.com/perpx/engine/internal/types"
	"github.com/perpx/engine/internal/xerrors"
)

const (
	defaultMaxParallelOrders = 10
	defaultRequestTimeout    = 300 * time.Millisecond
	defaultPollInterval      = 50 * time.Millisecond
	defaultMaxRetries        = 3
	defaultRateLimitWait     = time.Second
	defaultSelfTradeDistance = 0.0001 // 0.01%
)

// VenueAdapter is the minimal contract a concrete venue client must satisfy.
// No concrete implementation beyond the paper adapter below ships here.
type VenueAdapter interface {
	SubmitOrder(ctx context.Context, accountID string, nonce int64, req types.OrderRequest) (orderID string, err error)
	OrderStatus(ctx context.Context, accountID, orderID string) (types.OrderStatus, types.Order, error)
	CancelOrder(ctx context.Context, accountID, orderID string) error
}

// Account is one enabled trading identity for a venue.
type Account struct {
	ID     string
	Weight float64 // used for weighted-random selection when no accountId is given
}

// Config tunes the executor. New replaces the whole Config with
// DefaultConfig when MaxParallelOrders is zero or negative; other zero
// fields are used as given.
type Config struct {
	MaxParallelOrders int
	RequestTimeout    time.Duration
	PollInterval      time.Duration
	MaxRetries        int
	RateLimitWait     time.Duration
	SelfTradeDistance float64
}

func DefaultConfig() Config {
	return Config{
		MaxParallelOrders: defaultMaxParallelOrders, RequestTimeout: defaultRequestTimeout,
		PollInterval: defaultPollInterval, MaxRetries: defaultMaxRetries,
		RateLimitWait: defaultRateLimitWait, SelfTradeDistance: defaultSelfTradeDistance,
	}
}

// Result is what Submit returns after the protocol completes.
type Result struct {
	Order   types.Order
	Status  types.OrderStatus
	Partial bool
}

// BookSource supplies the cached book snapshot the self-trade guard checks.
type BookSource interface {
	Get(exchange types.Exchange, symbol types.Symbol) *book.Book
}

// Executor runs the per-request protocol of §4.15 against a VenueAdapter.
type Executor struct {
	cfg     Config
	adapter VenueAdapter
	books   BookSource

	mu       sync.Mutex
	accounts map[types.Exchange][]Account
	latches  map[string]*sync.Mutex // one per accountID
	nonces   map[string]int64
	sem      chan struct{}

	ownOrdersMu sync.Mutex
	ownOrders   map[string][]ownOrder // accountID -> live own orders

	pausedMu sync.Mutex
	paused   bool
}

type ownOrder struct {
	OrderID  string
	Exchange types.Exchange
	Symbol   types.Symbol
	Side     types.Side
	Price    decimal.Decimal
}

func New(cfg Config, adapter VenueAdapter, books BookSource) *Executor {
	if cfg.MaxParallelOrders <= 0 {
		cfg = DefaultConfig()
	}
	return &Executor{
		cfg: cfg, adapter: adapter, books: books,
		accounts: make(map[types.Exchange][]Account),
		latches:  make(map[string]*sync.Mutex),
		nonces:   make(map[string]int64),
		sem:      make(chan struct{}, cfg.MaxParallelOrders),
		ownOrders: make(map[string][]ownOrder),
	}
}

// RegisterAccount adds an enabled account for a venue.
func (e *Executor) RegisterAccount(exchange types.Exchange, acc Account) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts[exchange] = append(e.accounts[exchange], acc)
	if _, ok := e.latches[acc.ID]; !ok {
		e.latches[acc.ID] = &sync.Mutex{}
	}
}

// PauseAll implements risk.Executor: new submissions are rejected until ResumeAll.
func (e *Executor) PauseAll(reason string) {
	e.pausedMu.Lock()
	e.paused = true
	e.pausedMu.Unlock()
}

// ResumeAll implements risk.Executor.
func (e *Executor) ResumeAll() {
	e.pausedMu.Lock()
	e.paused = false
	e.pausedMu.Unlock()
}

func (e *Executor) isPaused() bool {
	e.pausedMu.Lock()
	defer e.pausedMu.Unlock()
	return e.paused
}

func (e *Executor) selectAccount(req types.OrderRequest) (string, bool) {
	if req.AccountID != "" {
		return req.AccountID, true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	candidates := e.accounts[req.Exchange]
	if len(candidates) == 0 {
		return "", false
	}
	var totalWeight float64
	for _, a := range candidates {
		totalWeight += a.Weight
	}
	if totalWeight <= 0 {
		return candidates[0].ID, true
	}
	r := rand.Float64() * totalWeight
	for _, a := range candidates {
		if r < a.Weight {
			return a.ID, true
		}
		r -= a.Weight
	}
	return candidates[len(candidates)-1].ID, true
}

func (e *Executor) latchFor(accountID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.latches[accountID]
	if !ok {
		l = &sync.Mutex{}
		e.latches[accountID] = l
	}
	return l
}

func (e *Executor) nextNonce(accountID string, now int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.nonces[accountID] + 1
	if now > n {
		n = now
	}
	e.nonces[accountID] = n
	return n
}

// Submit runs the full protocol of §4.15 for one order request.
func (e *Executor) Submit(ctx context.Context, req types.OrderRequest) (Result, error) {
	if e.isPaused() {
		return Result{}, xerrors.New(xerrors.Fatal, xerrors.CodeUnknown, "executor paused by risk manager")
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-e.sem }()

	accountID, ok := e.selectAccount(req)
	if !ok {
		return Result{}, xerrors.New(xerrors.Validation, xerrors.CodeUnknown, "no enabled account for venue")
	}

	latch := e.latchFor(accountID)
	latch.Lock()
	defer latch.Unlock()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.RequestTimeout
	}
	deadline := time.Now().Add(timeout)

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		res, err := e.attempt(ctx, accountID, req, deadline)
		if err == nil {
			return res, nil
		}
		lastErr = err
		xerr, isXerr := err.(*xerrors.Error)
		if !isXerr || !xerrors.Retryable(xerr.Code) {
			return Result{}, err
		}
		if xerr.Code == xerrors.CodeRateLimit {
			if !sleepOrDone(ctx, e.cfg.RateLimitWait) {
				return Result{}, ctx.Err()
			}
		}
	}
	return Result{}, lastErr
}

func (e *Executor) attempt(ctx context.Context, accountID string, req types.OrderRequest, deadline time.Time) (Result, error) {
	nonce := e.nextNonce(accountID, time.Now().UnixMilli())

	adjustedReq, guardErr := e.applySelfTradeGuard(accountID, req)
	if guardErr != nil {
		return Result{}, guardErr
	}
	if adjustedReq.ClientOrderID == "" {
		adjustedReq.ClientOrderID = uuid.NewString()
	}

	submitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	orderID, err := e.adapter.SubmitOrder(submitCtx, accountID, nonce, adjustedReq)
	if err != nil {
		return Result{}, classifySubmitError(err)
	}

	if adjustedReq.Type == types.OrderLimit {
		e.trackOwnOrder(accountID, orderID, adjustedReq)
	}

	if adjustedReq.Type == types.OrderMarket {
		status, order, err := e.adapter.OrderStatus(ctx, accountID, orderID)
		if err != nil {
			return Result{}, classifySubmitError(err)
		}
		return Result{Order: order, Status: status}, nil
	}

	return e.pollUntilTerminal(ctx, accountID, orderID, deadline)
}

func (e *Executor) pollUntilTerminal(ctx context.Context, accountID, orderID string, deadline time.Time) (Result, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, order, err := e.adapter.OrderStatus(ctx, accountID, orderID)
		if err != nil {
			return Result{}, classifySubmitError(err)
		}
		switch status {
		case types.OrderFilled2, types.OrderCancelled, types.OrderRejected:
			e.clearOwnOrder(accountID, orderID)
			return Result{Order: order, Status: status}, nil
		}

		if time.Now().After(deadline) {
			_ = e.adapter.CancelOrder(ctx, accountID, orderID)
			e.clearOwnOrder(accountID, orderID)
			if order.FilledQuantity.IsPositive() {
				return Result{Order: order, Status: types.OrderPartial, Partial: true}, nil
			}
			return Result{}, xerrors.New(xerrors.Transport, xerrors.CodeTimeout, "deadline exceeded with no fill")
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) applySelfTradeGuard(accountID string, req types.OrderRequest) (types.OrderRequest, error) {
	if e.books == nil {
		return req, nil
	}
	b := e.books.Get(req.Exchange, req.Symbol)
	if b == nil {
		return req, nil
	}

	e.ownOrdersMu.Lock()
	orders := append([]ownOrder(nil), e.ownOrders[accountID]...)
	e.ownOrdersMu.Unlock()

	for _, o := range orders {
		if o.Exchange != req.Exchange || o.Symbol != req.Symbol || o.Side == req.Side {
			continue
		}
		crosses := (req.Side == types.Buy && req.Price.GreaterThanOrEqual(o.Price)) ||
			(req.Side == types.Sell && req.Price.LessThanOrEqual(o.Price))
		if !crosses {
			continue
		}
		if !req.PostOnly {
			return req, xerrors.New(xerrors.Validation, xerrors.CodeSelfTradeRisk, "would cross a live own order")
		}
		if _, _, hasQuote := b.BestBidAsk(); !hasQuote {
			return req, xerrors.New(xerrors.Validation, xerrors.CodeSelfTradeRisk, "would cross a live own order")
		}
		adjusted := req
		dist := decimal.NewFromFloat(e.cfg.SelfTradeDistance)
		if req.Side == types.Buy {
			adjusted.Price = o.Price.Mul(decimal.NewFromInt(1).Sub(dist))
		} else {
			adjusted.Price = o.Price.Mul(decimal.NewFromInt(1).Add(dist))
		}
		return adjusted, nil
	}
	return req, nil
}

func (e *Executor) trackOwnOrder(accountID, orderID string, req types.OrderRequest) {
	e.ownOrdersMu.Lock()
	defer e.ownOrdersMu.Unlock()
	e.ownOrders[accountID] = append(e.ownOrders[accountID], ownOrder{
		OrderID: orderID, Exchange: req.Exchange, Symbol: req.Symbol, Side: req.Side, Price: req.Price,
	})
}

func (e *Executor) clearOwnOrder(accountID, orderID string) {
	e.ownOrdersMu.Lock()
	defer e.ownOrdersMu.Unlock()
	orders := e.ownOrders[accountID]
	for i, o := range orders {
		if o.OrderID == orderID {
			e.ownOrders[accountID] = append(orders[:i], orders[i+1:]...)
			return
		}
	}
}

func classifySubmitError(err error) error {
	if xerr, ok := err.(*xerrors.Error); ok {
		return xerr
	}
	return xerrors.Wrap(xerrors.Transport, xerrors.CodeNetworkError, "adapter call failed", err)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
