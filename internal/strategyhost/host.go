// Package strategyhost implements the strategy host (C7): registration,
// lifecycle, deterministic dispatch, per-strategy error isolation and action
// merging. The backtest runner dispatches through it; the live engine ticks
// its strategy directly.
package strategyhost

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/perpx/engine/internal/types"
)

// Strategy is the capability set every strategy implements. Embedding
// NoopStrategy gives every callback a no-op default, matching the
// trait-with-default-implementations pattern called for in §9.
type Strategy interface {
	Name() string
	OnInit() *types.Action
	OnTrade(types.Event) *types.Action
	OnDepth(types.Event) *types.Action
	OnFunding(types.Event) *types.Action
	OnMarkPrice(types.Event) *types.Action
	OnKline(types.Event) *types.Action
	OnOrderFilled(types.Event) *types.Action
	OnLiquidation(types.Event) *types.Action
	OnDestroy()
}

// NoopStrategy provides default no-op implementations; concrete strategies
// embed it and override only what they need.
type NoopStrategy struct{}

func (NoopStrategy) OnInit() *types.Action                    { return nil }
func (NoopStrategy) OnTrade(types.Event) *types.Action         { return nil }
func (NoopStrategy) OnDepth(types.Event) *types.Action         { return nil }
func (NoopStrategy) OnFunding(types.Event) *types.Action       { return nil }
func (NoopStrategy) OnMarkPrice(types.Event) *types.Action     { return nil }
func (NoopStrategy) OnKline(types.Event) *types.Action         { return nil }
func (NoopStrategy) OnOrderFilled(types.Event) *types.Action   { return nil }
func (NoopStrategy) OnLiquidation(types.Event) *types.Action   { return nil }
func (NoopStrategy) OnDestroy()                                {}

// Callback indexes the capability set for per-callback stats, avoiding a
// string-keyed map per §9.
type Callback int

const (
	CallbackInit Callback = iota
	CallbackTrade
	CallbackDepth
	CallbackFunding
	CallbackMarkPrice
	CallbackKline
	CallbackOrderFilled
	CallbackLiquidation
	callbackCount
)

// Stats tracks invocation counts, total duration and error counts per callback.
type Stats struct {
	Calls    [callbackCount]uint64
	Errors   [callbackCount]uint64
	Duration [callbackCount]time.Duration
}

type registration struct {
	strategy    Strategy
	enabled     bool
	catchErrors bool
	stats       Stats
}

// Host registers strategies and dispatches events to them in deterministic
// (insertion) order, merging their returned Actions by concatenation.
type Host struct {
	logger *slog.Logger
	order  []string
	regs   map[string]*registration
}

func New(logger *slog.Logger) *Host {
	return &Host{logger: logger.With("component", "strategyhost"), regs: make(map[string]*registration)}
}

// Register adds a strategy under its unique Name(). catchErrors controls
// whether a panic/error in a callback is isolated (logged + counted) or
// propagated to the caller.
func (h *Host) Register(s Strategy, catchErrors bool) error {
	name := s.Name()
	if _, exists := h.regs[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	h.order = append(h.order, name)
	h.regs[name] = &registration{strategy: s, enabled: true, catchErrors: catchErrors}
	h.invoke(name, CallbackInit, func() *types.Action { return s.OnInit() })
	return nil
}

// Unregister removes a strategy, invoking OnDestroy first.
func (h *Host) Unregister(name string) error {
	reg, ok := h.regs[name]
	if !ok {
		return fmt.Errorf("strategy %q not registered", name)
	}
	reg.strategy.OnDestroy()
	delete(h.regs, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return nil
}

// Replace hot-swaps a strategy: unregister then register under the same name.
func (h *Host) Replace(s Strategy, catchErrors bool) error {
	name := s.Name()
	if _, ok := h.regs[name]; ok {
		if err := h.Unregister(name); err != nil {
			return err
		}
	}
	return h.Register(s, catchErrors)
}

func (h *Host) SetEnabled(name string, enabled bool) error {
	reg, ok := h.regs[name]
	if !ok {
		return fmt.Errorf("strategy %q not registered", name)
	}
	reg.enabled = enabled
	return nil
}

func (h *Host) Stats(name string) (Stats, bool) {
	reg, ok := h.regs[name]
	if !ok {
		return Stats{}, false
	}
	return reg.stats, true
}

// Dispatch routes an event to every enabled strategy's matching callback, in
// registration order, and merges the returned Actions by concatenation.
func (h *Host) Dispatch(ev types.Event) types.Action {
	cb, pick := h.callbackFor(ev.Type)
	if pick == nil {
		return types.Action{}
	}

	var merged types.Action
	for _, name := range h.order {
		reg := h.regs[name]
		if !reg.enabled {
			continue
		}
		action := h.invoke(name, cb, func() *types.Action { return pick(reg.strategy, ev) })
		if action != nil {
			merged.Orders = append(merged.Orders, action.Orders...)
			merged.CancelOrders = append(merged.CancelOrders, action.CancelOrders...)
			merged.ModifyOrders = append(merged.ModifyOrders, action.ModifyOrders...)
		}
	}
	return merged
}

func (h *Host) callbackFor(t types.EventType) (Callback, func(Strategy, types.Event) *types.Action) {
	switch t {
	case types.EventTrade:
		return CallbackTrade, func(s Strategy, ev types.Event) *types.Action { return s.OnTrade(ev) }
	case types.EventDepth:
		return CallbackDepth, func(s Strategy, ev types.Event) *types.Action { return s.OnDepth(ev) }
	case types.EventFunding:
		return CallbackFunding, func(s Strategy, ev types.Event) *types.Action { return s.OnFunding(ev) }
	case types.EventMarkPrice:
		return CallbackMarkPrice, func(s Strategy, ev types.Event) *types.Action { return s.OnMarkPrice(ev) }
	case types.EventKline:
		return CallbackKline, func(s Strategy, ev types.Event) *types.Action { return s.OnKline(ev) }
	case types.EventOrderFilled:
		return CallbackOrderFilled, func(s Strategy, ev types.Event) *types.Action { return s.OnOrderFilled(ev) }
	case types.EventLiquidation:
		return CallbackLiquidation, func(s Strategy, ev types.Event) *types.Action { return s.OnLiquidation(ev) }
	default:
		return 0, nil
	}
}

// invoke wraps a single callback call with timing, error isolation and
// stats bookkeeping.
func (h *Host) invoke(name string, cb Callback, fn func() *types.Action) (action *types.Action) {
	reg := h.regs[name]
	start := time.Now()
	defer func() {
		reg.stats.Calls[cb]++
		reg.stats.Duration[cb] += time.Since(start)
		if r := recover(); r != nil {
			reg.stats.Errors[cb]++
			h.logger.Error("strategy callback panicked", "strategy", name, "callback", cb, "panic", r)
			if !reg.catchErrors {
				panic(r)
			}
			action = nil
		}
	}()
	return fn()
}
