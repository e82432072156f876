// Package marketdata implements the market data engine (C11): subscription
// control over the C9 WS supervisors, fan-out of normalized C10 events to
// consumers, and the message/latency stats returned by GetStats.
//
// A subscription registry keyed by (exchange, symbol, channel), periodic
// stats sampling, and a consumer fan-out channel sit behind a multi-venue,
// multi-channel subscription table.
package marketdata

import (
	"strconv"
	"sync"
	"time"

	"github.com/perpx/engine/internal/exchange/ws"
	"github.com/perpx/engine/internal/types"
)

// Channel is one of the normalized stream kinds a caller can subscribe to.
type Channel string

const (
	ChannelTrade  Channel = "trade"
	ChannelDepth  Channel = "depth"
	ChannelMark   Channel = "mark_price"
	ChannelTicker Channel = "ticker"
)

// SubscriptionID identifies one subscribe() call.
type SubscriptionID string

// Subscription is the bookkeeping record kept per active subscription.
type Subscription struct {
	ID           SubscriptionID
	Exchange     types.Exchange
	Symbol       types.Symbol
	Channel      Channel
	Active       bool
	SubscribedAt time.Time
	LastDataAt   time.Time
	MsgCount     int64
}

// Sink optionally receives every normalized event; failures never interrupt
// fan-out (§4.10).
type Sink interface {
	Write(ev types.Event) error
}

// SupervisorSet resolves the live C9 supervisor for one venue.
type SupervisorSet interface {
	Get(exchange types.Exchange) *ws.Supervisor
}

// Config tunes the engine's sampling interval for messages/sec.
type Config struct {
	StatsSampleInterval time.Duration
}

func DefaultConfig() Config {
	return Config{StatsSampleInterval: 10 * time.Second}
}

type venueStats struct {
	messages int64
	latency  time.Duration
	maxLat   time.Duration
	samples  int64
}

// Engine is the C11 subscription registry and fan-out hub.
type Engine struct {
	cfg  Config
	sups SupervisorSet
	sink Sink

	mu            sync.Mutex
	subs          map[SubscriptionID]*Subscription
	nextID        int64
	byTypeCount   map[types.EventType]int64
	byVenueCount  map[types.Exchange]*venueStats
	windowStart   time.Time
	windowCount   int64
	lastRate      float64

	listeners []chan types.Event
}

func New(cfg Config, sups SupervisorSet, sink Sink) *Engine {
	if cfg.StatsSampleInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg: cfg, sups: sups, sink: sink,
		subs:         make(map[SubscriptionID]*Subscription),
		byTypeCount:  make(map[types.EventType]int64),
		byVenueCount: make(map[types.Exchange]*venueStats),
		windowStart:  time.Time{},
	}
}

// Subscribe registers subscription intent and forwards the venue-appropriate
// payload to the C9 supervisor; payload construction is the caller's
// responsibility (ws.BuildBinanceSubscribe / BuildBybitSubscribe / BuildOKXSubscribe)
// since it is venue-specific wire format, not engine bookkeeping.
func (e *Engine) Subscribe(exchange types.Exchange, symbol types.Symbol, channel Channel, payload string) SubscriptionID {
	e.mu.Lock()
	e.nextID++
	id := SubscriptionID(strconv.FormatInt(e.nextID, 10))
	e.subs[id] = &Subscription{
		ID: id, Exchange: exchange, Symbol: symbol, Channel: channel,
		Active: true, SubscribedAt: time.Now(),
	}
	e.mu.Unlock()

	if e.sups != nil {
		if sup := e.sups.Get(exchange); sup != nil {
			_ = sup.Subscribe(nil, payload)
		}
	}
	return id
}

// Unsubscribe marks a subscription inactive. The underlying venue
// unsubscribe frame, if any, is the caller's responsibility to send.
func (e *Engine) Unsubscribe(id SubscriptionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.subs[id]; ok {
		s.Active = false
	}
}

// Listen returns a channel that receives every fanned-out event. Callers
// must keep up; the channel is buffered but fan-out never blocks on a slow
// listener (a full channel drops the event for that listener only).
func (e *Engine) Listen() <-chan types.Event {
	ch := make(chan types.Event, 1024)
	e.mu.Lock()
	e.listeners = append(e.listeners, ch)
	e.mu.Unlock()
	return ch
}

// Publish is called once per normalized event (by the normalizer's caller);
// it updates stats, fans out to listeners, and forwards to the sink.
func (e *Engine) Publish(ev types.Event, processingLatency time.Duration) {
	e.mu.Lock()
	now := time.Now()
	e.byTypeCount[ev.Type]++
	vs, ok := e.byVenueCount[ev.Exchange]
	if !ok {
		vs = &venueStats{}
		e.byVenueCount[ev.Exchange] = vs
	}
	vs.messages++
	vs.latency += processingLatency
	vs.samples++
	if processingLatency > vs.maxLat {
		vs.maxLat = processingLatency
	}

	e.windowCount++
	if e.windowStart.IsZero() {
		e.windowStart = now
	} else if elapsed := now.Sub(e.windowStart); elapsed >= e.cfg.StatsSampleInterval {
		e.lastRate = float64(e.windowCount) / elapsed.Seconds()
		e.windowCount = 0
		e.windowStart = now
	}

	for _, s := range e.subs {
		if s.Exchange == ev.Exchange && s.Symbol == ev.Symbol && s.Active {
			s.LastDataAt = now
			s.MsgCount++
		}
	}
	listeners := append([]chan types.Event(nil), e.listeners...)
	e.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- ev:
		default:
		}
	}

	if e.sink != nil {
		_ = e.sink.Write(ev) // sink failures never interrupt fan-out, per §4.10
	}
}

// Stats is the snapshot returned by getStats() in §4.10.
type Stats struct {
	ByType           map[types.EventType]int64
	ByVenue          map[types.Exchange]int64
	MessagesPerSec   float64
	AvgLatencyMicros map[types.Exchange]float64
	MaxLatencyMicros map[types.Exchange]float64
}

func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	byType := make(map[types.EventType]int64, len(e.byTypeCount))
	for k, v := range e.byTypeCount {
		byType[k] = v
	}
	byVenue := make(map[types.Exchange]int64, len(e.byVenueCount))
	avgLat := make(map[types.Exchange]float64, len(e.byVenueCount))
	maxLat := make(map[types.Exchange]float64, len(e.byVenueCount))
	for k, v := range e.byVenueCount {
		byVenue[k] = v.messages
		if v.samples > 0 {
			avgLat[k] = float64(v.latency.Microseconds()) / float64(v.samples)
		}
		maxLat[k] = float64(v.maxLat.Microseconds())
	}
	return Stats{ByType: byType, ByVenue: byVenue, MessagesPerSec: e.lastRate, AvgLatencyMicros: avgLat, MaxLatencyMicros: maxLat}
}

// Subscriptions returns a snapshot of the subscription table.
func (e *Engine) Subscriptions() []Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		out = append(out, *s)
	}
	return out
}
