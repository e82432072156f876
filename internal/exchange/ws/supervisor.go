// Package ws implements the per-venue WebSocket connection supervisor (C9):
// connect, heartbeat, exponential-backoff reconnect, and resubscribe-on-
// reconnect for Binance, Bybit and OKX public market-data streams.
//
// One gorilla/websocket connection per venue, typed output channels, a
// Run(ctx) reconnect loop with exponential backoff, subscription tracking,
// envelope-peek message routing, a ping loop and read-deadline staleness
// detection — generalized across three venues with divergent heartbeat
// protocols.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the per-venue connection state chart from §4.8.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
)

// Config tunes timeouts/backoff/limits; defaults follow §4.8.
type Config struct {
	URL                 string
	ConnectTimeout      time.Duration
	MaxFrameBytes       int64
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	MaxReconnectAttempts int
	ResubscribeSettle   time.Duration
	PingInterval        time.Duration
	StaleAfter          time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		ConnectTimeout:       10 * time.Second,
		MaxFrameBytes:        10 << 20,
		BaseBackoff:          time.Second,
		MaxBackoff:           30 * time.Second,
		MaxReconnectAttempts: 100,
		ResubscribeSettle:    100 * time.Millisecond,
		PingInterval:         20 * time.Second,
		StaleAfter:           90 * time.Second,
	}
}

// Heartbeat describes how to ping and recognize a pong for one venue.
type Heartbeat struct {
	// Send, if non-nil, is called on PingInterval to emit a heartbeat frame.
	// Binance relies on native WS ping frames so Send is nil there.
	Send func(conn *websocket.Conn) error
	// IsPong reports whether a text/binary message is a heartbeat ack.
	IsPong func(message []byte) bool
}

func BinanceHeartbeat() Heartbeat {
	return Heartbeat{Send: nil, IsPong: func(b []byte) bool { return false }}
}

func BybitHeartbeat() Heartbeat {
	return Heartbeat{
		Send: func(conn *websocket.Conn) error { return conn.WriteJSON(map[string]string{"op": "ping"}) },
		IsPong: func(b []byte) bool { return strings.Contains(string(b), `"op":"pong"`) || strings.Contains(string(b), `"op": "pong"`) },
	}
}

func OKXHeartbeat() Heartbeat {
	return Heartbeat{
		Send:   func(conn *websocket.Conn) error { return conn.WriteMessage(websocket.TextMessage, []byte("ping")) },
		IsPong: func(b []byte) bool { return strings.TrimSpace(string(b)) == "pong" },
	}
}

// Events the supervisor emits.
type ConnEvent struct {
	Kind    string // "connected", "disconnected", "reconnecting", "error"
	Err     error
	Attempt int
}

// Supervisor owns one venue's public-stream connection.
type Supervisor struct {
	cfg       Config
	heartbeat Heartbeat
	logger    *slog.Logger

	mu            sync.Mutex
	state         State
	subscriptions []string // opaque payload strings, replayed verbatim on reconnect
	lastPingSent  time.Time
	latency       time.Duration

	messages chan []byte
	events   chan ConnEvent
}

func New(cfg Config, heartbeat Heartbeat, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg: cfg, heartbeat: heartbeat,
		logger:   logger.With("component", "ws_supervisor", "url", cfg.URL),
		state:    Disconnected,
		messages: make(chan []byte, 1024),
		events:   make(chan ConnEvent, 32),
	}
}

func (s *Supervisor) Messages() <-chan []byte    { return s.messages }
func (s *Supervisor) Events() <-chan ConnEvent   { return s.events }
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Subscribe records the opaque subscription payload and sends it on the
// current connection (if any); it will also be replayed after every
// reconnect.
func (s *Supervisor) Subscribe(conn *websocket.Conn, payload string) error {
	s.mu.Lock()
	s.subscriptions = append(s.subscriptions, payload)
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Run drives the connect/read/reconnect loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			s.setState(Disconnected)
			return
		default:
		}

		s.setState(Connecting)
		conn, err := s.connect(ctx)
		if err != nil {
			attempt++
			if attempt > s.cfg.MaxReconnectAttempts {
				s.emit(ConnEvent{Kind: "error", Err: fmt.Errorf("max reconnect attempts exceeded: %w", err)})
				return
			}
			s.setState(Reconnecting)
			s.emit(ConnEvent{Kind: "reconnecting", Attempt: attempt, Err: err})
			if !s.sleepBackoff(ctx, attempt) {
				return
			}
			continue
		}

		attempt = 0
		s.setState(Connected)
		s.emit(ConnEvent{Kind: "connected"})

		s.resubscribeAfterSettle(conn)
		s.runConnection(ctx, conn)

		s.setState(Disconnected)
		s.emit(ConnEvent{Kind: "disconnected"})
	}
}

func (s *Supervisor) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	conn.SetReadLimit(s.cfg.MaxFrameBytes)
	return conn, nil
}

func (s *Supervisor) resubscribeAfterSettle(conn *websocket.Conn) {
	s.mu.Lock()
	subs := append([]string(nil), s.subscriptions...)
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	time.Sleep(s.cfg.ResubscribeSettle)
	for _, payload := range subs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			s.logger.Warn("resubscribe failed", "error", err)
		}
	}
}

func (s *Supervisor) runConnection(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.heartbeat.Send != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pingLoop(connCtx, conn)
		}()
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.StaleAfter))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			cancel()
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.StaleAfter))

		if s.heartbeat.IsPong != nil && s.heartbeat.IsPong(msg) {
			s.mu.Lock()
			s.latency = time.Since(s.lastPingSent)
			s.mu.Unlock()
			continue
		}

		select {
		case s.messages <- msg:
		default:
			s.logger.Warn("message channel full, dropping frame")
		}
	}
	wg.Wait()
}

func (s *Supervisor) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.lastPingSent = time.Now()
			s.mu.Unlock()
			if err := s.heartbeat.Send(conn); err != nil {
				return
			}
		}
	}
}

func (s *Supervisor) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := s.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if delay > s.cfg.MaxBackoff {
		delay = s.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay + jitter):
		return true
	}
}

func (s *Supervisor) emit(ev ConnEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// BuildBinanceSubscribe constructs the SUBSCRIBE/UNSUBSCRIBE envelope for
// Binance USDT-M futures streams, per §6.
func BuildBinanceSubscribe(method string, params []string, id int) string {
	b, _ := json.Marshal(map[string]interface{}{"method": method, "params": params, "id": id})
	return string(b)
}

// BuildBybitSubscribe constructs the subscribe/unsubscribe envelope for
// Bybit V5 linear streams.
func BuildBybitSubscribe(op string, args []string) string {
	b, _ := json.Marshal(map[string]interface{}{"op": op, "args": args})
	return string(b)
}

// OKXArg is one channel/instId pair for an OKX subscribe envelope.
type OKXArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// BuildOKXSubscribe constructs the subscribe/unsubscribe envelope for OKX V5.
func BuildOKXSubscribe(op string, args []OKXArg) string {
	b, _ := json.Marshal(map[string]interface{}{"op": op, "args": args})
	return string(b)
}
