package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DashboardHub fans live engine events out to every connected dashboard
// subscriber over its own WebSocket connection.
type DashboardHub struct {
	subscribers map[*DashboardSubscriber]bool
	register    chan *DashboardSubscriber
	unregister  chan *DashboardSubscriber
	broadcast   chan []byte
	mu          sync.RWMutex
	logger      *slog.Logger
}

// DashboardSubscriber is one dashboard's open WebSocket connection: a fill,
// alert, or snapshot event queued on send is relayed by writePump.
type DashboardSubscriber struct {
	hub  *DashboardHub
	conn *websocket.Conn
	send chan []byte
}

// NewDashboardHub creates a new, unstarted dashboard event hub.
func NewDashboardHub(logger *slog.Logger) *DashboardHub {
	return &DashboardHub{
		subscribers: make(map[*DashboardSubscriber]bool),
		register:    make(chan *DashboardSubscriber),
		unregister:  make(chan *DashboardSubscriber),
		broadcast:   make(chan []byte, 256),
		logger:      logger.With("component", "dashboard-hub"),
	}
}

// Run starts the hub's main loop (should be called in a goroutine)
func (h *DashboardHub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			h.mu.Unlock()
			h.logger.Info("dashboard connected", "count", len(h.subscribers))

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			h.mu.Unlock()
			h.logger.Info("dashboard disconnected", "count", len(h.subscribers))

		case message := <-h.broadcast:
			h.mu.RLock()
			for sub := range h.subscribers {
				select {
				case sub.send <- message:
				default:
					// Subscriber can't keep up, drop it.
					close(sub.send)
					delete(h.subscribers, sub)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastEvent sends a trading event to every connected dashboard.
func (h *DashboardHub) BroadcastEvent(evt DashboardEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

// BroadcastSnapshot sends a full account/position snapshot to every
// connected dashboard.
func (h *DashboardHub) BroadcastSnapshot(snapshot DashboardSnapshot) {
	evt := DashboardEvent{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Data:      snapshot,
	}
	h.BroadcastEvent(evt)
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// writePump pumps queued dashboard events from the hub to the websocket connection
func (c *DashboardSubscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the websocket connection so pong frames are read; the
// dashboard is read-only and sends nothing else back.
func (c *DashboardSubscriber) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}
		// no inbound messages expected; only pong frames keep the deadline alive
	}
}

// NewDashboardSubscriber registers a new dashboard connection with the hub
// and starts its read/write pumps.
func NewDashboardSubscriber(hub *DashboardHub, conn *websocket.Conn) *DashboardSubscriber {
	sub := &DashboardSubscriber{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	sub.hub.register <- sub

	go sub.writePump()
	go sub.readPump()

	return sub
}
