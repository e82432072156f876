package api

import "time"

// DashboardEvent is the wrapper for everything pushed to connected
// dashboard clients over the WebSocket hub.
type DashboardEvent struct {
	Type      string      `json:"type"` // "snapshot", "fill", "alert"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// FillEventInfo reports a single order fill.
type FillEventInfo struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// NewFillEvent wraps a fill as a DashboardEvent.
func NewFillEvent(f FillEventInfo) DashboardEvent {
	return DashboardEvent{Type: "fill", Timestamp: time.Now(), Data: f}
}

// NewAlertEvent wraps a risk alert as a DashboardEvent.
func NewAlertEvent(a RiskAlertInfo) DashboardEvent {
	return DashboardEvent{Type: "alert", Timestamp: a.At, Data: a}
}

// NewSnapshotEvent wraps a full snapshot as a DashboardEvent.
func NewSnapshotEvent(s DashboardSnapshot) DashboardEvent {
	return DashboardEvent{Type: "snapshot", Timestamp: s.Timestamp, Data: s}
}
