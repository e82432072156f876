package api

// SnapshotProvider is implemented by the trading engine to expose its
// current state to the dashboard server without the api package needing
// to import engine/broker/risk internals directly.
type SnapshotProvider interface {
	DashboardSnapshot() DashboardSnapshot
	DashboardEvents() <-chan DashboardEvent
}
