package api

import (
	"time"
)

// DashboardSnapshot represents the complete dashboard state for the
// trading engine: account equity, open positions, and recent risk alerts.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Account   AccountStatus    `json:"account"`
	Positions []PositionStatus `json:"positions"`
	Alerts    []RiskAlertInfo  `json:"alerts"`
	Config    ConfigSummary    `json:"config"`
}

// AccountStatus is the account-level P&L and margin view.
type AccountStatus struct {
	Equity             float64 `json:"equity"`
	Balance            float64 `json:"balance"`
	AvailableBalance   float64 `json:"available_balance"`
	UsedMargin         float64 `json:"used_margin"`
	MarginRatio        float64 `json:"margin_ratio"`
	UnrealizedPnlTotal float64 `json:"unrealized_pnl_total"`
	RealizedPnlTotal   float64 `json:"realized_pnl_total"`
	TotalFee           float64 `json:"total_fee"`
	TotalFundingFee    float64 `json:"total_funding_fee"`
}

// PositionStatus is a per-venue, per-symbol open position.
type PositionStatus struct {
	Exchange         string  `json:"exchange"`
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	Quantity         float64 `json:"quantity"`
	EntryPrice       float64 `json:"entry_price"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	RealizedPnl      float64 `json:"realized_pnl"`
	Leverage         float64 `json:"leverage"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

// RiskAlertInfo is a single risk-manager alert surfaced to the dashboard.
type RiskAlertInfo struct {
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// ConfigSummary exposes the operational parameters an operator cares
// about at a glance, without leaking credentials.
type ConfigSummary struct {
	Mode             string   `json:"mode"`
	DryRun           bool     `json:"dry_run"`
	Venues           []string `json:"venues"`
	Symbols          []string `json:"symbols"`
	MinMarginRatio   float64  `json:"min_margin_ratio"`
	MaxDailyDrawdown float64  `json:"max_daily_drawdown_pct"`
}
