// Package dataloader implements the Go-side contract for the external
// historical tabular store (C8): bounded-batch queries against the schema
// in §6, parsed into BacktestEvents for the event queue.
//
// Modeled with gorm.io/gorm + gorm.io/driver/mysql.
package dataloader

import "github.com/perpx/engine/internal/types"

// AggTrade mirrors the agg_trades table.
type AggTrade struct {
	Exchange  string `gorm:"column:exchange"`
	Symbol    string `gorm:"column:symbol"`
	Timestamp int64  `gorm:"column:timestamp"`
	TradeID   string `gorm:"column:trade_id"`
	Price     string `gorm:"column:price"`
	Quantity  string `gorm:"column:quantity"`
	IsSell    bool   `gorm:"column:is_sell"`
}

func (AggTrade) TableName() string { return "agg_trades" }

// DepthSnapshot mirrors the depth_snapshots table; bids/asks are stored as
// JSON arrays of [price, qty] pairs.
type DepthSnapshot struct {
	Exchange  string `gorm:"column:exchange"`
	Symbol    string `gorm:"column:symbol"`
	Timestamp int64  `gorm:"column:timestamp"`
	Bids      string `gorm:"column:bids"`
	Asks      string `gorm:"column:asks"`
}

func (DepthSnapshot) TableName() string { return "depth_snapshots" }

// FundingRateRow mirrors the funding_rates table.
type FundingRateRow struct {
	Exchange    string `gorm:"column:exchange"`
	Symbol      string `gorm:"column:symbol"`
	FundingTime int64  `gorm:"column:funding_time"`
	FundingRate string `gorm:"column:funding_rate"`
	MarkPrice   string `gorm:"column:mark_price"`
}

func (FundingRateRow) TableName() string { return "funding_rates" }

// MarkPriceRow mirrors the mark_prices table.
type MarkPriceRow struct {
	Exchange   string `gorm:"column:exchange"`
	Symbol     string `gorm:"column:symbol"`
	Timestamp  int64  `gorm:"column:timestamp"`
	MarkPrice  string `gorm:"column:mark_price"`
	IndexPrice string `gorm:"column:index_price"`
}

func (MarkPriceRow) TableName() string { return "mark_prices" }

// KlineRow mirrors the klines table.
type KlineRow struct {
	Exchange    string `gorm:"column:exchange"`
	Symbol      string `gorm:"column:symbol"`
	OpenTime    int64  `gorm:"column:open_time"`
	Open        string `gorm:"column:open"`
	High        string `gorm:"column:high"`
	Low         string `gorm:"column:low"`
	Close       string `gorm:"column:close"`
	Volume      string `gorm:"column:volume"`
	QuoteVolume string `gorm:"column:quote_volume"`
	Trades      int64  `gorm:"column:trades"`
}

func (KlineRow) TableName() string { return "klines" }

// EventTypeConfig enumerates which event types a backtest run should load.
type EventTypeConfig struct {
	Trades  bool
	Depth   bool
	Funding bool
	Mark    bool
	Klines  bool
}

func AllEventTypes() EventTypeConfig {
	return EventTypeConfig{Trades: true, Depth: true, Funding: true, Mark: true, Klines: true}
}

// klineCloseOffsetMs shifts a kline's openTime so it sorts after every
// intra-minute event of the same minute, per §4.7.
const klineCloseOffsetMs = 60_000 - 1

func exchangeOf(s string) types.Exchange { return types.Exchange(s) }
func symbolOf(s string) types.Symbol     { return types.Symbol(s) }
