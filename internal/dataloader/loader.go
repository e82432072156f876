package dataloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/perpx/engine/internal/types"
)

// Loader issues bounded-batch queries against the historical schema and
// assembles a sorted slice of BacktestEvents, implementing the loadEvents
// contract of §4.7.
type Loader struct {
	db        *gorm.DB
	logger    *slog.Logger
	limiter   *rate.Limiter
	batchSize int
}

// Config controls connection and batching behavior.
type Config struct {
	DSN            string
	BatchSize      int
	QueriesPerSec  float64
}

func DefaultConfig(dsn string) Config {
	return Config{DSN: dsn, BatchSize: 5000, QueriesPerSec: 20}
}

func Open(cfg Config, logger *slog.Logger) (*Loader, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open historical store: %w", err)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 5000
	}
	qps := cfg.QueriesPerSec
	if qps <= 0 {
		qps = 20
	}
	return &Loader{
		db:        db,
		logger:    logger.With("component", "dataloader"),
		limiter:   rate.NewLimiter(rate.Limit(qps), int(qps)),
		batchSize: batch,
	}, nil
}

// LoadEvents streams historical events for the given exchanges/symbols
// window, returning them sorted by timestamp (tie-break stable within a
// single batch, per §4.7).
func (l *Loader) LoadEvents(ctx context.Context, cfg EventTypeConfig, exchanges []types.Exchange, symbols []types.Symbol, startTs, endTs types.Timestamp) ([]types.Event, error) {
	var events []types.Event

	for _, ex := range exchanges {
		for _, sym := range symbols {
			if cfg.Trades {
				ev, err := l.loadTrades(ctx, ex, sym, startTs, endTs)
				if err != nil {
					return nil, err
				}
				events = append(events, ev...)
			}
			if cfg.Depth {
				ev, err := l.loadDepth(ctx, ex, sym, startTs, endTs)
				if err != nil {
					return nil, err
				}
				events = append(events, ev...)
			}
			if cfg.Funding {
				ev, err := l.loadFunding(ctx, ex, sym, startTs, endTs)
				if err != nil {
					return nil, err
				}
				events = append(events, ev...)
			}
			if cfg.Mark {
				ev, err := l.loadMarkPrices(ctx, ex, sym, startTs, endTs)
				if err != nil {
					return nil, err
				}
				events = append(events, ev...)
			}
			if cfg.Klines {
				ev, err := l.loadKlines(ctx, ex, sym, startTs, endTs)
				if err != nil {
					return nil, err
				}
				events = append(events, ev...)
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })
	return events, nil
}

func (l *Loader) wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func (l *Loader) loadTrades(ctx context.Context, ex types.Exchange, sym types.Symbol, startTs, endTs types.Timestamp) ([]types.Event, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	var rows []AggTrade
	var all []AggTrade
	err := l.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND timestamp BETWEEN ? AND ?", string(ex), string(sym), int64(startTs), int64(endTs)).
		FindInBatches(&rows, l.batchSize, func(tx *gorm.DB, batch int) error {
			all = append(all, rows...)
			return nil
		}).Error
	if err != nil {
		return nil, fmt.Errorf("load agg_trades: %w", err)
	}

	out := make([]types.Event, 0, len(all))
	for _, r := range all {
		price, _ := decimal.NewFromString(r.Price)
		qty, _ := decimal.NewFromString(r.Quantity)
		out = append(out, types.Event{
			Type: types.EventTrade, Timestamp: types.Timestamp(r.Timestamp),
			Exchange: exchangeOf(r.Exchange), Symbol: symbolOf(r.Symbol),
			TradeID: r.TradeID, Price: price, Qty: qty, IsSellSide: r.IsSell,
		})
	}
	return out, nil
}

func (l *Loader) loadDepth(ctx context.Context, ex types.Exchange, sym types.Symbol, startTs, endTs types.Timestamp) ([]types.Event, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	var rows []DepthSnapshot
	var all []DepthSnapshot
	if err := l.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND timestamp BETWEEN ? AND ?", string(ex), string(sym), int64(startTs), int64(endTs)).
		FindInBatches(&rows, l.batchSize, func(tx *gorm.DB, batch int) error {
			all = append(all, rows...)
			return nil
		}).Error; err != nil {
		return nil, fmt.Errorf("load depth_snapshots: %w", err)
	}

	out := make([]types.Event, 0, len(all))
	for _, r := range all {
		bids, okB := parseLevels(r.Bids)
		asks, okA := parseLevels(r.Asks)
		if !okB || !okA {
			l.logger.Warn("malformed depth payload, using empty sides", "exchange", r.Exchange, "symbol", r.Symbol, "timestamp", r.Timestamp)
		}
		out = append(out, types.Event{
			Type: types.EventDepth, Timestamp: types.Timestamp(r.Timestamp),
			Exchange: exchangeOf(r.Exchange), Symbol: symbolOf(r.Symbol),
			Bids: bids, Asks: asks,
		})
	}
	return out, nil
}

// parseLevels decodes a JSON array of [price, qty] string pairs. Malformed
// rows yield an empty slice and ok=false rather than aborting the batch,
// per §4.7's "malformed rows yield empty sides with a warning".
func parseLevels(raw string) ([]types.PriceLevel, bool) {
	if raw == "" {
		return nil, true
	}
	var pairs [][2]string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, false
	}
	out := make([]types.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		price, err1 := decimal.NewFromString(p[0])
		qty, err2 := decimal.NewFromString(p[1])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Qty: qty})
	}
	return out, true
}

func (l *Loader) loadFunding(ctx context.Context, ex types.Exchange, sym types.Symbol, startTs, endTs types.Timestamp) ([]types.Event, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	var rows []FundingRateRow
	var all []FundingRateRow
	if err := l.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND funding_time BETWEEN ? AND ?", string(ex), string(sym), int64(startTs), int64(endTs)).
		FindInBatches(&rows, l.batchSize, func(tx *gorm.DB, batch int) error {
			all = append(all, rows...)
			return nil
		}).Error; err != nil {
		return nil, fmt.Errorf("load funding_rates: %w", err)
	}

	out := make([]types.Event, 0, len(all))
	for _, r := range all {
		rate, _ := decimal.NewFromString(r.FundingRate)
		mark, _ := decimal.NewFromString(r.MarkPrice)
		out = append(out, types.Event{
			Type: types.EventFunding, Timestamp: types.Timestamp(r.FundingTime),
			Exchange: exchangeOf(r.Exchange), Symbol: symbolOf(r.Symbol),
			Rate: rate, MarkPrice: mark,
		})
	}
	return out, nil
}

func (l *Loader) loadMarkPrices(ctx context.Context, ex types.Exchange, sym types.Symbol, startTs, endTs types.Timestamp) ([]types.Event, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	var rows []MarkPriceRow
	var all []MarkPriceRow
	if err := l.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND timestamp BETWEEN ? AND ?", string(ex), string(sym), int64(startTs), int64(endTs)).
		FindInBatches(&rows, l.batchSize, func(tx *gorm.DB, batch int) error {
			all = append(all, rows...)
			return nil
		}).Error; err != nil {
		return nil, fmt.Errorf("load mark_prices: %w", err)
	}

	out := make([]types.Event, 0, len(all))
	for _, r := range all {
		mark, _ := decimal.NewFromString(r.MarkPrice)
		index, _ := decimal.NewFromString(r.IndexPrice)
		out = append(out, types.Event{
			Type: types.EventMarkPrice, Timestamp: types.Timestamp(r.Timestamp),
			Exchange: exchangeOf(r.Exchange), Symbol: symbolOf(r.Symbol),
			MarkPrice: mark, IndexPrice: index,
		})
	}
	return out, nil
}

func (l *Loader) loadKlines(ctx context.Context, ex types.Exchange, sym types.Symbol, startTs, endTs types.Timestamp) ([]types.Event, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	var rows []KlineRow
	var all []KlineRow
	if err := l.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND open_time BETWEEN ? AND ?", string(ex), string(sym), int64(startTs), int64(endTs)).
		FindInBatches(&rows, l.batchSize, func(tx *gorm.DB, batch int) error {
			all = append(all, rows...)
			return nil
		}).Error; err != nil {
		return nil, fmt.Errorf("load klines: %w", err)
	}

	out := make([]types.Event, 0, len(all))
	for _, r := range all {
		o, _ := decimal.NewFromString(r.Open)
		h, _ := decimal.NewFromString(r.High)
		lo, _ := decimal.NewFromString(r.Low)
		c, _ := decimal.NewFromString(r.Close)
		v, _ := decimal.NewFromString(r.Volume)
		qv, _ := decimal.NewFromString(r.QuoteVolume)
		out = append(out, types.Event{
			// Shifted so klines sort after intra-minute events of the same minute.
			Type: types.EventKline, Timestamp: types.Timestamp(r.OpenTime + klineCloseOffsetMs),
			Exchange: exchangeOf(r.Exchange), Symbol: symbolOf(r.Symbol),
			OpenTime: types.Timestamp(r.OpenTime), Open: o, High: h, Low: lo, Close: c,
			Volume: v, QuoteVolume: qv, Trades: r.Trades, IsFinal: true,
		})
	}
	return out, nil
}
