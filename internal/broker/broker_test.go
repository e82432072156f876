package broker

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/perpx/engine/internal/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestOpenThenCloseRealizesPnl(t *testing.T) {
	t.Parallel()
	b := New(Config{AllowShort: true}, d(10000))

	_, closed := b.ApplyFill(types.Binance, "BTC/USDT", types.Buy, d(100), d(1), d(0.1), d(0), d(1), 1)
	require.False(t, closed)

	pos := b.Position(types.Binance, "BTC/USDT")
	require.NotNil(t, pos)
	require.True(t, pos.EntryPrice.Equal(d(100)))
	require.Equal(t, types.PositionLong, pos.Side)

	trade, closed := b.ApplyFill(types.Binance, "BTC/USDT", types.Sell, d(110), d(1), d(0.1), d(0), d(1), 2)
	require.True(t, closed)
	require.True(t, trade.Pnl.Equal(d(10)))

	require.Nil(t, b.Position(types.Binance, "BTC/USDT"))
	require.True(t, b.Account().RealizedPnlTotal.Equal(d(10)))
}

func TestAddToPositionWeightedAverageEntry(t *testing.T) {
	t.Parallel()
	b := New(Config{}, d(10000))

	b.ApplyFill(types.Binance, "BTC/USDT", types.Buy, d(100), d(1), d(0), d(0), d(1), 1)
	b.ApplyFill(types.Binance, "BTC/USDT", types.Buy, d(110), d(1), d(0), d(0), d(1), 2)

	pos := b.Position(types.Binance, "BTC/USDT")
	require.True(t, pos.EntryPrice.Equal(d(105)))
	require.True(t, pos.Quantity.Equal(d(2)))
}

func TestReduceLeavesResidualPosition(t *testing.T) {
	t.Parallel()
	b := New(Config{}, d(10000))

	b.ApplyFill(types.Binance, "BTC/USDT", types.Buy, d(100), d(3), d(0), d(0), d(1), 1)
	trade, closed := b.ApplyFill(types.Binance, "BTC/USDT", types.Sell, d(120), d(1), d(0), d(0), d(1), 2)

	require.True(t, closed)
	require.True(t, trade.Pnl.Equal(d(20)))

	pos := b.Position(types.Binance, "BTC/USDT")
	require.NotNil(t, pos)
	require.True(t, pos.Quantity.Equal(d(2)))
	require.True(t, pos.EntryPrice.Equal(d(100)))
}

func TestShortDisallowedWithoutPosition(t *testing.T) {
	t.Parallel()
	b := New(Config{AllowShort: false}, d(10000))
	_, closed := b.ApplyFill(types.Binance, "BTC/USDT", types.Sell, d(100), d(1), d(0), d(0), d(1), 1)
	require.False(t, closed)
	require.Nil(t, b.Position(types.Binance, "BTC/USDT"))
}

func TestMarginEnabledDeductsNotionalOverLeverage(t *testing.T) {
	t.Parallel()
	b := New(Config{AllowShort: true, MarginEnabled: true}, d(10000))

	b.ApplyFill(types.Binance, "BTC/USDT", types.Buy, d(100), d(10), d(0), d(0), d(5), 1)

	require.True(t, b.Account().UsedMargin.Equal(d(200)), "expected 1000 notional / 5x leverage = 200 margin, got %s", b.Account().UsedMargin)
	require.True(t, b.Account().Balance.Equal(d(9800)))

	pos := b.Position(types.Binance, "BTC/USDT")
	require.True(t, pos.Leverage.Equal(d(5)))

	_, closed := b.ApplyFill(types.Binance, "BTC/USDT", types.Sell, d(110), d(10), d(0), d(0), d(5), 2)
	require.True(t, closed)
	require.True(t, b.Account().UsedMargin.IsZero())
}
