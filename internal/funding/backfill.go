package funding

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/perpx/engine/internal/exchange/restclient"
	"github.com/perpx/engine/internal/types"
)

// BinanceBackfill fetches historical funding-rate observations for one
// symbol from Binance USDT-M futures and feeds them into the calculator in
// chronological order, seeding its EMA/history before live trading starts.
// This is a supplemented feature (SPEC_FULL.md §5): C12 only specifies the
// live update path, not how history is seeded on cold start.
type BinanceBackfill struct {
	client *futures.Client
}

func NewBinanceBackfill(apiKey, secretKey string) *BinanceBackfill {
	return &BinanceBackfill{client: futures.NewClient(apiKey, secretKey)}
}

// Run pulls up to limit historical funding rates for venueSymbol (Binance's
// native symbol, e.g. "BTCUSDT") and records them against symbol.
func (b *BinanceBackfill) Run(ctx context.Context, c *Calculator, symbol types.Symbol, venueSymbol string, limit int) error {
	rows, err := b.client.NewFundingRateService().
		Symbol(venueSymbol).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		rate, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			continue
		}
		c.Record(types.Binance, symbol, rate, rate)
	}
	return nil
}

// bybitFundingRow and okxFundingRow mirror the two venues' public funding
// history REST responses, used since no SDK in this stack covers them.
type bybitFundingRow struct {
	FundingRate string `json:"fundingRate"`
}

type bybitFundingEnvelope struct {
	Result struct {
		List []bybitFundingRow `json:"list"`
	} `json:"result"`
}

// BybitBackfill fetches Bybit V5's public funding-rate history endpoint.
type BybitBackfill struct {
	client *restclient.Client
}

func NewBybitBackfill() *BybitBackfill {
	return &BybitBackfill{client: restclient.New(restclient.DefaultConfig("https://api.bybit.com"))}
}

func (b *BybitBackfill) Run(ctx context.Context, c *Calculator, symbol types.Symbol, venueSymbol string, limit int) error {
	var env bybitFundingEnvelope
	err := b.client.GetJSON(ctx, "/v5/market/funding/history", map[string]string{
		"category": "linear",
		"symbol":   venueSymbol,
		"limit":    strconv.Itoa(limit),
	}, &env)
	if err != nil {
		return err
	}
	for _, r := range env.Result.List {
		rate, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			continue
		}
		c.Record(types.Bybit, symbol, rate, rate)
	}
	return nil
}

type okxFundingRow struct {
	FundingRate string `json:"fundingRate"`
}

type okxFundingEnvelope struct {
	Data []okxFundingRow `json:"data"`
}

// OKXBackfill fetches OKX V5's public funding-rate history endpoint.
type OKXBackfill struct {
	client *restclient.Client
}

func NewOKXBackfill() *OKXBackfill {
	return &OKXBackfill{client: restclient.New(restclient.DefaultConfig("https://www.okx.com"))}
}

func (b *OKXBackfill) Run(ctx context.Context, c *Calculator, symbol types.Symbol, venueInstID string, limit int) error {
	var env okxFundingEnvelope
	err := b.client.GetJSON(ctx, "/api/v5/public/funding-rate-history", map[string]string{
		"instId": venueInstID,
		"limit":  strconv.Itoa(limit),
	}, &env)
	if err != nil {
		return err
	}
	for _, r := range env.Data {
		rate, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			continue
		}
		c.Record(types.OKX, symbol, rate, rate)
	}
	return nil
}
