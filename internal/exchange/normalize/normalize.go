// Package normalize converts each venue's WebSocket message envelope into
// the unified Event records the rest of the engine understands (C10). The
// functions here are pure and stateless; callers own any stream routing.
//
// Each venue's raw combined-stream payload is decoded against its documented
// wire fields directly (Binance's "e"/"E"/"p"/"q"/... keys, Bybit's V5
// topic envelope, OKX's arg/data envelope) rather than round-tripped through
// a REST SDK's typed structs, since none of the three venues expose their
// WS wire format through a Go package in this stack. The SDK stack pulled in
// for Binance (github.com/adshao/go-binance/v2) is instead wired into the
// funding historical backfill helper, where its documented top-level REST
// services apply directly.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/types"
)

// envelopePeek is used to sniff a frame's shape before committing to a full decode.
type envelopePeek struct {
	// Binance combined-stream wrapper.
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	// Binance/ack frames.
	Result json.RawMessage `json:"result"`
	ID     interface{} `json:"id"`
	// Bybit topic routing.
	Topic string `json:"topic"`
	Op    string `json:"op"`
	// OKX arg.channel routing (shares the "data" key with Binance's wrapper above).
	Arg okxArg `json:"arg"`
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// binanceTickerFrame is the documented 24hr mini/full ticker stream payload.
type binanceTickerFrame struct {
	EventTime  int64  `json:"E"`
	ClosePrice string `json:"c"`
}

// binanceAggTradeFrame is the documented <symbol>@aggTrade payload.
type binanceAggTradeFrame struct {
	EventTime   int64  `json:"E"`
	TradeTime   int64  `json:"T"`
	AggTradeID  int64  `json:"a"`
	Price       string `json:"p"`
	Quantity    string `json:"q"`
	IsBuyerMaker bool  `json:"m"`
}

// binanceDepthFrame is the documented <symbol>@depth payload (diff depth).
type binanceDepthFrame struct {
	EventTime int64       `json:"E"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

// binanceMarkPriceFrame is the documented <symbol>@markPrice payload.
type binanceMarkPriceFrame struct {
	EventTime       int64  `json:"E"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

// IsAckOrHeartbeat reports whether a raw frame is a subscribe/heartbeat ack
// that the normalizer should silently ignore, per §4.9.
func IsAckOrHeartbeat(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "ping" || trimmed == "pong" {
		return true
	}
	var peek envelopePeek
	if err := json.Unmarshal(raw, &peek); err != nil {
		return false
	}
	if peek.ID != nil && len(peek.Result) > 0 {
		return true // Binance SUBSCRIBE ack: {"result":null,"id":1}
	}
	if peek.Op == "pong" || peek.Op == "subscribe" {
		return true // Bybit ack/pong
	}
	return false
}

// NormalizeBinance decodes one Binance USDT-M futures combined-stream frame
// into a canonical Event. The stream suffix (@ticker, @depth.., @aggTrade,
// @markPrice) selects the decode target.
func NormalizeBinance(raw []byte, symbol types.Symbol) (types.Event, error) {
	var env envelopePeek
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.Event{}, fmt.Errorf("binance envelope: %w", err)
	}
	payload := env.Data
	if len(payload) == 0 {
		payload = raw
	}

	switch {
	case strings.Contains(env.Stream, "@aggTrade"):
		var ev binanceAggTradeFrame
		if err := json.Unmarshal(payload, &ev); err != nil {
			return types.Event{}, fmt.Errorf("binance aggTrade: %w", err)
		}
		return types.Event{
			Type: types.EventTrade, Timestamp: types.Timestamp(ev.TradeTime),
			Exchange: types.Binance, Symbol: symbol,
			TradeID: fmt.Sprintf("%d", ev.AggTradeID), Price: decimalOrZero(ev.Price), Qty: decimalOrZero(ev.Quantity),
			IsSellSide: ev.IsBuyerMaker,
		}, nil

	case strings.Contains(env.Stream, "@depth"):
		var ev binanceDepthFrame
		if err := json.Unmarshal(payload, &ev); err != nil {
			return types.Event{}, fmt.Errorf("binance depth: %w", err)
		}
		return types.Event{
			Type: types.EventDepth, Timestamp: types.Timestamp(ev.EventTime),
			Exchange: types.Binance, Symbol: symbol,
			Bids: levelsFromStrings(ev.Bids), Asks: levelsFromStrings(ev.Asks),
		}, nil

	case strings.Contains(env.Stream, "@markPrice"):
		var ev binanceMarkPriceFrame
		if err := json.Unmarshal(payload, &ev); err != nil {
			return types.Event{}, fmt.Errorf("binance markPrice: %w", err)
		}
		return types.Event{
			Type: types.EventMarkPrice, Timestamp: types.Timestamp(ev.EventTime),
			Exchange: types.Binance, Symbol: symbol,
			MarkPrice: decimalOrZero(ev.MarkPrice), IndexPrice: decimalOrZero(ev.IndexPrice), Rate: decimalOrZero(ev.FundingRate),
			NextFundingTime: types.Timestamp(ev.NextFundingTime),
		}, nil

	case strings.Contains(env.Stream, "@ticker"):
		var ev binanceTickerFrame
		if err := json.Unmarshal(payload, &ev); err != nil {
			return types.Event{}, fmt.Errorf("binance ticker: %w", err)
		}
		return types.Event{
			Type: types.EventKline, Timestamp: types.Timestamp(ev.EventTime),
			Exchange: types.Binance, Symbol: symbol, Close: decimalOrZero(ev.ClosePrice),
		}, nil

	default:
		return types.Event{}, fmt.Errorf("unrecognized binance stream %q", env.Stream)
	}
}

func levelsFromStrings(pairs [][2]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		price, err1 := decimal.NewFromString(p[0])
		qty, err2 := decimal.NewFromString(p[1])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Qty: qty})
	}
	return out
}

// bybitFrame is the generic Bybit V5 public-stream envelope.
type bybitFrame struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type bybitTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
	IndexPrice string `json:"indexPrice"`
	FundingRate string `json:"fundingRate"`
}

type bybitOrderbook struct {
	Symbol string     `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
}

type bybitTrade struct {
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Price  string `json:"p"`
	Size   string `json:"v"`
	TradeID string `json:"i"`
}

// NormalizeBybit routes a Bybit V5 linear frame by its topic prefix.
func NormalizeBybit(raw []byte, symbol types.Symbol) (types.Event, error) {
	var frame bybitFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return types.Event{}, fmt.Errorf("bybit envelope: %w", err)
	}

	switch {
	case strings.HasPrefix(frame.Topic, "tickers."):
		var t bybitTicker
		if err := json.Unmarshal(frame.Data, &t); err != nil {
			return types.Event{}, fmt.Errorf("bybit ticker: %w", err)
		}
		mark, _ := decimal.NewFromString(t.MarkPrice)
		index, _ := decimal.NewFromString(t.IndexPrice)
		rate, _ := decimal.NewFromString(t.FundingRate)
		return types.Event{
			Type: types.EventMarkPrice, Timestamp: types.Timestamp(frame.Ts),
			Exchange: types.Bybit, Symbol: symbol,
			MarkPrice: mark, IndexPrice: index, Rate: rate,
		}, nil

	case strings.HasPrefix(frame.Topic, "orderbook."):
		var ob bybitOrderbook
		if err := json.Unmarshal(frame.Data, &ob); err != nil {
			return types.Event{}, fmt.Errorf("bybit orderbook: %w", err)
		}
		return types.Event{
			Type: types.EventDepth, Timestamp: types.Timestamp(frame.Ts),
			Exchange: types.Bybit, Symbol: symbol,
			Bids: levelsFromStrings(ob.Bids), Asks: levelsFromStrings(ob.Asks),
		}, nil

	case strings.HasPrefix(frame.Topic, "publicTrade."):
		var trades []bybitTrade
		if err := json.Unmarshal(frame.Data, &trades); err != nil || len(trades) == 0 {
			return types.Event{}, fmt.Errorf("bybit trade: %w", err)
		}
		tr := trades[0]
		price, _ := decimal.NewFromString(tr.Price)
		qty, _ := decimal.NewFromString(tr.Size)
		return types.Event{
			Type: types.EventTrade, Timestamp: types.Timestamp(frame.Ts),
			Exchange: types.Bybit, Symbol: symbol,
			TradeID: tr.TradeID, Price: price, Qty: qty, IsSellSide: tr.Side == "Sell",
		}, nil

	default:
		return types.Event{}, fmt.Errorf("unrecognized bybit topic %q", frame.Topic)
	}
}

type okxFrame struct {
	Arg  okxArg          `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type okxTickerRow struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"`
}

type okxBookRow struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
	Ts   string      `json:"ts"`
}

type okxTradeRow struct {
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

type okxFundingRow struct {
	FundingRate string `json:"fundingRate"`
	FundingTime string `json:"fundingTime"`
	Ts          string `json:"ts"`
}

// NormalizeOKX routes an OKX V5 frame by arg.channel.
func NormalizeOKX(raw []byte, symbol types.Symbol) (types.Event, error) {
	var frame okxFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return types.Event{}, fmt.Errorf("okx envelope: %w", err)
	}

	switch frame.Arg.Channel {
	case "tickers":
		var rows []okxTickerRow
		if err := json.Unmarshal(frame.Data, &rows); err != nil || len(rows) == 0 {
			return types.Event{}, fmt.Errorf("okx tickers: %w", err)
		}
		return types.Event{
			Type: types.EventKline, Timestamp: parseOKXTs(rows[0].Ts),
			Exchange: types.OKX, Symbol: symbol,
			Close: decimalOrZero(rows[0].Last),
		}, nil

	case "books5", "books":
		var rows []okxBookRow
		if err := json.Unmarshal(frame.Data, &rows); err != nil || len(rows) == 0 {
			return types.Event{}, fmt.Errorf("okx books: %w", err)
		}
		return types.Event{
			Type: types.EventDepth, Timestamp: parseOKXTs(rows[0].Ts),
			Exchange: types.OKX, Symbol: symbol,
			Bids: levelsFromStrings(rows[0].Bids), Asks: levelsFromStrings(rows[0].Asks),
		}, nil

	case "trades":
		var rows []okxTradeRow
		if err := json.Unmarshal(frame.Data, &rows); err != nil || len(rows) == 0 {
			return types.Event{}, fmt.Errorf("okx trades: %w", err)
		}
		return types.Event{
			Type: types.EventTrade, Timestamp: parseOKXTs(rows[0].Ts),
			Exchange: types.OKX, Symbol: symbol,
			TradeID: rows[0].TradeID, Price: decimalOrZero(rows[0].Px), Qty: decimalOrZero(rows[0].Sz),
			IsSellSide: rows[0].Side == "sell",
		}, nil

	case "funding-rate":
		var rows []okxFundingRow
		if err := json.Unmarshal(frame.Data, &rows); err != nil || len(rows) == 0 {
			return types.Event{}, fmt.Errorf("okx funding-rate: %w", err)
		}
		return types.Event{
			Type: types.EventFunding, Timestamp: parseOKXTs(rows[0].Ts),
			Exchange: types.OKX, Symbol: symbol,
			Rate: decimalOrZero(rows[0].FundingRate), NextFundingTime: parseOKXTs(rows[0].FundingTime),
		}, nil

	default:
		return types.Event{}, fmt.Errorf("unrecognized okx channel %q", frame.Arg.Channel)
	}
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseOKXTs(s string) types.Timestamp {
	d := decimalOrZero(s)
	v, _ := d.Float64()
	return types.Timestamp(int64(v))
}
