package normalize

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/perpx/engine/internal/types"
)

func TestIsAckOrHeartbeatBinance(t *testing.T) {
	if !IsAckOrHeartbeat([]byte(`{"result":null,"id":1}`)) {
		t.Fatal("expected binance subscribe ack to be recognized")
	}
}

func TestIsAckOrHeartbeatBybit(t *testing.T) {
	if !IsAckOrHeartbeat([]byte(`{"op":"pong"}`)) {
		t.Fatal("expected bybit pong to be recognized")
	}
}

func TestIsAckOrHeartbeatOKXText(t *testing.T) {
	if !IsAckOrHeartbeat([]byte("pong")) {
		t.Fatal("expected okx text pong to be recognized")
	}
}

func TestIsAckOrHeartbeatRejectsData(t *testing.T) {
	if IsAckOrHeartbeat([]byte(`{"stream":"btcusdt@aggTrade","data":{}}`)) {
		t.Fatal("data frame must not be classified as ack/heartbeat")
	}
}

func TestNormalizeBinanceAggTrade(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":123,"a":555,"s":"BTCUSDT","p":"100.5","q":"2","f":1,"l":2,"T":120,"m":true}}`)
	ev, err := NormalizeBinance(raw, "BTC-USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != types.EventTrade {
		t.Fatalf("expected trade event, got %s", ev.Type)
	}
	want, _ := decimal.NewFromString("100.5")
	if !ev.Price.Equal(want) {
		t.Fatalf("unexpected price: %s", ev.Price)
	}
	if ev.TradeID != "555" {
		t.Fatalf("unexpected trade id: %s", ev.TradeID)
	}
}

func TestNormalizeBinanceDepth(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@depth","data":{"e":"depthUpdate","E":123,"s":"BTCUSDT","b":[["100","1"]],"a":[["101","2"]]}}`)
	ev, err := NormalizeBinance(raw, "BTC-USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ev.Bids) != 1 || len(ev.Asks) != 1 {
		t.Fatalf("expected one bid and one ask, got %d/%d", len(ev.Bids), len(ev.Asks))
	}
}

func TestNormalizeBybitOrderbook(t *testing.T) {
	raw := []byte(`{"topic":"orderbook.50.BTCUSDT","ts":123,"data":{"s":"BTCUSDT","b":[["100","1"]],"a":[["101","2"]]}}`)
	ev, err := NormalizeBybit(raw, "BTC-USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != types.EventDepth {
		t.Fatalf("expected depth event, got %s", ev.Type)
	}
}

func TestNormalizeOKXTrades(t *testing.T) {
	raw := []byte(`{"arg":{"channel":"trades","instId":"BTC-USDT-SWAP"},"data":[{"tradeId":"1","px":"100","sz":"1","side":"sell","ts":"123"}]}`)
	ev, err := NormalizeOKX(raw, "BTC-USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != types.EventTrade || !ev.IsSellSide {
		t.Fatalf("expected sell trade event, got %+v", ev)
	}
}

func TestNormalizeOKXUnknownChannel(t *testing.T) {
	raw := []byte(`{"arg":{"channel":"bogus"},"data":[]}`)
	if _, err := NormalizeOKX(raw, "BTC-USDT"); err == nil {
		t.Fatal("expected error for unrecognized channel")
	}
}
