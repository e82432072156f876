package marketdata

import (
	"testing"
	"time"

	"github.com/perpx/engine/internal/exchange/ws"
	"github.com/perpx/engine/internal/types"
)

type noSupervisors struct{}

func (noSupervisors) Get(exchange types.Exchange) *ws.Supervisor { return nil }

type fakeSink struct {
	written []types.Event
	fail    bool
}

func (f *fakeSink) Write(ev types.Event) error {
	if f.fail {
		return errWriteFailed
	}
	f.written = append(f.written, ev)
	return nil
}

var errWriteFailed = &sinkError{"sink write failed"}

type sinkError struct{ msg string }

func (e *sinkError) Error() string { return e.msg }

func TestSubscribeRegistersSubscription(t *testing.T) {
	e := New(DefaultConfig(), noSupervisors{}, nil)
	id := e.Subscribe(types.Binance, "BTC-USDT", ChannelTrade, `{"method":"SUBSCRIBE"}`)

	subs := e.Subscriptions()
	if len(subs) != 1 || subs[0].ID != id {
		t.Fatalf("expected one subscription with id %s, got %+v", id, subs)
	}
	if !subs[0].Active {
		t.Fatal("expected a newly created subscription to be active")
	}
}

func TestUnsubscribeMarksInactive(t *testing.T) {
	e := New(DefaultConfig(), noSupervisors{}, nil)
	id := e.Subscribe(types.Binance, "BTC-USDT", ChannelTrade, "")
	e.Unsubscribe(id)

	subs := e.Subscriptions()
	if subs[0].Active {
		t.Fatal("expected unsubscribe to mark the subscription inactive")
	}
}

func TestPublishFansOutAndUpdatesStats(t *testing.T) {
	e := New(DefaultConfig(), noSupervisors{}, nil)
	e.Subscribe(types.Binance, "BTC-USDT", ChannelTrade, "")
	ch := e.Listen()

	e.Publish(types.Event{Type: types.EventTrade, Exchange: types.Binance, Symbol: "BTC-USDT"}, 5*time.Millisecond)

	select {
	case ev := <-ch:
		if ev.Type != types.EventTrade {
			t.Fatalf("expected a trade event, got %+v", ev)
		}
	default:
		t.Fatal("expected the event to be fanned out to the listener")
	}

	stats := e.GetStats()
	if stats.ByType[types.EventTrade] != 1 {
		t.Fatalf("expected 1 trade event counted, got %d", stats.ByType[types.EventTrade])
	}
	if stats.ByVenue[types.Binance] != 1 {
		t.Fatalf("expected 1 message counted for binance, got %d", stats.ByVenue[types.Binance])
	}

	subs := e.Subscriptions()
	if subs[0].MsgCount != 1 {
		t.Fatalf("expected subscription msgCount to increment, got %d", subs[0].MsgCount)
	}
}

func TestPublishSinkFailureDoesNotBlockFanout(t *testing.T) {
	sink := &fakeSink{fail: true}
	e := New(DefaultConfig(), noSupervisors{}, sink)
	ch := e.Listen()

	e.Publish(types.Event{Type: types.EventTrade, Exchange: types.Bybit, Symbol: "ETH-USDT"}, time.Millisecond)

	select {
	case <-ch:
	default:
		t.Fatal("expected fan-out to proceed despite sink failure")
	}
}
