package strategyhost

import (
	"io"
	"log/slog"
	"testing"

	"github.com/perpx/engine/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingStrategy struct {
	NoopStrategy
	name      string
	trades    int
	lastOrder *types.OrderRequest
	panicOn   types.EventType
}

func (s *recordingStrategy) Name() string { return s.name }

func (s *recordingStrategy) OnTrade(ev types.Event) *types.Action {
	s.trades++
	if s.panicOn == types.EventTrade {
		panic("boom")
	}
	return &types.Action{Orders: []types.OrderRequest{{Symbol: ev.Symbol}}}
}

func TestDispatchRoutesToMatchingCallback(t *testing.T) {
	t.Parallel()
	h := New(testLogger())
	s := &recordingStrategy{name: "s1"}
	if err := h.Register(s, true); err != nil {
		t.Fatalf("Register: %v", err)
	}

	action := h.Dispatch(types.Event{Type: types.EventTrade, Symbol: "BTC/USDT"})
	if s.trades != 1 {
		t.Fatalf("OnTrade called %d times, want 1", s.trades)
	}
	if len(action.Orders) != 1 || action.Orders[0].Symbol != "BTC/USDT" {
		t.Fatalf("merged action = %+v, want one order for BTC/USDT", action)
	}

	// A depth event shouldn't route to OnTrade.
	h.Dispatch(types.Event{Type: types.EventDepth, Symbol: "BTC/USDT"})
	if s.trades != 1 {
		t.Fatalf("OnTrade called %d times after depth event, want still 1", s.trades)
	}
}

func TestDispatchMergesActionsInRegistrationOrder(t *testing.T) {
	t.Parallel()
	h := New(testLogger())
	first := &recordingStrategy{name: "first"}
	second := &recordingStrategy{name: "second"}
	if err := h.Register(first, true); err != nil {
		t.Fatalf("Register(first): %v", err)
	}
	if err := h.Register(second, true); err != nil {
		t.Fatalf("Register(second): %v", err)
	}

	action := h.Dispatch(types.Event{Type: types.EventTrade, Symbol: "ETH/USDT"})
	if len(action.Orders) != 2 {
		t.Fatalf("merged %d orders, want 2", len(action.Orders))
	}
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	t.Parallel()
	h := New(testLogger())
	s := &recordingStrategy{name: "dup"}
	if err := h.Register(s, true); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := h.Register(&recordingStrategy{name: "dup"}, true); err == nil {
		t.Fatal("second Register with duplicate name succeeded, want error")
	}
}

func TestSetEnabledSkipsDispatch(t *testing.T) {
	t.Parallel()
	h := New(testLogger())
	s := &recordingStrategy{name: "s1"}
	if err := h.Register(s, true); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.SetEnabled("s1", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	h.Dispatch(types.Event{Type: types.EventTrade})
	if s.trades != 0 {
		t.Fatalf("OnTrade called while disabled, trades = %d", s.trades)
	}
}

func TestPanicIsolatedWhenCatchErrorsTrue(t *testing.T) {
	t.Parallel()
	h := New(testLogger())
	s := &recordingStrategy{name: "panicky", panicOn: types.EventTrade}
	if err := h.Register(s, true); err != nil {
		t.Fatalf("Register: %v", err)
	}

	action := h.Dispatch(types.Event{Type: types.EventTrade})
	if len(action.Orders) != 0 {
		t.Fatalf("expected no orders from a panicking strategy, got %+v", action)
	}

	st, ok := h.Stats("panicky")
	if !ok {
		t.Fatal("Stats not found for registered strategy")
	}
	if st.Errors[CallbackTrade] != 1 {
		t.Fatalf("Errors[CallbackTrade] = %d, want 1", st.Errors[CallbackTrade])
	}
	if st.Calls[CallbackTrade] != 1 {
		t.Fatalf("Calls[CallbackTrade] = %d, want 1", st.Calls[CallbackTrade])
	}
}

func TestUnregisterRemovesFromDispatchOrder(t *testing.T) {
	t.Parallel()
	h := New(testLogger())
	s := &recordingStrategy{name: "gone"}
	if err := h.Register(s, true); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Unregister("gone"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	h.Dispatch(types.Event{Type: types.EventTrade})
	if s.trades != 0 {
		t.Fatalf("OnTrade called after Unregister, trades = %d", s.trades)
	}
	if _, ok := h.Stats("gone"); ok {
		t.Fatal("Stats found for unregistered strategy")
	}
}
