package queue

import (
	"testing"

	"github.com/perpx/engine/internal/types"
)

func ev(ts int64) types.Event {
	return types.Event{Timestamp: types.Timestamp(ts)}
}

func TestLoadPreservesTimestampOrder(t *testing.T) {
	t.Parallel()
	q := New()
	q.Load([]types.Event{ev(10), ev(20), ev(30)})

	var got []int64
	q.Drain(func(e types.Event) bool {
		got = append(got, int64(e.Timestamp))
		return true
	})

	want := []int64{10, 20, 30}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], w)
		}
	}
}

func TestTiesBreakByInsertionOrder(t *testing.T) {
	t.Parallel()
	q := New()
	// Three events sharing one timestamp; insertion order must be preserved.
	q.Load([]types.Event{
		{Timestamp: 5, TradeID: "a"},
		{Timestamp: 5, TradeID: "b"},
		{Timestamp: 5, TradeID: "c"},
	})
	q.Insert(types.Event{Timestamp: 5, TradeID: "d"})

	n := q.Len()
	if n != 4 {
		t.Fatalf("Len() = %d, want 4", n)
	}

	var order []string
	q.Drain(func(e types.Event) bool {
		order = append(order, e.TradeID)
		return true
	})
	if len(order) != 4 {
		t.Fatalf("drained %d events, want 4", len(order))
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if order[i] != want {
			t.Fatalf("drain order[%d] = %q, want %q", i, order[i], want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after drain, Len() = %d", q.Len())
	}
}

func TestInsertSchedulesFutureEvent(t *testing.T) {
	t.Parallel()
	q := New()
	q.Load([]types.Event{ev(1), ev(2)})
	q.Insert(ev(3))

	var got []int64
	q.Drain(func(e types.Event) bool {
		got = append(got, int64(e.Timestamp))
		return true
	})

	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("drained %d events, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], w)
		}
	}
}

func TestDrainStopsWhenFnReturnsFalse(t *testing.T) {
	t.Parallel()
	q := New()
	q.Load([]types.Event{ev(1), ev(2), ev(3)})

	count := 0
	q.Drain(func(e types.Event) bool {
		count++
		return count < 2
	})

	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d after early stop, want 1 remaining", q.Len())
	}
}

func TestPopOnEmptyQueue(t *testing.T) {
	t.Parallel()
	q := New()
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop() on empty queue returned ok=true")
	}
}
