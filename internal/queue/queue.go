// Package queue implements the backtest event queue (C3): a time-ordered,
// stable-tiebreak stream that the matching engine and strategy host replay
// deterministically.
package queue

import (
	"container/heap"
	"sync"

	"github.com/perpx/engine/internal/types"
)

// item wraps a BacktestEvent in the heap along with its arrival sequence,
// which breaks ties between equal timestamps in insertion order.
type item struct {
	ev  types.BacktestEvent
}

type itemHeap []item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].ev.Event.Timestamp != h[j].ev.Event.Timestamp {
		return h[i].ev.Event.Timestamp < h[j].ev.Event.Timestamp
	}
	return h[i].ev.Seq < h[j].ev.Seq
}
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(item)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue is a priority stream over BacktestEvents. It is NOT safe for
// concurrent producers/consumers in backtest mode by design — the backtest
// event loop is strictly single-threaded (§5) — but Insert may be called
// re-entrantly from within the loop to schedule synthesized events
// (OrderFilled, Liquidation, funding-at-tick) at the current or a future
// timestamp.
type Queue struct {
	mu      sync.Mutex
	h       itemHeap
	nextSeq uint64
}

func New() *Queue {
	q := &Queue{}
	heap.Init(&q.h)
	return q
}

// Load bulk-inserts events already sorted by timestamp (as C8's loadEvents
// guarantees), preserving that order as the stable tiebreak.
func (q *Queue) Load(events []types.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ev := range events {
		heap.Push(&q.h, item{ev: types.BacktestEvent{Event: ev, Seq: q.nextSeq}})
		q.nextSeq++
	}
}

// Insert schedules a single (possibly synthesized) event. Its timestamp must
// be >= the current clock to preserve non-decreasing delivery order; callers
// are responsible for that invariant (the matching engine only synthesizes
// OrderFilled at or after currentTimestamp).
func (q *Queue) Insert(ev types.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, item{ev: types.BacktestEvent{Event: ev, Seq: q.nextSeq}})
	q.nextSeq++
}

// Pop removes and returns the next event in non-decreasing timestamp order,
// stable-tiebroken by insertion sequence. ok is false when the queue is empty.
func (q *Queue) Pop() (types.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return types.Event{}, false
	}
	it := heap.Pop(&q.h).(item)
	return it.ev.Event, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Drain runs fn over every remaining event in order until the queue is empty
// or fn returns false, modeling the cooperative-cancellation contract: a
// consumer that returns false aborts the traversal with no partial retries.
func (q *Queue) Drain(fn func(types.Event) bool) {
	for {
		ev, ok := q.Pop()
		if !ok {
			return
		}
		if !fn(ev) {
			return
		}
	}
}
