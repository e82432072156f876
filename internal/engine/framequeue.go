package engine

import (
	"sync"

	"github.com/perpx/engine/internal/types"
)

// maxFrameQueueSize bounds the per-venue staging queue between the raw
// frame reader and the normalize/apply step, per §5: under backpressure the
// oldest non-critical depth update is dropped first; heartbeat and funding
// events are never dropped.
const maxFrameQueueSize = 10000

// frameQueue is the bounded per-venue backpressure buffer described in §5.
type frameQueue struct {
	mu    sync.Mutex
	cap   int
	items []types.Event
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{cap: capacity}
}

// push appends ev, evicting the oldest depth update if the queue is full.
// If no depth update is present to evict and ev is itself a depth update,
// the incoming depth update is dropped instead (depth is the only event
// kind ever sacrificed). A non-depth event is always appended, so a queue
// holding no depth updates can grow past its capacity.
func (q *frameQueue) push(ev types.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cap {
		if idx := q.oldestDepthIndex(); idx >= 0 {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
		} else if ev.Type == types.EventDepth {
			return
		}
	}
	q.items = append(q.items, ev)
}

func (q *frameQueue) oldestDepthIndex() int {
	for i, ev := range q.items {
		if ev.Type == types.EventDepth {
			return i
		}
	}
	return -1
}

// drain returns and clears every buffered event, in arrival order.
func (q *frameQueue) drain() []types.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
