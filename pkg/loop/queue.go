package loop

import (
	"sync"
	"time"

	"github.com/mendhq/mend/pkg/metrics"
	"github.com/mendhq/mend/pkg/types"
)

// item is one unit of closed-loop work. EnqueuedAt is set on first enqueue
// and preserved across retries so end-to-end latency covers the whole
// remediation, not just the last attempt.
type item struct {
	RequestID  string
	Signal     types.Signal
	Attempt    int
	EnqueuedAt time.Time
}

// queue is an unbounded FIFO with an optional size cap. Enqueue never
// blocks: when the cap is reached the item is refused instead.
type queue struct {
	mu      sync.Mutex
	items   []*item
	maxSize int // 0 = unbounded
	notify  chan struct{}
}

func newQueue(maxSize int) *queue {
	return &queue{maxSize: maxSize, notify: make(chan struct{}, 1)}
}

// push appends an item, refusing when the queue is at its cap
func (q *queue) push(it *item) bool {
	q.mu.Lock()
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, it)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until an item is available or stopCh closes
func (q *queue) pop(stopCh <-chan struct{}) (*item, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()
			metrics.QueueDepth.Set(float64(depth))
			return it, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-stopCh:
			return nil, false
		}
	}
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
