package scheduler

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/chainsafe/senate-indexer/internal/metrics"
	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// ErrQueueFull is returned by Push when the queue is at capacity.
var ErrQueueFull = errors.New("refresh queue is full")

// Queue is a bounded priority queue of work items. Higher priorities pop first; items of equal
// priority pop in insertion order.
type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	capacity int
	seq      uint64
	signal   chan struct{}
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Push adds item and returns the sequence number assigned to it.
func (q *Queue) Push(item governance.WorkItem) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		metrics.QueueRejected.WithLabelValues(string(item.Kind)).Inc()
		return 0, ErrQueueFull
	}
	q.seq++
	item.Seq = q.seq
	heap.Push(&q.items, item)
	metrics.QueueDepth.Set(float64(len(q.items)))

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return item.Seq, nil
}

// Pop removes the next item. It never blocks.
func (q *Queue) Pop() (governance.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return governance.WorkItem{}, false
	}
	item := heap.Pop(&q.items).(governance.WorkItem)
	metrics.QueueDepth.Set(float64(len(q.items)))
	return item, true
}

// Remove drops the item with sequence number seq. It reports whether the item was queued.
func (q *Queue) Remove(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].Seq == seq {
			heap.Remove(&q.items, i)
			metrics.QueueDepth.Set(float64(len(q.items)))
			return true
		}
	}
	return false
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// MaxPriority returns the highest queued priority, or 0 when the queue is empty.
func (q *Queue) MaxPriority() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0
	}
	return q.items[0].Priority
}

// Items returns the queued items in pop order.
func (q *Queue) Items() []governance.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := make(itemHeap, len(q.items))
	copy(cp, q.items)
	out := make([]governance.WorkItem, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(governance.WorkItem))
	}
	return out
}

// Signal is notified after a push. Consumers still have to Pop until the queue is empty.
func (q *Queue) Signal() <-chan struct{} {
	return q.signal
}

type itemHeap []governance.WorkItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(governance.WorkItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
