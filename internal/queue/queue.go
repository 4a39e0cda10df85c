// Package queue provides the admission buffer for pending tasks. Ordering is
// priority-tier-major, enqueue-sequence-minor: higher tiers dispatch first,
// FIFO within a tier. Depth is bounded; submissions past the bound are
// rejected synchronously, never silently dropped.
package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagemill/internal/metrics"
	"github.com/Rorqualx/pagemill/internal/types"
)

// item wraps a task with the monotonic sequence used for FIFO tie-breaks.
type item struct {
	task *types.Task
	seq  uint64
}

// taskHeap orders by (priority desc, seq asc).
type taskHeap []item

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return it
}

// Queue is the bounded priority admission buffer.
type Queue struct {
	mu       sync.Mutex
	items    taskHeap
	maxDepth int
	nextSeq  uint64
	closed   bool

	// signal carries one token per enqueued task so DequeueNext can block
	// without busy-waiting. Sized to maxDepth so Enqueue never blocks on it.
	signal chan struct{}
}

// New creates a queue with the given maximum depth.
func New(maxDepth int) *Queue {
	return &Queue{
		items:    make(taskHeap, 0, maxDepth),
		maxDepth: maxDepth,
		signal:   make(chan struct{}, maxDepth),
	}
}

// Enqueue admits a task or rejects it synchronously. This is the system's
// backpressure mechanism: ErrQueueFull tells the caller to retry later.
func (q *Queue) Enqueue(t *types.Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return types.ErrQueueClosed
	}
	if len(q.items) >= q.maxDepth {
		q.mu.Unlock()
		metrics.QueueRejected.Inc()
		log.Debug().
			Str("task_id", t.ID.String()).
			Int("max_depth", q.maxDepth).
			Msg("Task rejected: queue full")
		return types.ErrQueueFull
	}

	heap.Push(&q.items, item{task: t, seq: q.nextSeq})
	q.nextSeq++
	depth := len(q.items)
	// Signal under the lock so the send cannot race Close(). The channel is
	// sized to maxDepth, so it never blocks here.
	q.signal <- struct{}{}
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	return nil
}

// DequeueNext blocks until a task is available or ctx is cancelled. Tasks
// come out in dispatch order: highest priority first, FIFO within a tier.
func (q *Queue) DequeueNext(ctx context.Context) (*types.Task, error) {
	for {
		select {
		case _, ok := <-q.signal:
			if !ok {
				return nil, types.ErrQueueClosed
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		q.mu.Lock()
		if q.items.Len() == 0 {
			// Token raced a concurrent consumer; go back to waiting.
			q.mu.Unlock()
			continue
		}
		it := heap.Pop(&q.items).(item)
		depth := len(q.items)
		q.mu.Unlock()

		metrics.QueueDepth.Set(float64(depth))
		return it.task, nil
	}
}

// Depth returns the number of tasks currently waiting.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// MaxDepth returns the configured admission bound.
func (q *Queue) MaxDepth() int {
	return q.maxDepth
}

// Close rejects further submissions and wakes blocked consumers. Tasks still
// queued are returned so the caller can fail them out.
func (q *Queue) Close() []*types.Task {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	remaining := make([]*types.Task, 0, len(q.items))
	for q.items.Len() > 0 {
		remaining = append(remaining, heap.Pop(&q.items).(item).task)
	}
	q.mu.Unlock()

	close(q.signal)
	metrics.QueueDepth.Set(0)
	return remaining
}
