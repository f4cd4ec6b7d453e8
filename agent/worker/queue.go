package worker

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// TaskQueue is a concurrency-safe priority queue ordered by
// (priority ascending, enqueue order ascending).
//
// Pop blocks until a task is available, the timeout elapses or ctx is done,
// so the owning run loop never busy-polls.
type TaskQueue struct {
	mu     sync.Mutex
	items  taskHeap
	seq    uint64
	closed bool
	notify chan struct{}
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{notify: make(chan struct{}, 1)}
}

// Push enqueues a task and wakes a blocked Pop. It returns false once the
// queue is closed.
func (q *TaskQueue) Push(task *WorkerTask) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.seq++
	heap.Push(&q.items, &queued{task: task, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes the head without blocking.
func (q *TaskQueue) TryPop() (*WorkerTask, bool) {
	e, ok := q.tryPopEntry()
	if !ok {
		return nil, false
	}
	return e.task, true
}

// Pop removes the head, waiting up to timeout for one to arrive.
func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) (*WorkerTask, bool) {
	e, ok := q.popEntry(ctx, timeout)
	if !ok {
		return nil, false
	}
	return e.task, true
}

func (q *TaskQueue) tryPopEntry() (*queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*queued), true
}

func (q *TaskQueue) popEntry(ctx context.Context, timeout time.Duration) (*queued, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if e, ok := q.tryPopEntry(); ok {
			return e, true
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// restore puts a popped entry back with its original sequence number, so it
// keeps its place ahead of later tasks of the same priority.
func (q *TaskQueue) restore(e *queued) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	heap.Push(&q.items, e)
	return true
}

// Len returns the number of waiting tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every waiting task in dequeue order.
func (q *TaskQueue) Drain() []*WorkerTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*WorkerTask, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(*queued).task)
	}
	return out
}

// Close drains the queue and refuses every later Push. It returns the
// drained tasks in dequeue order.
func (q *TaskQueue) Close() []*WorkerTask {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Drain()
}

type queued struct {
	task *WorkerTask
	seq  uint64
}

// taskHeap implements heap.Interface
type taskHeap []*queued

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queued)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
