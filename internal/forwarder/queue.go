package forwarder

import (
	"container/heap"
	"sync"

	strataTypes "github.com/strataline/strata-sequencer/pkg/types"
)

// task is one delivery attempt of a bundle to a single recipient.
type task struct {
	bundle  *strataTypes.Bundle
	retries uint64
}

// key biases delivery toward bundles whose target block is soonest while not
// starving retries of older bundles.
func (t *task) key() uint64 {
	return t.bundle.TargetBlock + t.retries
}

// taskHeap implements heap.Interface. Lowest key first, ties broken by fewer
// retries (fresh tasks beat retries at the same effective deadline), then by
// admission sequence (FIFO).
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].key() != h[j].key() {
		return h[i].key() < h[j].key()
	}
	if h[i].retries != h[j].retries {
		return h[i].retries < h[j].retries
	}
	return h[i].bundle.Sequence < h[j].bundle.Sequence
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*task))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return item
}

// taskQueue is a blocking priority queue feeding one recipient worker.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  taskHeap
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.tasks)
	return q
}

// push enqueues a task. Pushes after close are dropped.
func (q *taskQueue) push(t *task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.tasks, t)
	q.cond.Signal()
}

// pop blocks until a task is available or the queue is closed. The second
// return value is false once the queue has been closed.
func (q *taskQueue) pop() (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return nil, false
	}
	return heap.Pop(&q.tasks).(*task), true
}

// close wakes the worker; pending tasks are discarded.
func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.tasks = nil
	q.cond.Broadcast()
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
