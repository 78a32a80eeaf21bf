package scheduler

import (
	"sync"

	"github.com/vk/taskmesh/internal/task"
)

// CompletionQueue is the single hand-off point between worker goroutines
// (CPU pool workers, GPU backend callback threads) and the scheduler's main
// loop. It is a Go translation of §4.6's mutex/condition-variable FIFO: any
// number of producers call Push concurrently; only the scheduler thread
// calls WaitDrain, and only the scheduler thread mutates graph state in
// response to what it drains.
type CompletionQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []task.ID
	closed bool
}

// NewCompletionQueue returns an empty queue.
func NewCompletionQueue() *CompletionQueue {
	q := &CompletionQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues id and wakes the scheduler thread if it is blocked in
// WaitDrain.
func (q *CompletionQueue) Push(id task.ID) {
	q.mu.Lock()
	q.queue = append(q.queue, id)
	q.mu.Unlock()
	q.cond.Signal()
}

// WaitDrain blocks until at least one completion is queued (or the queue
// has been closed), then returns every completion queued so far as a
// single batch. It returns nil once closed with nothing left to drain.
func (q *CompletionQueue) WaitDrain() []task.ID {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.queue) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.queue) == 0 {
		return nil
	}
	drained := q.queue
	q.queue = nil
	return drained
}

// Close unblocks any pending WaitDrain call. ExecuteGraph calls this once
// it has observed every task complete, so a scheduler shut down mid-run
// doesn't leave a goroutine parked forever.
func (q *CompletionQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
