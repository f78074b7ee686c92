package engine

import "sync"

// hookJob is one committed batch awaiting index synchronization.
type hookJob struct {
	time int64
	nids []int
}

// hookQueue is a thread-safe unbounded FIFO of hook jobs.
//
// Commits enqueue without blocking; index workers dequeue. A buffered
// signal channel lets workers wait with select alongside a context.
type hookQueue struct {
	mu     sync.Mutex
	jobs   []hookJob
	closed bool
	signal chan struct{} // buffered, size 1
}

func newHookQueue() *hookQueue {
	return &hookQueue{
		jobs:   make([]hookJob, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Returns false if the queue is closed.
func (q *hookQueue) Enqueue(j hookJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job without blocking.
// Returns (hookJob{}, false) if the queue is empty.
func (q *hookQueue) TryDequeue() (hookJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return hookJob{}, false
	}

	j := q.jobs[0]
	// Clear the slot so the nids slice can be collected.
	q.jobs[0] = hookJob{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that signals when jobs may be available. It is
// closed once the queue is closed.
func (q *hookQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *hookQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Drained reports whether the queue is closed and empty.
func (q *hookQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.jobs) == 0
}

// Close stops further enqueues and wakes every waiter. Jobs already queued
// can still be dequeued.
func (q *hookQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
