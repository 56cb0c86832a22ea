// Package retryqueue implements the unbounded FIFO of spec.md §4.6: records
// that failed an attempt but still have attempts_left are pushed here and
// popped ahead of fresh input, so a record already in flight for a while
// does not get starved by new work.
package retryqueue

import (
	"sync"

	"github.com/eugener/ratedispatch/internal/dispatch"
)

// Queue is a mutex-guarded FIFO. A channel was considered and rejected: an
// unbounded queue with a non-blocking push has no natural fixed channel
// capacity, and the dispatcher's single-reader, many-writer access pattern
// (one pop per tick, one push per failed attempt from any concurrent
// attempt goroutine) is exactly what a small mutex-guarded slice is for.
type Queue struct {
	mu      sync.Mutex
	records []*dispatch.Record
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push enqueues a record. Ownership of the record transfers to the queue
// (spec.md §3): the caller must not continue to mutate it concurrently.
func (q *Queue) Push(r *dispatch.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, r)
}

// TryPop removes and returns the oldest record, or (nil, false) if empty.
// Ownership transfers to the caller.
func (q *Queue) TryPop() (*dispatch.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return nil, false
	}
	r := q.records[0]
	q.records[0] = nil
	q.records = q.records[1:]
	return r, true
}

// Len reports the current queue depth, used by the status server and
// metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
