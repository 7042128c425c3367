package store

import (
	"sync"

	"github.com/roach88/tapwire/internal/ir"
)

// recordKind distinguishes queued writes.
type recordKind int

const (
	kindResult recordKind = iota + 1
	kindUnmatched
	kindTransition
)

// record is one pending write.
type record struct {
	kind       recordKind
	result     ir.Result
	unmatched  ir.Unmatched
	transition ir.Transition
}

// recordQueue is a thread-safe FIFO queue of pending writes.
//
// The queue is unbounded so engine listeners never block on the database.
// Any goroutine may enqueue; only the Recorder's Run loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type recordQueue struct {
	mu      sync.Mutex
	records []record
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newRecordQueue() *recordQueue {
	return &recordQueue{
		records: make([]record, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a record to the back of the queue.
// Returns false if the queue is closed.
func (q *recordQueue) Enqueue(r record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.records = append(q.records, r)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front record without blocking.
func (q *recordQueue) TryDequeue() (record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) == 0 {
		return record{}, false
	}

	r := q.records[0]
	// Clear the slot so the event payload can be collected.
	q.records[0] = record{}
	if len(q.records) == 1 {
		q.records = q.records[:0]
	} else {
		q.records = q.records[1:]
	}
	return r, true
}

// Wait returns a channel that signals when records may be available.
// It is closed by Close.
func (q *recordQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *recordQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Drained reports whether the queue is closed and empty.
func (q *recordQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.records) == 0
}

// Close signals that no more records will be enqueued and wakes waiters.
func (q *recordQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
