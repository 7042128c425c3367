package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/tapwire/internal/ir"
)

// Recorder persists statement output without blocking event dispatch.
//
// It implements engine.Listener, engine.UnmatchedListener and
// session.TransitionListener: each callback enqueues, and a single writer
// goroutine running Run drains the queue into the Store.
//
// Thread-safety model:
//   - Update/Unmatched/Transition: safe from any goroutine
//   - Run(): exactly one goroutine
type Recorder struct {
	store   *Store
	queue   *recordQueue
	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewRecorder creates a recorder writing to s.
func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s, queue: newRecordQueue()}
}

// Update records a statement result.
func (r *Recorder) Update(res ir.Result) {
	r.enqueue(record{kind: kindResult, result: res})
}

// Unmatched records an unmatched event.
func (r *Recorder) Unmatched(u ir.Unmatched) {
	r.enqueue(record{kind: kindUnmatched, unmatched: u})
}

// Transition records a lifecycle transition.
func (r *Recorder) Transition(t ir.Transition) {
	r.enqueue(record{kind: kindTransition, transition: t})
}

func (r *Recorder) enqueue(rec record) {
	if !r.queue.Enqueue(rec) {
		r.dropped.Add(1)
		slog.Warn("recorder closed, dropping record", "kind", rec.kind)
	}
}

// Close stops accepting records. Run writes what is already queued and
// then returns.
func (r *Recorder) Close() {
	r.queue.Close()
}

// Pending returns the number of queued records not yet written.
func (r *Recorder) Pending() int {
	return r.queue.Len()
}

// Stats returns counts of written, failed and dropped records.
func (r *Recorder) Stats() (written, failed, dropped int64) {
	return r.written.Load(), r.failed.Load(), r.dropped.Load()
}

// Run is the single writer loop. It returns nil once Close has been called
// and the queue is drained, or ctx.Err() if ctx is cancelled first.
//
// A failed write is logged and counted; the loop keeps going.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		for {
			rec, ok := r.queue.TryDequeue()
			if !ok {
				break
			}
			if err := r.write(ctx, rec); err != nil {
				r.failed.Add(1)
				slog.Error("record write failed", "kind", rec.kind, "error", err)
				continue
			}
			r.written.Add(1)
		}

		if r.queue.Drained() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.queue.Wait():
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec record) error {
	switch rec.kind {
	case kindResult:
		return r.store.WriteResult(ctx, rec.result)
	case kindUnmatched:
		return r.store.WriteUnmatched(ctx, rec.unmatched)
	case kindTransition:
		return r.store.WriteTransition(ctx, rec.transition)
	default:
		return fmt.Errorf("unknown record kind %d", rec.kind)
	}
}
