package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tapwire/internal/ir"
)

func startRecorder(t *testing.T, s *Store) (*Recorder, <-chan error) {
	t.Helper()
	rec := NewRecorder(s)
	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background()) }()
	return rec, done
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not stop")
	}
}

func TestRecorder_WritesEverythingBeforeStopping(t *testing.T) {
	s := createTestStore(t)
	rec, done := startRecorder(t, s)

	for i := 1; i <= 50; i++ {
		rec.Update(ir.Result{Session: "orders", StatementID: "big", Seq: int64(i), Event: i})
	}
	rec.Unmatched(ir.Unmatched{Session: "orders", Seq: 51, Event: "miss"})
	rec.Transition(ir.Transition{Session: "orders", StatementID: "big", State: ir.StateStarted})

	rec.Close()
	waitRun(t, done)

	results, err := s.ReadResults(context.Background(), Filter{Session: "orders"})
	require.NoError(t, err)
	assert.Len(t, results, 50)

	unmatched, err := s.ReadUnmatched(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, unmatched, 1)

	transitions, err := s.ReadTransitions(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, transitions, 1)

	written, failed, dropped := rec.Stats()
	assert.Equal(t, int64(52), written)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)
	assert.Zero(t, rec.Pending())
}

func TestRecorder_FailedWriteContinues(t *testing.T) {
	s := createTestStore(t)
	rec, done := startRecorder(t, s)

	rec.Update(ir.Result{Session: "s", StatementID: "q", Seq: 1, Event: make(chan int)})
	rec.Update(ir.Result{Session: "s", StatementID: "q", Seq: 2, Event: "ok"})
	rec.Close()
	waitRun(t, done)

	written, failed, _ := rec.Stats()
	assert.Equal(t, int64(1), written)
	assert.Equal(t, int64(1), failed)
}

func TestRecorder_DropsAfterClose(t *testing.T) {
	s := createTestStore(t)
	rec, done := startRecorder(t, s)
	rec.Close()
	waitRun(t, done)

	rec.Update(ir.Result{Session: "s", StatementID: "q", Seq: 1, Event: "late"})
	_, _, dropped := rec.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestRecorder_ContextCancel(t *testing.T) {
	s := createTestStore(t)
	rec := NewRecorder(s)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return on cancel")
	}
}
