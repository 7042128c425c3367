package testutil

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tapwire/internal/engine"
	"github.com/roach88/tapwire/internal/ir"
)

// FakeEngine is a scripted engine.Engine.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FakeEngine struct {
	mu sync.Mutex

	name      string
	calls     []string
	states    map[engine.Handle]ir.StatementState
	ids       map[engine.Handle]string
	next      engine.Handle
	events    []any
	unmatched engine.UnmatchedListener
	closed    bool

	// CompileErrors maps a query to the error Compile returns for it.
	CompileErrors map[string]error

	// AdminDelay holds each Compile, Start, Stop and Destroy call open
	// for the given duration, widening the window for overlapping calls.
	AdminDelay time.Duration

	inFlight atomic.Int64
	overlaps atomic.Int64

	// StuckOnDestroy makes Destroy succeed without changing state,
	// simulating an engine that violates its contract.
	StuckOnDestroy bool
}

// NewFakeEngine creates an empty fake.
func NewFakeEngine(name string) *FakeEngine {
	return &FakeEngine{
		name:          name,
		states:        make(map[engine.Handle]ir.StatementState),
		ids:           make(map[engine.Handle]string),
		CompileErrors: make(map[string]error),
	}
}

// Factory returns an engine.Factory that always yields f, for use with
// session.WithEngineFactory.
func (f *FakeEngine) Factory() engine.Factory {
	return func(name string, cfg engine.Config) (engine.Engine, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, "factory:"+name)
		return f, nil
	}
}

// FailingFactory returns an engine.Factory that always fails with err.
func FailingFactory(err error) engine.Factory {
	return func(name string, cfg engine.Config) (engine.Engine, error) {
		return nil, err
	}
}

// admin marks a lifecycle call as in flight and returns its release.
// A call that starts while another is in flight counts as an overlap.
func (f *FakeEngine) admin() func() {
	if f.inFlight.Add(1) > 1 {
		f.overlaps.Add(1)
	}
	if f.AdminDelay > 0 {
		time.Sleep(f.AdminDelay)
	}
	return func() { f.inFlight.Add(-1) }
}

// Overlaps returns how many lifecycle calls began while another was
// still running.
func (f *FakeEngine) Overlaps() int64 {
	return f.overlaps.Load()
}

func (f *FakeEngine) record(call string) {
	f.calls = append(f.calls, call)
}

// Calls returns the operations performed so far, in order.
func (f *FakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Events returns the events received by SendEvent.
func (f *FakeEngine) Events() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.events))
	copy(out, f.events)
	return out
}

// Live returns the number of statements not yet destroyed.
func (f *FakeEngine) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.states {
		if s != ir.StateDestroyed {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (f *FakeEngine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeEngine) Name() string { return f.name }

func (f *FakeEngine) Compile(statementID, query string, listeners []engine.Listener) (engine.Handle, error) {
	defer f.admin()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("compile:" + statementID)

	if err, ok := f.CompileErrors[query]; ok {
		return 0, &engine.QueryError{StatementID: statementID, Query: query, Err: err}
	}
	f.next++
	f.states[f.next] = ir.StateStarted
	f.ids[f.next] = statementID
	return f.next, nil
}

func (f *FakeEngine) Start(h engine.Handle) error {
	defer f.admin()()
	return f.set(h, "start", ir.StateStarted)
}

func (f *FakeEngine) Stop(h engine.Handle) error {
	defer f.admin()()
	return f.set(h, "stop", ir.StateStopped)
}

func (f *FakeEngine) Destroy(h engine.Handle) error {
	defer f.admin()()
	if f.StuckOnDestroy {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record("destroy:" + f.ids[h])
		return nil
	}
	return f.set(h, "destroy", ir.StateDestroyed)
}

func (f *FakeEngine) set(h engine.Handle, op string, to ir.StatementState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(op + ":" + f.ids[h])

	state, ok := f.states[h]
	if !ok {
		return fmt.Errorf("handle %d: %w", h, engine.ErrUnknownHandle)
	}
	if state == ir.StateDestroyed && to != ir.StateDestroyed {
		return engine.ErrStatementDestroyed
	}
	f.states[h] = to
	return nil
}

func (f *FakeEngine) State(h engine.Handle) (ir.StatementState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[h]
	if !ok {
		return ir.StateUnassociated, engine.ErrUnknownHandle
	}
	return state, nil
}

func (f *FakeEngine) SendEvent(event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("send")
	if f.closed {
		return engine.ErrEngineClosed
	}
	f.events = append(f.events, event)
	return nil
}

func (f *FakeEngine) SetUnmatchedListener(l engine.UnmatchedListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("unmatched")
	f.unmatched = l
}

// Unmatched returns the installed unmatched listener.
func (f *FakeEngine) Unmatched() engine.UnmatchedListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unmatched
}

func (f *FakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("close")
	if f.closed {
		return errors.New("fake engine closed twice")
	}
	f.closed = true
	for h := range f.states {
		f.states[h] = ir.StateDestroyed
	}
	return nil
}

var _ engine.Engine = (*FakeEngine)(nil)
