package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/tapwire/internal/engine"
	"github.com/roach88/tapwire/internal/ir"
)

var errNotAssociated = errors.New("statement is not associated with an engine")

// Definition declares a statement to add to a session.
type Definition struct {
	// ID names the statement. Empty means derive one from the query
	// with ir.StatementID.
	ID string

	// Query is the engine query text.
	Query string

	// Listeners are notified of every result the statement produces.
	Listeners []engine.Listener
}

// Statement is a named query owned by one session.
//
// Its handle fields are written only while the owning session holds its
// lifecycle lock; the statement's own mutex lets State be read concurrently.
type Statement struct {
	id        string
	query     string
	listeners []engine.Listener

	mu         sync.Mutex
	eng        engine.Engine
	handle     engine.Handle
	associated bool
	destroyed  bool
}

func newStatement(def Definition) *Statement {
	id := def.ID
	if id == "" {
		id = ir.StatementID(def.Query)
	}
	ls := make([]engine.Listener, len(def.Listeners))
	copy(ls, def.Listeners)
	return &Statement{
		id:        id,
		query:     strings.TrimSpace(def.Query),
		listeners: ls,
	}
}

// ID returns the statement id.
func (st *Statement) ID() string { return st.id }

// Query returns the query text.
func (st *Statement) Query() string { return st.query }

// Handle returns the engine-side handle, if the statement is associated.
func (st *Statement) Handle() (engine.Handle, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.handle, st.associated
}

// State reports the lifecycle state. Once associated, the engine is the
// source of truth.
func (st *Statement) State() ir.StatementState {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case st.destroyed:
		return ir.StateDestroyed
	case !st.associated:
		return ir.StateUnassociated
	}

	state, err := st.eng.State(st.handle)
	if err != nil {
		slog.Warn("engine could not report statement state",
			"statement_id", st.id,
			"handle", st.handle,
			"error", err,
		)
		return ir.StateUnassociated
	}
	return state
}

// associate compiles the statement in eng and records the handle.
func (st *Statement) associate(eng engine.Engine) error {
	h, err := eng.Compile(st.id, st.query, st.listeners)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.eng = eng
	st.handle = h
	st.associated = true
	return nil
}

// detach drops the engine-side handle, destroying it on a best-effort
// basis. Used to roll back a failed initialization.
func (st *Statement) detach() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.associated {
		return
	}
	if err := st.eng.Destroy(st.handle); err != nil {
		slog.Warn("rollback: destroy statement failed", "statement_id", st.id, "error", err)
	}
	st.eng = nil
	st.handle = 0
	st.associated = false
}

func (st *Statement) start() error {
	eng, h, err := st.bound()
	if err != nil {
		return err
	}
	return eng.Start(h)
}

func (st *Statement) stop() error {
	eng, h, err := st.bound()
	if err != nil {
		return err
	}
	return eng.Stop(h)
}

// destroy runs the destroy transition and returns the state the engine
// reports afterwards. An unassociated statement has nothing engine-side
// and is destroyed immediately.
func (st *Statement) destroy() (ir.StatementState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.destroyed {
		return ir.StateDestroyed, nil
	}
	if !st.associated {
		st.destroyed = true
		return ir.StateDestroyed, nil
	}

	if err := st.eng.Destroy(st.handle); err != nil {
		return ir.StateUnassociated, err
	}
	state, err := st.eng.State(st.handle)
	if err != nil {
		return ir.StateUnassociated, fmt.Errorf("read state after destroy: %w", err)
	}
	if state == ir.StateDestroyed {
		st.destroyed = true
	}
	return state, nil
}

func (st *Statement) bound() (engine.Engine, engine.Handle, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.associated || st.destroyed {
		return nil, 0, errNotAssociated
	}
	return st.eng, st.handle, nil
}
