package engine

import "github.com/roach88/tapwire/internal/ir"

// Handle identifies a compiled statement inside one engine.
// Handles are opaque to callers and never reused.
type Handle int64

// Listener receives results from the statements it is attached to.
// Update is called synchronously on the goroutine that sent the event.
type Listener interface {
	Update(r ir.Result)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(r ir.Result)

// Update calls f(r).
func (f ListenerFunc) Update(r ir.Result) { f(r) }

// UnmatchedListener receives events that matched no started statement.
type UnmatchedListener interface {
	Unmatched(u ir.Unmatched)
}

// UnmatchedFunc adapts a function to UnmatchedListener.
type UnmatchedFunc func(u ir.Unmatched)

// Unmatched calls f(u).
func (f UnmatchedFunc) Unmatched(u ir.Unmatched) { f(u) }

// Envelope is implemented by events that carry delivery metadata next to
// their payload. Its attributes are merged into the query environment.
type Envelope interface {
	Attributes() map[string]any
}

// Engine is the event-processing collaborator a session drives.
//
// Compiled statements begin STARTED. Start on a started statement and Stop
// on a stopped one are no-ops; Destroy is terminal and idempotent. After
// Close every statement reports DESTROYED and all other operations return
// ErrEngineClosed.
type Engine interface {
	// Name returns the logical name the engine was created with.
	Name() string

	// Compile registers a query and returns its handle.
	// Failures to parse the query are reported as *QueryError.
	Compile(statementID, query string, listeners []Listener) (Handle, error)

	Start(h Handle) error
	Stop(h Handle) error
	Destroy(h Handle) error

	// State returns the engine-side state of a statement.
	State(h Handle) (ir.StatementState, error)

	// SendEvent evaluates one event against all started statements.
	SendEvent(event any) error

	// SetUnmatchedListener installs the callback for events no statement
	// matched. nil removes it.
	SetUnmatchedListener(l UnmatchedListener)

	// Close releases the engine.
	Close() error
}

// Factory creates the engine for a session.
type Factory func(name string, cfg Config) (Engine, error)

// LocalFactory is the default Factory; it builds an in-process Local engine.
func LocalFactory(name string, cfg Config) (Engine, error) {
	l, err := NewLocal(name, cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Compile-time interface compliance check.
var _ Engine = (*Local)(nil)
