package engine

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/tapwire/internal/ir"
)

// Local is the in-process Engine backed by expr-lang/expr.
type Local struct {
	name  string
	cfg   Config
	clock *Clock

	mu         sync.RWMutex
	statements map[Handle]*compiled
	order      []Handle // live statements in compile order
	unmatched  UnmatchedListener
	closed     bool
}

// compiled is the engine-side representation of one statement.
type compiled struct {
	id        string
	query     string
	program   *vm.Program
	state     ir.StatementState
	listeners []Listener
}

// delivery is a match collected under the read lock and delivered after it.
type delivery struct {
	id        string
	listeners []Listener
}

// NewLocal creates a Local engine with the given logical name and settings.
func NewLocal(name string, cfg Config) (*Local, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine %s: %w", name, err)
	}
	if cfg.Variables == nil {
		cfg.Variables = map[string]any{}
	}

	slog.Debug("local engine created",
		"name", name,
		"variables", len(cfg.Variables),
		"max_statements", cfg.MaxStatements,
		"seq_start", cfg.SeqStart,
	)

	return &Local{
		name:       name,
		cfg:        cfg,
		clock:      NewClockAt(cfg.SeqStart),
		statements: make(map[Handle]*compiled),
	}, nil
}

// CheckQuery compiles a query without registering it.
// Used to validate configuration before any engine exists.
func CheckQuery(query string) error {
	if _, err := compileQuery(query); err != nil {
		return &QueryError{Query: query, Err: err}
	}
	return nil
}

// Name returns the engine's logical name.
func (e *Local) Name() string {
	return e.name
}

// Clock returns the engine's logical clock.
func (e *Local) Clock() *Clock {
	return e.clock
}

// Compile registers a query. The statement starts immediately.
//
// The listeners slice is copied to prevent external mutation.
func (e *Local) Compile(statementID, query string, listeners []Listener) (Handle, error) {
	program, err := compileQuery(query)
	if err != nil {
		return 0, &QueryError{StatementID: statementID, Query: query, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, ErrEngineClosed
	}
	if e.cfg.MaxStatements > 0 && len(e.order) >= e.cfg.MaxStatements {
		return 0, fmt.Errorf("compile statement %s: %w (max %d)", statementID, ErrTooManyStatements, e.cfg.MaxStatements)
	}

	ls := make([]Listener, len(listeners))
	copy(ls, listeners)

	h := Handle(e.clock.Next())
	e.statements[h] = &compiled{
		id:        statementID,
		query:     query,
		program:   program,
		state:     ir.StateStarted,
		listeners: ls,
	}
	e.order = append(e.order, h)

	slog.Debug("statement compiled", "engine", e.name, "statement_id", statementID, "handle", h)
	return h, nil
}

// Start moves a stopped statement back to STARTED.
func (e *Local) Start(h Handle) error {
	return e.transition(h, ir.StateStarted)
}

// Stop suspends a statement; it keeps its handle but matches nothing.
func (e *Local) Stop(h Handle) error {
	return e.transition(h, ir.StateStopped)
}

func (e *Local) transition(h Handle, to ir.StatementState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.lookupLocked(h)
	if err != nil {
		return err
	}
	if st.state == ir.StateDestroyed {
		return fmt.Errorf("%s statement %s: %w", strings.ToLower(to.String()), st.id, ErrStatementDestroyed)
	}
	if st.state == to {
		return nil
	}

	slog.Debug("statement transition",
		"engine", e.name,
		"statement_id", st.id,
		"from", st.state,
		"to", to,
	)
	st.state = to
	return nil
}

// Destroy releases a statement. Destroying twice is a no-op.
func (e *Local) Destroy(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.lookupLocked(h)
	if err != nil {
		return err
	}
	if st.state == ir.StateDestroyed {
		return nil
	}

	e.destroyLocked(h, st)
	slog.Debug("statement destroyed", "engine", e.name, "statement_id", st.id, "handle", h)
	return nil
}

// destroyLocked marks st destroyed and removes it from evaluation order.
// The entry stays in the map so State keeps answering DESTROYED.
func (e *Local) destroyLocked(h Handle, st *compiled) {
	st.state = ir.StateDestroyed
	st.program = nil
	st.listeners = nil
	for i, live := range e.order {
		if live == h {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Local) lookupLocked(h Handle) (*compiled, error) {
	if e.closed {
		return nil, ErrEngineClosed
	}
	st, ok := e.statements[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, ErrUnknownHandle)
	}
	return st, nil
}

// State returns the engine-side state of a statement.
// It keeps answering after Close, when every statement is DESTROYED.
func (e *Local) State(h Handle) (ir.StatementState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.statements[h]
	if !ok {
		return ir.StateUnassociated, fmt.Errorf("handle %d: %w", h, ErrUnknownHandle)
	}
	return st.state, nil
}

// SetUnmatchedListener installs the callback for unmatched events.
func (e *Local) SetUnmatchedListener(l UnmatchedListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unmatched = l
}

// SendEvent evaluates event against every started statement in compile
// order. A statement whose expression fails at runtime (for example a
// comparison against a missing field) is treated as not matching.
func (e *Local) SendEvent(event any) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrEngineClosed
	}

	env := e.envFor(event)
	var hits []delivery
	for _, h := range e.order {
		st := e.statements[h]
		if st.state != ir.StateStarted {
			continue
		}
		matched, err := evaluate(st.program, env)
		if err != nil {
			slog.Debug("statement evaluation failed, treating as no match",
				"engine", e.name,
				"statement_id", st.id,
				"error", err,
			)
			continue
		}
		if matched {
			hits = append(hits, delivery{id: st.id, listeners: st.listeners})
		}
	}
	unmatched := e.unmatched
	e.mu.RUnlock()

	if len(hits) == 0 {
		if unmatched != nil {
			unmatched.Unmatched(ir.Unmatched{Session: e.name, Seq: e.clock.Next(), Event: event})
		}
		return nil
	}

	for _, d := range hits {
		r := ir.Result{Session: e.name, StatementID: d.id, Seq: e.clock.Next(), Event: event}
		for _, l := range d.listeners {
			l.Update(r)
		}
	}
	return nil
}

// Close destroys every statement and rejects further use.
// Closing twice is a no-op.
func (e *Local) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	for h, st := range e.statements {
		if st.state != ir.StateDestroyed {
			e.destroyLocked(h, st)
		}
	}
	e.order = nil
	e.unmatched = nil
	e.closed = true

	slog.Debug("local engine closed", "name", e.name)
	return nil
}

// Len returns the number of live (not destroyed) statements.
func (e *Local) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.order)
}

// envFor builds the expression environment for one event.
// Precedence, lowest first: variables, envelope attributes or map fields, event.
func (e *Local) envFor(event any) map[string]any {
	env := make(map[string]any, len(e.cfg.Variables)+4)
	for k, v := range e.cfg.Variables {
		env[k] = v
	}
	env["vars"] = e.cfg.Variables

	switch ev := event.(type) {
	case Envelope:
		for k, v := range ev.Attributes() {
			env[k] = v
		}
	case map[string]any:
		for k, v := range ev {
			env[k] = v
		}
	}
	env["event"] = event
	return env
}

func compileQuery(query string) (*vm.Program, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	return expr.Compile(query, exprOpts()...)
}

// evaluate runs a compiled query. Only a boolean true is a match.
func evaluate(program *vm.Program, env map[string]any) (bool, error) {
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("query returned %T, want bool", out)
	}
	return matched, nil
}

// exprOpts are the functions available to every query.
func exprOpts() []expr.Option {
	return []expr.Option{
		expr.Function("lookup", func(params ...any) (any, error) {
			path, _ := params[1].(string)
			return lookupPath(params[0], path), nil
		},
			new(func(any, string) any)),
		expr.Function("present", func(params ...any) (any, error) {
			path, _ := params[1].(string)
			return lookupPath(params[0], path) != nil, nil
		},
			new(func(any, string) bool)),
	}
}

// lookupPath resolves a dotted path through maps and exported struct
// fields. Missing segments resolve to nil.
func lookupPath(v any, path string) any {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		if seg == "" || cur == nil {
			continue
		}
		switch c := cur.(type) {
		case map[string]any:
			cur = c[seg]
			continue
		case Envelope:
			cur = c.Attributes()[seg]
			continue
		}

		rv := reflect.ValueOf(cur)
		for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
			if rv.IsNil() {
				return nil
			}
			rv = rv.Elem()
		}
		switch rv.Kind() {
		case reflect.Struct:
			f := rv.FieldByName(seg)
			if !f.IsValid() || !f.CanInterface() {
				return nil
			}
			cur = f.Interface()
		case reflect.Map:
			if rv.Type().Key().Kind() != reflect.String {
				return nil
			}
			mv := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
			if !mv.IsValid() {
				return nil
			}
			cur = mv.Interface()
		default:
			return nil
		}
	}
	return cur
}
