package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/tapwire/internal/engine"
	"github.com/roach88/tapwire/internal/ir"
)

// DefaultName is used when a session is created without a name.
const DefaultName = "default"

// Option configures a Session.
type Option func(*Session)

// WithConfiguration names an engine configuration file (YAML).
// A missing file falls back to engine defaults at Initialize.
func WithConfiguration(path string) Option {
	return func(s *Session) {
		s.configPath = path
	}
}

// WithEngineFactory replaces the default in-process engine.
func WithEngineFactory(f engine.Factory) Option {
	return func(s *Session) {
		s.factory = f
	}
}

// WithUnmatchedListener installs a callback for events no statement matched.
func WithUnmatchedListener(l engine.UnmatchedListener) Option {
	return func(s *Session) {
		s.unmatched = l
	}
}

// WithSeqStart makes the engine's clock resume after seq, so results
// recorded by an earlier run keep unique sequence numbers.
func WithSeqStart(seq int64) Option {
	return func(s *Session) {
		s.seqStart = seq
	}
}

// TransitionListener observes statement lifecycle changes. It is called
// with the session lock held and must not call back into the session.
type TransitionListener interface {
	Transition(t ir.Transition)
}

// WithTransitionListener installs an observer of statement lifecycle changes.
func WithTransitionListener(l TransitionListener) Option {
	return func(s *Session) {
		s.transitions = l
	}
}

// live wraps the engine so it can be published atomically.
type live struct {
	eng engine.Engine
}

// Session is one named engine plus its registered statements.
//
// Thread-safety model:
//   - lifecycle operations: safe from any goroutine, serialized by mu
//   - SendEvent(): safe from any goroutine, lock-free
//   - Statements()/Statement(): safe from any goroutine
type Session struct {
	name        string
	configPath  string
	factory     engine.Factory
	unmatched   engine.UnmatchedListener
	transitions TransitionListener
	seqStart    int64

	mu          sync.Mutex
	statements  []*Statement // insertion order
	initialized bool
	failed      error
	closed      bool

	// Published only after Initialize fully succeeds; cleared by Cleanup.
	live atomic.Pointer[live]
}

// New creates an uninitialized session.
func New(name string, opts ...Option) *Session {
	if name == "" {
		name = DefaultName
	}
	s := &Session{
		name:    name,
		factory: engine.LocalFactory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the session's logical name.
func (s *Session) Name() string {
	return s.name
}

// Engine returns the live engine, or nil before Initialize succeeds and
// after Cleanup. It is an escape hatch for engine-specific features.
func (s *Session) Engine() engine.Engine {
	if l := s.live.Load(); l != nil {
		return l.eng
	}
	return nil
}

// Initialized reports whether Initialize has been called, successfully or not.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Statements returns a snapshot of the registered statements in insertion order.
func (s *Session) Statements() []*Statement {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Statement, len(s.statements))
	copy(out, s.statements)
	return out
}

// Statement looks up a statement by exact id.
// An unknown id is reported as a lookup error, never as a nil statement.
func (s *Session) Statement(id string) (*Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(id)
}

// AddStatement registers a statement. If the session is already initialized
// the statement is compiled immediately; otherwise it is associated during
// Initialize. A statement that fails to compile is not registered.
func (s *Session) AddStatement(def Definition) (*Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(def.Query) == "" {
		return nil, s.statementError(ErrCodeConfiguration, def.ID, "statement query is empty", nil)
	}

	st := newStatement(def)
	if s.findLocked(st.id) != nil {
		return nil, s.statementError(ErrCodeDuplicateStatement, st.id, "statement id already registered", nil)
	}

	if s.initialized {
		l := s.live.Load()
		if l == nil {
			return nil, s.unusableLocked()
		}
		if err := st.associate(l.eng); err != nil {
			return nil, s.statementError(ErrCodeConfiguration, st.id, "compile statement", err)
		}
	}

	s.statements = append(s.statements, st)
	s.notify(st.id, st.State())
	slog.Info("statement added",
		"session", s.name,
		"statement_id", st.id,
		"state", st.State(),
	)
	return st, nil
}

// StartStatement starts a registered, associated statement.
func (s *Session) StartStatement(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if err := st.start(); err != nil {
		return s.transitionError("start", id, err)
	}

	s.notify(id, ir.StateStarted)
	slog.Info("statement started", "session", s.name, "statement_id", id)
	return nil
}

// StopStatement stops a registered, associated statement.
func (s *Session) StopStatement(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if err := st.stop(); err != nil {
		return s.transitionError("stop", id, err)
	}

	s.notify(id, ir.StateStopped)
	slog.Info("statement stopped", "session", s.name, "statement_id", id)
	return nil
}

// DestroyStatement destroys a statement and removes it from the registry.
//
// If the engine does not report DESTROYED afterwards the engine has broken
// its contract: an invariant violation is returned and the statement stays
// registered.
func (s *Session) DestroyStatement(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookupLocked(id)
	if err != nil {
		return err
	}

	state, err := st.destroy()
	if err != nil {
		return s.transitionError("destroy", id, err)
	}
	if state != ir.StateDestroyed {
		slog.Error("statement not destroyed after destroy transition",
			"session", s.name,
			"statement_id", id,
			"state", state,
		)
		return s.statementError(ErrCodeInvariantViolation, id,
			fmt.Sprintf("statement reported state %s after destroy", state), nil)
	}

	s.removeLocked(st)
	s.notify(id, ir.StateDestroyed)
	slog.Info("statement destroyed", "session", s.name, "statement_id", id)
	return nil
}

// Initialize creates the engine and associates every registered statement.
//
// It may run once. A failure (configuration file, engine creation, any
// statement compilation) rolls back the statements already associated,
// closes the engine, and leaves the session permanently unusable.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return s.configError("session should only be initialized once", nil)
	}
	s.initialized = true

	slog.Debug("initializing session", "session", s.name, "configuration", s.configPath)

	eng, err := s.setupLocked()
	if err != nil {
		s.failed = err
		slog.Error("session initialization failed", "session", s.name, "error", err)
		return s.configError("initialize session", err)
	}

	s.live.Store(&live{eng: eng})
	for _, st := range s.statements {
		s.notify(st.id, st.State())
	}
	slog.Info("session initialized", "session", s.name, "statements", len(s.statements))
	return nil
}

func (s *Session) setupLocked() (engine.Engine, error) {
	cfg, err := engine.LoadConfig(s.configPath)
	if err != nil {
		return nil, fmt.Errorf("load engine configuration: %w", err)
	}
	cfg.SeqStart = s.seqStart

	eng, err := s.factory(s.name, cfg)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	if s.unmatched != nil {
		eng.SetUnmatchedListener(s.unmatched)
	}

	for i, st := range s.statements {
		if err := st.associate(eng); err != nil {
			for _, prev := range s.statements[:i] {
				prev.detach()
			}
			if closeErr := eng.Close(); closeErr != nil {
				slog.Warn("rollback: close engine failed", "session", s.name, "error", closeErr)
			}
			return nil, fmt.Errorf("associate statement %s: %w", st.id, err)
		}
	}
	return eng, nil
}

// SendEvent forwards an event to the live engine.
//
// Before Initialize has succeeded (or after Cleanup) it fails with a
// configuration error without touching any engine.
func (s *Session) SendEvent(event any) error {
	l := s.live.Load()
	if l == nil {
		slog.Error("attempted to send event with no live engine", "session", s.name)
		return s.configError("engine is not available; initialize the session before sending events", nil)
	}

	slog.Debug("sending event", "session", s.name)
	if err := l.eng.SendEvent(event); err != nil {
		if errors.Is(err, engine.ErrEngineClosed) {
			return s.configError("session closed while sending", err)
		}
		return fmt.Errorf("send event to session %s: %w", s.name, err)
	}
	return nil
}

// Cleanup destroys every statement, empties the registry and closes the
// engine. It is idempotent, and a no-op on a session that never initialized
// successfully. A cleaned-up session cannot be initialized again.
func (s *Session) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.live.Load()
	if l == nil {
		return nil
	}
	s.live.Store(nil)
	s.closed = true

	var errs []error
	for _, st := range s.statements {
		state, err := st.destroy()
		if err != nil {
			errs = append(errs, fmt.Errorf("destroy statement %s: %w", st.id, err))
			continue
		}
		s.notify(st.id, state)
	}
	count := len(s.statements)
	s.statements = nil

	if err := l.eng.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}

	slog.Info("session cleaned up", "session", s.name, "statements_destroyed", count)
	return errors.Join(errs...)
}

func (s *Session) notify(id string, state ir.StatementState) {
	if s.transitions == nil {
		return
	}
	s.transitions.Transition(ir.Transition{Session: s.name, StatementID: id, State: state})
}

func (s *Session) findLocked(id string) *Statement {
	for _, st := range s.statements {
		if st.id == id {
			return st
		}
	}
	return nil
}

func (s *Session) lookupLocked(id string) (*Statement, error) {
	if st := s.findLocked(id); st != nil {
		return st, nil
	}
	return nil, s.statementError(ErrCodeUnknownStatement, id, fmt.Sprintf("statement with id %q does not exist", id), nil)
}

func (s *Session) removeLocked(target *Statement) {
	for i, st := range s.statements {
		if st == target {
			s.statements = append(s.statements[:i], s.statements[i+1:]...)
			return
		}
	}
}

func (s *Session) unusableLocked() *Error {
	if s.closed {
		return s.configError("session is closed", nil)
	}
	return s.configError("session failed to initialize", s.failed)
}

func (s *Session) transitionError(op, id string, err error) error {
	if errors.Is(err, errNotAssociated) {
		return s.statementError(ErrCodeNotAssociated, id,
			fmt.Sprintf("cannot %s a statement before the session is initialized", op), nil)
	}
	return fmt.Errorf("%s statement %s: %w", op, id, err)
}
