package session_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tapwire/internal/engine"
	"github.com/roach88/tapwire/internal/ir"
	"github.com/roach88/tapwire/internal/session"
	"github.com/roach88/tapwire/internal/testutil"
)

type results struct {
	mu  sync.Mutex
	got []ir.Result
}

func (r *results) Update(res ir.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, res)
}

func (r *results) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func newFakeSession(t *testing.T, name string) (*session.Session, *testutil.FakeEngine) {
	t.Helper()
	fake := testutil.NewFakeEngine(name)
	s := session.New(name, session.WithEngineFactory(fake.Factory()))
	t.Cleanup(func() { _ = s.Cleanup() })
	return s, fake
}

func TestNew_DefaultName(t *testing.T) {
	s := session.New("")
	assert.Equal(t, session.DefaultName, s.Name())
	assert.False(t, s.Initialized())
	assert.Nil(t, s.Engine())
}

func TestSendEvent_BeforeInitializeFails(t *testing.T) {
	s, fake := newFakeSession(t, "early")

	err := s.SendEvent(map[string]any{"total": 1})
	require.Error(t, err)
	assert.True(t, session.IsConfigurationError(err))
	assert.Empty(t, fake.Calls(), "engine must not be touched")
}

func TestInitialize_Twice(t *testing.T) {
	s, fake := newFakeSession(t, "twice")
	_, err := s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)

	require.NoError(t, s.Initialize())
	err = s.Initialize()
	require.Error(t, err)
	assert.True(t, session.IsConfigurationError(err))

	// First initialization stays intact.
	assert.NotNil(t, s.Engine())
	require.NoError(t, s.SendEvent("x"))
	assert.Equal(t, []any{"x"}, fake.Events())
	assert.Equal(t, []string{"factory:twice", "compile:q1", "send"}, fake.Calls())
}

func TestInitialize_AssociatesPendingStatements(t *testing.T) {
	s, fake := newFakeSession(t, "pending")
	st, err := s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)
	assert.Equal(t, ir.StateUnassociated, st.State())
	_, ok := st.Handle()
	assert.False(t, ok)

	require.NoError(t, s.Initialize())
	assert.Equal(t, ir.StateStarted, st.State())
	_, ok = st.Handle()
	assert.True(t, ok)

	// Added after initialize: compiled immediately.
	st2, err := s.AddStatement(session.Definition{ID: "q2", Query: "false"})
	require.NoError(t, err)
	assert.Equal(t, ir.StateStarted, st2.State())
	assert.Equal(t, 2, fake.Live())
}

func TestStartStatement_UnknownID(t *testing.T) {
	s, fake := newFakeSession(t, "lookup")
	require.NoError(t, s.Initialize())
	known, err := s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)
	require.NoError(t, s.StopStatement("q1"))
	before := s.Statements()
	calls := len(fake.Calls())

	err = s.StartStatement("missing")
	require.Error(t, err)
	assert.True(t, session.IsLookupError(err))
	assert.False(t, session.IsConfigurationError(err))

	assert.True(t, session.IsLookupError(s.StopStatement("missing")))
	assert.True(t, session.IsLookupError(s.DestroyStatement("missing")))

	_, err = s.Statement("missing")
	assert.True(t, session.IsLookupError(err))

	// Failed lookups leave the registry and the engine untouched.
	assert.Equal(t, before, s.Statements())
	assert.Equal(t, ir.StateStopped, known.State())
	assert.Len(t, fake.Calls(), calls)
	assert.Equal(t, 1, fake.Live())
}

func TestStatement_RoundTrip(t *testing.T) {
	s, fake := newFakeSession(t, "roundtrip")
	require.NoError(t, s.Initialize())
	_, err := s.AddStatement(session.Definition{ID: "q1", Query: "total > 1"})
	require.NoError(t, err)

	require.NoError(t, s.StartStatement("q1"))
	st, err := s.Statement("q1")
	require.NoError(t, err)
	assert.Equal(t, ir.StateStarted, st.State())

	require.NoError(t, s.StopStatement("q1"))
	assert.Equal(t, ir.StateStopped, st.State())

	require.NoError(t, s.StartStatement("q1"))
	assert.Equal(t, ir.StateStarted, st.State())

	require.NoError(t, s.DestroyStatement("q1"))
	assert.Equal(t, ir.StateDestroyed, st.State())
	assert.Empty(t, s.Statements())
	assert.Equal(t, 0, fake.Live())
}

func TestDestroyStatement_ThenStartIsLookupError(t *testing.T) {
	s, _ := newFakeSession(t, "ns")
	require.NoError(t, s.Initialize())
	assert.Equal(t, "ns", s.Name())
	assert.Empty(t, s.Statements())

	st, err := s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)
	assert.Equal(t, ir.StateStarted, st.State())
	require.NoError(t, s.DestroyStatement("q1"))
	assert.Equal(t, ir.StateDestroyed, st.State())

	err = s.StartStatement("q1")
	require.Error(t, err)
	assert.True(t, session.IsLookupError(err))
	assert.Equal(t, ir.StateDestroyed, st.State())
	assert.Empty(t, s.Statements())
}

func TestStartStatement_NotAssociated(t *testing.T) {
	s, _ := newFakeSession(t, "unassoc")
	_, err := s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)

	err = s.StartStatement("q1")
	var se *session.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, session.ErrCodeNotAssociated, se.Code)

	// Destroying a pending statement needs no engine.
	require.NoError(t, s.DestroyStatement("q1"))
	assert.Empty(t, s.Statements())
}

func TestAddStatement_Validation(t *testing.T) {
	s, _ := newFakeSession(t, "validate")

	_, err := s.AddStatement(session.Definition{ID: "blank", Query: "  "})
	assert.True(t, session.IsConfigurationError(err))

	_, err = s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)
	_, err = s.AddStatement(session.Definition{ID: "q1", Query: "false"})
	var se *session.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, session.ErrCodeDuplicateStatement, se.Code)
	assert.Len(t, s.Statements(), 1)
}

func TestAddStatement_DerivedID(t *testing.T) {
	s, _ := newFakeSession(t, "derived")

	st, err := s.AddStatement(session.Definition{Query: "total > 100"})
	require.NoError(t, err)
	assert.Equal(t, ir.StatementID("total > 100"), st.ID())
}

func TestAddStatement_CompileFailureNotRegistered(t *testing.T) {
	s, fake := newFakeSession(t, "compile")
	fake.CompileErrors["broken"] = errors.New("syntax error")
	require.NoError(t, s.Initialize())

	_, err := s.AddStatement(session.Definition{ID: "bad", Query: "broken"})
	require.Error(t, err)
	assert.True(t, session.IsConfigurationError(err))
	assert.True(t, engine.IsQueryError(err))
	assert.Empty(t, s.Statements())
}

func TestInitialize_FailureRollsBack(t *testing.T) {
	s, fake := newFakeSession(t, "rollback")
	fake.CompileErrors["broken"] = errors.New("syntax error")

	_, err := s.AddStatement(session.Definition{ID: "good", Query: "true"})
	require.NoError(t, err)
	_, err = s.AddStatement(session.Definition{ID: "bad", Query: "broken"})
	require.NoError(t, err)

	err = s.Initialize()
	require.Error(t, err)
	assert.True(t, session.IsConfigurationError(err))

	assert.Equal(t,
		[]string{"factory:rollback", "compile:good", "compile:bad", "destroy:good", "close"},
		fake.Calls())
	assert.True(t, fake.Closed())
	assert.Nil(t, s.Engine())

	for _, st := range s.Statements() {
		assert.Equal(t, ir.StateUnassociated, st.State())
	}

	assert.True(t, session.IsConfigurationError(s.SendEvent("x")))
	assert.True(t, session.IsConfigurationError(s.Initialize()))
	_, err = s.AddStatement(session.Definition{ID: "late", Query: "true"})
	assert.True(t, session.IsConfigurationError(err))
}

func TestInitialize_FactoryFailure(t *testing.T) {
	s := session.New("nofactory", session.WithEngineFactory(testutil.FailingFactory(errors.New("boom"))))

	err := s.Initialize()
	require.Error(t, err)
	assert.True(t, session.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "boom")
	assert.NoError(t, s.Cleanup())
}

func TestDestroyStatement_InvariantViolation(t *testing.T) {
	s, fake := newFakeSession(t, "stuck")
	require.NoError(t, s.Initialize())
	_, err := s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)

	fake.StuckOnDestroy = true
	err = s.DestroyStatement("q1")
	require.Error(t, err)
	assert.True(t, session.IsInvariantViolation(err))

	// The statement stays registered.
	_, err = s.Statement("q1")
	assert.NoError(t, err)
}

func TestCleanup_Idempotent(t *testing.T) {
	s, fake := newFakeSession(t, "cleanup")
	_, err := s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)
	_, err = s.AddStatement(session.Definition{ID: "q2", Query: "true"})
	require.NoError(t, err)
	require.NoError(t, s.Initialize())

	statements := s.Statements()
	require.NoError(t, s.Cleanup())
	require.NoError(t, s.Cleanup())

	for _, st := range statements {
		assert.Equal(t, ir.StateDestroyed, st.State())
	}
	assert.Empty(t, s.Statements())
	assert.True(t, fake.Closed())
	assert.Nil(t, s.Engine())
	assert.True(t, session.IsConfigurationError(s.SendEvent("x")))

	_, err = s.AddStatement(session.Definition{ID: "q3", Query: "true"})
	assert.True(t, session.IsConfigurationError(err))
}

func TestCleanup_NeverInitialized(t *testing.T) {
	s := session.New("idle")
	assert.NoError(t, s.Cleanup())
}

func TestUnmatchedListenerInstalled(t *testing.T) {
	fake := testutil.NewFakeEngine("unmatched")
	var got []ir.Unmatched
	s := session.New("unmatched",
		session.WithEngineFactory(fake.Factory()),
		session.WithUnmatchedListener(engine.UnmatchedFunc(func(u ir.Unmatched) { got = append(got, u) })),
	)
	require.NoError(t, s.Initialize())
	require.NotNil(t, fake.Unmatched())

	fake.Unmatched().Unmatched(ir.Unmatched{Session: "unmatched", Seq: 1, Event: "x"})
	assert.Len(t, got, 1)
}

func TestSession_LocalEngine(t *testing.T) {
	s := session.New("orders")
	t.Cleanup(func() { _ = s.Cleanup() })
	r := &results{}

	_, err := s.AddStatement(session.Definition{ID: "big", Query: "total > 100", Listeners: []engine.Listener{r}})
	require.NoError(t, err)
	require.NoError(t, s.Initialize())

	require.NoError(t, s.SendEvent(map[string]any{"total": 150}))
	require.NoError(t, s.SendEvent(map[string]any{"total": 50}))
	assert.Equal(t, 1, r.len())

	require.NoError(t, s.StopStatement("big"))
	require.NoError(t, s.SendEvent(map[string]any{"total": 150}))
	assert.Equal(t, 1, r.len())
}

func TestSession_ConfigurationFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("variables:\n  threshold: 10\n"), 0o644))

	r := &results{}
	s := session.New("configured", session.WithConfiguration(path))
	t.Cleanup(func() { _ = s.Cleanup() })
	_, err := s.AddStatement(session.Definition{ID: "over", Query: "total > threshold", Listeners: []engine.Listener{r}})
	require.NoError(t, err)
	require.NoError(t, s.Initialize())

	require.NoError(t, s.SendEvent(map[string]any{"total": 11}))
	assert.Equal(t, 1, r.len())
}

func TestSession_BadConfigurationFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unknown_field: 1\n"), 0o644))

	s := session.New("misconfigured", session.WithConfiguration(path))
	err := s.Initialize()
	require.Error(t, err)
	assert.True(t, session.IsConfigurationError(err))
}

func TestSession_ConcurrentSendAndInitialize(t *testing.T) {
	s, fake := newFakeSession(t, "race")
	_, err := s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := s.SendEvent(j); err == nil {
					mu.Lock()
					sent++
					mu.Unlock()
				} else {
					assert.True(t, session.IsConfigurationError(err))
				}
			}
		}()
	}
	require.NoError(t, s.Initialize())
	wg.Wait()

	// Every successful send reached a fully initialized engine.
	assert.Len(t, fake.Events(), sent)
}

func TestSession_ConcurrentLifecycleIsSerialized(t *testing.T) {
	s, fake := newFakeSession(t, "serial")
	fake.AdminDelay = 50 * time.Microsecond
	require.NoError(t, s.Initialize())

	ids := []string{"q0", "q1", "q2", "q3"}
	var wg sync.WaitGroup
	for g := 0; g < 12; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < 40; j++ {
				id := ids[(g+j)%len(ids)]
				var err error
				switch (g*7 + j) % 4 {
				case 0:
					_, err = s.AddStatement(session.Definition{ID: id, Query: "true"})
				case 1:
					err = s.StartStatement(id)
				case 2:
					err = s.StopStatement(id)
				case 3:
					err = s.DestroyStatement(id)
				}
				if err == nil || session.IsLookupError(err) {
					continue
				}
				var se *session.Error
				if assert.ErrorAs(t, err, &se) {
					assert.Equal(t, session.ErrCodeDuplicateStatement, se.Code, "%s on %s", err, id)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Zero(t, fake.Overlaps(), "engine lifecycle calls overlapped")

	remaining := s.Statements()
	assert.Len(t, remaining, fake.Live())
	seen := make(map[string]bool)
	for _, st := range remaining {
		assert.False(t, seen[st.ID()], "statement %s registered twice", st.ID())
		seen[st.ID()] = true

		_, ok := st.Handle()
		assert.True(t, ok, "statement %s lost its handle", st.ID())
		assert.Contains(t, []ir.StatementState{ir.StateStarted, ir.StateStopped}, st.State(), st.ID())
	}
}

type transitions struct {
	got []string
}

func (tr *transitions) Transition(t ir.Transition) {
	tr.got = append(tr.got, t.StatementID+":"+t.State.String())
}

func TestTransitionListener(t *testing.T) {
	fake := testutil.NewFakeEngine("audit")
	tr := &transitions{}
	s := session.New("audit",
		session.WithEngineFactory(fake.Factory()),
		session.WithTransitionListener(tr),
	)

	_, err := s.AddStatement(session.Definition{ID: "q1", Query: "true"})
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.StopStatement("q1"))
	require.NoError(t, s.StartStatement("q1"))
	_, err = s.AddStatement(session.Definition{ID: "q2", Query: "true"})
	require.NoError(t, err)
	require.NoError(t, s.DestroyStatement("q2"))
	require.NoError(t, s.Cleanup())

	assert.Equal(t, []string{
		"q1:UNASSOCIATED",
		"q1:STARTED",
		"q1:STOPPED",
		"q1:STARTED",
		"q2:STARTED",
		"q2:DESTROYED",
		"q1:DESTROYED",
	}, tr.got)
}
