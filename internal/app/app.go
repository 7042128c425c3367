// Package app assembles a running tapwire application from configuration.
//
// Build creates and initializes one session per configured session, wraps
// them in wire-taps, binds the wire-taps to channel-name patterns and
// creates the declared channels. Messages sent through App.Send flow
// through the channel's interceptors, so tapped channels feed their
// session's statements.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/tapwire/internal/binder"
	"github.com/roach88/tapwire/internal/channel"
	"github.com/roach88/tapwire/internal/config"
	"github.com/roach88/tapwire/internal/engine"
	"github.com/roach88/tapwire/internal/ir"
	"github.com/roach88/tapwire/internal/session"
	"github.com/roach88/tapwire/internal/store"
	"github.com/roach88/tapwire/internal/wiretap"
)

// Option configures Build.
type Option func(*options)

type options struct {
	store   *store.Store
	out     io.Writer
	factory engine.Factory
}

// WithStore records results, unmatched events and lifecycle transitions.
// Required when any sink is "store".
func WithStore(s *store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithOutput sets the writer for the "print" sink. Defaults to io.Discard.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// WithEngineFactory overrides the engine used by every session.
func WithEngineFactory(f engine.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// Summary reports what an App processed.
type Summary struct {
	Sessions   int   `json:"sessions"`
	Statements int   `json:"statements"`
	Channels   int   `json:"channels"`
	Messages   int64 `json:"messages"`
	Delivered  int64 `json:"delivered"`
	Results    int64 `json:"results"`
	Unmatched  int64 `json:"unmatched"`
}

// App is an assembled application.
type App struct {
	sessions []*session.Session
	wiretaps map[string]*wiretap.WireTap
	binder   *binder.Binder
	registry *channel.Registry

	printer  *printer
	recorder *store.Recorder
	recDone  chan error
	cancel   context.CancelFunc

	counts    counters
	messages  atomic.Int64
	delivered atomic.Int64
	closed    atomic.Bool
}

// Build assembles and initializes an App. On failure everything already
// created is cleaned up.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{out: io.Discard}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &App{
		wiretaps: make(map[string]*wiretap.WireTap),
		registry: channel.NewRegistry(),
		printer:  &printer{w: o.out},
		cancel:   cancel,
	}

	if o.store != nil {
		a.recorder = store.NewRecorder(o.store)
		a.recDone = make(chan error, 1)
		go func() { a.recDone <- a.recorder.Run(ctx) }()
	}

	if err := a.build(ctx, cfg, o); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("cleanup after failed build", "error", closeErr)
		}
		return nil, err
	}

	slog.Info("application built",
		"sessions", len(a.sessions),
		"statements", cfg.StatementCount(),
		"channels", len(a.registry.Names()),
	)
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, o *options) error {
	for _, sc := range cfg.Sessions {
		s, err := a.buildSession(ctx, sc, o)
		if err != nil {
			return err
		}
		a.sessions = append(a.sessions, s)
	}

	for _, wc := range cfg.WireTaps {
		s := a.Session(wc.Session)
		if s == nil {
			return fmt.Errorf("wiretap %s: unknown session %q", wc.Name, wc.Session)
		}
		a.wiretaps[wc.Name] = wiretap.New(s, wc.SendContext)
	}

	bindings := make([]binder.Binding, 0, len(cfg.Taps))
	for _, tc := range cfg.Taps {
		w, ok := a.wiretaps[tc.WireTap]
		if !ok {
			return fmt.Errorf("tap %q: unknown wiretap %q", tc.Pattern, tc.WireTap)
		}
		bindings = append(bindings, binder.Binding{Pattern: tc.Pattern, Interceptor: w})
	}
	b, err := binder.New(bindings)
	if err != nil {
		return fmt.Errorf("build binder: %w", err)
	}
	a.binder = b
	a.registry.OnCreate(b.Bind)

	for _, cc := range cfg.Channels {
		if _, err := a.registry.Create(cc.Name); err != nil {
			return fmt.Errorf("create channel: %w", err)
		}
	}
	return nil
}

func (a *App) buildSession(ctx context.Context, sc config.Session, o *options) (*session.Session, error) {
	sopts := []session.Option{session.WithConfiguration(sc.Configuration)}
	if o.factory != nil {
		sopts = append(sopts, session.WithEngineFactory(o.factory))
	}
	if a.recorder != nil {
		last, err := o.store.LastSeq(ctx, sc.Name)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", sc.Name, err)
		}
		sopts = append(sopts,
			session.WithTransitionListener(a.recorder),
			session.WithSeqStart(last),
		)
	}

	fanout := unmatchedFanout{engine.UnmatchedFunc(func(u ir.Unmatched) { a.counts.unmatched.Add(1) })}
	for _, sink := range sc.Unmatched {
		l, err := a.unmatchedListener(sink)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", sc.Name, err)
		}
		fanout = append(fanout, l)
	}
	sopts = append(sopts, session.WithUnmatchedListener(fanout))

	s := session.New(sc.Name, sopts...)

	count := engine.ListenerFunc(func(ir.Result) { a.counts.results.Add(1) })
	for _, stc := range sc.Statements {
		listeners := []engine.Listener{count}
		for _, sink := range stc.Listeners {
			l, err := a.resultListener(sink)
			if err != nil {
				return nil, fmt.Errorf("session %s: statement %s: %w", sc.Name, stc.ID, err)
			}
			listeners = append(listeners, l)
		}
		if _, err := s.AddStatement(session.Definition{ID: stc.ID, Query: stc.Query, Listeners: listeners}); err != nil {
			return nil, err
		}
	}

	// A failed Initialize has already rolled itself back.
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// Session returns the named session, or nil.
func (a *App) Session(name string) *session.Session {
	for _, s := range a.sessions {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Sessions returns the sessions in configuration order.
func (a *App) Sessions() []*session.Session {
	out := make([]*session.Session, len(a.sessions))
	copy(out, a.sessions)
	return out
}

// Registry returns the channel registry.
func (a *App) Registry() *channel.Registry {
	return a.registry
}

// Channel returns the named channel, creating it (and binding matching
// wire-taps) if it does not exist yet.
func (a *App) Channel(name string) (*channel.Direct, error) {
	if ch, err := a.registry.Get(name); err == nil {
		return ch, nil
	}
	ch, err := a.registry.Create(name)
	if errors.Is(err, channel.ErrDuplicateChannel) {
		// Lost a creation race.
		return a.registry.Get(name)
	}
	return ch, err
}

// Send publishes a message on the named channel.
func (a *App) Send(ctx context.Context, channelName string, payload any, headers map[string]string) (bool, error) {
	if a.closed.Load() {
		return false, errors.New("application closed")
	}
	ch, err := a.Channel(channelName)
	if err != nil {
		return false, err
	}

	a.messages.Add(1)
	delivered, err := ch.Send(ctx, channel.NewMessage(payload, headers))
	if err != nil {
		return false, err
	}
	if delivered {
		a.delivered.Add(1)
	}
	return delivered, nil
}

// Summary returns counters accumulated so far.
func (a *App) Summary() Summary {
	statements := 0
	for _, s := range a.sessions {
		statements += len(s.Statements())
	}
	return Summary{
		Sessions:   len(a.sessions),
		Statements: statements,
		Channels:   len(a.registry.Names()),
		Messages:   a.messages.Load(),
		Delivered:  a.delivered.Load(),
		Results:    a.counts.results.Load(),
		Unmatched:  a.counts.unmatched.Load(),
	}
}

// Close cleans up every session in reverse order, then flushes the
// recorder. It is safe to call more than once.
func (a *App) Close() error {
	if a.closed.Swap(true) {
		return nil
	}

	var errs []error
	for i := len(a.sessions) - 1; i >= 0; i-- {
		if err := a.sessions[i].Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("cleanup session %s: %w", a.sessions[i].Name(), err))
		}
	}

	if a.recorder != nil {
		a.recorder.Close()
		if err := <-a.recDone; err != nil {
			errs = append(errs, fmt.Errorf("recorder: %w", err))
		}
		written, failed, dropped := a.recorder.Stats()
		slog.Debug("recorder stopped", "written", written, "failed", failed, "dropped", dropped)
		if failed > 0 {
			errs = append(errs, fmt.Errorf("recorder: %d writes failed", failed))
		}
	}
	a.cancel()
	return errors.Join(errs...)
}
