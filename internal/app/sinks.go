package app

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/tapwire/internal/config"
	"github.com/roach88/tapwire/internal/engine"
	"github.com/roach88/tapwire/internal/ir"
)

// printer writes one canonical JSON line per record.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) print(kind string, session, statementID string, seq int64, event any) {
	line := map[string]any{
		"kind":    kind,
		"session": session,
		"seq":     seq,
		"event":   event,
	}
	if statementID != "" {
		line["statement_id"] = statementID
	}
	data, err := ir.MarshalCanonical(line)
	if err != nil {
		slog.Error("print sink: marshal failed", "session", session, "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(p.w, "%s\n", data); err != nil {
		slog.Error("print sink: write failed", "error", err)
	}
}

// counters tracks what the sinks saw.
type counters struct {
	results   atomic.Int64
	unmatched atomic.Int64
}

// unmatchedFanout delivers to every listener in order.
type unmatchedFanout []engine.UnmatchedListener

func (f unmatchedFanout) Unmatched(u ir.Unmatched) {
	for _, l := range f {
		l.Unmatched(u)
	}
}

func (a *App) resultListener(sink string) (engine.Listener, error) {
	switch sink {
	case config.SinkLog:
		return engine.ListenerFunc(func(r ir.Result) {
			slog.Info("statement matched",
				"session", r.Session,
				"statement_id", r.StatementID,
				"seq", r.Seq,
			)
		}), nil
	case config.SinkPrint:
		return engine.ListenerFunc(func(r ir.Result) {
			a.printer.print("result", r.Session, r.StatementID, r.Seq, r.Event)
		}), nil
	case config.SinkStore:
		if a.recorder == nil {
			return nil, fmt.Errorf("sink %q requires a result store", sink)
		}
		return a.recorder, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", sink)
	}
}

func (a *App) unmatchedListener(sink string) (engine.UnmatchedListener, error) {
	switch sink {
	case config.SinkLog:
		return engine.UnmatchedFunc(func(u ir.Unmatched) {
			slog.Info("event unmatched", "session", u.Session, "seq", u.Seq)
		}), nil
	case config.SinkPrint:
		return engine.UnmatchedFunc(func(u ir.Unmatched) {
			a.printer.print("unmatched", u.Session, "", u.Seq, u.Event)
		}), nil
	case config.SinkStore:
		if a.recorder == nil {
			return nil, fmt.Errorf("sink %q requires a result store", sink)
		}
		return a.recorder, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", sink)
	}
}
