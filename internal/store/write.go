package store

import (
	"context"
	"fmt"

	"github.com/roach88/tapwire/internal/ir"
)

// WriteResult inserts a statement result.
// Uses ON CONFLICT DO NOTHING for idempotency - a result with the same
// (session, statement_id, seq) is silently ignored.
func (s *Store) WriteResult(ctx context.Context, r ir.Result) error {
	event, digest, err := marshalEvent(r.Event)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO statement_results
		(session, statement_id, seq, event, event_digest)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session, statement_id, seq) DO NOTHING
	`,
		r.Session,
		r.StatementID,
		r.Seq,
		event,
		digest,
	)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// WriteUnmatched inserts an unmatched event.
// Idempotent on (session, seq).
func (s *Store) WriteUnmatched(ctx context.Context, u ir.Unmatched) error {
	event, digest, err := marshalEvent(u.Event)
	if err != nil {
		return fmt.Errorf("write unmatched: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unmatched_events
		(session, seq, event, event_digest)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING
	`,
		u.Session,
		u.Seq,
		event,
		digest,
	)
	if err != nil {
		return fmt.Errorf("write unmatched: %w", err)
	}
	return nil
}

// WriteTransition appends a statement lifecycle transition.
// Transitions are an audit log and are never deduplicated.
func (s *Store) WriteTransition(ctx context.Context, t ir.Transition) error {
	state, err := t.State.MarshalText()
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO statement_events
		(session, statement_id, state)
		VALUES (?, ?, ?)
	`,
		t.Session,
		t.StatementID,
		string(state),
	)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	return nil
}
