package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/tapwire/internal/ir"
)

// ResultRecord is a stored statement result.
type ResultRecord struct {
	ID          int64           `json:"id"`
	Session     string          `json:"session"`
	StatementID string          `json:"statement_id"`
	Seq         int64           `json:"seq"`
	Event       json.RawMessage `json:"event"`
	Digest      string          `json:"event_digest"`
}

// UnmatchedRecord is a stored unmatched event.
type UnmatchedRecord struct {
	ID      int64           `json:"id"`
	Session string          `json:"session"`
	Seq     int64           `json:"seq"`
	Event   json.RawMessage `json:"event"`
	Digest  string          `json:"event_digest"`
}

// TransitionRecord is a stored lifecycle transition.
type TransitionRecord struct {
	ID          int64             `json:"id"`
	Session     string            `json:"session"`
	StatementID string            `json:"statement_id"`
	State       ir.StatementState `json:"state"`
}

// Filter narrows reads. Empty fields match everything.
type Filter struct {
	Session     string
	StatementID string
}

func (f Filter) where(statementColumn bool) (string, []any) {
	var clauses []string
	var args []any
	if f.Session != "" {
		clauses = append(clauses, "session = ?")
		args = append(args, f.Session)
	}
	if statementColumn && f.StatementID != "" {
		clauses = append(clauses, "statement_id = ?")
		args = append(args, f.StatementID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ReadResults returns statement results matching f.
// Results are ordered by seq, then id.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadResults(ctx context.Context, f Filter) ([]ResultRecord, error) {
	where, args := f.where(true)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, statement_id, seq, event, event_digest
		FROM statement_results
		`+where+`
		ORDER BY seq ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	records := []ResultRecord{}
	for rows.Next() {
		var rec ResultRecord
		var event string
		if err := rows.Scan(&rec.ID, &rec.Session, &rec.StatementID, &rec.Seq, &event, &rec.Digest); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if rec.Event, err = unmarshalEvent(event); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return records, nil
}

// ReadUnmatched returns unmatched events matching f; StatementID is ignored.
// Same ordering as ReadResults.
func (s *Store) ReadUnmatched(ctx context.Context, f Filter) ([]UnmatchedRecord, error) {
	where, args := f.where(false)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, seq, event, event_digest
		FROM unmatched_events
		`+where+`
		ORDER BY seq ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query unmatched: %w", err)
	}
	defer rows.Close()

	records := []UnmatchedRecord{}
	for rows.Next() {
		var rec UnmatchedRecord
		var event string
		if err := rows.Scan(&rec.ID, &rec.Session, &rec.Seq, &event, &rec.Digest); err != nil {
			return nil, fmt.Errorf("scan unmatched: %w", err)
		}
		if rec.Event, err = unmarshalEvent(event); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unmatched: %w", err)
	}
	return records, nil
}

// ReadTransitions returns lifecycle transitions matching f in the order
// they were recorded.
func (s *Store) ReadTransitions(ctx context.Context, f Filter) ([]TransitionRecord, error) {
	where, args := f.where(true)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, statement_id, state
		FROM statement_events
		`+where+`
		ORDER BY id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	records := []TransitionRecord{}
	for rows.Next() {
		var rec TransitionRecord
		var state string
		if err := rows.Scan(&rec.ID, &rec.Session, &rec.StatementID, &state); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if rec.State, err = ir.ParseStatementState(state); err != nil {
			return nil, fmt.Errorf("scan transition %d: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return records, nil
}

// CountResults returns the number of results per statement for a session,
// keyed by statement id.
func (s *Store) CountResults(ctx context.Context, session string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT statement_id, COUNT(*)
		FROM statement_results
		WHERE session = ?
		GROUP BY statement_id
	`, session)
	if err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// LastSeq returns the highest seq recorded for a session across results and
// unmatched events, or 0 when nothing is recorded.
func (s *Store) LastSeq(ctx context.Context, session string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM statement_results WHERE session = ?
			UNION ALL
			SELECT seq FROM unmatched_events WHERE session = ?
		)
	`, session, session).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq for %s: %w", session, err)
	}
	return seq, nil
}
