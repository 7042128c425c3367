package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineClosed is returned by every operation after Close.
	ErrEngineClosed = errors.New("engine closed")

	// ErrUnknownHandle means the handle was never issued by this engine.
	ErrUnknownHandle = errors.New("unknown statement handle")

	// ErrStatementDestroyed is returned when starting or stopping a
	// destroyed statement.
	ErrStatementDestroyed = errors.New("statement destroyed")

	// ErrTooManyStatements is returned by Compile when Config.MaxStatements
	// live statements already exist.
	ErrTooManyStatements = errors.New("statement limit reached")
)

// QueryError reports a query that failed to compile.
type QueryError struct {
	StatementID string
	Query       string
	Err         error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.StatementID != "" {
		return fmt.Sprintf("compile statement %s (%q): %v", e.StatementID, e.Query, e.Err)
	}
	return fmt.Sprintf("compile query %q: %v", e.Query, e.Err)
}

// Unwrap returns the underlying compiler error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsQueryError returns true if err wraps a QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
