package session

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes session errors.
type ErrorCode string

const (
	// ErrCodeConfiguration covers use before initialization, double
	// initialization, engine setup failures and query compilation failures.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeUnknownStatement indicates a lookup by an id the registry does
	// not hold. It is a caller-supplied invalid argument.
	ErrCodeUnknownStatement ErrorCode = "UNKNOWN_STATEMENT"

	// ErrCodeDuplicateStatement indicates an AddStatement with an id that
	// is already registered.
	ErrCodeDuplicateStatement ErrorCode = "DUPLICATE_STATEMENT"

	// ErrCodeNotAssociated indicates a start or stop of a statement that has
	// no engine-side handle yet.
	ErrCodeNotAssociated ErrorCode = "NOT_ASSOCIATED"

	// ErrCodeInvariantViolation indicates the engine broke its contract,
	// e.g. a destroyed statement did not report DESTROYED.
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

// Error is the error type returned by Session operations.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Session is the name of the session that produced the error.
	Session string

	// StatementID identifies the statement, when one is involved.
	StatementID string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.StatementID != "" {
		msg = fmt.Sprintf("%s (session=%s, statement=%s)", msg, e.Session, e.StatementID)
	} else if e.Session != "" {
		msg = fmt.Sprintf("%s (session=%s)", msg, e.Session)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsConfigurationError returns true if err is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsLookupError returns true if err reports an unknown statement id.
func IsLookupError(err error) bool {
	return hasCode(err, ErrCodeUnknownStatement)
}

// IsInvariantViolation returns true if the engine broke its contract.
func IsInvariantViolation(err error) bool {
	return hasCode(err, ErrCodeInvariantViolation)
}

func (s *Session) configError(message string, cause error) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: message, Session: s.name, Err: cause}
}

func (s *Session) statementError(code ErrorCode, id, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Session: s.name, StatementID: id, Err: cause}
}
