package config

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Error code constants, shared with the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeFieldType   = "E007" // Field has the wrong type

	// Semantic errors
	ErrCodeEmptyQuery      = "E201" // Statement without a query
	ErrCodeInvalidQuery    = "E202" // Query does not compile
	ErrCodeUnknownSink     = "E203" // Listener or unmatched sink not recognized
	ErrCodeUnknownSession  = "E204" // Wire-tap references an undeclared session
	ErrCodeUnknownWireTap  = "E205" // Tap references an undeclared wire-tap
	ErrCodeInvalidPattern  = "E206" // Tap pattern is not a valid regular expression
	ErrCodeInvalidChannel  = "E207" // Channel name empty or duplicated
	ErrCodeNoSessions      = "E208" // Nothing to run
	ErrCodeMissingSettings = "E209" // Engine configuration file does not exist
)

// LoadError represents an error that occurred while loading configuration.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Line returns the 1-based source line, or 0 when unknown.
func (e *LoadError) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

func errorf(code string, pos token.Pos, format string, args ...any) *LoadError {
	return &LoadError{Code: code, Message: fmt.Sprintf(format, args...), Pos: pos}
}
