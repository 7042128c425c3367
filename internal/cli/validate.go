package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/tapwire/internal/config"
)

// ValidationError is one problem reported by validate.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Sessions   int               `json:"sessions"`
	Statements int               `json:"statements"`
	Taps       int               `json:"taps"`
	Errors     []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-dir>",
		Short: "Validate a configuration directory",
		Long: `Load a CUE configuration directory and check it without running anything.

Every statement query is compiled, every tap pattern is compiled, and every
reference between sessions, wire-taps and taps is resolved. All problems are
reported, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, errs := config.Load(dir, config.LoadModeCollectAll)
	if cfg == nil {
		code, message := loadErrorParts(errs[0])
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", cfg.FileCount, dir)
	for _, s := range cfg.Sessions {
		formatter.VerboseLog("Session %s: %d statement(s)", s.Name, len(s.Statements))
	}

	result := ValidationResult{
		Valid:      len(errs) == 0,
		Sessions:   len(cfg.Sessions),
		Statements: cfg.StatementCount(),
		Taps:       len(cfg.Taps),
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, toValidationError(err))
	}

	if err := formatter.Render(result, func(w io.Writer) { writeValidation(w, result) }); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

func writeValidation(w io.Writer, result ValidationResult) {
	if result.Valid {
		fmt.Fprintf(w, "%s Configuration valid: %d session(s), %d statement(s), %d tap(s)\n",
			paint(w, color.FgGreen).Sprint("✓"), result.Sessions, result.Statements, result.Taps)
		return
	}
	fmt.Fprintf(w, "%s %d validation error(s):\n", paint(w, color.FgRed).Sprint("✗"), len(result.Errors))
	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(w, "  [%s] %s:%d: %s\n", e.Code, e.File, e.Line, e.Message)
		} else {
			fmt.Fprintf(w, "  [%s] %s\n", e.Code, e.Message)
		}
	}
}

func toValidationError(err error) ValidationError {
	var le *config.LoadError
	if errors.As(err, &le) {
		ve := ValidationError{Code: le.Code, Message: le.Message, Line: le.Line()}
		if le.Pos.IsValid() {
			ve.File = le.Pos.Filename()
		}
		return ve
	}
	return ValidationError{Code: config.ErrCodeGeneric, Message: err.Error()}
}

func loadErrorParts(err error) (code, message string) {
	var le *config.LoadError
	if errors.As(err, &le) {
		return le.Code, le.Message
	}
	return config.ErrCodeGeneric, err.Error()
}
