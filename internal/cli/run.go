package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tapwire/internal/app"
	"github.com/roach88/tapwire/internal/config"
	"github.com/roach88/tapwire/internal/store"
)

// maxLineSize bounds one NDJSON input line.
const maxLineSize = 1 << 20

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Input    string
}

// inputMessage is one NDJSON input line.
type inputMessage struct {
	Channel string            `json:"channel"`
	Payload any               `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RunSummary is reported when run finishes.
type RunSummary struct {
	app.Summary
	Skipped  int    `json:"skipped"`
	Database string `json:"database"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config-dir>",
		Short: "Send NDJSON messages through configured channels",
		Long: `Build every session, wire-tap and channel declared in the configuration,
then read messages as newline-delimited JSON and send each one through its
channel. Tapped channels feed their session's statements.

Each input line has the form:
  {"channel": "order.created", "payload": {...}, "headers": {"k": "v"}}

Channels that are not declared are created on first use, and any matching
tap patterns are bound to them then.

Example:
  tapwire run --db ./results.db --input events.ndjson ./config
  cat events.ndjson | tapwire run ./config`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite result store (default $TAPWIRE_DB_PATH)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", "NDJSON input file, - for stdin")

	return cmd
}

func runApp(opts *RunOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, errs := config.Load(dir, config.LoadModeFailFast)
	if len(errs) > 0 {
		code, message := loadErrorParts(errs[0])
		_ = formatter.Error(code, message, nil)
		return WrapExitError(ExitCommandError, "failed to load configuration", errs[0])
	}
	formatter.VerboseLog("Loaded %d session(s), %d statement(s)", len(cfg.Sessions), cfg.StatementCount())

	dbPath := opts.Database
	if dbPath == "" {
		env, err := config.LoadEnv()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read environment", err)
		}
		dbPath = env.DBPath
	}

	input, closeInput, err := openInput(opts.Input, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer closeInput()

	slog.Info("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The recorder must drain after an interrupt, so the app outlives ctx.
	// Print-sink lines share stdout with the summary.
	a, err := app.Build(context.WithoutCancel(ctx), cfg, app.WithStore(st), app.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build application", err)
	}

	skipped, sendErr := pump(ctx, a, input)
	summary := RunSummary{Summary: a.Summary(), Skipped: skipped, Database: dbPath}

	if err := a.Close(); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	if sendErr != nil && !errors.Is(sendErr, context.Canceled) {
		return WrapExitError(ExitFailure, "run failed", sendErr)
	}

	return formatter.Render(summary, func(w io.Writer) { writeRunSummary(w, summary) })
}

// pump sends every input line. Malformed lines are logged and skipped.
func pump(ctx context.Context, a *app.App, r io.Reader) (skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return skipped, err
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var msg inputMessage
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			slog.Warn("skipping malformed input line", "line", line, "error", err)
			skipped++
			continue
		}
		if msg.Channel == "" {
			slog.Warn("skipping input line without channel", "line", line)
			skipped++
			continue
		}

		if _, err := a.Send(ctx, msg.Channel, msg.Payload, msg.Headers); err != nil {
			return skipped, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("read input: %w", err)
	}
	return skipped, nil
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func writeRunSummary(w io.Writer, s RunSummary) {
	fmt.Fprintf(w, "Processed %d message(s) on %d channel(s): %d result(s), %d unmatched, %d skipped\n",
		s.Messages, s.Channels, s.Results, s.Unmatched, s.Skipped)
	fmt.Fprintf(w, "Sessions: %d, statements: %d\n", s.Sessions, s.Statements)
}
