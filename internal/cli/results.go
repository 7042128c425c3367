package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tapwire/internal/config"
	"github.com/roach88/tapwire/internal/store"
)

// ResultsOptions holds flags for the results command.
type ResultsOptions struct {
	*RootOptions
	Database    string
	Session     string
	Statement   string
	Unmatched   bool
	Transitions bool
}

// ResultsOutput is the JSON payload of the results command.
type ResultsOutput struct {
	Results     []store.ResultRecord     `json:"results,omitempty"`
	Unmatched   []store.UnmatchedRecord  `json:"unmatched,omitempty"`
	Transitions []store.TransitionRecord `json:"transitions,omitempty"`
}

// NewResultsCommand creates the results command.
func NewResultsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResultsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show recorded statement results",
		Long: `Read results from a SQLite result store written by "tapwire run".

By default statement results are listed in sequence order. Use --unmatched
to list events no statement matched, or --transitions to list the
statement lifecycle audit.

Example:
  tapwire results --db ./results.db --session orders --statement big`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResults(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite result store (default $TAPWIRE_DB_PATH)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "only show this session")
	cmd.Flags().StringVar(&opts.Statement, "statement", "", "only show this statement id")
	cmd.Flags().BoolVar(&opts.Unmatched, "unmatched", false, "show unmatched events instead of results")
	cmd.Flags().BoolVar(&opts.Transitions, "transitions", false, "show statement lifecycle transitions instead of results")
	cmd.MarkFlagsMutuallyExclusive("unmatched", "transitions")

	return cmd
}

func runResults(opts *ResultsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	dbPath := opts.Database
	if dbPath == "" {
		env, err := config.LoadEnv()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read environment", err)
		}
		dbPath = env.DBPath
	}

	// store.Open would create an empty database; a missing file is a usage error.
	if _, err := os.Stat(dbPath); err != nil {
		_ = formatter.Error(config.ErrCodeNotFound, fmt.Sprintf("database not found: %s", dbPath), nil)
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	filter := store.Filter{Session: opts.Session, StatementID: opts.Statement}

	var out ResultsOutput
	var text func(io.Writer)
	switch {
	case opts.Unmatched:
		out.Unmatched, err = st.ReadUnmatched(ctx, filter)
		text = func(w io.Writer) { writeUnmatched(w, out.Unmatched) }
	case opts.Transitions:
		out.Transitions, err = st.ReadTransitions(ctx, filter)
		text = func(w io.Writer) { writeTransitions(w, out.Transitions) }
	default:
		out.Results, err = st.ReadResults(ctx, filter)
		text = func(w io.Writer) { writeResults(w, out.Results) }
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read results", err)
	}

	return formatter.Render(out, text)
}

func writeResults(w io.Writer, records []store.ResultRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Seq, r.Session, r.StatementID, r.Event)
	}
}

func writeUnmatched(w io.Writer, records []store.UnmatchedRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No unmatched events")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\n", r.Seq, r.Session, r.Event)
	}
}

func writeTransitions(w io.Writer, records []store.TransitionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No transitions")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Session, r.StatementID, r.State)
	}
}
