package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/tapwire/internal/config"
)

// configureLogging installs the default slog logger from TAPWIRE_LOG_LEVEL
// and TAPWIRE_LOG_FORMAT. --verbose forces debug level.
func configureLogging(opts *RootOptions, w io.Writer) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	logger, err := newLogger(env, opts.Verbose, w)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(env config.Env, verbose bool, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.LogLevel)); err != nil {
		return nil, fmt.Errorf("TAPWIRE_LOG_LEVEL: %w", err)
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	switch env.LogFormat {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("TAPWIRE_LOG_FORMAT: unknown format %q (want text or json)", env.LogFormat)
	}
}
