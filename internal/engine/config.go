package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds engine-specific settings.
//
// It is normally read from the optional YAML file a session names in its
// configuration:
//
//	variables:
//	  threshold: 100
//	  region: eu
//	max_statements: 50
type Config struct {
	// Variables are exposed to every query, at top level and under "vars".
	// Event fields with the same name take precedence.
	Variables map[string]any `yaml:"variables"`

	// MaxStatements caps the number of live statements. 0 means no limit.
	MaxStatements int `yaml:"max_statements"`

	// SeqStart is the clock value the engine resumes from. It is set by
	// the host, never read from the file.
	SeqStart int64 `yaml:"-"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{Variables: map[string]any{}}
}

// Validate checks the configuration for values the engine cannot honor.
func (c Config) Validate() error {
	if c.MaxStatements < 0 {
		return fmt.Errorf("max_statements must be >= 0, got %d", c.MaxStatements)
	}
	if c.SeqStart < 0 {
		return fmt.Errorf("seq start must be >= 0, got %d", c.SeqStart)
	}
	for name := range c.Variables {
		if name == "event" || name == "vars" {
			return fmt.Errorf("variable name %q is reserved", name)
		}
	}
	return nil
}

// LoadConfig reads engine settings from a YAML file.
//
// An empty path or a path that does not exist yields DefaultConfig. Any
// other read, decode or validation failure is returned. Unknown keys are
// rejected so typos surface at session initialization.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("engine configuration not found, using defaults", "path", path)
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("open engine configuration: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode engine configuration %s: %w", path, err)
	}
	if cfg.Variables == nil {
		cfg.Variables = map[string]any{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("engine configuration %s: %w", path, err)
	}
	return cfg, nil
}
