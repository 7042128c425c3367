package config

import (
	"os"
	"strings"

	"github.com/roach88/tapwire/internal/binder"
	"github.com/roach88/tapwire/internal/engine"
)

var knownSinks = map[string]bool{
	SinkLog:   true,
	SinkPrint: true,
	SinkStore: true,
}

// Validate runs semantic checks over a decoded configuration and returns
// every problem found (does not fail-fast).
func Validate(cfg *Config) []error {
	var errs []error
	add := func(err *LoadError) { errs = append(errs, err) }

	if len(cfg.Sessions) == 0 {
		add(errorf(ErrCodeNoSessions, cfg.CUEValue.Pos(), "no sessions declared"))
	}

	sessions := make(map[string]bool, len(cfg.Sessions))
	for _, s := range cfg.Sessions {
		sessions[s.Name] = true

		if s.Configuration != "" {
			if _, err := os.Stat(s.Configuration); err != nil {
				add(errorf(ErrCodeMissingSettings, s.Pos, "session %s: engine configuration %s: %v", s.Name, s.Configuration, err))
			}
		}
		for _, sink := range s.Unmatched {
			if !knownSinks[sink] {
				add(errorf(ErrCodeUnknownSink, s.Pos, "session %s: unknown unmatched sink %q", s.Name, sink))
			}
		}

		for _, st := range s.Statements {
			if strings.TrimSpace(st.Query) == "" {
				add(errorf(ErrCodeEmptyQuery, st.Pos, "session %s: statement %s has no query", s.Name, st.ID))
			} else if err := engine.CheckQuery(st.Query); err != nil {
				add(errorf(ErrCodeInvalidQuery, st.Pos, "session %s: statement %s: %v", s.Name, st.ID, err))
			}
			for _, sink := range st.Listeners {
				if !knownSinks[sink] {
					add(errorf(ErrCodeUnknownSink, st.Pos, "session %s: statement %s: unknown listener %q", s.Name, st.ID, sink))
				}
			}
		}
	}

	wiretaps := make(map[string]bool, len(cfg.WireTaps))
	for _, w := range cfg.WireTaps {
		wiretaps[w.Name] = true
		if !sessions[w.Session] {
			add(errorf(ErrCodeUnknownSession, w.Pos, "wiretap %s: unknown session %q", w.Name, w.Session))
		}
	}

	for _, t := range cfg.Taps {
		if !wiretaps[t.WireTap] {
			add(errorf(ErrCodeUnknownWireTap, t.Pos, "tap %q: unknown wiretap %q", t.Pattern, t.WireTap))
		}
		if _, err := binder.CompilePattern(t.Pattern); err != nil {
			add(errorf(ErrCodeInvalidPattern, t.Pos, "tap %q: %v", t.Pattern, err))
		}
	}

	channels := make(map[string]bool, len(cfg.Channels))
	for _, c := range cfg.Channels {
		if strings.TrimSpace(c.Name) == "" {
			add(errorf(ErrCodeInvalidChannel, c.Pos, "channel name is empty"))
			continue
		}
		if channels[c.Name] {
			add(errorf(ErrCodeInvalidChannel, c.Pos, "channel %q declared twice", c.Name))
		}
		channels[c.Name] = true
	}

	return errs
}
