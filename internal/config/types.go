package config

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"
)

// Sink names accepted for statement listeners and unmatched handlers.
const (
	SinkLog   = "log"
	SinkPrint = "print"
	SinkStore = "store"
)

// Config is a loaded configuration directory.
type Config struct {
	Dir       string
	Sessions  []Session
	WireTaps  []WireTap
	Taps      []Tap
	Channels  []Channel
	FileCount int       // Number of CUE files found
	CUEValue  cue.Value // The raw CUE value for additional processing
}

// Session declares one engine session and its statements.
type Session struct {
	Name string

	// Configuration is the engine settings file, resolved against the
	// config directory. Empty means engine defaults.
	Configuration string

	Unmatched  []string
	Statements []Statement
	Pos        token.Pos
}

// Statement declares one continuous query.
type Statement struct {
	ID        string
	Query     string
	Listeners []string
	Pos       token.Pos
}

// WireTap declares a wire-tap interceptor feeding a session.
type WireTap struct {
	Name        string
	Session     string
	SendContext bool
	Pos         token.Pos
}

// Tap binds a channel-name pattern to a wire-tap.
type Tap struct {
	Pattern string
	WireTap string
	Pos     token.Pos
}

// Channel declares a channel created at startup.
type Channel struct {
	Name string
	Pos  token.Pos
}

// Session returns the named session, if declared.
func (c *Config) Session(name string) (Session, bool) {
	for _, s := range c.Sessions {
		if s.Name == name {
			return s, true
		}
	}
	return Session{}, false
}

// WireTap returns the named wire-tap, if declared.
func (c *Config) WireTap(name string) (WireTap, bool) {
	for _, w := range c.WireTaps {
		if w.Name == name {
			return w, true
		}
	}
	return WireTap{}, false
}

// StatementCount returns the number of statements across all sessions.
func (c *Config) StatementCount() int {
	n := 0
	for _, s := range c.Sessions {
		n += len(s.Statements)
	}
	return n
}
