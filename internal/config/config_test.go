package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
session: orders: {
	configuration: "engine.yaml"
	unmatched: ["log", "store"]
	statement: big: {query: "total > 100", listeners: ["print", "store"]}
	statement: eu: {query: "region == \"eu\"", listeners: ["log"]}
}
session: audit: {}
wiretap: orderTap: {session: "orders", send_context: true}
tap: [
	{pattern: "order\\..*", wiretap: "orderTap"},
	{pattern: ".*\\.created", wiretap: "orderTap"},
]
channel: ["order.created", "payment.created"]
`

func writeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func codes(errs []error) []string {
	var out []string
	for _, err := range errs {
		var le *LoadError
		if errors.As(err, &le) {
			out = append(out, le.Code)
		} else {
			out = append(out, "?")
		}
	}
	return out
}

func TestLoad_Valid(t *testing.T) {
	dir := writeDir(t, map[string]string{
		"tapwire.cue": validConfig,
		"engine.yaml": "max_statements: 10\n",
	})

	cfg, errs := Load(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.FileCount)

	require.Len(t, cfg.Sessions, 2)
	orders := cfg.Sessions[0]
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, filepath.Join(dir, "engine.yaml"), orders.Configuration)
	assert.Equal(t, []string{"log", "store"}, orders.Unmatched)
	require.Len(t, orders.Statements, 2)
	assert.Equal(t, "big", orders.Statements[0].ID)
	assert.Equal(t, "total > 100", orders.Statements[0].Query)
	assert.Equal(t, []string{"print", "store"}, orders.Statements[0].Listeners)
	assert.Equal(t, `region == "eu"`, orders.Statements[1].Query)
	assert.True(t, orders.Statements[0].Pos.IsValid())

	audit, ok := cfg.Session("audit")
	require.True(t, ok)
	assert.Empty(t, audit.Statements)
	assert.Equal(t, "", audit.Configuration)

	w, ok := cfg.WireTap("orderTap")
	require.True(t, ok)
	assert.Equal(t, "orders", w.Session)
	assert.True(t, w.SendContext)

	require.Len(t, cfg.Taps, 2)
	assert.Equal(t, `order\..*`, cfg.Taps[0].Pattern)
	assert.Equal(t, `.*\.created`, cfg.Taps[1].Pattern)

	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "order.created", cfg.Channels[0].Name)
	assert.Equal(t, 2, cfg.StatementCount())
}

func TestLoad_DirectoryErrors(t *testing.T) {
	_, errs := Load(filepath.Join(t.TempDir(), "missing"), LoadModeFailFast)
	assert.Equal(t, []string{ErrCodeNotFound}, codes(errs))

	_, errs = Load(t.TempDir(), LoadModeFailFast)
	assert.Equal(t, []string{ErrCodeNoFiles}, codes(errs))

	file := filepath.Join(t.TempDir(), "x.cue")
	require.NoError(t, os.WriteFile(file, []byte("a: 1\n"), 0o644))
	_, errs = Load(file, LoadModeFailFast)
	assert.Equal(t, []string{ErrCodeNotFound}, codes(errs))
}

func TestLoad_SyntaxError(t *testing.T) {
	dir := writeDir(t, map[string]string{"bad.cue": "session: {\n"})

	cfg, errs := Load(dir, LoadModeFailFast)
	assert.Nil(t, cfg)
	require.Len(t, errs, 1)
	assert.Contains(t, []string{ErrCodeLoadFailed, ErrCodeBuildFailed}, codes(errs)[0])
}

func TestLoad_Conflict(t *testing.T) {
	dir := writeDir(t, map[string]string{
		"a.cue": `session: orders: statement: q: query: "true"` + "\n",
		"b.cue": `session: orders: statement: q: query: "false"` + "\n",
	})

	cfg, errs := Load(dir, LoadModeFailFast)
	assert.Nil(t, cfg)
	assert.Equal(t, []string{ErrCodeBuildFailed}, codes(errs))
}

func TestLoad_SemanticErrors(t *testing.T) {
	dir := writeDir(t, map[string]string{"tapwire.cue": `
session: orders: {
	configuration: "missing.yaml"
	unmatched: ["pager"]
	statement: empty: {query: ""}
	statement: broken: {query: "total >", listeners: ["email"]}
}
wiretap: t1: {session: "nope"}
tap: [{pattern: "order\\.(", wiretap: "t2"}]
channel: ["a", "a", ""]
`})

	cfg, errs := Load(dir, LoadModeCollectAll)
	require.NotNil(t, cfg)
	assert.ElementsMatch(t, []string{
		ErrCodeMissingSettings,
		ErrCodeUnknownSink,
		ErrCodeEmptyQuery,
		ErrCodeInvalidQuery,
		ErrCodeUnknownSink,
		ErrCodeUnknownSession,
		ErrCodeUnknownWireTap,
		ErrCodeInvalidPattern,
		ErrCodeInvalidChannel,
		ErrCodeInvalidChannel,
	}, codes(errs))

	_, errs = Load(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoad_UnbalancedTapPattern(t *testing.T) {
	dir := writeDir(t, map[string]string{"tapwire.cue": `
session: orders: {}
wiretap: t1: {session: "orders"}
tap: [{pattern: "order)|(.*", wiretap: "t1"}]
`})

	_, errs := Load(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeInvalidPattern}, codes(errs))
}

func TestLoad_FieldTypeErrors(t *testing.T) {
	dir := writeDir(t, map[string]string{"tapwire.cue": `
session: orders: statement: q: {query: 42}
wiretap: t: {session: "orders", send_context: "yes"}
tap: {pattern: "x"}
`})

	_, errs := Load(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeFieldType, ErrCodeFieldType, ErrCodeFieldType, ErrCodeEmptyQuery}, codes(errs))
}

func TestLoad_NoSessions(t *testing.T) {
	dir := writeDir(t, map[string]string{"tapwire.cue": "channel: [\"a\"]\n"})

	_, errs := Load(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeNoSessions}, codes(errs))
}

func TestLoadError_Format(t *testing.T) {
	err := &LoadError{Code: ErrCodeGeneric, Message: "boom"}
	assert.Equal(t, "E001: boom", err.Error())
	assert.Equal(t, 0, err.Line())
}

func TestFindCUEFiles(t *testing.T) {
	dir := writeDir(t, map[string]string{"a.cue": "", "b.txt": ""})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.cue"), nil, 0o644))

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
