package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tapwire/internal/config"
)

func TestNewLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := newLogger(config.Env{LogLevel: "warn", LogFormat: "text"}, false, buf)
	require.NoError(t, err)

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger, err = newLogger(config.Env{LogLevel: "warn", LogFormat: "text"}, true, buf)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug), "verbose forces debug")
}

func TestNewLogger_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := newLogger(config.Env{LogLevel: "info", LogFormat: "json"}, false, buf)
	require.NoError(t, err)

	logger.Info("statement matched", "statement_id", "big")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "statement matched", line["msg"])
	assert.Equal(t, "big", line["statement_id"])
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := newLogger(config.Env{LogLevel: "chatty", LogFormat: "text"}, false, &bytes.Buffer{})
	assert.ErrorContains(t, err, "TAPWIRE_LOG_LEVEL")

	_, err = newLogger(config.Env{LogLevel: "info", LogFormat: "xml"}, false, &bytes.Buffer{})
	assert.ErrorContains(t, err, "TAPWIRE_LOG_FORMAT")
}
