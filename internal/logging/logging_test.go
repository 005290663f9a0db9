package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semfind/semfind/internal/logging"
)

func TestNewHandlerTextFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(logging.NewHandler(
		logging.WithWriter(&buf),
		logging.WithFormat(logging.FormatText),
	))

	logger.Info("Connection registered", "repo", "octocat/hello")

	out := buf.String()
	assert.Contains(t, out, "Connection registered")
	assert.Contains(t, out, "octocat/hello")
}

func TestNewHandlerJSONFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(logging.NewHandler(
		logging.WithWriter(&buf),
		logging.WithFormat(logging.FormatJSON),
	))

	logger.Info("Connection registered", "repo", "octocat/hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Connection registered", entry["msg"])
	assert.Equal(t, "octocat/hello", entry["repo"])
}

func TestNewHandlerHonorsLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(logging.NewHandler(
		logging.WithWriter(&buf),
		logging.WithLevel(slog.LevelWarn),
	))

	logger.Debug("dropped")
	logger.Info("also dropped")
	assert.Empty(t, buf.String())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
