package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestOpenWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "driftline.log")
	logger, err := Open(Options{File: path, Level: "info"})
	require.NoError(t, err)

	logger.Info("mirror opened", "namespace", "abc")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"mirror opened"`)
	assert.Contains(t, string(data), `"namespace":"abc"`)
}

func TestOpenWithoutFileDiscards(t *testing.T) {
	logger, err := Open(Options{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Error("nobody hears this")
}
