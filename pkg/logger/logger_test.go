package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tt := []struct {
		in  string
		exp slog.Level
	}{
		{in: "debug", exp: slog.LevelDebug},
		{in: "WARN", exp: slog.LevelWarn},
		{in: "warning", exp: slog.LevelWarn},
		{in: "error", exp: slog.LevelError},
		{in: "", exp: slog.LevelInfo},
		{in: "verbose", exp: slog.LevelInfo},
	}
	for _, tc := range tt {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.exp, ParseLevel(tc.in))
		})
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "critforce.log")
	log, closer, err := New(Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	log.Debug("tare complete", "offset_kg", 0.25)
	require.NoError(t, closer())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"tare complete"`)
	assert.Contains(t, string(b), `"offset_kg":0.25`)
}

func TestNewBadOutput(t *testing.T) {
	_, _, err := New(Config{Output: filepath.Join(t.TempDir(), "missing", "dir.log")})
	assert.Error(t, err)
}
