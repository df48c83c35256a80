package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expect    slog.Level
		expectErr bool
	}{
		{"debug", "debug", slog.LevelDebug, false},
		{"default-info", "", slog.LevelInfo, false},
		{"warn", "WARNING", slog.LevelWarn, false},
		{"error", "error", slog.LevelError, false},
		{"invalid", "verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := levelFromString(tt.input)
			if tt.expectErr {
				assert.ErrorContains(t, err, "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expect, level)
		})
	}
}

func TestInitAndL(t *testing.T) {
	t.Cleanup(func() {
		once = sync.Once{}
		global = nil
	})

	assert.Same(t, slog.Default(), L())

	l, err := Init(Config{Level: "debug", Environment: "dev"})
	require.NoError(t, err)
	assert.Same(t, l, L())

	again, err := Init(Config{Level: "error"})
	require.NoError(t, err)
	assert.Same(t, l, again)
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collab.log")

	l, err := New(Config{Level: "info", Environment: "prod", File: path})
	require.NoError(t, err)
	l.Info("document_loaded", "document_id", "doc-1")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"document_id":"doc-1"`)
}
