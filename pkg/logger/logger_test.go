package logger

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec)
	}
	return out
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "escrow.log")
	l, err := New(Config{Level: "warn", Format: "json", Output: "file", FilePath: path, MaxSize: 1, Service: "escrow"})
	require.NoError(t, err)

	l.Info("dropped below level")
	l.Warn("auto release skipped", "account_id", "ESC-1")

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "auto release skipped", lines[0]["msg"])
	assert.Equal(t, "escrow", lines[0]["service"])
	assert.Equal(t, "ESC-1", lines[0]["account_id"])
}

func TestEnrichAddsTraceFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	l, err := New(Config{Level: "debug", Output: "file", FilePath: path})
	require.NoError(t, err)

	ctx := ContextWithRequestID(ContextWithTraceID(context.Background(), "trace-1"), "req-1")
	assert.Equal(t, "trace-1", TraceID(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))

	Enrich(ctx, l).Debug("signal received")
	Enrich(context.Background(), l).Debug("no trace")

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "trace-1", lines[0]["trace_id"])
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestTraceIDToleratesMissingValues(t *testing.T) {
	var missing context.Context
	assert.Empty(t, TraceID(context.Background()))
	assert.Empty(t, RequestID(missing))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestInitReplacesGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		globalLogger = nil
	})

	path := filepath.Join(t.TempDir(), "global.log")
	l, err := Init(Config{Output: "file", FilePath: path})
	require.NoError(t, err)
	assert.Same(t, l, Get())

	Info(ContextWithTraceID(context.Background(), "trace-9"), "ledger opened")
	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace-9", lines[0]["trace_id"])
}
