package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedDay = time.Date(2025, 4, 8, 14, 25, 23, 0, time.Local)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "thermstream_20250408.log", FileName("thermstream", fixedDay))
	assert.Equal(t, "thermstream_20250408.log", FileName("thermstream.log", fixedDay))
}

func TestNew_JSONToStdout(t *testing.T) {
	var stdout bytes.Buffer
	logger, closer, err := New(Options{
		Level:   "info",
		Format:  FormatJSON,
		Service: "thermstream",
		Version: "1.2.3",
		Stdout:  &stdout,
	})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("Pipeline started", "transport", "fifo")

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "Pipeline started", rec["msg"])
	assert.Equal(t, "thermstream", rec["service"])
	assert.Equal(t, "1.2.3", rec["version"])
	assert.Equal(t, "fifo", rec["transport"])
	assert.EqualValues(t, os.Getpid(), rec["pid"])
}

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{FormatText, "msg=hello"},
		{FormatPretty, "hello"},
		{"unknown", `"msg":"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var stdout bytes.Buffer
			logger, _, err := New(Options{Format: tt.format, Stdout: &stdout})
			require.NoError(t, err)

			logger.Info("hello")
			assert.Contains(t, stdout.String(), tt.want)
			assert.NotContains(t, stdout.String(), "\x1b[", "no colour when not a terminal")
		})
	}
}

func TestNew_FileWithErrorMirror(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var stdout, stderr bytes.Buffer

	logger, closer, err := New(Options{
		Level:  "debug",
		Format: FormatText,
		File:   "thermsensor",
		Dir:    dir,
		Stdout: &stdout,
		Stderr: &stderr,
		Now:    func() time.Time { return fixedDay },
	})
	require.NoError(t, err)

	logger.With("component", "producer").Debug("cycle done")
	logger.Warn("checksum mismatch")
	logger.Error("write failed", "error", "no reader")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "thermsensor_20250408.log"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "cycle done")
	assert.Contains(t, content, "component=producer")
	assert.Contains(t, content, "checksum mismatch")
	assert.Contains(t, content, "write failed")

	assert.Empty(t, stdout.String(), "file logging replaces stdout")
	assert.Contains(t, stderr.String(), "write failed")
	assert.NotContains(t, stderr.String(), "checksum mismatch")
	assert.NotContains(t, stderr.String(), "cycle done")
}

func TestNew_FileAppends(t *testing.T) {
	dir := t.TempDir()
	opts := Options{File: "thermstream", Dir: dir, Stderr: &bytes.Buffer{}, Now: func() time.Time { return fixedDay }}

	for i := 0; i < 2; i++ {
		logger, closer, err := New(opts)
		require.NoError(t, err)
		logger.Info("started")
		require.NoError(t, closer.Close())
	}

	data, err := os.ReadFile(filepath.Join(dir, "thermstream_20250408.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "started"))
}

func TestNew_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, _, err := New(Options{File: "x", Dir: file})
	assert.Error(t, err)
}
