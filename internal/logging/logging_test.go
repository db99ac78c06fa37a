package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTextLoggerFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Format: "text", Level: "warn"})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "key=value") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNewJSONLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Format: "JSON"})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer closer.Close()

	logger.Info("started session", "sessionId", "abc")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "started session" || record["sessionId"] != "abc" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewTeesIntoRotatingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Dir: dir})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	logger.Info("persisted line")
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "persisted line") || !strings.Contains(buf.String(), "persisted line") {
		t.Fatalf("expected line in both sinks, file=%q out=%q", data, buf.String())
	}
}

func TestNewPrettyLoggerWithoutTerminalHasNoColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Format: "pretty"})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer closer.Close()

	logger.Info("peer ready", "conn", "c1")
	out := buf.String()
	if !strings.Contains(out, "peer ready") || !strings.Contains(out, "conn=c1") {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("expected no escape codes for a non-terminal writer: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
