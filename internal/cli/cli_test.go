package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dictabridge/internal/domain"
	"dictabridge/internal/journal"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCommandPrintsEffectiveYAML(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DICTABRIDGE_CONFIG", "")
	t.Setenv("DICTABRIDGE_STATIC_PORT", "9090")

	out, err := execute(t, "config", "--log-format", "json")
	if err != nil {
		t.Fatalf("config command failed: %v", err)
	}
	for _, want := range []string{"transportPort: 8081", "staticPort: 9090", "format: json", "hotkeyChord: ctrl+shift+space"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestConfigCommandReportsParseError(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "broken.yaml")
	writeFile(t, path, "rateLimit: [\n")

	if _, err := execute(t, "config", "--config", path); err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestHistoryCommandListsNewestFirst(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DICTABRIDGE_CONFIG", "")
	dir := filepath.Join(home, "journal")
	t.Setenv("DICTABRIDGE_JOURNAL_PATH", dir)

	j, err := journal.Open(dir, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	start := time.Now().Add(-time.Minute)
	records := []domain.Outcome{
		{SessionID: "one", StartedAt: start, EndedAt: start.Add(2 * time.Second), Reason: domain.SessionReasonTranscriptPasted, Chars: 12, Target: "notes"},
		{SessionID: "two", StartedAt: start.Add(10 * time.Second), EndedAt: start.Add(15 * time.Second), Reason: domain.SessionReasonTransportLost},
	}
	for _, o := range records {
		if err := j.Record(context.Background(), o); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	out, err := execute(t, "history", "-n", "1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "transport_lost") {
		t.Fatalf("expected newest session, got:\n%s", out)
	}
	if strings.Contains(out, "transcript_pasted") {
		t.Fatalf("limit not applied:\n%s", out)
	}
}

func TestHistoryCommandEmptyJournal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DICTABRIDGE_CONFIG", "")
	t.Setenv("DICTABRIDGE_JOURNAL_PATH", filepath.Join(home, "fresh"))

	out, err := execute(t, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "No sessions recorded.") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func writeFile(t *testing.T, path string, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
