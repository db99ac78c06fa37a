package clipboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"dictabridge/internal/domain"
	"dictabridge/internal/ports"
)

func newTestBridge(t *testing.T, backend *memoryBackend, keys *fakeKeys) *Bridge {
	t.Helper()
	bridge := NewBridge(backend, keys, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = bridge.Close() })
	return bridge
}

func TestBridgeSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	backend := &memoryBackend{text: "original"}
	keys := &fakeKeys{}
	bridge := newTestBridge(t, backend, keys)
	ctx := context.Background()

	snapshot, err := bridge.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if err := bridge.WriteAndPaste(ctx, "dictated"); err != nil {
		t.Fatalf("paste failed: %v", err)
	}
	if backend.current() != "dictated" || keys.count() != 1 {
		t.Fatalf("expected text written and pasted once")
	}
	if err := bridge.Restore(ctx, snapshot); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if backend.current() != "original" {
		t.Fatalf("expected original clipboard, got %q", backend.current())
	}
}

func TestBridgeUnreadableClipboardRestoresEmpty(t *testing.T) {
	t.Parallel()

	backend := &memoryBackend{text: "stale", readErr: errors.New("exit status 1")}
	bridge := newTestBridge(t, backend, &fakeKeys{})
	ctx := context.Background()

	snapshot, err := bridge.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snapshot.Present {
		t.Fatalf("unreadable clipboard should not be present")
	}
	if err := bridge.Restore(ctx, snapshot); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if backend.current() != "" {
		t.Fatalf("expected cleared clipboard, got %q", backend.current())
	}
}

func TestBridgeUnsupportedClipboardFails(t *testing.T) {
	t.Parallel()

	bridge := newTestBridge(t, &memoryBackend{readErr: errUnsupported}, &fakeKeys{})
	if _, err := bridge.Snapshot(context.Background()); !errors.Is(err, errUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestBridgeKeystrokeFailureIsPermissionError(t *testing.T) {
	t.Parallel()

	bridge := newTestBridge(t, &memoryBackend{}, &fakeKeys{err: errors.New("open /dev/uinput: permission denied")})
	err := bridge.WriteAndPaste(context.Background(), "text")
	if !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestBridgeClosed(t *testing.T) {
	t.Parallel()

	bridge := NewBridge(&memoryBackend{}, &fakeKeys{}, Config{}, nil)
	_ = bridge.Close()
	if _, err := bridge.Snapshot(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBridgeRespectsContext(t *testing.T) {
	t.Parallel()

	bridge := newTestBridge(t, &memoryBackend{}, &fakeKeys{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bridge.Restore(ctx, ports.ClipboardSnapshot{}); err == nil {
		t.Fatalf("expected context error")
	}
}

type memoryBackend struct {
	mu      sync.Mutex
	text    string
	readErr error
}

func (m *memoryBackend) ReadAll() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return "", m.readErr
	}
	return m.text, nil
}

func (m *memoryBackend) WriteAll(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return nil
}

func (m *memoryBackend) current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

type fakeKeys struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeKeys) Paste() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeKeys) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
