// Package clipboard snapshots, writes and restores the system clipboard and sends the
// paste keystroke, all from one OS thread.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"dictabridge/internal/domain"
	"dictabridge/internal/ports"
)

// ErrClosed is returned once the bridge worker has stopped.
var ErrClosed = errors.New("clipboard bridge closed")

// Backend reads and writes clipboard text.
type Backend interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// Keystroker sends the platform paste gesture to the foreground application.
type Keystroker interface {
	Paste() error
}

// Config holds settle delays around the paste keystroke.
type Config struct {
	PasteDelay   time.Duration
	RestoreDelay time.Duration
}

// Bridge implements ports.Clipboard.
type Bridge struct {
	backend Backend
	keys    Keystroker
	cfg     Config
	logger  *slog.Logger

	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewBridge starts the worker that owns the clipboard.
func NewBridge(backend Backend, keys Keystroker, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		backend: backend,
		keys:    keys,
		cfg:     cfg,
		logger:  logger.With("component", "clipboard"),
		jobs:    make(chan func()),
		done:    make(chan struct{}),
	}
	go b.work()
	return b
}

// NewSystemBridge uses the OS clipboard and a virtual keyboard.
func NewSystemBridge(cfg Config, logger *slog.Logger) *Bridge {
	return NewBridge(systemBackend{}, newKeyboard(), cfg, logger)
}

func (b *Bridge) work() {
	// Some platforms require clipboard and input synthesis from a consistent thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case job := <-b.jobs:
			job()
		case <-b.done:
			return
		}
	}
}

// Close stops the worker.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

func (b *Bridge) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	result := make(chan error, 1)
	job := func() { result <- fn() }

	select {
	case b.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot captures the current clipboard text. An unreadable clipboard is recorded
// as empty so that restore clears whatever the session wrote.
func (b *Bridge) Snapshot(ctx context.Context) (ports.ClipboardSnapshot, error) {
	var snapshot ports.ClipboardSnapshot
	err := b.do(ctx, func() error {
		text, err := b.backend.ReadAll()
		if errors.Is(err, errUnsupported) {
			return err
		}
		if err != nil {
			b.logger.Debug("clipboard unreadable, treating as empty", "error", err)
			return nil
		}
		snapshot = ports.ClipboardSnapshot{Text: text, Present: true}
		return nil
	})
	if err != nil {
		return ports.ClipboardSnapshot{}, fmt.Errorf("snapshot clipboard: %w", err)
	}
	return snapshot, nil
}

// WriteAndPaste places text on the clipboard and sends the paste keystroke.
func (b *Bridge) WriteAndPaste(ctx context.Context, text string) error {
	return b.do(ctx, func() error {
		if err := b.backend.WriteAll(text); err != nil {
			return fmt.Errorf("write clipboard: %w", err)
		}
		sleep(b.cfg.PasteDelay)

		if err := b.keys.Paste(); err != nil {
			return fmt.Errorf("%w: send paste keystroke: %w", domain.ErrPermission, err)
		}
		return nil
	})
}

// Restore writes the snapshot back once the target has had time to read the paste.
func (b *Bridge) Restore(ctx context.Context, snapshot ports.ClipboardSnapshot) error {
	return b.do(ctx, func() error {
		sleep(b.cfg.RestoreDelay)
		if err := b.backend.WriteAll(snapshot.Text); err != nil {
			return fmt.Errorf("restore clipboard: %w", err)
		}
		return nil
	})
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
