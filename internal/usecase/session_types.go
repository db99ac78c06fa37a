package usecase

import (
	"context"
	"sync"
	"time"

	"dictabridge/internal/domain"
	"dictabridge/internal/ports"
)

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn after d. Implementations decide which goroutine fn runs on.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Timer
}

type timeScheduler struct{}

func (timeScheduler) Schedule(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type activeSession struct {
	id        string
	connID    string
	state     domain.SessionState
	startedAt time.Time
	lease     *clipboardLease
	timer     Timer
	text      string
}

func (s *activeSession) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// clipboardLease owns the pre-session clipboard content until it is restored once.
type clipboardLease struct {
	clipboard ports.Clipboard
	snapshot  ports.ClipboardSnapshot

	once sync.Once
	err  error
}

func newClipboardLease(clipboard ports.Clipboard, snapshot ports.ClipboardSnapshot) *clipboardLease {
	return &clipboardLease{clipboard: clipboard, snapshot: snapshot}
}

func (l *clipboardLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.clipboard.Restore(ctx, l.snapshot)
	})
	return l.err
}
