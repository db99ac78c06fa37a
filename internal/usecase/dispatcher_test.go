package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"dictabridge/internal/domain"
	"dictabridge/internal/protocol"
	"dictabridge/internal/transport"
)

func TestEventLoopRunsInOrder(t *testing.T) {
	t.Parallel()

	loop := NewEventLoop(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	got := make(chan int, 3)
	for i := 0; i < 3; i++ {
		value := i
		if !loop.Post(func(context.Context) { got <- value }) {
			t.Fatalf("post %d rejected", i)
		}
	}
	for want := 0; want < 3; want++ {
		select {
		case value := <-got:
			if value != want {
				t.Fatalf("expected %d, got %d", want, value)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d", want)
		}
	}
}

func TestEventLoopTryPostDropsWhenFull(t *testing.T) {
	t.Parallel()

	loop := NewEventLoop(1)
	if !loop.TryPost(func(context.Context) {}) {
		t.Fatalf("first post should fit")
	}
	if loop.TryPost(func(context.Context) {}) {
		t.Fatalf("second post should be dropped")
	}
}

func TestEventLoopRejectsAfterStop(t *testing.T) {
	t.Parallel()

	loop := NewEventLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = loop.Run(ctx)

	if loop.Post(func(context.Context) {}) {
		t.Fatalf("post after stop should be rejected")
	}
}

func TestEventLoopScheduleRunsOnLoop(t *testing.T) {
	t.Parallel()

	loop := NewEventLoop(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	fired := make(chan struct{})
	loop.Schedule(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("scheduled callback never ran")
	}
}

func TestDispatcherRoutesToggleAndTranscript(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, false)
	loop := NewEventLoop(8)
	dispatcher := NewDispatcher(loop, h.controller, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	dispatcher.PeerReady(transport.PeerInfo{ID: "conn-1"})
	dispatcher.PostToggle()
	dispatcher.PostToggle()
	dispatcher.PeerEvent("conn-1", protocol.Event{Type: protocol.EventActivity})
	dispatcher.PeerEvent("conn-1", protocol.Event{Type: protocol.EventTranscriptReady, Text: "hello world"})

	waitForStatus(t, h.controller, domain.SessionReasonTranscriptPasted)
	if pasted := h.clipboard.pastedTexts(); len(pasted) != 1 || pasted[0] != "hello world" {
		t.Fatalf("unexpected pastes: %v", pasted)
	}
}

func TestDispatcherRoutesLoss(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, false)
	loop := NewEventLoop(8)
	dispatcher := NewDispatcher(loop, h.controller, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	dispatcher.PostToggle()
	dispatcher.PeerLost("conn-1", domain.ErrTransportLost)

	waitForStatus(t, h.controller, domain.SessionReasonTransportLost)
	if h.clipboard.current() != "before" {
		t.Fatalf("clipboard not restored")
	}
}

func waitForStatus(t *testing.T, controller *SessionController, reason domain.SessionStateReason) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if controller.Status().Reason == reason {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never reached %s, last %+v", reason, controller.Status())
}
