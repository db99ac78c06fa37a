package usecase

import (
	"context"
	"sync"
	"time"
)

// EventLoop runs posted work on a single goroutine in arrival order.
type EventLoop struct {
	queue   chan func(context.Context)
	stopped chan struct{}
	once    sync.Once
}

func NewEventLoop(size int) *EventLoop {
	if size <= 0 {
		size = 64
	}
	return &EventLoop{
		queue:   make(chan func(context.Context), size),
		stopped: make(chan struct{}),
	}
}

// Run consumes the queue until ctx is done.
func (l *EventLoop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stopped) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.queue:
			fn(ctx)
		}
	}
}

// Post waits for queue space. It reports false once the loop has stopped.
func (l *EventLoop) Post(fn func(context.Context)) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// TryPost never blocks; a full queue drops fn.
func (l *EventLoop) TryPost(fn func(context.Context)) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	default:
		return false
	}
}

// Schedule posts fn to the loop after d.
func (l *EventLoop) Schedule(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() {
		l.Post(func(context.Context) { fn() })
	})
}
