package security

import (
	"sync"
	"time"
)

// Decision is the verdict for one inbound message.
type Decision struct {
	Allowed bool
	// Sustained is set once rejected messages inside the window reach the limit.
	Sustained bool
}

// RateLimiter is a sliding-window counter keyed by connection.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	accepted []time.Time
	rejected []time.Time
}

// NewRateLimiter allows limit messages per window for each key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*slidingWindow),
	}
}

// Allow records one message for key.
func (l *RateLimiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	w, ok := l.windows[key]
	if !ok {
		w = &slidingWindow{}
		l.windows[key] = w
	}
	w.accepted = prune(w.accepted, cutoff)
	w.rejected = prune(w.rejected, cutoff)

	if len(w.accepted) < l.limit {
		w.accepted = append(w.accepted, now)
		return Decision{Allowed: true}
	}

	w.rejected = append(w.rejected, now)
	return Decision{Allowed: false, Sustained: len(w.rejected) >= l.limit}
}

// Forget drops the state kept for key.
func (l *RateLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	keep := 0
	for keep < len(stamps) && !stamps[keep].After(cutoff) {
		keep++
	}
	return stamps[keep:]
}
