// Package hotkey turns a global key chord into an abstract toggle signal.
package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// DefaultChord is used when no chord is configured.
const DefaultChord = "ctrl+shift+space"

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"shift":   "shift",
	"alt":     "alt",
	"option":  "alt",
	"opt":     "alt",
	"cmd":     "cmd",
	"command": "cmd",
	"super":   "cmd",
	"meta":    "cmd",
	"win":     "cmd",
}

var keyAliases = map[string]string{
	"return":   "enter",
	"escape":   "esc",
	"spacebar": "space",
}

// ParseChord converts "ctrl+shift+space" into gohook key names, modifiers first.
// Exactly one non-modifier key is required.
func ParseChord(chord string) ([]string, error) {
	chord = strings.TrimSpace(strings.ToLower(chord))
	if chord == "" {
		chord = DefaultChord
	}

	var modifiers []string
	var key string
	seen := make(map[string]bool)
	for _, part := range strings.Split(chord, "+") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("invalid hotkey %q: empty key", chord)
		}
		if modifier, ok := modifierAliases[part]; ok {
			if !seen[modifier] {
				seen[modifier] = true
				modifiers = append(modifiers, modifier)
			}
			continue
		}
		if alias, ok := keyAliases[part]; ok {
			part = alias
		}
		if key != "" {
			return nil, fmt.Errorf("invalid hotkey %q: more than one key (%s, %s)", chord, key, part)
		}
		key = part
	}
	if key == "" {
		return nil, fmt.Errorf("invalid hotkey %q: no key besides modifiers", chord)
	}
	return append(modifiers, key), nil
}

// Source listens for the chord and calls toggle for each press.
type Source struct {
	keys     []string
	debounce time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastFire time.Time
}

func NewSource(keys []string, debounce time.Duration, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		keys:     keys,
		debounce: debounce,
		logger:   logger.With("component", "hotkey"),
		now:      time.Now,
	}
}

// Run blocks on the OS hook until ctx is done. toggle must not block.
func (s *Source) Run(ctx context.Context, toggle func()) error {
	hook.Register(hook.KeyDown, s.keys, func(hook.Event) {
		s.trigger(toggle)
	})

	events := hook.Start()
	done := hook.Process(events)
	s.logger.Info("hotkey registered", "chord", strings.Join(s.keys, "+"))

	select {
	case <-ctx.Done():
		hook.End()
		select {
		case <-done:
		case <-time.After(time.Second):
			s.logger.Warn("hotkey hook did not stop in time")
		}
		return nil
	case <-done:
		return fmt.Errorf("hotkey hook stopped unexpectedly")
	}
}

// trigger suppresses auto-repeat key-down events inside the debounce window.
func (s *Source) trigger(toggle func()) bool {
	s.mu.Lock()
	now := s.now()
	if !s.lastFire.IsZero() && now.Sub(s.lastFire) < s.debounce {
		s.mu.Unlock()
		return false
	}
	s.lastFire = now
	s.mu.Unlock()

	toggle()
	return true
}
