package hotkey

import (
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestParseChord(t *testing.T) {
	t.Parallel()

	cases := map[string][]string{
		"":                     {"ctrl", "shift", "space"},
		"Ctrl+Shift+Space":     {"ctrl", "shift", "space"},
		"command + option + d": {"cmd", "alt", "d"},
		"ctrl+control+return":  {"ctrl", "enter"},
		"f9":                   {"f9"},
	}
	for chord, want := range cases {
		got, err := ParseChord(chord)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", chord, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%q: got %v want %v", chord, got, want)
		}
	}
}

func TestParseChordRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, chord := range []string{"ctrl+shift", "ctrl++a", "a+b"} {
		if _, err := ParseChord(chord); err == nil {
			t.Fatalf("%q: expected error", chord)
		}
	}
}

func TestSourceDebouncesRepeats(t *testing.T) {
	t.Parallel()

	source := NewSource([]string{"ctrl", "space"}, 300*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Unix(100, 0)
	source.now = func() time.Time { return now }

	toggles := 0
	toggle := func() { toggles++ }

	if !source.trigger(toggle) {
		t.Fatalf("first press should fire")
	}
	now = now.Add(100 * time.Millisecond)
	if source.trigger(toggle) {
		t.Fatalf("repeat inside the window should be suppressed")
	}
	now = now.Add(300 * time.Millisecond)
	if !source.trigger(toggle) {
		t.Fatalf("press after the window should fire")
	}
	if toggles != 2 {
		t.Fatalf("expected 2 toggles, got %d", toggles)
	}
}
