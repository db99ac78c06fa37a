package security

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxTranscriptLength caps delivered text, counted in runes.
const DefaultMaxTranscriptLength = 2000

const maxSanitizePasses = 8

// shellMeta are the characters removed before text reaches a shell-like target.
// Square brackets stay so the guard's replacement survives another pass.
const shellMeta = ";&|$`<>\\!*?{}()~\"'#"

// Sanitizer turns raw transcript text into something safe to paste.
type Sanitizer struct {
	maxLength int
	guard     *ShellGuard
}

// NewSanitizer builds a sanitizer. A nil guard disables token rewriting.
func NewSanitizer(maxLength int, guard *ShellGuard) *Sanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxTranscriptLength
	}
	return &Sanitizer{maxLength: maxLength, guard: guard}
}

// Sanitize never fails; the worst case is an empty string. The cleaning pass is
// repeated until it reaches a fixed point, so Sanitize(Sanitize(x)) == Sanitize(x).
func (s *Sanitizer) Sanitize(text string, shellTarget bool) string {
	current := text
	for i := 0; i < maxSanitizePasses; i++ {
		next := s.pass(current, shellTarget)
		if next == current {
			return current
		}
		current = next
	}
	return ""
}

func (s *Sanitizer) pass(text string, shellTarget bool) string {
	text = strings.ToValidUTF8(text, "")
	text = norm.NFC.String(text)
	text = stripControl(text, shellTarget)

	if shellTarget {
		text = collapseSpaces(stripShellMeta(text))
		text = s.guard.Apply(text)
	}

	text = strings.TrimSpace(text)
	text = truncateRunes(text, s.maxLength)
	return strings.TrimSpace(text)
}

// stripControl drops control and format characters. Newlines and tabs survive for
// ordinary targets; for shells they become spaces so nothing is submitted.
func stripControl(text string, shellTarget bool) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\t':
			if shellTarget {
				return ' '
			}
			return r
		case '\r':
			if shellTarget {
				return ' '
			}
			return -1
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, text)
}

func stripShellMeta(text string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(shellMeta, r) {
			return -1
		}
		return r
	}, text)
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	count := 0
	for index := range text {
		if count == limit {
			return text[:index]
		}
		count++
	}
	return text
}
