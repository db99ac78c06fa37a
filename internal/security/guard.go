package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultTokenReplacement is written in place of a destructive token.
const DefaultTokenReplacement = "[blocked]"

// DefaultDestructiveTokens are neutralized before text reaches a shell-like target.
var DefaultDestructiveTokens = []string{
	"rm -rf",
	"rm -fr",
	"sudo",
	"mkfs",
	"dd if=",
	"shutdown",
	"reboot",
	"chmod -R 777",
	"/dev/sd",
	// rm with recursive or force flags in any grouping, e.g. "rm -r -f" or "rm --force".
	`s/\brm(\s+--?[a-z-]*)*\s+(-[a-z]*[rf][a-z]*|--recursive|--force)(\s+--?[a-z-]*)*/[blocked]/`,
}

const guardLoopLimit = 16

type guardRule interface {
	Apply(input string) (output string, changed bool)
}

// ShellGuard rewrites destructive command tokens until the text is stable.
//
// Entries are either a bare token (replaced by the guard's replacement), a literal
// rule "token => replacement", or a sed-style regex rule "s/pattern/replacement/flags".
type ShellGuard struct {
	rules       []guardRule
	replacement string
}

// NewShellGuard compiles the token list. A rule that would match its own replacement
// is rejected, since it could never reach a stable result.
func NewShellGuard(entries []string, replacement string) (*ShellGuard, error) {
	replacement = stripShellMeta(strings.TrimSpace(replacement))
	if replacement == "" {
		replacement = DefaultTokenReplacement
	}

	guard := &ShellGuard{replacement: replacement}
	for index, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}

		rule, err := parseGuardRule(entry, replacement)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", index+1, err)
		}
		if rule == nil {
			continue
		}
		if _, matches := rule.Apply(replacement); matches {
			return nil, fmt.Errorf("token %d: %q matches its own replacement", index+1, entry)
		}
		guard.rules = append(guard.rules, rule)
	}
	return guard, nil
}

// Apply rewrites text until no rule changes it or the loop limit is hit.
func (g *ShellGuard) Apply(text string) string {
	if g == nil || len(g.rules) == 0 {
		return text
	}

	result := text
	for i := 0; i < guardLoopLimit; i++ {
		changed := false
		for _, rule := range g.rules {
			next, ruleChanged := rule.Apply(result)
			if ruleChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result
}

func parseGuardRule(entry string, replacement string) (guardRule, error) {
	if looksLikeRegexRule(entry) {
		return parseRegexRule(entry)
	}

	from, to := entry, replacement
	if parts := strings.SplitN(entry, "=>", 2); len(parts) == 2 {
		from = strings.TrimSpace(parts[0])
		to = stripShellMeta(strings.TrimSpace(parts[1]))
	}

	// Tokens are matched against text that already lost its metacharacters.
	from = collapseSpaces(stripShellMeta(from))
	if from == "" {
		return nil, nil
	}
	return newLiteralRule(from, to)
}

type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func newLiteralRule(from string, to string) (guardRule, error) {
	pattern := regexp.QuoteMeta(from)
	if isWordRune(firstRune(from)) {
		pattern = `\b` + pattern
	}
	if isWordRune(lastRune(from)) {
		pattern += `\b`
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return literalRule{re: re, replacement: to}, nil
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseRegexRule(line string) (guardRule, error) {
	delim := line[1]

	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	prefix := "i"
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i', 'g', ' ':
		case 'm', 's':
			prefix += string(flag)
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re, replacement: replacement}, nil
}

func (r regexRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllString(input, r.replacement)
	return output, output != input
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case escaped:
			builder.WriteByte(char)
			escaped = false
		case char == '\\':
			escaped = true
			builder.WriteByte(char)
		case char == delim:
			return builder.String(), index + 1, nil
		default:
			builder.WriteByte(char)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func looksLikeRegexRule(line string) bool {
	if len(line) < 4 || line[0] != 's' {
		return false
	}
	delim := rune(line[1])
	return delim == '/' || delim == '|' || delim == '#' || delim == '@'
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0
	}
	return runes[len(runes)-1]
}
