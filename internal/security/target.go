package security

import (
	"fmt"
	"strings"
)

// TargetPolicy decides what happens when the paste target looks like a shell.
type TargetPolicy string

const (
	// TargetPolicySanitize pastes the shell-sanitized text.
	TargetPolicySanitize TargetPolicy = "sanitize"
	// TargetPolicyConfirm asks before pasting; without a confirmer the paste is skipped.
	TargetPolicyConfirm TargetPolicy = "confirm"
	// TargetPolicySkip never pastes into a shell-like target.
	TargetPolicySkip TargetPolicy = "skip"
)

// ParseTargetPolicy validates a configured policy name.
func ParseTargetPolicy(value string) (TargetPolicy, error) {
	switch policy := TargetPolicy(strings.ToLower(strings.TrimSpace(value))); policy {
	case "":
		return TargetPolicySanitize, nil
	case TargetPolicySanitize, TargetPolicyConfirm, TargetPolicySkip:
		return policy, nil
	default:
		return "", fmt.Errorf("unknown unsafe target policy %q", value)
	}
}

// DefaultDangerousApps lists terminal-like applications by name fragment.
var DefaultDangerousApps = []string{
	"terminal",
	"iterm",
	"warp",
	"alacritty",
	"kitty",
	"wezterm",
	"hyper",
	"ghostty",
	"konsole",
	"xterm",
	"tilix",
	"terminator",
	"tabby",
	"powershell",
	"pwsh",
	"cmd.exe",
	"conhost",
}

// TargetClassifier matches the foreground application against a deny-list.
type TargetClassifier struct {
	deny          []string
	unknownIsTerm bool
}

// NewTargetClassifier lower-cases the deny-list once. The policy applied to a shell-like
// target is owned by the session controller's Config.
func NewTargetClassifier(deny []string, unknownIsShell bool) TargetClassifier {
	normalized := make([]string, 0, len(deny))
	for _, name := range deny {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			normalized = append(normalized, name)
		}
	}
	return TargetClassifier{deny: normalized, unknownIsTerm: unknownIsShell}
}

// IsShellLike reports whether app matches the deny-list.
func (c TargetClassifier) IsShellLike(app string) bool {
	app = strings.ToLower(strings.TrimSpace(app))
	if app == "" {
		return c.unknownIsTerm
	}
	for _, name := range c.deny {
		if strings.Contains(app, name) {
			return true
		}
	}
	return false
}
