// Package foreground asks the desktop which application currently has focus.
package foreground

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ErrUnsupported is returned when no probe command is known for the platform.
var ErrUnsupported = errors.New("foreground application detection unsupported")

const darwinScript = `tell application "System Events" to get name of first application process whose frontmost is true`

// DefaultCommand returns the probe for the current platform.
func DefaultCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"osascript", "-e", darwinScript}
	case "linux":
		return []string{"xdotool", "getactivewindow", "getwindowclassname"}
	case "windows":
		return []string{"powershell", "-NoProfile", "-Command",
			"(Get-Process | Where-Object { $_.MainWindowHandle -eq (Add-Type -MemberDefinition '[DllImport(\"user32.dll\")] public static extern IntPtr GetForegroundWindow();' -Name W -PassThru)::GetForegroundWindow() }).ProcessName"}
	default:
		return nil
	}
}

// CommandProbe runs an external command and reads the application name from stdout.
type CommandProbe struct {
	command []string
	timeout time.Duration
}

// NewCommandProbe uses command, or the platform default when it is empty.
func NewCommandProbe(command []string, timeout time.Duration) *CommandProbe {
	if len(command) == 0 {
		command = DefaultCommand()
	}
	if timeout <= 0 {
		timeout = 750 * time.Millisecond
	}
	return &CommandProbe{command: command, timeout: timeout}
}

// ForegroundApp implements ports.ForegroundDetector.
func (p *CommandProbe) ForegroundApp(ctx context.Context) (string, error) {
	if len(p.command) == 0 {
		return "", ErrUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 100 * time.Millisecond

	if err := cmd.Run(); err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return "", fmt.Errorf("probe foreground app: %w: %s", err, detail)
		}
		return "", fmt.Errorf("probe foreground app: %w", err)
	}

	name := firstLine(stdout.String())
	if name == "" {
		return "", errors.New("probe foreground app: empty output")
	}
	return name, nil
}

func firstLine(output string) string {
	output = strings.TrimSpace(output)
	if index := strings.IndexByte(output, '\n'); index >= 0 {
		output = output[:index]
	}
	return strings.TrimSpace(output)
}
