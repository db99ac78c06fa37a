package ports

import (
	"context"

	"dictabridge/internal/domain"
	"dictabridge/internal/protocol"
)

// Transport delivers commands to the addressed capture surface.
type Transport interface {
	Send(ctx context.Context, cmd protocol.Command) error
	// Connected returns the addressed connection id, if any.
	Connected() (string, bool)
}

// ClipboardSnapshot is the clipboard content captured when a session starts.
type ClipboardSnapshot struct {
	Text    string
	Present bool
}

// Clipboard is the scoped clipboard/paste bridge.
type Clipboard interface {
	Snapshot(ctx context.Context) (ClipboardSnapshot, error)
	WriteAndPaste(ctx context.Context, text string) error
	Restore(ctx context.Context, snapshot ClipboardSnapshot) error
}

// Sanitizer cleans transcript text for the given kind of target.
type Sanitizer interface {
	Sanitize(text string, shellTarget bool) string
}

// ForegroundDetector names the application that will receive the paste.
type ForegroundDetector interface {
	ForegroundApp(ctx context.Context) (string, error)
}

// TargetClassifier decides whether an application behaves like a shell.
type TargetClassifier interface {
	IsShellLike(app string) bool
}

// Confirmer asks the user whether to paste into a shell-like target.
type Confirmer interface {
	Confirm(ctx context.Context, app string, text string) (bool, error)
}

// Journal keeps finished session outcomes.
type Journal interface {
	Record(ctx context.Context, outcome domain.Outcome) error
}

// EventSink receives state transitions and errors for display.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	SessionError(code domain.ErrorCode, detail string)
}
