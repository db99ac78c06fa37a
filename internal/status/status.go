// Package status turns session transitions and errors into human-readable status lines.
package status

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"dictabridge/internal/domain"
)

// Line is the last status shown to the user.
type Line struct {
	State   domain.SessionState
	Reason  domain.SessionStateReason
	Message string
}

// Reporter implements ports.EventSink by logging every transition and echoing a short
// line to an optional console writer.
type Reporter struct {
	logger *slog.Logger
	out    io.Writer

	mu   sync.Mutex
	last Line
}

func NewReporter(out io.Writer, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		logger: logger.With("component", "status"),
		out:    out,
		last:   Line{State: domain.SessionStateIdle},
	}
}

// SessionStateChanged records and prints a lifecycle transition.
func (r *Reporter) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	line := Line{State: state, Reason: reason, Message: sessionReasonMessage(reason)}

	r.mu.Lock()
	r.last = line
	r.mu.Unlock()

	r.logger.Info("session state changed", "state", state, "reason", reason)
	r.print("[%s] %s", state, line.Message)
}

// SessionError logs a backend error at a severity matching its code.
func (r *Reporter) SessionError(code domain.ErrorCode, detail string) {
	message := errorMessage(code, detail)
	r.logger.Log(context.Background(), errorLevel(code), "session error", "code", code, "message", message, "detail", detail)
	r.print("[error] %s", message)
}

// Last returns the most recent transition.
func (r *Reporter) Last() Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reporter) print(format string, args ...any) {
	if r.out == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

func errorLevel(code domain.ErrorCode) slog.Level {
	switch code {
	case domain.ErrorCodeSanitization:
		return slog.LevelInfo
	case domain.ErrorCodePermission, domain.ErrorCodeStartup:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonStarted:
		return "Ready"
	case domain.SessionReasonCaptureReady:
		return "Capture page connected"
	case domain.SessionReasonListening:
		return "Listening..."
	case domain.SessionReasonFinalizing:
		return "Stopped. Waiting for transcript..."
	case domain.SessionReasonSessionTimeout:
		return "Session timed out"
	case domain.SessionReasonTranscriptPasted:
		return "Transcript pasted"
	case domain.SessionReasonPasteSkipped:
		return "Paste skipped for unsafe target"
	case domain.SessionReasonNoTranscript:
		return "No transcript captured"
	case domain.SessionReasonSanitizedEmpty:
		return "Transcript discarded after sanitization"
	case domain.SessionReasonNoTransport:
		return "Capture page not connected"
	case domain.SessionReasonTransportLost:
		return "Capture page disconnected"
	case domain.SessionReasonSpeechError:
		return "Speech recognition failed"
	case domain.SessionReasonPermissionDenied:
		return "Paste blocked; grant accessibility permission"
	case domain.SessionReasonClipboardFailed:
		return "Clipboard write failed"
	case domain.SessionReasonShutdown:
		return "Shutting down; session discarded"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeNoTransport:
		return "No capture page connected"
	case domain.ErrorCodeHandshake:
		return "Capture page failed to authenticate"
	case domain.ErrorCodeTransport:
		return "Capture page connection lost"
	case domain.ErrorCodeSanitization:
		return "Transcript rejected by sanitizer"
	case domain.ErrorCodeRateLimit:
		return "Capture page is sending too many messages"
	case domain.ErrorCodePermission:
		return "Automation permission denied"
	case domain.ErrorCodeClipboard:
		return "Clipboard operation failed"
	case domain.ErrorCodeSpeech:
		return "Speech recognition error"
	case domain.ErrorCodeJournal:
		return "Session history unavailable"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
