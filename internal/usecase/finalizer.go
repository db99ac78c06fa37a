package usecase

import (
	"context"
	"errors"
	"unicode/utf8"

	"dictabridge/internal/domain"
	"dictabridge/internal/ports"
	"dictabridge/internal/security"
)

type delivery struct {
	reason domain.SessionStateReason
	state  domain.SessionState
	chars  int
	target string
	err    error
}

type transcriptFinalizer struct {
	sanitizer  ports.Sanitizer
	foreground ports.ForegroundDetector
	classifier ports.TargetClassifier
	confirmer  ports.Confirmer
	clipboard  ports.Clipboard
	events     ports.EventSink
	policy     security.TargetPolicy
}

// Finalize sanitizes raw for the current paste target and pastes it. The caller
// restores the clipboard afterwards regardless of the outcome. Only an absent transcript
// is no_transcript; text that sanitizes to nothing, whitespace included, is rejected.
func (f transcriptFinalizer) Finalize(ctx context.Context, raw string) delivery {
	if raw == "" {
		return delivery{state: domain.SessionStateIdle, reason: domain.SessionReasonNoTranscript}
	}

	app := f.foregroundApp(ctx)
	shell := f.classifier != nil && f.classifier.IsShellLike(app)

	text := f.sanitizer.Sanitize(raw, shell)
	if text == "" {
		f.events.SessionError(domain.ErrorCodeSanitization, domain.ErrSanitizationRejected.Error())
		return delivery{state: domain.SessionStateIdle, reason: domain.SessionReasonSanitizedEmpty, target: app, err: domain.ErrSanitizationRejected}
	}

	if shell && !f.allowShellPaste(ctx, app, text) {
		return delivery{state: domain.SessionStateIdle, reason: domain.SessionReasonPasteSkipped, target: app}
	}

	// Once started, the paste completes even if ctx ends, so the outcome stays accurate.
	pasteCtx, cancel := detachedClipboardContext(ctx)
	defer cancel()
	if err := f.clipboard.WriteAndPaste(pasteCtx, text); err != nil {
		if errors.Is(err, domain.ErrPermission) {
			f.events.SessionError(domain.ErrorCodePermission, err.Error())
			return delivery{state: domain.SessionStateError, reason: domain.SessionReasonPermissionDenied, target: app, err: err}
		}
		f.events.SessionError(domain.ErrorCodeClipboard, err.Error())
		return delivery{state: domain.SessionStateError, reason: domain.SessionReasonClipboardFailed, target: app, err: err}
	}

	return delivery{
		state:  domain.SessionStateIdle,
		reason: domain.SessionReasonTranscriptPasted,
		chars:  utf8.RuneCountInString(text),
		target: app,
	}
}

func (f transcriptFinalizer) foregroundApp(ctx context.Context) string {
	if f.foreground == nil {
		return ""
	}
	app, err := f.foreground.ForegroundApp(ctx)
	if err != nil {
		return ""
	}
	return app
}

func (f transcriptFinalizer) allowShellPaste(ctx context.Context, app string, text string) bool {
	switch f.policy {
	case security.TargetPolicySkip:
		return false
	case security.TargetPolicyConfirm:
		if f.confirmer == nil {
			return false
		}
		ok, err := f.confirmer.Confirm(ctx, app, text)
		return err == nil && ok
	default:
		return true
	}
}
