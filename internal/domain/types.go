package domain

import "time"

// SessionState models the dictation session lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateListening  SessionState = "listening"
	SessionStateFinalizing SessionState = "finalizing"
	SessionStateError      SessionState = "error"
)

// Active reports whether the state holds the single-session slot.
func (s SessionState) Active() bool {
	return s == SessionStateListening || s == SessionStateFinalizing
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonStarted          SessionStateReason = "started"
	SessionReasonCaptureReady     SessionStateReason = "capture_ready"
	SessionReasonListening        SessionStateReason = "listening"
	SessionReasonFinalizing       SessionStateReason = "finalizing"
	SessionReasonSessionTimeout   SessionStateReason = "session_timeout"
	SessionReasonTranscriptPasted SessionStateReason = "transcript_pasted"
	SessionReasonPasteSkipped     SessionStateReason = "paste_skipped"
	SessionReasonNoTranscript     SessionStateReason = "no_transcript"
	SessionReasonSanitizedEmpty   SessionStateReason = "sanitized_empty"
	SessionReasonNoTransport      SessionStateReason = "no_transport"
	SessionReasonTransportLost    SessionStateReason = "transport_lost"
	SessionReasonSpeechError      SessionStateReason = "speech_error"
	SessionReasonPermissionDenied SessionStateReason = "permission_denied"
	SessionReasonClipboardFailed  SessionStateReason = "clipboard_failed"
	SessionReasonShutdown         SessionStateReason = "shutdown"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup      ErrorCode = "startup"
	ErrorCodeNoTransport  ErrorCode = "no_transport"
	ErrorCodeHandshake    ErrorCode = "handshake"
	ErrorCodeTransport    ErrorCode = "transport_lost"
	ErrorCodeSanitization ErrorCode = "sanitization"
	ErrorCodeRateLimit    ErrorCode = "rate_limit"
	ErrorCodePermission   ErrorCode = "permission"
	ErrorCodeClipboard    ErrorCode = "clipboard"
	ErrorCodeSpeech       ErrorCode = "speech"
	ErrorCodeJournal      ErrorCode = "journal"
)

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState       `json:"state"`
	Reason    SessionStateReason `json:"reason,omitempty"`
	Active    bool               `json:"active"`
	SessionID string             `json:"sessionId,omitempty"`
	StartedAt time.Time          `json:"startedAt,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// Outcome is the record kept for a finished session.
type Outcome struct {
	SessionID string             `json:"sessionId"`
	StartedAt time.Time          `json:"startedAt"`
	EndedAt   time.Time          `json:"endedAt"`
	Reason    SessionStateReason `json:"reason"`
	Chars     int                `json:"chars"`
	Target    string             `json:"target,omitempty"`
}
