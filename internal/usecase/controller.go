package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dictabridge/internal/domain"
	"dictabridge/internal/ports"
	"dictabridge/internal/protocol"
	"dictabridge/internal/security"
)

// ErrSessionFinalizing rejects a toggle while the previous stop is still completing.
var ErrSessionFinalizing = errors.New("session is finalizing")

// clipboardHandoffTimeout bounds a paste or restore that outlives its caller's context.
const clipboardHandoffTimeout = 5 * time.Second

// Config controls session timing and paste policy.
type Config struct {
	SessionTimeout     time.Duration
	FinalizeTimeout    time.Duration
	UnsafeTargetPolicy security.TargetPolicy
}

// Dependencies are the collaborators a controller coordinates. Foreground, Classifier,
// Confirmer, Journal and Scheduler are optional.
type Dependencies struct {
	Transport  ports.Transport
	Clipboard  ports.Clipboard
	Sanitizer  ports.Sanitizer
	Foreground ports.ForegroundDetector
	Classifier ports.TargetClassifier
	Confirmer  ports.Confirmer
	Journal    ports.Journal
	Events     ports.EventSink
	Scheduler  Scheduler
}

// SessionController owns the single dictation session and its state machine.
type SessionController struct {
	transport ports.Transport
	clipboard ports.Clipboard
	journal   ports.Journal
	events    ports.EventSink
	scheduler Scheduler
	finalizer transcriptFinalizer
	cfg       Config
	now       func() time.Time

	mu      sync.Mutex
	current *activeSession

	statusMu sync.RWMutex
	status   domain.Status
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 10 * time.Second
	}
	if cfg.UnsafeTargetPolicy == "" {
		cfg.UnsafeTargetPolicy = security.TargetPolicySanitize
	}
	if deps.Scheduler == nil {
		deps.Scheduler = timeScheduler{}
	}

	return &SessionController{
		transport: deps.Transport,
		clipboard: deps.Clipboard,
		journal:   deps.Journal,
		events:    deps.Events,
		scheduler: deps.Scheduler,
		finalizer: transcriptFinalizer{
			sanitizer:  deps.Sanitizer,
			foreground: deps.Foreground,
			classifier: deps.Classifier,
			confirmer:  deps.Confirmer,
			clipboard:  deps.Clipboard,
			events:     deps.Events,
			policy:     cfg.UnsafeTargetPolicy,
		},
		cfg:    cfg,
		now:    time.Now,
		status: domain.Status{State: domain.SessionStateIdle},
	}
}

// RequestToggle starts a session when idle and stops it when listening.
func (c *SessionController) RequestToggle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.current == nil:
		return c.startLocked(ctx)
	case c.current.state == domain.SessionStateListening:
		return c.stopLocked(ctx, c.current, domain.SessionReasonFinalizing)
	default:
		return ErrSessionFinalizing
	}
}

// OnTranscriptReady completes the session with the surface's final text. Results for
// no session, or from a connection other than the session's, are ignored.
func (c *SessionController) OnTranscriptReady(ctx context.Context, connID string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.current
	if active == nil || !active.ownedBy(connID) {
		return nil
	}

	active.cancelTimer()
	active.text = text

	result := c.finalizer.Finalize(ctx, active.text)
	c.releaseLease(ctx, active)
	c.finishSession(ctx, active, result.state, result.reason, result.chars, result.target)
	return result.err
}

// OnTransportLost aborts the session bound to connID. An empty connID matches any session.
func (c *SessionController) OnTransportLost(ctx context.Context, connID string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.current
	if active == nil {
		if c.Status().Reason != domain.SessionReasonTransportLost {
			c.setStatus(domain.Status{State: domain.SessionStateIdle, Reason: domain.SessionReasonTransportLost})
			c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonTransportLost)
		}
		return
	}
	if !active.ownedBy(connID) {
		return
	}

	if cause == nil {
		cause = domain.ErrTransportLost
	}
	c.abortSession(ctx, active, domain.SessionReasonTransportLost, domain.ErrorCodeTransport, cause)
}

// Shutdown discards the active session, if any, and restores the clipboard. It is called
// once the event loop has stopped and before the clipboard bridge is closed.
func (c *SessionController) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.current
	if active == nil {
		return
	}
	active.cancelTimer()
	active.text = ""
	c.releaseLease(ctx, active)
	c.finishSession(context.WithoutCancel(ctx), active, domain.SessionStateIdle, domain.SessionReasonShutdown, 0, "")
}

// OnSessionTimeout stops a session that is still listening. Timers for other sessions
// or for a session already finalizing are stale and ignored.
func (c *SessionController) OnSessionTimeout(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.current
	if active == nil || active.id != sessionID || active.state != domain.SessionStateListening {
		return nil
	}
	return c.stopLocked(ctx, active, domain.SessionReasonSessionTimeout)
}

// OnSpeechError aborts the session when the capture surface reports a recognition failure.
func (c *SessionController) OnSpeechError(ctx context.Context, connID string, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.current
	if active == nil || !active.ownedBy(connID) {
		return
	}
	if message == "" {
		message = "speech recognition failed"
	}
	c.abortSession(ctx, active, domain.SessionReasonSpeechError, domain.ErrorCodeSpeech, errors.New(message))
}

// OnPeerReady records that a capture surface is addressable.
func (c *SessionController) OnPeerReady(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return
	}
	c.setStatus(domain.Status{State: domain.SessionStateIdle, Reason: domain.SessionReasonCaptureReady})
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonCaptureReady)
}

// Status returns the current backend status without waiting for a transition.
func (c *SessionController) Status() domain.Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *SessionController) startLocked(ctx context.Context) error {
	connID, ok := c.transport.Connected()
	if !ok {
		c.setStatus(domain.Status{State: domain.SessionStateIdle, Reason: domain.SessionReasonNoTransport})
		c.events.SessionError(domain.ErrorCodeNoTransport, domain.ErrNoTransport.Error())
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonNoTransport)
		return domain.ErrNoTransport
	}

	snapshot, err := c.clipboard.Snapshot(ctx)
	if err != nil {
		code, reason := domain.ErrorCodeClipboard, domain.SessionReasonClipboardFailed
		if errors.Is(err, domain.ErrPermission) {
			code, reason = domain.ErrorCodePermission, domain.SessionReasonPermissionDenied
		}
		c.setStatus(domain.Status{State: domain.SessionStateError, Reason: reason})
		c.events.SessionError(code, err.Error())
		c.events.SessionStateChanged(domain.SessionStateError, reason)
		return fmt.Errorf("snapshot clipboard: %w", err)
	}

	active := &activeSession{
		id:        uuid.NewString(),
		connID:    connID,
		state:     domain.SessionStateListening,
		startedAt: c.now(),
		lease:     newClipboardLease(c.clipboard, snapshot),
	}
	c.current = active

	if err := c.transport.Send(ctx, protocol.NewCommand(protocol.CommandStartListening)); err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrTransportLost, err)
		c.abortSession(ctx, active, domain.SessionReasonTransportLost, domain.ErrorCodeTransport, err)
		return err
	}

	c.enter(active, domain.SessionStateListening, domain.SessionReasonStarted)
	active.timer = c.scheduleFor(ctx, c.cfg.SessionTimeout, func(ctx context.Context) {
		_ = c.OnSessionTimeout(ctx, active.id)
	})
	return nil
}

func (c *SessionController) stopLocked(ctx context.Context, active *activeSession, reason domain.SessionStateReason) error {
	active.cancelTimer()
	active.state = domain.SessionStateFinalizing

	if err := c.transport.Send(ctx, protocol.NewCommand(protocol.CommandStopListening)); err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrTransportLost, err)
		c.abortSession(ctx, active, domain.SessionReasonTransportLost, domain.ErrorCodeTransport, err)
		return err
	}

	c.enter(active, domain.SessionStateFinalizing, reason)
	active.timer = c.scheduleFor(ctx, c.cfg.FinalizeTimeout, func(ctx context.Context) {
		c.onFinalizeTimeout(ctx, active.id)
	})
	return nil
}

func (c *SessionController) onFinalizeTimeout(ctx context.Context, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.current
	if active == nil || active.id != sessionID || active.state != domain.SessionStateFinalizing {
		return
	}
	active.timer = nil
	c.releaseLease(ctx, active)
	c.finishSession(ctx, active, domain.SessionStateIdle, domain.SessionReasonNoTranscript, 0, "")
}

// scheduleFor runs fn later with a context that outlives the caller's request.
func (c *SessionController) scheduleFor(ctx context.Context, d time.Duration, fn func(context.Context)) Timer {
	detached := context.WithoutCancel(ctx)
	return c.scheduler.Schedule(d, func() { fn(detached) })
}

func (c *SessionController) abortSession(ctx context.Context, active *activeSession, reason domain.SessionStateReason, code domain.ErrorCode, cause error) {
	active.cancelTimer()
	active.text = ""
	c.releaseLease(ctx, active)
	c.events.SessionError(code, cause.Error())
	c.finishSession(ctx, active, domain.SessionStateIdle, reason, 0, "")
}

// releaseLease writes the snapshot back even when ctx is already done.
func (c *SessionController) releaseLease(ctx context.Context, active *activeSession) {
	releaseCtx, cancel := detachedClipboardContext(ctx)
	defer cancel()
	if err := active.lease.Release(releaseCtx); err != nil {
		c.events.SessionError(domain.ErrorCodeClipboard, fmt.Sprintf("restore clipboard: %v", err))
	}
}

func (c *SessionController) enter(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	active.state = state
	c.setStatus(domain.Status{
		State:     state,
		Reason:    reason,
		Active:    state.Active(),
		SessionID: active.id,
		StartedAt: active.startedAt,
	})
	c.events.SessionStateChanged(state, reason)
}

func (c *SessionController) finishSession(
	ctx context.Context,
	active *activeSession,
	state domain.SessionState,
	reason domain.SessionStateReason,
	chars int,
	target string,
) {
	active.cancelTimer()
	active.state = domain.SessionStateIdle
	if c.current == active {
		c.current = nil
	}

	c.setStatus(domain.Status{State: state, Reason: reason})
	c.events.SessionStateChanged(state, reason)

	if c.journal == nil {
		return
	}
	outcome := domain.Outcome{
		SessionID: active.id,
		StartedAt: active.startedAt,
		EndedAt:   c.now(),
		Reason:    reason,
		Chars:     chars,
		Target:    target,
	}
	if err := c.journal.Record(ctx, outcome); err != nil {
		c.events.SessionError(domain.ErrorCodeJournal, fmt.Sprintf("record session: %v", err))
	}
}

func (c *SessionController) setStatus(status domain.Status) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status = status
}

func (s *activeSession) ownedBy(connID string) bool {
	return connID == "" || connID == s.connID
}

func detachedClipboardContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), clipboardHandoffTimeout)
}
