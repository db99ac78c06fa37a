package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"dictabridge/internal/clipboard"
	"dictabridge/internal/config"
	"dictabridge/internal/domain"
	"dictabridge/internal/foreground"
	"dictabridge/internal/health"
	"dictabridge/internal/hotkey"
	"dictabridge/internal/journal"
	"dictabridge/internal/ports"
	"dictabridge/internal/security"
	"dictabridge/internal/status"
	"dictabridge/internal/transport"
	"dictabridge/internal/usecase"
)

const eventQueueSize = 64

// Options supplies the loaded config and optional replacements for OS-bound parts.
type Options struct {
	Config config.Config
	Logger *slog.Logger
	// StatusOut receives human-readable status lines. Nil disables them.
	StatusOut io.Writer
	// Clipboard and Foreground default to the system implementations.
	Clipboard  ports.Clipboard
	Foreground ports.ForegroundDetector
	// DisableHotkey skips the global key hook, for headless use.
	DisableHotkey bool
}

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Credential *security.Credential
	Controller *usecase.SessionController
	Dispatcher *usecase.Dispatcher
	Transport  *transport.Server
	Static     *transport.StaticServer
	Monitor    *health.Monitor
	Journal    *journal.Journal
	Status     *status.Reporter

	loop    *usecase.EventLoop
	hotkey  *hotkey.Source
	closers []io.Closer
	logger  *slog.Logger
}

// Build wires all backend dependencies for the current runtime.
func Build(opts Options) (*Services, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := security.ParseTargetPolicy(cfg.UnsafeTargetPolicy)
	if err != nil {
		return nil, err
	}
	guard, err := security.NewShellGuard(cfg.DestructiveTokens, cfg.TokenReplacement)
	if err != nil {
		return nil, fmt.Errorf("destructive tokens: %w", err)
	}
	var keys []string
	if !opts.DisableHotkey {
		if keys, err = hotkey.ParseChord(cfg.HotkeyChord); err != nil {
			return nil, err
		}
	}
	credential, err := security.NewCredential()
	if err != nil {
		return nil, err
	}

	s := &Services{Config: cfg, Credential: credential, logger: logger}

	s.Journal, err = journal.Open(cfg.Journal.Path, cfg.JournalRetention(), logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Journal)

	clip := opts.Clipboard
	if clip == nil {
		bridge := clipboard.NewSystemBridge(clipboard.Config{
			PasteDelay:   cfg.PasteDelay(),
			RestoreDelay: cfg.RestoreDelay(),
		}, logger)
		s.closers = append(s.closers, bridge)
		clip = bridge
	}
	probe := opts.Foreground
	if probe == nil {
		probe = foreground.NewCommandProbe(cfg.ForegroundCommand, 0)
	}

	s.Status = status.NewReporter(opts.StatusOut, logger)
	s.Transport = transport.NewServer(transport.Config{
		Addr:             cfg.TransportAddr(),
		HandshakeTimeout: cfg.HandshakeTimeout(),
		RateLimit:        cfg.RateLimit.Requests,
		RateWindow:       cfg.RateWindow(),
	}, credential, logger)
	s.Static = transport.NewStaticServer(cfg.StaticAddr(), cfg.EntryDocument, logger)

	s.loop = usecase.NewEventLoop(eventQueueSize)
	s.Controller = usecase.NewSessionController(usecase.Dependencies{
		Transport:  s.Transport,
		Clipboard:  clip,
		Sanitizer:  security.NewSanitizer(cfg.MaxTranscriptLength, guard),
		Foreground: probe,
		Classifier: security.NewTargetClassifier(cfg.DangerousAppList, cfg.UnknownTargetIsShell),
		Journal:    s.Journal,
		Events:     s.Status,
		Scheduler:  s.loop,
	}, usecase.Config{
		SessionTimeout:     cfg.SessionTimeout(),
		FinalizeTimeout:    cfg.FinalizeTimeout(),
		UnsafeTargetPolicy: policy,
	})
	s.Dispatcher = usecase.NewDispatcher(s.loop, s.Controller, logger)
	s.Transport.SetHandler(s.Dispatcher)

	s.Monitor = health.NewMonitor(health.Config{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		StaleThreshold:    cfg.StaleThreshold(),
		RequireActivity:   cfg.RequireActivity,
	}, s.Transport, s.Dispatcher, logger)

	if !opts.DisableHotkey {
		s.hotkey = hotkey.NewSource(keys, cfg.HotkeyDebounce(), logger)
	}
	return s, nil
}

// CaptureURL is the page the user opens to attach the capture surface.
func (s *Services) CaptureURL() string {
	return transport.CaptureURL(s.Config.StaticAddr(), s.Static.EntryName(), s.Credential.Token())
}

type task struct {
	name string
	run  func(context.Context) error
}

// Run starts every execution context and blocks until ctx ends or one of them fails.
func (s *Services) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := []task{
		{name: "event loop", run: s.loop.Run},
		{name: "transport", run: s.Transport.ListenAndServe},
		{name: "static server", run: s.Static.ListenAndServe},
		{name: "health monitor", run: s.Monitor.Run},
	}
	if s.hotkey != nil {
		tasks = append(tasks, task{name: "hotkey", run: func(ctx context.Context) error {
			return s.hotkey.Run(ctx, s.Dispatcher.PostToggle)
		}})
	}

	s.logger.Info("open capture page", "url", s.CaptureURL())
	s.logger.Info("credential issued", "token", s.Credential.Hint())
	s.Status.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStarted)

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			// A component returning early takes the others down with it.
			defer cancel()
			if err := t.run(gctx); err != nil {
				s.logger.Error("component stopped", "component", t.name, "error", err)
				return fmt.Errorf("%s: %w", t.name, err)
			}
			return nil
		})
	}
	err := g.Wait()

	// The loop is gone, so nothing else can touch the session now.
	s.Controller.Shutdown(context.Background())
	return err
}

// Close restores the clipboard of any session still open, then releases the journal and
// the clipboard worker.
func (s *Services) Close() error {
	s.Controller.Shutdown(context.Background())

	var all []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			all = append(all, err)
		}
	}
	s.closers = nil
	return errors.Join(all...)
}
