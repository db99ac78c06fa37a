package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dictabridge/internal/config"
	"dictabridge/internal/domain"
	"dictabridge/internal/ports"
	"dictabridge/internal/protocol"
)

type fakeClipboard struct {
	mu       sync.Mutex
	content  string
	pasted   []string
	restores int
}

func (c *fakeClipboard) Snapshot(context.Context) (ports.ClipboardSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ports.ClipboardSnapshot{Text: c.content, Present: true}, nil
}

func (c *fakeClipboard) WriteAndPaste(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = text
	c.pasted = append(c.pasted, text)
	return nil
}

func (c *fakeClipboard) Restore(_ context.Context, snapshot ports.ClipboardSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = snapshot.Text
	c.restores++
	return nil
}

func (c *fakeClipboard) snapshot() (string, []string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content, append([]string(nil), c.pasted...), c.restores
}

type fixedForeground string

func (f fixedForeground) ForegroundApp(context.Context) (string, error) {
	return string(f), nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults(t.TempDir())
	cfg.TransportPort = 0
	cfg.StaticPort = 0
	cfg.Journal.Path = ""
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readCommand(t *testing.T, conn *websocket.Conn) protocol.Command {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var cmd protocol.Command
	if err := conn.ReadJSON(&cmd); err != nil {
		t.Fatalf("read command: %v", err)
	}
	return cmd
}

func TestBuildSuccess(t *testing.T) {
	t.Parallel()

	services, err := Build(Options{
		Config:        testConfig(t),
		Logger:        discardLogger(),
		Clipboard:     &fakeClipboard{},
		Foreground:    fixedForeground("notes"),
		DisableHotkey: true,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Controller == nil || services.Transport == nil || services.Monitor == nil {
		t.Fatalf("expected assembled services")
	}
	url := services.CaptureURL()
	if !strings.Contains(url, "?token="+services.Credential.Token()) {
		t.Fatalf("capture url should carry the credential: %q", url)
	}
	if status := services.Controller.Status(); status.State != domain.SessionStateIdle {
		t.Fatalf("expected idle status, got %+v", status)
	}
}

func TestBuildFailsOnInvalidPolicy(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.UnsafeTargetPolicy = "sometimes"
	if _, err := Build(Options{Config: cfg, Logger: discardLogger(), Clipboard: &fakeClipboard{}, DisableHotkey: true}); err == nil {
		t.Fatalf("expected build error due to invalid policy")
	}
}

func TestBuildFailsOnInvalidChord(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.HotkeyChord = "ctrl+shift"
	if _, err := Build(Options{Config: cfg, Logger: discardLogger(), Clipboard: &fakeClipboard{}}); err == nil {
		t.Fatalf("expected build error due to chord without a key")
	}
}

// connectPeer dials the running transport and authenticates as the capture surface.
func connectPeer(t *testing.T, services *Services) *websocket.Conn {
	t.Helper()

	waitUntil(t, "transport listener", func() bool {
		return !strings.HasSuffix(services.Transport.Addr(), ":0")
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+services.Transport.Addr()+"/", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.WriteJSON(protocol.Auth{Type: protocol.TypeAuth, Token: services.Credential.Token()}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	var reply protocol.AuthReply
	if err := conn.ReadJSON(&reply); err != nil || reply.Type != protocol.TypeAuthSuccess {
		t.Fatalf("expected auth success, got %+v (%v)", reply, err)
	}
	waitUntil(t, "peer ready", func() bool {
		return services.Controller.Status().Reason == domain.SessionReasonCaptureReady
	})
	return conn
}

func TestRunDeliversTranscriptEndToEnd(t *testing.T) {
	t.Parallel()

	clip := &fakeClipboard{content: "original"}
	services, err := Build(Options{
		Config:        testConfig(t),
		Logger:        discardLogger(),
		Clipboard:     clip,
		Foreground:    fixedForeground("notes"),
		DisableHotkey: true,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- services.Run(ctx) }()

	conn := connectPeer(t, services)

	services.Dispatcher.PostToggle()
	if cmd := readCommand(t, conn); cmd.Type != protocol.CommandStartListening {
		t.Fatalf("expected START_LISTENING, got %+v", cmd)
	}

	services.Dispatcher.PostToggle()
	if cmd := readCommand(t, conn); cmd.Type != protocol.CommandStopListening {
		t.Fatalf("expected STOP_LISTENING, got %+v", cmd)
	}

	event, _ := json.Marshal(protocol.Event{Type: protocol.EventTranscriptReady, Text: "hello world"})
	if err := conn.WriteMessage(websocket.TextMessage, event); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	waitUntil(t, "journal entry", func() bool {
		outcomes, err := services.Journal.Recent(context.Background(), 1)
		return err == nil && len(outcomes) == 1
	})
	outcomes, _ := services.Journal.Recent(context.Background(), 1)
	if outcomes[0].Reason != domain.SessionReasonTranscriptPasted || outcomes[0].Chars != len("hello world") {
		t.Fatalf("unexpected outcome: %+v", outcomes[0])
	}

	content, pasted, restores := clip.snapshot()
	if len(pasted) != 1 || pasted[0] != "hello world" {
		t.Fatalf("unexpected pastes: %v", pasted)
	}
	if restores != 1 || content != "original" {
		t.Fatalf("expected clipboard restored once, got %d restores and %q", restores, content)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestRunStopRestoresClipboardOfOpenSession(t *testing.T) {
	t.Parallel()

	clip := &fakeClipboard{content: "original"}
	services, err := Build(Options{
		Config:        testConfig(t),
		Logger:        discardLogger(),
		Clipboard:     clip,
		DisableHotkey: true,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- services.Run(ctx) }()

	conn := connectPeer(t, services)
	services.Dispatcher.PostToggle()
	if cmd := readCommand(t, conn); cmd.Type != protocol.CommandStartListening {
		t.Fatalf("expected START_LISTENING, got %+v", cmd)
	}
	_ = clip.WriteAndPaste(context.Background(), "partial")

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}

	content, _, restores := clip.snapshot()
	if restores != 1 || content != "original" {
		t.Fatalf("expected clipboard restored once, got %d restores and %q", restores, content)
	}
	// The peer's socket may close before the loop stops, which ends the session first.
	ended := map[domain.SessionStateReason]bool{
		domain.SessionReasonShutdown:      true,
		domain.SessionReasonTransportLost: true,
	}
	if status := services.Controller.Status(); status.Active || !ended[status.Reason] {
		t.Fatalf("unexpected status after stop: %+v", status)
	}
	outcomes, err := services.Journal.Recent(context.Background(), 1)
	if err != nil || len(outcomes) != 1 || !ended[outcomes[0].Reason] {
		t.Fatalf("expected one ended session, got %+v (%v)", outcomes, err)
	}

	if err := services.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, _, restores := clip.snapshot(); restores != 1 {
		t.Fatalf("close must not restore twice, got %d", restores)
	}
}
