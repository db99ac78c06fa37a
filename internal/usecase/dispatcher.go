package usecase

import (
	"context"
	"errors"
	"log/slog"

	"dictabridge/internal/domain"
	"dictabridge/internal/protocol"
	"dictabridge/internal/transport"
)

// Dispatcher hands hotkey, transport and health signals to the controller through
// the event loop, so the controller only ever runs on the loop goroutine.
type Dispatcher struct {
	loop       *EventLoop
	controller *SessionController
	logger     *slog.Logger
}

func NewDispatcher(loop *EventLoop, controller *SessionController, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{loop: loop, controller: controller, logger: logger.With("component", "dispatcher")}
}

// PostToggle is safe to call from the hotkey goroutine and never blocks it.
func (d *Dispatcher) PostToggle() {
	queued := d.loop.TryPost(func(ctx context.Context) {
		err := d.controller.RequestToggle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNoTransport):
			d.logger.Warn("toggle ignored", "error", err)
		case errors.Is(err, ErrSessionFinalizing):
			d.logger.Info("toggle ignored", "error", err)
		default:
			d.logger.Error("toggle failed", "error", err)
		}
	})
	if !queued {
		d.logger.Warn("drop toggle", "reason", "event queue full")
	}
}

// PeerReady implements transport.Handler.
func (d *Dispatcher) PeerReady(peer transport.PeerInfo) {
	d.loop.Post(func(context.Context) {
		d.controller.OnPeerReady(peer.ID)
	})
}

// PeerEvent implements transport.Handler.
func (d *Dispatcher) PeerEvent(connID string, event protocol.Event) {
	d.loop.Post(func(ctx context.Context) {
		switch event.Type {
		case protocol.EventTranscriptReady:
			if err := d.controller.OnTranscriptReady(ctx, connID, event.Text); err != nil {
				d.logger.Warn("complete session", "conn", connID, "error", err)
			}
		case protocol.EventSpeechError:
			d.controller.OnSpeechError(ctx, connID, event.Error)
		case protocol.EventReady:
			d.controller.OnPeerReady(connID)
		default:
			d.logger.Debug("peer activity", "conn", connID, "type", event.Type)
		}
	})
}

// PeerLost implements transport.Handler.
func (d *Dispatcher) PeerLost(connID string, err error) {
	d.OnTransportLost(connID, err)
}

// OnTransportLost implements health.LossSink.
func (d *Dispatcher) OnTransportLost(connID string, err error) {
	d.loop.Post(func(ctx context.Context) {
		d.controller.OnTransportLost(ctx, connID, err)
	})
}
