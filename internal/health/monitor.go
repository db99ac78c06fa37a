// Package health detects silently dead capture surfaces.
package health

import (
	"context"
	"log/slog"
	"time"

	"dictabridge/internal/transport"
)

// Transport is the part of the transport server the monitor drives.
type Transport interface {
	Peers() []transport.PeerState
	Ping(connID string) error
	Teardown(connID string, reason error)
}

// LossSink is told about every connection the monitor tears down.
type LossSink interface {
	OnTransportLost(connID string, err error)
}

// Config holds heartbeat timing.
type Config struct {
	HeartbeatInterval time.Duration
	StaleThreshold    time.Duration
	CheckResolution   time.Duration
	RequireActivity   bool
}

// Monitor pings every authenticated peer and tears down the ones that stop answering.
type Monitor struct {
	cfg       Config
	transport Transport
	sink      LossSink
	logger    *slog.Logger
	now       func() time.Time
}

func NewMonitor(cfg Config, tr Transport, sink LossSink, logger *slog.Logger) *Monitor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 45 * time.Second
	}
	if cfg.CheckResolution <= 0 || cfg.CheckResolution >= cfg.StaleThreshold {
		cfg.CheckResolution = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		transport: tr,
		sink:      sink,
		logger:    logger.With("component", "health"),
		now:       time.Now,
	}
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(m.cfg.CheckResolution)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			m.PingAll()
		case <-sweep.C:
			m.Sweep(m.now())
		}
	}
}

// PingAll sends one heartbeat to each authenticated peer.
func (m *Monitor) PingAll() {
	for _, peer := range m.transport.Peers() {
		if err := m.transport.Ping(peer.ID); err != nil {
			m.logger.Warn("send heartbeat failed", "conn", peer.ID, "error", err)
		}
	}
}

// Sweep tears down stale peers and returns their ids. Only the loss of the addressed
// peer is reported; a standby going stale leaves the session untouched. The cutoff is shortened by one
// check interval so a peer is gone no later than the configured threshold.
func (m *Monitor) Sweep(now time.Time) []string {
	cutoff := m.cfg.StaleThreshold - m.cfg.CheckResolution

	var stale []string
	for _, peer := range m.transport.Peers() {
		sincePong := now.Sub(peer.LastPongAt)
		sinceActivity := now.Sub(peer.LastActivityAt)

		if sincePong <= cutoff && (!m.cfg.RequireActivity || sinceActivity <= cutoff) {
			continue
		}

		m.logger.Warn("peer stale",
			"conn", peer.ID,
			"since_pong", sincePong.Round(time.Millisecond),
			"since_activity", sinceActivity.Round(time.Millisecond),
		)
		m.transport.Teardown(peer.ID, transport.ErrStale)
		if peer.Addressed {
			m.sink.OnTransportLost(peer.ID, transport.ErrStale)
		}
		stale = append(stale, peer.ID)
	}
	return stale
}
