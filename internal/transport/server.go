// Package transport accepts capture surface connections over a local websocket,
// authenticates them and addresses commands to a single peer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dictabridge/internal/domain"
	"dictabridge/internal/protocol"
	"dictabridge/internal/security"
)

var (
	// ErrNoPeer is returned by Send when no authenticated peer is addressed.
	ErrNoPeer = errors.New("no authenticated peer")
	// ErrStale marks a connection torn down for missing heartbeats or activity.
	ErrStale = errors.New("peer is stale")
	// ErrServerClosed is returned by operations after Close.
	ErrServerClosed = errors.New("transport server closed")
)

// PeerInfo describes a peer at the moment it becomes addressable.
type PeerInfo struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
}

// PeerState is a point-in-time view of an authenticated connection.
type PeerState struct {
	ID             string
	Addressed      bool
	ConnectedAt    time.Time
	LastPongAt     time.Time
	LastActivityAt time.Time
	PendingPing    string
}

// Handler receives connection lifecycle and inbound events. Calls for one peer are
// made from that peer's read goroutine in receive order.
type Handler interface {
	PeerReady(peer PeerInfo)
	PeerEvent(connID string, event protocol.Event)
	PeerLost(connID string, err error)
}

// Config controls handshake and inbound limits.
type Config struct {
	Addr             string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageBytes  int64
	RateLimit        int
	RateWindow       time.Duration
}

// Server is the websocket endpoint for capture surfaces.
type Server struct {
	cfg        Config
	credential *security.Credential
	limiter    *security.RateLimiter
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	now        func() time.Time

	handlerMu sync.RWMutex
	handler   Handler

	mu        sync.Mutex
	peers     map[string]*peer
	standby   []string
	addressed string
	closed    bool
	http      *http.Server
	listener  net.Listener
}

// NewServer builds a server. The handler may be attached later with SetHandler.
func NewServer(cfg Config, credential *security.Credential, logger *slog.Logger) *Server {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		credential: credential,
		limiter:    security.NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:     logger.With("component", "transport"),
		now:        time.Now,
		peers:      make(map[string]*peer),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkLoopbackOrigin,
	}
	return s
}

// SetHandler attaches the receiver of peer events.
func (s *Server) SetHandler(handler Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = handler
}

func (s *Server) currentHandler() Handler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	if s.handler == nil {
		return nopHandler{}
	}
	return s.handler
}

// Handler exposes the upgrade endpoint, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

// ListenAndServe binds the configured address and serves until ctx ends or Close.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		return ErrServerClosed
	}
	s.http = srv
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("transport listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once ListenAndServe has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Close stops accepting and drops every peer.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.http
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close(websocket.CloseGoingAway, "server shutting down")
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

// Send delivers cmd to the addressed peer.
func (s *Server) Send(ctx context.Context, cmd protocol.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.addressedPeer()
	if p == nil {
		return ErrNoPeer
	}
	if err := s.write(p, cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Type, err)
	}
	return nil
}

// Connected reports whether a peer is addressed and returns its id.
func (s *Server) Connected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addressed, s.addressed != ""
}

// Ping writes a heartbeat to one peer and records the nonce it expects back.
// The write waits for any in-flight write on the same connection.
func (s *Server) Ping(connID string) error {
	s.mu.Lock()
	p := s.peers[connID]
	s.mu.Unlock()
	if p == nil {
		return ErrNoPeer
	}

	cmd := protocol.NewCommand(protocol.CommandPing)
	cmd.Nonce = uuid.NewString()
	p.setPendingPing(cmd.Nonce)
	return s.write(p, cmd)
}

// Peers returns a snapshot of every authenticated connection.
func (s *Server) Peers() []PeerState {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	addressed := s.addressed
	s.mu.Unlock()

	states := make([]PeerState, 0, len(peers))
	for _, p := range peers {
		state := p.snapshot()
		state.Addressed = state.ID == addressed
		states = append(states, state)
	}
	return states
}

// Teardown closes a connection. Its loss is reported to the handler once, from the
// connection's read goroutine.
func (s *Server) Teardown(connID string, reason error) {
	s.mu.Lock()
	p := s.peers[connID]
	s.mu.Unlock()
	if p == nil {
		return
	}

	message := "teardown"
	if reason != nil {
		message = reason.Error()
	}
	p.setCause(reason)
	p.close(websocket.ClosePolicyViolation, message)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	p := newPeer(uuid.NewString(), conn, r.RemoteAddr, s.now(), s.cfg.WriteTimeout)
	if err := s.handshake(p); err != nil {
		s.logger.Warn("handshake failed", "conn", p.id, "remote", p.remote, "error", err)
		p.close(websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	promoted, err := s.register(p)
	if err != nil {
		p.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	if promoted {
		s.logger.Info("peer ready", "conn", p.id, "remote", p.remote)
		s.currentHandler().PeerReady(p.info())
	} else {
		s.logger.Info("peer on standby", "conn", p.id, "remote", p.remote)
	}

	err = s.readLoop(p)
	s.drop(p, err)
}

func (s *Server) handshake(p *peer) error {
	if err := p.conn.SetReadDeadline(s.now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return err
	}

	_, data, err := p.conn.ReadMessage()
	if err != nil {
		_ = p.writeRaw(protocol.EncodeAuthReply(false))
		return fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
	}

	auth, err := protocol.DecodeAuth(data)
	if err != nil || s.credential == nil || !s.credential.Validate(auth.Token) {
		_ = p.writeRaw(protocol.EncodeAuthReply(false))
		if err == nil {
			err = errors.New("invalid credential")
		}
		return fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
	}

	if err := p.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	if err := p.writeRaw(protocol.EncodeAuthReply(true)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
	}
	return nil
}

func (s *Server) register(p *peer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrServerClosed
	}

	s.peers[p.id] = p
	if s.addressed == "" {
		s.addressed = p.id
		return true, nil
	}
	s.standby = append(s.standby, p.id)
	return false, nil
}

func (s *Server) readLoop(p *peer) error {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if cause := p.getCause(); cause != nil {
				return cause
			}
			return err
		}

		decision := s.limiter.Allow(p.id)
		if !decision.Allowed {
			if decision.Sustained {
				s.logger.Warn("closing flooding peer", "conn", p.id)
				p.close(websocket.ClosePolicyViolation, "rate limit exceeded")
				return domain.ErrRateLimitExceeded
			}
			s.logger.Warn("drop message", "conn", p.id, "error", domain.ErrRateLimitExceeded)
			continue
		}

		event, err := protocol.DecodeEvent(data)
		if err != nil {
			s.logger.Warn("drop message", "conn", p.id, "error", err)
			continue
		}

		p.observe(event, s.now())
		if event.Type == protocol.EventPong || !s.isAddressed(p.id) {
			continue
		}
		if event.Type == protocol.EventReady {
			if err := s.write(p, protocol.NewCommand(protocol.CommandAcknowledge)); err != nil {
				s.logger.Warn("acknowledge ready failed", "conn", p.id, "error", err)
			}
		}
		s.currentHandler().PeerEvent(p.id, event)
	}
}

// drop unregisters p, reports the loss and promotes the oldest standby.
func (s *Server) drop(p *peer, cause error) {
	p.close(websocket.CloseNormalClosure, "")
	s.limiter.Forget(p.id)

	s.mu.Lock()
	delete(s.peers, p.id)
	wasAddressed := s.addressed == p.id
	var next *peer
	if wasAddressed {
		s.addressed = ""
		for len(s.standby) > 0 && next == nil {
			candidate := s.peers[s.standby[0]]
			s.standby = s.standby[1:]
			if candidate != nil {
				next = candidate
				s.addressed = candidate.id
			}
		}
	} else {
		s.standby = removeID(s.standby, p.id)
	}
	s.mu.Unlock()

	if cause == nil || websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		cause = domain.ErrTransportLost
	} else if !errors.Is(cause, domain.ErrTransportLost) {
		cause = fmt.Errorf("%w: %w", domain.ErrTransportLost, cause)
	}

	s.logger.Info("peer disconnected", "conn", p.id, "addressed", wasAddressed, "reason", cause)
	if wasAddressed {
		s.currentHandler().PeerLost(p.id, cause)
	}
	if next != nil {
		s.logger.Info("peer promoted", "conn", next.id)
		s.currentHandler().PeerReady(next.info())
	}
}

func (s *Server) addressedPeer() *peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addressed == "" {
		return nil
	}
	return s.peers[s.addressed]
}

func (s *Server) isAddressed(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addressed == connID
}

func (s *Server) write(p *peer, cmd protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return p.writeRaw(data)
}

func removeID(ids []string, id string) []string {
	for index, candidate := range ids {
		if candidate == id {
			return append(ids[:index], ids[index+1:]...)
		}
	}
	return ids
}

// checkLoopbackOrigin admits non-browser clients and pages served from loopback.
func checkLoopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isLoopbackHost(parsed.Hostname())
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type nopHandler struct{}

func (nopHandler) PeerReady(PeerInfo)                {}
func (nopHandler) PeerEvent(string, protocol.Event) {}
func (nopHandler) PeerLost(string, error)           {}
