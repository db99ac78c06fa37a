package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dictabridge/internal/protocol"
)

// Control frame payloads are capped at 125 bytes including the status code.
const maxCloseReason = 120

type peer struct {
	id           string
	conn         *websocket.Conn
	remote       string
	connectedAt  time.Time
	writeTimeout time.Duration

	writeMu sync.Mutex

	stateMu      sync.Mutex
	lastPong     time.Time
	lastActivity time.Time
	pendingPing  string
	cause        error

	closeOnce sync.Once
}

func newPeer(id string, conn *websocket.Conn, remote string, now time.Time, writeTimeout time.Duration) *peer {
	return &peer{
		id:           id,
		conn:         conn,
		remote:       remote,
		connectedAt:  now,
		writeTimeout: writeTimeout,
		lastPong:     now,
		lastActivity: now,
	}
}

func (p *peer) info() PeerInfo {
	return PeerInfo{ID: p.id, RemoteAddr: p.remote, ConnectedAt: p.connectedAt}
}

// writeRaw serializes writes on the connection; gorilla allows one concurrent writer.
func (p *peer) writeRaw(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peer) observe(event protocol.Event, now time.Time) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	// A PONG carrying some other nonce does not answer the outstanding heartbeat.
	if event.Type == protocol.EventPong && (event.Nonce == "" || event.Nonce == p.pendingPing) {
		p.lastPong = now
		p.pendingPing = ""
	}
	if event.IsActivity() {
		p.lastActivity = now
	}
}

func (p *peer) setPendingPing(nonce string) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.pendingPing = nonce
}

func (p *peer) setCause(err error) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.cause == nil {
		p.cause = err
	}
}

func (p *peer) getCause() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.cause
}

func (p *peer) snapshot() PeerState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return PeerState{
		ID:             p.id,
		ConnectedAt:    p.connectedAt,
		LastPongAt:     p.lastPong,
		LastActivityAt: p.lastActivity,
		PendingPing:    p.pendingPing,
	}
}

func (p *peer) close(code int, reason string) {
	p.closeOnce.Do(func() {
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		deadline := time.Now().Add(time.Second)
		_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = p.conn.Close()
	})
}
