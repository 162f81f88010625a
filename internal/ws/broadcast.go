package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/artifix/voicecore/internal/activation"
	"github.com/artifix/voicecore/internal/feedback"
	"github.com/artifix/voicecore/internal/session"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans session and feedback updates out to websocket clients.
// Updates are coalesced per throttle interval so a fast amplitude stream
// does not flood the wire; a periodic snapshot corrects any client that
// missed a delta.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	throttle       time.Duration
	snapshotTicker *time.Ticker

	flushMu         sync.Mutex
	lastSession     *session.Session
	lastFeedback    *feedback.State
	pendingSession  *session.Session
	pendingFeedback *feedback.State
	flushTimer      *time.Timer
}

func NewBroadcaster(throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		throttle: throttle,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	data, _ := json.Marshal(b.snapshotMessage())

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// ObserveSession is wired to the session machine. A terminal session is
// broadcast but remembered as nil so snapshots show idle afterwards.
func (b *Broadcaster) ObserveSession(s session.Session) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	snapshot := s.Clone()
	b.pendingSession = snapshot
	if s.Phase.IsTerminal() || s.Phase == session.Idle {
		b.lastSession = nil
	} else {
		b.lastSession = snapshot
	}
	b.armFlushLocked()
}

// ObserveFeedback is wired to the feedback coordinator.
func (b *Broadcaster) ObserveFeedback(st feedback.State) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingFeedback = &st
	b.lastFeedback = &st
	b.armFlushLocked()
}

// ObserveWarning broadcasts detector faults immediately, bypassing the
// throttle.
func (b *Broadcaster) ObserveWarning(w activation.Warning) {
	b.broadcast(warningMessage(w))
}

func (b *Broadcaster) armFlushLocked() {
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	sess := b.pendingSession
	fb := b.pendingFeedback
	b.pendingSession = nil
	b.pendingFeedback = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if sess == nil && fb == nil {
		return
	}

	msg := WSMessage{
		Type: MsgDelta,
		Payload: DeltaPayload{
			Session:  sess,
			Feedback: fb,
		},
	}
	b.broadcast(msg)
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Session:  b.lastSession,
			Feedback: b.lastFeedback,
		},
	}
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(b.snapshotMessage())
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
