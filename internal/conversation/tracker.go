package conversation

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Tracker keeps the open channels of every session so they can be closed
// when the session is deleted.
type Tracker struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds a connection for a session.
func (t *Tracker) Register(sessionID string, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[sessionID]; !exists {
		t.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	t.active[sessionID][conn] = struct{}{}
	slog.Info("Conversation channel registered", "session_id", sessionID, "channels", len(t.active[sessionID]))
}

// Unregister removes a connection for a session.
func (t *Tracker) Unregister(sessionID string, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns, ok := t.active[sessionID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(t.active, sessionID)
	}
	slog.Info("Conversation channel unregistered", "session_id", sessionID)
}

// Count returns the number of open channels for a session.
func (t *Tracker) Count(sessionID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active[sessionID])
}

// Total returns the number of open channels.
func (t *Tracker) Total() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, conns := range t.active {
		n += len(conns)
	}
	return n
}

// CloseSession closes every channel of a session.
func (t *Tracker) CloseSession(sessionID string) {
	t.mu.Lock()
	conns := t.active[sessionID]
	delete(t.active, sessionID)
	t.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	if len(conns) > 0 {
		slog.Info("Conversation channels closed", "session_id", sessionID, "count", len(conns))
	}
}
