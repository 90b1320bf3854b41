package chat

import (
	"sync"

	"ephemeral-chat/internal/identity"
	"ephemeral-chat/internal/room"
)

type binding struct {
	room string
	name string
}

// Tracker remembers which room each live connection is in and the name it
// was given there. A connection is bound to at most one room.
type Tracker struct {
	mu       sync.RWMutex
	bindings map[room.ConnID]binding
}

func NewTracker() *Tracker {
	return &Tracker{bindings: make(map[room.ConnID]binding)}
}

// Bind replaces any previous binding for conn.
func (t *Tracker) Bind(conn room.ConnID, code, name string) {
	t.mu.Lock()
	t.bindings[conn] = binding{room: code, name: name}
	t.mu.Unlock()
}

func (t *Tracker) ResolveRoom(conn room.ConnID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bindings[conn]
	return b.room, ok
}

// ResolveName returns conn's name in code, or the fallback identity when conn
// is not bound to that room.
func (t *Tracker) ResolveName(conn room.ConnID, code string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bindings[conn]
	if !ok || b.room != room.NormalizeCode(code) {
		return identity.Fallback
	}
	return b.name
}

// Unbind drops conn and returns what it was bound to.
func (t *Tracker) Unbind(conn room.ConnID) (code, name string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[conn]
	if ok {
		delete(t.bindings, conn)
	}
	return b.room, b.name, ok
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bindings)
}
