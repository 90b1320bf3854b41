package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"ephemeral-chat/internal/identity"

	"github.com/rs/zerolog/log"
)

var ErrRoomNotFound = errors.New("room not found")

// Registry maps room codes to live rooms. Lock order is registry then room:
// Join holds the read lock while adding, Leave holds the write lock while
// removing and deleting, so a joiner can never land in a room that is about
// to disappear.
type Registry struct {
	codes    CodeGenerator
	pool     *identity.Pool
	settings Settings

	mu    sync.RWMutex
	rooms map[string]*Room

	hookMu   sync.RWMutex
	onChange func(code string)
}

func NewRegistry(codes CodeGenerator, pool *identity.Pool, s Settings) *Registry {
	if codes == nil {
		codes = NewWordCodes()
	}
	if pool == nil {
		pool = identity.NewPool()
	}
	return &Registry{
		codes:    codes,
		pool:     pool,
		settings: s.withDefaults(),
		rooms:    make(map[string]*Room),
	}
}

// OnChange registers fn to be told about every code whose state changed,
// including rooms that were removed. fn runs outside the registry lock.
func (g *Registry) OnChange(fn func(code string)) {
	g.hookMu.Lock()
	g.onChange = fn
	g.hookMu.Unlock()
}

func (g *Registry) changed(code string) {
	g.hookMu.RLock()
	fn := g.onChange
	g.hookMu.RUnlock()
	if fn != nil {
		fn(code)
	}
}

// Touch reports an out-of-band change to a room, such as a new message.
func (g *Registry) Touch(code string) { g.changed(code) }

func (g *Registry) Settings() Settings { return g.settings }

// GenerateUniqueCode returns a code absent from the registry at the instant
// of return.
func (g *Registry) GenerateUniqueCode() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.uniqueCodeLocked()
}

func (g *Registry) uniqueCodeLocked() string {
	for {
		code := NormalizeCode(g.codes.Next())
		if _, taken := g.rooms[code]; !taken && code != "" {
			return code
		}
		log.Debug().Str("code", code).Msg("[REGISTRY] room code collision, retrying")
	}
}

// Create inserts an empty room under a fresh code.
func (g *Registry) Create() (string, *Room) {
	g.mu.Lock()
	code := g.uniqueCodeLocked()
	r := New(code, g.pool, g.settings)
	g.rooms[code] = r
	g.mu.Unlock()

	g.changed(code)
	return code, r
}

// CreateFor creates a room with conn already inside, so the room is never
// observable empty.
func (g *Registry) CreateFor(conn ConnID) (*Room, string) {
	g.mu.Lock()
	code := g.uniqueCodeLocked()
	r := New(code, g.pool, g.settings)
	name := r.AddParticipant(conn, "")
	g.rooms[code] = r
	g.mu.Unlock()

	g.changed(code)
	return r, name
}

func (g *Registry) Lookup(code string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.rooms[NormalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// Join adds conn to the room behind code.
func (g *Registry) Join(code string, conn ConnID, requestedName string) (*Room, string, error) {
	code = NormalizeCode(code)

	g.mu.RLock()
	r, ok := g.rooms[code]
	if !ok {
		g.mu.RUnlock()
		return nil, "", ErrRoomNotFound
	}
	name := r.AddParticipant(conn, requestedName)
	g.mu.RUnlock()

	g.changed(code)
	return r, name, nil
}

// Leave removes conn from the room and deletes the room if that emptied it.
// It reports whether the room was deleted.
func (g *Registry) Leave(code string, conn ConnID, name string) bool {
	code = NormalizeCode(code)

	g.mu.Lock()
	removed := false
	if r, ok := g.rooms[code]; ok {
		r.RemoveParticipant(conn, name)
		removed = g.removeIfEmptyLocked(code, r)
	}
	g.mu.Unlock()

	g.changed(code)
	return removed
}

// RemoveIfEmpty deletes the room iff it has no participants.
func (g *Registry) RemoveIfEmpty(code string) bool {
	code = NormalizeCode(code)

	g.mu.Lock()
	removed := false
	if r, ok := g.rooms[code]; ok {
		removed = g.removeIfEmptyLocked(code, r)
	}
	g.mu.Unlock()

	if removed {
		g.changed(code)
	}
	return removed
}

func (g *Registry) removeIfEmptyLocked(code string, r *Room) bool {
	if r.ParticipantCount() != 0 {
		return false
	}
	delete(g.rooms, code)
	log.Info().Str("room", code).Msg("[REGISTRY] room emptied and removed")
	return true
}

// Restore inserts a room rebuilt from storage. A code that is already live
// is left alone.
func (g *Registry) Restore(snap Snapshot) bool {
	r := FromSnapshot(snap, g.pool, g.settings)
	if r.code == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.rooms[r.code]; exists {
		return false
	}
	g.rooms[r.code] = r
	return true
}

// EvictIdle drops restored rooms nobody rejoined before cutoff.
func (g *Registry) EvictIdle(cutoff time.Time) []string {
	g.mu.Lock()
	var evicted []string
	for code, r := range g.rooms {
		if r.idleSince(cutoff) {
			delete(g.rooms, code)
			evicted = append(evicted, code)
		}
	}
	g.mu.Unlock()

	for _, code := range evicted {
		g.changed(code)
	}
	return evicted
}

// Snapshot returns the persisted form of a live room.
func (g *Registry) Snapshot(code string) (Snapshot, bool) {
	r, err := g.Lookup(code)
	if err != nil {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

func (g *Registry) Codes() []string {
	g.mu.RLock()
	codes := make([]string, 0, len(g.rooms))
	for code := range g.rooms {
		codes = append(codes, code)
	}
	g.mu.RUnlock()

	sort.Strings(codes)
	return codes
}
