package room

import (
	"slices"
	"sort"
	"sync"
	"time"

	"ephemeral-chat/internal/identity"
)

const (
	// DefaultHistoryLimit bounds the per-room message ring.
	DefaultHistoryLimit = 100
	// DefaultAssistantName is the sender of every assistant reply.
	DefaultAssistantName = "ChatGPT-Mini"
	// DefaultContextTurns is how much history the language model sees.
	DefaultContextTurns = 5
)

// Settings are shared by every room a Registry creates.
type Settings struct {
	HistoryLimit  int
	AssistantName string
	Trigger       string
}

func (s Settings) withDefaults() Settings {
	if s.HistoryLimit <= 0 || s.HistoryLimit > DefaultHistoryLimit {
		s.HistoryLimit = DefaultHistoryLimit
	}
	if s.AssistantName == "" {
		s.AssistantName = DefaultAssistantName
	}
	if s.Trigger == "" {
		s.Trigger = DefaultTrigger
	}
	return s
}

// Room is one chat room. All state below mu is mutated only while holding it;
// every accessor hands back copies so callers can fan out after unlocking.
type Room struct {
	code      string
	assistant string
	trigger   string
	limit     int
	pool      *identity.Pool

	mu           sync.Mutex
	participants map[ConnID]string // conn -> name held here
	history      []Message
	names        map[string]struct{}
	lastActive   time.Time
	restored     bool
}

func New(code string, pool *identity.Pool, s Settings) *Room {
	s = s.withDefaults()
	return &Room{
		code:         code,
		assistant:    s.AssistantName,
		trigger:      s.Trigger,
		limit:        s.HistoryLimit,
		pool:         pool,
		participants: make(map[ConnID]string),
		history:      make([]Message, 0, s.HistoryLimit),
		names:        make(map[string]struct{}),
		lastActive:   time.Now(),
	}
}

// FromSnapshot rebuilds a room with no participants. The snapshot's assistant
// identity wins over the one in s.
func FromSnapshot(snap Snapshot, pool *identity.Pool, s Settings) *Room {
	if snap.AssistantIdentity != "" {
		s.AssistantName = snap.AssistantIdentity
	}
	r := New(NormalizeCode(snap.Code), pool, s)
	history := snap.History
	if len(history) > r.limit {
		history = history[len(history)-r.limit:]
	}
	r.history = append(r.history, history...)
	for _, n := range snap.AssignedNames {
		if !identity.IsFallback(n) {
			r.names[n] = struct{}{}
		}
	}
	r.restored = true
	return r
}

func (r *Room) Code() string { return r.code }

func (r *Room) AssistantIdentity() string { return r.assistant }

// AddParticipant adds conn and returns its display name. A requested name is
// taken as-is, even if someone else in the room already holds it, unless it
// is the assistant's.
func (r *Room) AddParticipant(conn ConnID, requestedName string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := requestedName
	if name == r.assistant {
		name = ""
	}
	if name == "" {
		name = r.pool.Assign(r.names)
	}
	if !identity.IsFallback(name) {
		r.names[name] = struct{}{}
	}
	r.participants[conn] = name
	r.restored = false
	r.lastActive = time.Now()
	return name
}

// RemoveParticipant drops conn and frees the name it held, once no other
// participant holds the same name. name is used only when conn is unknown.
func (r *Room) RemoveParticipant(conn ConnID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.participants[conn]; ok {
		name = held
		delete(r.participants, conn)
	}
	if name != "" && !r.heldLocked(name) {
		r.pool.Release(r.names, name)
	}
	r.lastActive = time.Now()
}

func (r *Room) heldLocked(name string) bool {
	for _, n := range r.participants {
		if n == name {
			return true
		}
	}
	return false
}

// AppendMessage never rejects content; the oldest entry is evicted once the
// history is over its limit.
func (r *Room) AppendMessage(content, sender string) Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(content, sender)
}

func (r *Room) appendLocked(content, sender string) Message {
	msg := newMessage(content, sender)
	r.history = append(r.history, msg)
	if len(r.history) > r.limit {
		copy(r.history, r.history[1:])
		r.history = r.history[:r.limit]
	}
	r.lastActive = time.Now()
	return msg
}

// MaybeAssistantReply returns the language-model prompt for content, if the
// assistant should answer it given the current head count.
func (r *Room) MaybeAssistantReply(content string) (string, bool) {
	r.mu.Lock()
	n := len(r.participants)
	r.mu.Unlock()
	return DecideReply(n, content, r.trigger)
}

// AssistantContext maps the last n history entries to role-tagged turns.
func (r *Room) AssistantContext(n int) []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return toTurns(r.tailLocked(n), r.assistant)
}

func (r *Room) tailLocked(n int) []Message {
	if n <= 0 || n > len(r.history) {
		n = len(r.history)
	}
	return r.history[len(r.history)-n:]
}

// Posted is what a sender's message produced, captured under one lock.
type Posted struct {
	Message Message
	// Peers excludes the sender.
	Peers []ConnID
	// Prompt is set when Reply is true.
	Prompt string
	Reply  bool
	// Context precedes Message; the message itself travels as Prompt.
	Context []Turn
}

// Post appends a participant's message and evaluates the assistant policy
// against the same participant set the message was fanned out to.
func (r *Room) Post(sender ConnID, senderName, content string) Posted {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p Posted
	p.Prompt, p.Reply = DecideReply(len(r.participants), content, r.trigger)
	if p.Reply {
		p.Context = toTurns(r.tailLocked(DefaultContextTurns), r.assistant)
	}
	p.Message = r.appendLocked(content, senderName)
	p.Peers = r.participantsLocked(sender)
	return p
}

// PostAssistant records an assistant reply and returns everyone it goes to.
func (r *Room) PostAssistant(content string) (Message, []ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := r.appendLocked(content, r.assistant)
	return msg, r.participantsLocked(ConnID{})
}

func (r *Room) participantsLocked(except ConnID) []ConnID {
	ids := make([]ConnID, 0, len(r.participants))
	for id := range r.participants {
		if id != except {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Room) Participants() []ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantsLocked(ConnID{})
}

func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Room) HasParticipant(conn ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[conn]
	return ok
}

func (r *Room) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.history)
}

func (r *Room) AssignedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assignedLocked()
}

func (r *Room) assignedLocked() []string {
	names := make([]string, 0, len(r.names))
	for n := range r.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// idleSince reports whether the room was restored from storage and nobody
// has touched it since cutoff.
func (r *Room) idleSince(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restored && len(r.participants) == 0 && r.lastActive.Before(cutoff)
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Code:              r.code,
		History:           slices.Clone(r.history),
		AssignedNames:     r.assignedLocked(),
		AssistantIdentity: r.assistant,
		UpdatedAt:         time.Now().UTC(),
	}
}
