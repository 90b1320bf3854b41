package room

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"ephemeral-chat/internal/identity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	return New("amber-otter-river", identity.NewPoolWithSource(rand.NewSource(7), []string{"a", "b", "c"}), Settings{})
}

func TestRoom_AddParticipantAssignsUniqueNames(t *testing.T) {
	r := newTestRoom(t)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		name := r.AddParticipant(uuid.New(), "")
		assert.False(t, seen[name], "name %q assigned twice", name)
		seen[name] = true
	}

	assert.Equal(t, identity.Fallback, r.AddParticipant(uuid.New(), ""))
	assert.Equal(t, identity.Fallback, r.AddParticipant(uuid.New(), ""))
	assert.Equal(t, 5, r.ParticipantCount())
	assert.Len(t, r.AssignedNames(), 3, "fallback is never recorded")
}

// Reconnecting clients may bring their old name along. It is accepted
// without checking who held it.
func TestRoom_AddParticipant_RequestedNameAcceptedWithoutValidation(t *testing.T) {
	r := newTestRoom(t)

	first := r.AddParticipant(uuid.New(), "a")
	second := r.AddParticipant(uuid.New(), "a")

	assert.Equal(t, "a", first)
	assert.Equal(t, "a", second)
	assert.Equal(t, []string{"a"}, r.AssignedNames())

	// a stays reserved, so the pool only offers b and c.
	for i := 0; i < 2; i++ {
		assert.NotEqual(t, "a", r.AddParticipant(uuid.New(), ""))
	}
}

func TestRoom_RemoveParticipantReleasesName(t *testing.T) {
	r := newTestRoom(t)
	conn := uuid.New()
	name := r.AddParticipant(conn, "")

	r.RemoveParticipant(conn, name)

	assert.Equal(t, 0, r.ParticipantCount())
	assert.Empty(t, r.AssignedNames())
}

func TestRoom_RemoveParticipantUsesHeldName(t *testing.T) {
	r := newTestRoom(t)
	conn := uuid.New()
	r.AddParticipant(conn, "")

	r.RemoveParticipant(conn, "")

	assert.Equal(t, 0, r.ParticipantCount())
	assert.Empty(t, r.AssignedNames())
}

func TestRoom_SharedNameStaysReservedUntilLastHolderLeaves(t *testing.T) {
	r := New("c", identity.NewPoolWithSource(rand.NewSource(1), []string{"Silly Goose", "Crazy Cat"}), Settings{})

	bob := uuid.New()
	bobName := r.AddParticipant(bob, "")
	alice := uuid.New()
	require.Equal(t, bobName, r.AddParticipant(alice, bobName))

	r.RemoveParticipant(alice, bobName)
	assert.Equal(t, []string{bobName}, r.AssignedNames())

	for i := 0; i < 2; i++ {
		assert.NotEqual(t, bobName, r.AddParticipant(uuid.New(), ""), "pool handed out a name that is still held")
	}
}

func TestRoom_AddParticipantRefusesAssistantName(t *testing.T) {
	r := newTestRoom(t)
	conn := uuid.New()

	name := r.AddParticipant(conn, DefaultAssistantName)
	assert.NotEqual(t, DefaultAssistantName, name)
	assert.NotContains(t, r.AssignedNames(), DefaultAssistantName)

	r.Post(conn, name, "hello")
	assert.Equal(t, []Turn{{Role: RoleUser, Content: "hello"}}, r.AssistantContext(DefaultContextTurns))
}

func TestRoom_PoolNeverDuplicatesAHeldName(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	rapid.Check(t, func(t *rapid.T) {
		pool := identity.NewPoolWithSource(rand.NewSource(rapid.Int64().Draw(t, "seed")), names)
		r := New("c", pool, Settings{})
		held := map[ConnID]string{}
		var conns []ConnID

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch op := rapid.IntRange(0, 2).Draw(t, "op"); {
			case op == 2 && len(conns) > 0:
				j := rapid.IntRange(0, len(conns)-1).Draw(t, "leaver")
				conn := conns[j]
				r.RemoveParticipant(conn, held[conn])
				delete(held, conn)
				conns = append(conns[:j], conns[j+1:]...)
			case op == 1:
				conn := uuid.New()
				requested := rapid.SampledFrom(names).Draw(t, "requested")
				held[conn] = r.AddParticipant(conn, requested)
				conns = append(conns, conn)
			default:
				conn := uuid.New()
				name := r.AddParticipant(conn, "")
				if !identity.IsFallback(name) {
					for other, n := range held {
						if n == name {
							t.Fatalf("pool assigned %q while %s still holds it", name, other)
						}
					}
				}
				held[conn] = name
				conns = append(conns, conn)
			}
		}
	})
}

func TestRoom_AppendMessageEvictsOldest(t *testing.T) {
	r := newTestRoom(t)

	for i := 0; i < DefaultHistoryLimit; i++ {
		r.AppendMessage(fmt.Sprintf("m%d", i), "a")
	}
	require.Len(t, r.History(), DefaultHistoryLimit)
	assert.Equal(t, "m0", r.History()[0].Content)

	r.AppendMessage("m100", "a")

	h := r.History()
	require.Len(t, h, DefaultHistoryLimit)
	assert.Equal(t, "m1", h[0].Content)
	assert.Equal(t, "m100", h[len(h)-1].Content)
}

func TestRoom_HistoryLimitIsCapped(t *testing.T) {
	r := New("c", identity.NewPool(), Settings{HistoryLimit: 500})
	for i := 0; i < 150; i++ {
		r.AppendMessage(fmt.Sprint(i), "a")
	}
	assert.Len(t, r.History(), DefaultHistoryLimit)
}

func TestRoom_AppendMessageAcceptsEmptyContent(t *testing.T) {
	r := newTestRoom(t)
	msg := r.AppendMessage("", "a")

	assert.Equal(t, "", msg.Content)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Len(t, r.History(), 1)
}

func TestRoom_HistoryIsACopy(t *testing.T) {
	r := newTestRoom(t)
	r.AppendMessage("hello", "a")

	h := r.History()
	h[0].Content = "changed"

	assert.Equal(t, "hello", r.History()[0].Content)
}

func TestRoom_HistoryNeverExceedsLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 20).Draw(t, "limit")
		n := rapid.IntRange(0, 60).Draw(t, "messages")

		r := New("c", identity.NewPool(), Settings{HistoryLimit: limit})
		for i := 0; i < n; i++ {
			r.AppendMessage(fmt.Sprint(i), "s")
			if got := len(r.History()); got > limit {
				t.Fatalf("history length %d exceeds %d", got, limit)
			}
		}

		h := r.History()
		if n > 0 && h[len(h)-1].Content != fmt.Sprint(n-1) {
			t.Fatalf("last message = %q, want %d", h[len(h)-1].Content, n-1)
		}
		if n > limit && h[0].Content != fmt.Sprint(n-limit) {
			t.Fatalf("oldest message = %q, want %d", h[0].Content, n-limit)
		}
	})
}

func TestRoom_AssistantContextRoles(t *testing.T) {
	r := newTestRoom(t)
	for i := 0; i < 4; i++ {
		r.AppendMessage(fmt.Sprintf("u%d", i), "a")
		r.AppendMessage(fmt.Sprintf("r%d", i), DefaultAssistantName)
	}

	turns := r.AssistantContext(DefaultContextTurns)

	require.Len(t, turns, 5)
	assert.Equal(t, Turn{Role: RoleAssistant, Content: "r1"}, turns[0])
	assert.Equal(t, Turn{Role: RoleUser, Content: "u2"}, turns[1])
	assert.Equal(t, Turn{Role: RoleAssistant, Content: "r3"}, turns[4])
}

func TestRoom_AssistantContextShortHistory(t *testing.T) {
	r := newTestRoom(t)
	r.AppendMessage("only", "a")

	assert.Equal(t, []Turn{{Role: RoleUser, Content: "only"}}, r.AssistantContext(5))
}

func TestRoom_MaybeAssistantReply(t *testing.T) {
	r := newTestRoom(t)

	_, ok := r.MaybeAssistantReply("hello")
	assert.False(t, ok, "empty room never gets a reply")

	r.AddParticipant(uuid.New(), "")
	prompt, ok := r.MaybeAssistantReply("hello")
	assert.True(t, ok)
	assert.Equal(t, "hello", prompt)

	r.AddParticipant(uuid.New(), "")
	_, ok = r.MaybeAssistantReply("hello")
	assert.False(t, ok)

	prompt, ok = r.MaybeAssistantReply("ai: hello")
	assert.True(t, ok)
	assert.Equal(t, "hello", prompt)
}

func TestRoom_PostExcludesSenderAndCapturesContext(t *testing.T) {
	r := newTestRoom(t)
	alice, bob := uuid.New(), uuid.New()
	r.AddParticipant(alice, "a")
	r.AddParticipant(bob, "b")
	r.AppendMessage("earlier", "b")

	p := r.Post(alice, "a", "ai: what's up?")

	assert.Equal(t, []ConnID{bob}, p.Peers)
	assert.True(t, p.Reply)
	assert.Equal(t, "what's up?", p.Prompt)
	assert.Equal(t, []Turn{{Role: RoleUser, Content: "earlier"}}, p.Context, "context excludes the triggering message")
	assert.Equal(t, "a", p.Message.Sender)
	assert.Len(t, r.History(), 2)
}

func TestRoom_PostAssistantReachesEveryone(t *testing.T) {
	r := newTestRoom(t)
	alice, bob := uuid.New(), uuid.New()
	r.AddParticipant(alice, "")
	r.AddParticipant(bob, "")

	msg, to := r.PostAssistant("hi all")

	assert.Equal(t, DefaultAssistantName, msg.Sender)
	assert.ElementsMatch(t, []ConnID{alice, bob}, to)
}

func TestRoom_SnapshotRoundTrip(t *testing.T) {
	r := newTestRoom(t)
	conn := uuid.New()
	r.AddParticipant(conn, "")
	r.AddParticipant(uuid.New(), "")
	r.AppendMessage("hello", "a")
	r.PostAssistant("hi")

	raw, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	restored := FromSnapshot(snap, identity.NewPool(), Settings{})

	assert.Equal(t, 0, restored.ParticipantCount())
	assert.Equal(t, r.Code(), restored.Code())
	assert.Equal(t, r.AssistantIdentity(), restored.AssistantIdentity())
	assert.ElementsMatch(t, r.AssignedNames(), restored.AssignedNames())

	before, err := json.Marshal(r.History())
	require.NoError(t, err)
	after, err := json.Marshal(restored.History())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, r.History(), restored.History())
}

func TestFromSnapshot_KeepsCustomAssistantAndTrimsHistory(t *testing.T) {
	snap := Snapshot{Code: "  Amber-Otter-River ", AssistantIdentity: "Robo"}
	for i := 0; i < 5; i++ {
		snap.History = append(snap.History, Message{Content: fmt.Sprint(i), Sender: "x"})
	}

	r := FromSnapshot(snap, identity.NewPool(), Settings{HistoryLimit: 3})

	assert.Equal(t, "amber-otter-river", r.Code())
	assert.Equal(t, "Robo", r.AssistantIdentity())
	h := r.History()
	require.Len(t, h, 3)
	assert.Equal(t, "2", h[0].Content)
}

func TestRoom_ConcurrentJoinSendLeave(t *testing.T) {
	r := New("c", identity.NewPool(), Settings{HistoryLimit: 10})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := uuid.New()
			name := r.AddParticipant(conn, "")
			for j := 0; j < 20; j++ {
				r.Post(conn, name, "hi")
			}
			r.RemoveParticipant(conn, name)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.ParticipantCount())
	assert.Len(t, r.History(), 10)
	assert.Empty(t, r.AssignedNames())
}
