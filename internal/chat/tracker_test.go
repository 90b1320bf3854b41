package chat

import (
	"testing"

	"ephemeral-chat/internal/identity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTracker_BindResolveUnbind(t *testing.T) {
	tr := NewTracker()
	conn := uuid.New()

	_, ok := tr.ResolveRoom(conn)
	assert.False(t, ok)
	assert.Equal(t, identity.Fallback, tr.ResolveName(conn, "amber-otter-river"))

	tr.Bind(conn, "amber-otter-river", "Silly Goose")

	code, ok := tr.ResolveRoom(conn)
	assert.True(t, ok)
	assert.Equal(t, "amber-otter-river", code)
	assert.Equal(t, "Silly Goose", tr.ResolveName(conn, "Amber-Otter-River"))
	assert.Equal(t, identity.Fallback, tr.ResolveName(conn, "other-room-code"))

	code, name, ok := tr.Unbind(conn)
	assert.True(t, ok)
	assert.Equal(t, "amber-otter-river", code)
	assert.Equal(t, "Silly Goose", name)
	assert.Equal(t, 0, tr.Len())

	_, _, ok = tr.Unbind(conn)
	assert.False(t, ok)
}

func TestTracker_RebindReplaces(t *testing.T) {
	tr := NewTracker()
	conn := uuid.New()

	tr.Bind(conn, "a-b-c", "Silly Goose")
	tr.Bind(conn, "d-e-f", "Chaos Gremlin")

	code, _ := tr.ResolveRoom(conn)
	assert.Equal(t, "d-e-f", code)
	assert.Equal(t, 1, tr.Len())
}
