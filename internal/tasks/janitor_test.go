package tasks

import (
	"context"
	"testing"
	"time"

	"ephemeral-chat/internal/identity"
	"ephemeral-chat/internal/metrics"
	"ephemeral-chat/internal/room"
	"ephemeral-chat/internal/store"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRegistry() *room.Registry {
	return room.NewRegistry(room.NewWordCodes(), identity.NewPool(), room.Settings{})
}

func TestJanitor_EvictsUnclaimedRestoredRooms(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()
	s := store.NewMemoryStore()
	m := metrics.New()

	for _, code := range []string{"amber-otter-river", "copper-fox-meadow"} {
		snap := room.Snapshot{Code: code, UpdatedAt: time.Now()}
		require.NoError(t, s.Save(ctx, snap))
		require.True(t, reg.Restore(snap))
	}
	// Someone came back to this one.
	_, _, err := reg.Join("copper-fox-meadow", uuid.New(), "")
	require.NoError(t, err)
	live, _ := reg.Create()

	j := NewJanitor(reg, s, JanitorConfig{RestoredRoomTTL: time.Minute}, m)
	j.now = func() time.Time { return time.Now().Add(time.Hour) }

	evicted, _, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"amber-otter-river"}, evicted)

	_, err = reg.Lookup("amber-otter-river")
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
	_, err = s.Load(ctx, "amber-otter-river")
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)

	for _, code := range []string{"copper-fox-meadow", live} {
		_, err = reg.Lookup(code)
		assert.NoError(t, err, code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RoomsActive))
}

func TestJanitor_KeepsRecentlyRestoredRooms(t *testing.T) {
	reg := newRegistry()
	require.True(t, reg.Restore(room.Snapshot{Code: "amber-otter-river"}))

	j := NewJanitor(reg, store.NewMemoryStore(), JanitorConfig{RestoredRoomTTL: time.Hour}, nil)

	evicted, _, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, 1, reg.Len())
}

func TestJanitor_PrunesStaleSnapshots(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Save(ctx, room.Snapshot{Code: "old-old-old", UpdatedAt: time.Now().Add(-72 * time.Hour)}))
	require.NoError(t, s.Save(ctx, room.Snapshot{Code: "new-new-new", UpdatedAt: time.Now()}))

	j := NewJanitor(newRegistry(), s, JanitorConfig{SnapshotRetention: 24 * time.Hour}, nil)

	_, pruned, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new-new-new", all[0].Code)
}

func TestJanitor_StartRejectsBadSchedule(t *testing.T) {
	j := NewJanitor(newRegistry(), store.NewMemoryStore(), JanitorConfig{Schedule: "whenever"}, nil)
	assert.Error(t, j.Start())
}

func TestJanitor_StartStop(t *testing.T) {
	reg := newRegistry()
	require.True(t, reg.Restore(room.Snapshot{Code: "amber-otter-river"}))

	j := NewJanitor(reg, store.NewMemoryStore(), JanitorConfig{Schedule: "@every 1s", RestoredRoomTTL: time.Nanosecond}, nil)
	require.NoError(t, j.Start())
	defer j.Stop()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, 3*time.Second, 50*time.Millisecond)
}
