package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"ephemeral-chat/internal/room"
)

// MemoryStore keeps snapshots in process. Used in tests and as the fallback
// when the configured backend cannot be reached.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]room.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]room.Snapshot)}
}

func clone(snap room.Snapshot) room.Snapshot {
	snap.History = slices.Clone(snap.History)
	snap.AssignedNames = slices.Clone(snap.AssignedNames)
	return snap
}

func (m *MemoryStore) Save(ctx context.Context, snap room.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap = stamp(snap)
	m.mu.Lock()
	m.snaps[snap.Code] = clone(snap)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, code string) (room.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return room.Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[room.NormalizeCode(code)]
	if !ok {
		return room.Snapshot{}, ErrSnapshotNotFound
	}
	return clone(snap), nil
}

func (m *MemoryStore) LoadAll(ctx context.Context) ([]room.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]room.Snapshot, 0, len(m.snaps))
	for _, snap := range m.snaps {
		out = append(out, clone(snap))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.snaps, room.NormalizeCode(code))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for code, snap := range m.snaps {
		if snap.UpdatedAt.Before(cutoff) {
			delete(m.snaps, code)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
