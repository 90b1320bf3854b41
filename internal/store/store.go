// Package store persists room snapshots so rooms survive a restart. Only
// history, assigned names and the assistant identity are kept; participant
// sets never are.
package store

import (
	"context"
	"errors"
	"time"

	"ephemeral-chat/internal/room"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Store interface {
	Save(ctx context.Context, snap room.Snapshot) error
	Load(ctx context.Context, code string) (room.Snapshot, error)
	LoadAll(ctx context.Context) ([]room.Snapshot, error)
	// Delete is idempotent.
	Delete(ctx context.Context, code string) error
	// PruneBefore drops snapshots last updated before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

func stamp(snap room.Snapshot) room.Snapshot {
	snap.Code = room.NormalizeCode(snap.Code)
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	if snap.History == nil {
		snap.History = []room.Message{}
	}
	if snap.AssignedNames == nil {
		snap.AssignedNames = []string{}
	}
	return snap
}
