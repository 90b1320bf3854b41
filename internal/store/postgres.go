package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ephemeral-chat/internal/room"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS room_snapshots (
	code               TEXT PRIMARY KEY,
	history            JSONB NOT NULL,
	assigned_names     JSONB NOT NULL,
	assistant_identity TEXT NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS room_snapshots_updated_at ON room_snapshots (updated_at);
`

// PostgresStore keeps one row per room with JSONB history and names.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore takes ownership of pool and bootstraps the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap room.Snapshot) error {
	snap = stamp(snap)
	query := `
        INSERT INTO room_snapshots (code, history, assigned_names, assistant_identity, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (code) DO UPDATE SET
            history = EXCLUDED.history,
            assigned_names = EXCLUDED.assigned_names,
            assistant_identity = EXCLUDED.assistant_identity,
            updated_at = EXCLUDED.updated_at
    `
	_, err := s.pool.Exec(ctx, query,
		snap.Code,
		snap.History,
		snap.AssignedNames,
		snap.AssistantIdentity,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Code, err)
	}
	return nil
}

func scanPostgres(row pgx.Row) (room.Snapshot, error) {
	var snap room.Snapshot
	err := row.Scan(
		&snap.Code,
		&snap.History,
		&snap.AssignedNames,
		&snap.AssistantIdentity,
		&snap.UpdatedAt,
	)
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	return snap, err
}

func (s *PostgresStore) Load(ctx context.Context, code string) (room.Snapshot, error) {
	query := `
        SELECT code, history, assigned_names, assistant_identity, updated_at
        FROM room_snapshots
        WHERE code = $1
    `
	snap, err := scanPostgres(s.pool.QueryRow(ctx, query, room.NormalizeCode(code)))
	if errors.Is(err, pgx.ErrNoRows) {
		return room.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]room.Snapshot, error) {
	query := `
        SELECT code, history, assigned_names, assistant_identity, updated_at
        FROM room_snapshots
        ORDER BY code
    `
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []room.Snapshot
	for rows.Next() {
		snap, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, code string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM room_snapshots WHERE code = $1`, room.NormalizeCode(code)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM room_snapshots WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
