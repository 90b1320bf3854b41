package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ephemeral-chat/internal/room"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS room_snapshots (
	code               TEXT PRIMARY KEY,
	history            TEXT NOT NULL,
	assigned_names     TEXT NOT NULL,
	assistant_identity TEXT NOT NULL,
	updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS room_snapshots_updated_at ON room_snapshots (updated_at);
`

// SQLiteStore keeps one row per room, with history and names as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	clean := filepath.Clean(path)
	if dir := filepath.Dir(clean); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := clean + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap room.Snapshot) error {
	snap = stamp(snap)
	history, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	names, err := json.Marshal(snap.AssignedNames)
	if err != nil {
		return fmt.Errorf("encode names: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO room_snapshots (code, history, assigned_names, assistant_identity, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (code) DO UPDATE SET
	history = excluded.history,
	assigned_names = excluded.assigned_names,
	assistant_identity = excluded.assistant_identity,
	updated_at = excluded.updated_at
`, snap.Code, string(history), string(names), snap.AssistantIdentity, snap.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Code, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (room.Snapshot, error) {
	var (
		snap            room.Snapshot
		history, names  string
		updatedAtMillis int64
	)
	if err := row.Scan(&snap.Code, &history, &names, &snap.AssistantIdentity, &updatedAtMillis); err != nil {
		return room.Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(history), &snap.History); err != nil {
		return room.Snapshot{}, fmt.Errorf("decode history of %s: %w", snap.Code, err)
	}
	if err := json.Unmarshal([]byte(names), &snap.AssignedNames); err != nil {
		return room.Snapshot{}, fmt.Errorf("decode names of %s: %w", snap.Code, err)
	}
	snap.UpdatedAt = time.UnixMilli(updatedAtMillis).UTC()
	return snap, nil
}

func (s *SQLiteStore) Load(ctx context.Context, code string) (room.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT code, history, assigned_names, assistant_identity, updated_at
FROM room_snapshots WHERE code = ?`, room.NormalizeCode(code))

	snap, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return room.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]room.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT code, history, assigned_names, assistant_identity, updated_at
FROM room_snapshots ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []room.Snapshot
	for rows.Next() {
		snap, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM room_snapshots WHERE code = ?`, room.NormalizeCode(code)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM room_snapshots WHERE updated_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
