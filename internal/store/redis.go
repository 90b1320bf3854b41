package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ephemeral-chat/internal/room"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "chat:"

// RedisStore keeps each snapshot as a JSON string under <prefix>room:<code>
// and indexes codes by update time in the sorted set <prefix>rooms.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) roomKey(code string) string { return s.prefix + "room:" + code }

func (s *RedisStore) indexKey() string { return s.prefix + "rooms" }

func (s *RedisStore) Save(ctx context.Context, snap room.Snapshot) error {
	snap = stamp(snap)
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.roomKey(snap.Code), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(snap.UpdatedAt.UnixMilli()), Member: snap.Code})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Code, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, code string) (room.Snapshot, error) {
	data, err := s.client.Get(ctx, s.roomKey(room.NormalizeCode(code))).Bytes()
	if errors.Is(err, redis.Nil) {
		return room.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snap room.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return room.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *RedisStore) LoadAll(ctx context.Context) ([]room.Snapshot, error) {
	codes, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(codes) == 0 {
		return nil, nil
	}

	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = s.roomKey(code)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	out := make([]room.Snapshot, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a value; the key was removed out of band.
			continue
		}
		var snap room.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", codes[i], err)
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, code string) error {
	code = room.NormalizeCode(code)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.roomKey(code))
		pipe.ZRem(ctx, s.indexKey(), code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	codes, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	if len(codes) == 0 {
		return 0, nil
	}

	keys := make([]string, len(codes))
	members := make([]any, len(codes))
	for i, code := range codes {
		keys[i] = s.roomKey(code)
		members[i] = code
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return int64(len(codes)), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
