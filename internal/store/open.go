package store

import (
	"context"
	"fmt"
	"time"

	"ephemeral-chat/internal/db"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const pingTimeout = 3 * time.Second

type Config struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	RedisPrefix string
}

// Open connects the configured backend. Any failure degrades to an in-memory
// store so startup never fails on persistence; the returned string names the
// driver actually in use.
func Open(ctx context.Context, cfg Config) (Store, string) {
	s, err := open(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Str("driver", cfg.Driver).Msg("[STORE] backend unavailable, falling back to memory")
		return NewMemoryStore(), DriverMemory
	}
	log.Info().Str("driver", cfg.Driver).Msg("[STORE] snapshot store ready")
	return s, cfg.Driver
}

func open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil

	case DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)

	case DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s, err := NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	case DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, cfg.RedisPrefix), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
