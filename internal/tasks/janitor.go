package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ephemeral-chat/internal/metrics"
	"ephemeral-chat/internal/room"
	"ephemeral-chat/internal/store"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSchedule = "@every 1m"
	jobTimeout      = 30 * time.Second
)

type JanitorConfig struct {
	Schedule string
	// RestoredRoomTTL is how long a room restored from storage may sit
	// without anyone rejoining.
	RestoredRoomTTL time.Duration
	// SnapshotRetention bounds how old a stored snapshot may get.
	SnapshotRetention time.Duration
}

// Janitor evicts restored rooms nobody came back to and prunes stale
// snapshots on a cron schedule.
type Janitor struct {
	registry *room.Registry
	store    store.Store
	cfg      JanitorConfig
	metrics  *metrics.Metrics
	cron     *cron.Cron
	now      func() time.Time
}

func NewJanitor(registry *room.Registry, s store.Store, cfg JanitorConfig, m *metrics.Metrics) *Janitor {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if m == nil {
		m = metrics.New()
	}
	return &Janitor{
		registry: registry,
		store:    s,
		cfg:      cfg,
		metrics:  m,
		cron:     cron.New(),
		now:      time.Now,
	}
}

func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if _, _, err := j.RunOnce(ctx); err != nil {
			log.Warn().Err(err).Msg("[WORKER] Room cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule janitor %q: %w", j.cfg.Schedule, err)
	}

	j.cron.Start()
	log.Info().Str("schedule", j.cfg.Schedule).Msg("[WORKER] Janitor scheduled")
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce performs one sweep. A zero TTL or retention disables that half.
func (j *Janitor) RunOnce(ctx context.Context) (evicted []string, pruned int64, err error) {
	now := j.now()
	var errs []error

	if j.cfg.RestoredRoomTTL > 0 {
		evicted = j.registry.EvictIdle(now.Add(-j.cfg.RestoredRoomTTL))
		for _, code := range evicted {
			derr := j.store.Delete(ctx, code)
			j.metrics.ObservePersist("delete", derr)
			if derr != nil {
				errs = append(errs, derr)
			}
		}
		if len(evicted) > 0 {
			j.metrics.RoomsActive.Set(float64(j.registry.Len()))
			log.Info().Strs("rooms", evicted).Msg("[WORKER] Evicted idle restored rooms")
		}
	}

	if j.cfg.SnapshotRetention > 0 {
		n, perr := j.store.PruneBefore(ctx, now.Add(-j.cfg.SnapshotRetention))
		j.metrics.ObservePersist("prune", perr)
		if perr != nil {
			errs = append(errs, perr)
		}
		pruned = n
		if n > 0 {
			log.Info().Int64("snapshots", n).Msg("[WORKER] Pruned stale snapshots")
		}
	}

	return evicted, pruned, errors.Join(errs...)
}
