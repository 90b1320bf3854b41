package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"ephemeral-chat/internal/metrics"
	"ephemeral-chat/internal/room"

	"github.com/rs/zerolog/log"
)

const (
	DefaultDebounce = 250 * time.Millisecond
	shutdownFlush   = 5 * time.Second
)

// Persister writes room snapshots in the background. Changes are coalesced
// per room and flushed once the debounce window has passed; a room that is
// no longer live at flush time has its snapshot deleted.
type Persister struct {
	store    Store
	registry *room.Registry
	debounce time.Duration
	metrics  *metrics.Metrics

	mu    sync.Mutex
	dirty map[string]struct{}
	wake  chan struct{}
}

func NewPersister(s Store, registry *room.Registry, debounce time.Duration, m *metrics.Metrics) *Persister {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if m == nil {
		m = metrics.New()
	}
	return &Persister{
		store:    s,
		registry: registry,
		debounce: debounce,
		metrics:  m,
		dirty:    make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// MarkDirty schedules code for the next flush. It never blocks.
func (p *Persister) MarkDirty(code string) {
	p.mu.Lock()
	p.dirty[code] = struct{}{}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirty)
}

// Run flushes until ctx is cancelled, then flushes one last time.
func (p *Persister) Run(ctx context.Context) {
	log.Info().Dur("debounce", p.debounce).Msg("[PERSIST] writer started")
	timer := time.NewTimer(p.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.finalFlush()
			return
		case <-p.wake:
			timer.Reset(p.debounce)
			select {
			case <-ctx.Done():
				p.finalFlush()
				return
			case <-timer.C:
			}
			if err := p.Flush(ctx); err != nil {
				log.Warn().Err(err).Msg("[PERSIST] flush incomplete")
			}
		}
	}
}

func (p *Persister) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlush)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("[PERSIST] final flush failed")
		return
	}
	log.Info().Msg("[PERSIST] final flush complete")
}

// Flush writes every dirty room now. Failed rooms are not retried.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	dirty := p.dirty
	p.dirty = make(map[string]struct{})
	p.mu.Unlock()

	var errs []error
	for code := range dirty {
		if snap, ok := p.registry.Snapshot(code); ok {
			err := p.store.Save(ctx, snap)
			p.metrics.ObservePersist("save", err)
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		err := p.store.Delete(ctx, code)
		p.metrics.ObservePersist("delete", err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(dirty) > 0 {
		log.Debug().Int("rooms", len(dirty)).Int("failed", len(errs)).Msg("[PERSIST] flushed")
	}
	return errors.Join(errs...)
}

// Restore loads every stored snapshot into registry. A store that cannot be
// read leaves the registry empty.
func Restore(ctx context.Context, s Store, registry *room.Registry) int {
	snaps, err := s.LoadAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("[PERSIST] could not load snapshots, starting empty")
		return 0
	}
	n := 0
	for _, snap := range snaps {
		if registry.Restore(snap) {
			n++
		}
	}
	log.Info().Int("rooms", n).Msg("[PERSIST] restored rooms from storage")
	return n
}
