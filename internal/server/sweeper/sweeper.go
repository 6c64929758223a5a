// Package sweeper deletes items whose retention window has passed.
//
// A cycle lists expired items and, for each, deletes the blob first and the
// metadata second. Both deletes are idempotent, so a cycle interrupted
// between the two is finished by the next one: the metadata row is still
// there, the blob delete is a no-op, and the row goes. A blob delete that
// fails leaves the row untouched and the item is retried next cycle, after
// items that have not failed yet.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/common"
	"github.com/dmitrijs2005/clipdrop/internal/logging"
	"github.com/dmitrijs2005/clipdrop/internal/server/models"
	"github.com/dmitrijs2005/clipdrop/internal/server/storage"
)

// Store is the part of the metadata store a sweep needs.
type Store interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Item, error)
	Delete(ctx context.Context, id string) error
}

// Report summarises one cycle.
type Report struct {
	Candidates int
	Deleted    int
	// Skipped items kept their blob because the backend failed.
	Skipped int
	// Failed items lost their blob but kept metadata; the next cycle
	// finishes them.
	Failed   int
	Duration time.Duration
}

type Sweeper struct {
	store    Store
	backend  storage.Backend
	log      logging.Logger
	interval time.Duration
	batch    int

	running atomic.Bool
	wg      sync.WaitGroup
	now     func() time.Time

	// ids whose deletion failed last cycle; only touched by the running cycle
	retry map[string]struct{}
}

func New(store Store, backend storage.Backend, interval time.Duration, batchSize int, log logging.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		backend:  backend,
		log:      log.With("component", "sweeper"),
		interval: interval,
		batch:    batchSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one cycle now. It returns common.ErrSweepInProgress when
// another cycle is still running.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, common.ErrSweepInProgress
	}
	defer s.running.Store(false)

	return s.sweep(ctx)
}

// Run sweeps once immediately and then on every tick until ctx is done.
// A tick that arrives while a cycle is still running is skipped. Run
// returns after the in-flight cycle, if any, has stopped.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info(ctx, "sweeper started", "interval", s.interval.String(), "batch", s.batch)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info(context.WithoutCancel(ctx), "sweeper stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn(ctx, "sweep skipped, previous cycle still running")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if _, err := s.sweep(ctx); err != nil {
			s.log.Error(ctx, "sweep failed", "error", err)
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) (Report, error) {
	start := time.Now()

	// over-fetch so items that keep failing cannot fill the whole batch
	limit := s.batch + min(len(s.retry), s.batch)
	listed, err := s.store.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return Report{}, fmt.Errorf("list expired: %w", err)
	}
	candidates, deferred := s.prioritize(listed)

	retry := make(map[string]struct{}, len(deferred))
	for _, it := range deferred {
		retry[it.ID] = struct{}{}
	}

	rep := Report{Candidates: len(candidates)}
	for _, it := range candidates {
		// abandoning mid-cycle is safe, the next cycle re-reads state
		if ctx.Err() != nil {
			break
		}

		if err := s.backend.Delete(ctx, it.StorageKey); err != nil {
			if !errors.Is(err, common.ErrInvalidStorageKey) {
				rep.Skipped++
				retry[it.ID] = struct{}{}
				s.log.Warn(ctx, "blob delete failed, will retry", "id", it.ID, "storage_key", it.StorageKey, "error", err)
				continue
			}
			// no blob can be stored under a key the backend rejects
			s.log.Error(ctx, "unaddressable storage key, removing metadata only", "id", it.ID, "storage_key", it.StorageKey)
		}
		if err := s.store.Delete(ctx, it.ID); err != nil {
			rep.Failed++
			retry[it.ID] = struct{}{}
			s.log.Warn(ctx, "metadata delete failed, will retry", "id", it.ID, "error", err)
			continue
		}
		rep.Deleted++
	}
	s.retry = retry
	rep.Duration = time.Since(start)

	s.log.Info(ctx, "sweep cycle",
		"candidates", rep.Candidates,
		"deleted", rep.Deleted,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
		"duration", rep.Duration.String(),
	)
	return rep, nil
}

// prioritize orders items that have not failed before ahead of retries,
// keeping expiry order within each group, and cuts the result at the batch
// size. Retries that do not fit are returned as deferred.
func (s *Sweeper) prioritize(listed []*models.Item) (candidates, deferred []*models.Item) {
	var retries []*models.Item
	for _, it := range listed {
		if _, ok := s.retry[it.ID]; ok {
			retries = append(retries, it)
			continue
		}
		candidates = append(candidates, it)
	}
	if len(candidates) > s.batch {
		candidates = candidates[:s.batch]
	}
	room := min(s.batch-len(candidates), len(retries))
	return append(candidates, retries[:room]...), retries[room:]
}
