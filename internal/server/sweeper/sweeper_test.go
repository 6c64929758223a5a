package sweeper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/common"
	"github.com/dmitrijs2005/clipdrop/internal/cryptox"
	"github.com/dmitrijs2005/clipdrop/internal/logging"
	"github.com/dmitrijs2005/clipdrop/internal/server/models"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/items"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/clipdrop/internal/server/services"
	"github.com/dmitrijs2005/clipdrop/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

type env struct {
	store   *services.MetadataStore
	svc     *services.ItemService
	backend *storage.LocalBackend
}

// newEnv wires a real SQLite store and local backend. Items expire a
// nanosecond after creation so sweeps with a later clock pick them up.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	db, err := repomanager.Open(ctx, "sqlite", fmt.Sprintf("file:sweeper_%d?mode=memory&cache=shared", dbSeq.Add(1)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm := repomanager.NewSQLiteRepositoryManager()
	require.NoError(t, rm.RunMigrations(ctx, db))

	backend, err := storage.NewLocalBackend(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	engine, err := cryptox.NewEngine(cryptox.Config{Key: cryptox.GenerateKey()})
	require.NoError(t, err)

	store := services.NewMetadataStore(db, rm)
	return &env{
		store:   store,
		svc:     services.NewItemService(store, backend, engine, time.Nanosecond, logging.NewDiscardLogger()),
		backend: backend,
	}
}

func (e *env) create(t *testing.T, n int) []*models.Item {
	t.Helper()
	out := make([]*models.Item, 0, n)
	for i := 0; i < n; i++ {
		it, err := e.svc.CreateItem(context.Background(), services.CreateItemRequest{
			OwnerID: "u1", Kind: models.KindFile, Data: []byte(fmt.Sprintf("blob-%d", i)),
		})
		require.NoError(t, err)
		out = append(out, it)
	}
	return out
}

func newTestSweeper(store Store, backend storage.Backend, batch int) *Sweeper {
	s := New(store, backend, time.Hour, batch, logging.NewDiscardLogger())
	s.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	return s
}

func TestSweep_DeletesExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created := e.create(t, 3)

	kept, err := e.svc.SetRetain(ctx, created[0].ID, true)
	require.NoError(t, err)

	rep, err := newTestSweeper(e.store, e.backend, 100).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Candidates)
	assert.Equal(t, 2, rep.Deleted)

	for _, it := range created[1:] {
		ok, err := e.backend.Exists(ctx, it.StorageKey)
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = e.store.Get(ctx, it.ID)
		assert.ErrorIs(t, err, common.ErrorNotFound)
	}

	got, err := e.svc.ReadItem(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-0"), got, "retained item survives")
}

func TestSweep_BatchLimit(t *testing.T) {
	e := newEnv(t)
	e.create(t, 5)
	s := newTestSweeper(e.store, e.backend, 2)

	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Deleted)

	rep, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Deleted)

	rep, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)
}

// flakyStore fails metadata deletes while fail is set, simulating a crash
// between the blob delete and the metadata delete.
type flakyStore struct {
	Store
	fail atomic.Bool
}

func (f *flakyStore) Delete(ctx context.Context, id string) error {
	if f.fail.Load() {
		return errors.New("connection lost")
	}
	return f.Store.Delete(ctx, id)
}

func TestSweep_ConvergesAfterMetadataDeleteFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	it := e.create(t, 1)[0]

	store := &flakyStore{Store: e.store}
	store.fail.Store(true)
	s := newTestSweeper(store, e.backend, 100)

	rep, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	ok, err := e.backend.Exists(ctx, it.StorageKey)
	require.NoError(t, err)
	assert.False(t, ok, "blob already gone")
	_, err = e.store.Get(ctx, it.ID)
	require.NoError(t, err, "metadata still present")

	store.fail.Store(false)
	rep, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Candidates: 1, Deleted: 1, Duration: rep.Duration}, rep)

	_, err = e.store.Get(ctx, it.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

type downBackend struct {
	storage.Backend
	down atomic.Bool
}

func (b *downBackend) Delete(ctx context.Context, key string) error {
	if b.down.Load() {
		return fmt.Errorf("%w: timeout", common.ErrStorageUnavailable)
	}
	return b.Backend.Delete(ctx, key)
}

func TestSweep_SkipsWhenStorageUnavailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	it := e.create(t, 1)[0]

	backend := &downBackend{Backend: e.backend}
	backend.down.Store(true)
	s := newTestSweeper(e.store, backend, 100)

	rep, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Deleted)

	got, err := e.svc.ReadItem(ctx, it.ID)
	require.NoError(t, err, "item untouched")
	assert.Equal(t, []byte("blob-0"), got)

	backend.down.Store(false)
	rep, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)
}

type blockingBackend struct {
	storage.Backend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Delete(ctx context.Context, key string) error {
	b.entered <- struct{}{}
	<-b.release
	return b.Backend.Delete(ctx, key)
}

func TestSweep_NoOverlap(t *testing.T) {
	e := newEnv(t)
	e.create(t, 1)

	backend := &blockingBackend{Backend: e.backend, entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := newTestSweeper(e.store, backend, 100)

	done := make(chan Report)
	go func() {
		rep, err := s.Sweep(context.Background())
		assert.NoError(t, err)
		done <- rep
	}()

	<-backend.entered
	_, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, common.ErrSweepInProgress)

	// a tick while busy is skipped, not queued
	s.tick(context.Background())

	close(backend.release)
	assert.Equal(t, 1, (<-done).Deleted)
	s.wg.Wait()

	_, err = s.Sweep(context.Background())
	assert.NoError(t, err, "guard released after the cycle")
}

type errStore struct{}

func (errStore) ListExpired(context.Context, time.Time, int) ([]*models.Item, error) {
	return nil, errors.New("db down")
}
func (errStore) Delete(context.Context, string) error { return nil }

func TestSweep_ListError(t *testing.T) {
	_, err := newTestSweeper(errStore{}, nil, 10).Sweep(context.Background())
	assert.Error(t, err)
}

type countingStore struct {
	calls atomic.Int64
}

func (c *countingStore) ListExpired(context.Context, time.Time, int) ([]*models.Item, error) {
	c.calls.Add(1)
	return nil, nil
}
func (c *countingStore) Delete(context.Context, string) error { return nil }

func TestRun_TicksAndStops(t *testing.T) {
	store := &countingStore{}
	s := New(store, nil, 5*time.Millisecond, 10, logging.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return store.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// An explicit user delete racing a sweep on the same items must never
// surface an error from either side.
func TestConcurrentDeleteAndSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created := e.create(t, 20)
	s := newTestSweeper(e.store, e.backend, 100)

	var wg sync.WaitGroup
	for _, it := range created {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, e.svc.DeleteItem(ctx, id))
		}(it.ID)
	}

	var rep Report
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		rep, err = s.Sweep(ctx)
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.Zero(t, rep.Skipped)
	assert.Zero(t, rep.Failed)

	// and once more on the now-empty store
	rep, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates)

	left, err := e.store.ListByOwner(ctx, "u1", items.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, left)
}

// stuckBackend fails blob deletes for a fixed set of keys.
type stuckBackend struct {
	storage.Backend
	stuck map[string]bool
}

func (b *stuckBackend) Delete(ctx context.Context, key string) error {
	if b.stuck[key] {
		return fmt.Errorf("%w: permission denied", common.ErrStorageUnavailable)
	}
	return b.Backend.Delete(ctx, key)
}

func TestSweep_FailingItemsDoNotStarveTheRest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, 4)
	s := newTestSweeper(e.store, e.backend, 2)

	// the two items first in expiry order can never be deleted
	first, err := e.store.ListExpired(ctx, s.now(), 2)
	require.NoError(t, err)
	backend := &stuckBackend{Backend: e.backend, stuck: map[string]bool{}}
	for _, it := range first {
		backend.stuck[it.StorageKey] = true
	}
	s.backend = backend

	rep, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Zero(t, rep.Deleted)

	rep, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Deleted, "fresh candidates go ahead of retries")

	left, err := e.store.ListExpired(ctx, s.now(), 10)
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, it := range left {
		assert.True(t, backend.stuck[it.StorageKey])
	}

	// once the backend recovers the retries drain
	backend.stuck = map[string]bool{}
	rep, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Deleted)
}

// memStore is a minimal Store for rows the item service would never write.
type memStore struct {
	mu    sync.Mutex
	items []*models.Item
}

func (m *memStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Item
	for _, it := range m.items {
		if it.Expired(now) && len(out) < limit {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	return nil
}

func TestSweep_UnaddressableKeyDropsMetadata(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	exp := time.Now().UTC().Add(-time.Minute)
	store := &memStore{items: []*models.Item{
		{ID: "legacy", StorageKey: "../outside", ExpiresAt: &exp},
		{ID: "ok", StorageKey: "items/2026/10/15/ok", ExpiresAt: &exp},
	}}
	require.NoError(t, backend.Put(ctx, "items/2026/10/15/ok", []byte("x")))

	s := newTestSweeper(store, backend, 10)
	rep, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Deleted)
	assert.Zero(t, rep.Skipped)
	assert.Empty(t, store.items)
}
