package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/cryptox"
	"github.com/dmitrijs2005/clipdrop/internal/logging"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/clipdrop/internal/server/storage"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

func newSQLiteStore(t *testing.T) (*MetadataStore, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:services_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := repomanager.Open(ctx, "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm := repomanager.NewSQLiteRepositoryManager()
	require.NoError(t, rm.RunMigrations(ctx, db))
	return NewMetadataStore(db, rm), db
}

type fixture struct {
	svc     *ItemService
	store   *MetadataStore
	backend *storage.LocalBackend
	clock   time.Time
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newFixture(t *testing.T, key []byte) *fixture {
	t.Helper()

	store, _ := newSQLiteStore(t)
	backend, err := storage.NewLocalBackend(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	engine, err := cryptox.NewEngine(cryptox.Config{Key: key})
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		backend: backend,
		clock:   time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewItemService(store, backend, engine, 24*time.Hour, logging.NewDiscardLogger())
	f.svc.now = func() time.Time { return f.clock }
	return f
}
