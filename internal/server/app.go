// Package server wires the ClipDrop engine together: configuration, the
// metadata database, the blob backend, the crypto engine and the retention
// sweeper. It runs the sweeper as a long-lived process with graceful
// shutdown on SIGINT/SIGTERM/SIGQUIT.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/clipdrop/internal/common"
	"github.com/dmitrijs2005/clipdrop/internal/cryptox"
	"github.com/dmitrijs2005/clipdrop/internal/logging"
	"github.com/dmitrijs2005/clipdrop/internal/server/config"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/clipdrop/internal/server/services"
	"github.com/dmitrijs2005/clipdrop/internal/server/storage"
	"github.com/dmitrijs2005/clipdrop/internal/server/sweeper"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	backend     storage.Backend
	store       *services.MetadataStore
	items       *services.ItemService
	sweeper     *sweeper.Sweeper
}

// NewApp validates key material, opens the metadata database and the blob
// backend, and builds the services. It fails before anything is served
// when the key is malformed or a backend is unreachable.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	key, err := cryptox.LoadKey(c.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if key == nil {
		if c.RequireEncryption {
			return nil, fmt.Errorf("%w: encryption key is required", common.ErrInvalidKeyMaterial)
		}
		logger.Warn(ctx, "encryption key not configured; items will be stored unencrypted")
	}
	engine, err := cryptox.NewEngine(cryptox.Config{Key: key})
	if err != nil {
		return nil, err
	}

	rm, err := repomanager.New(c.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	db, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	backend, err := storage.New(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	if p, ok := backend.(storage.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage init error: %w", err)
		}
	}

	store := services.NewMetadataStore(db, rm)
	items := services.NewItemService(store, backend, engine, c.RetentionWindow, logger)
	sw := sweeper.New(store, backend, c.SweepInterval, c.SweepBatchSize, logger)

	logger.Info(ctx, "app initialised",
		"driver", c.DatabaseDriver,
		"storage", c.StorageType,
		"encrypted", engine.Enabled(),
		"retention", c.RetentionWindow.String(),
	)

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		repomanager: rm,
		backend:     backend,
		store:       store,
		items:       items,
		sweeper:     sw,
	}, nil
}

func (app *App) Items() *services.ItemService { return app.items }

func (app *App) Sweeper() *sweeper.Sweeper { return app.sweeper }

// Migrate brings the metadata schema up to date.
func (app *App) Migrate(ctx context.Context) error {
	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

func (app *App) Close() error {
	return app.db.Close()
}

// notifyContext is swapped in tests.
var notifyContext = signal.NotifyContext

// Run migrates the schema and runs the sweeper until ctx is cancelled or a
// termination signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	// cancelled on SIGINT/SIGTERM/SIGQUIT; stop releases the signal handler
	ctx, stop := notifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	if err := app.Migrate(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.sweeper.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()
	app.logger.Info(context.WithoutCancel(ctx), "app stopped")
	return nil
}
