package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/clipdrop/internal/dbx"
	"github.com/dmitrijs2005/clipdrop/internal/server/config"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/items"
	"github.com/pressly/goose/v3"
)

// RepositoryManager vends dialect-specific repositories bound to a DBTX and
// applies that dialect's schema migrations.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Items(db dbx.DBTX) items.Repository
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// New returns the manager for a configured database driver.
func New(driver string) (RepositoryManager, error) {
	switch driver {
	case config.DriverPostgres:
		return NewPostgresRepositoryManager(), nil
	case config.DriverSQLite:
		return NewSQLiteRepositoryManager(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// Open opens and pings the metadata database for driver.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case config.DriverPostgres:
		db, err = sql.Open("pgx", dsn)
	case config.DriverSQLite:
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// one writer at a time avoids SQLITE_BUSY inside transactions
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}
