package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/clipdrop/internal/dbx"
	"github.com/dmitrijs2005/clipdrop/internal/server/migrations"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/items"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteRepositoryManager backs the metadata store with a single SQLite file.
type SQLiteRepositoryManager struct{}

func (m *SQLiteRepositoryManager) Items(db dbx.DBTX) items.Repository {
	return items.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.DirSQLite)
}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}
