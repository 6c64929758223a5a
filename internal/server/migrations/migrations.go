// Package migrations embeds the goose schema migrations for each supported
// metadata store dialect. Postgres files live under postgres/, SQLite files
// under sqlite/.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS

const (
	DirPostgres = "postgres"
	DirSQLite   = "sqlite"
)
