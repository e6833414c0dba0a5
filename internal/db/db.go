// Package db is the local station catalog: a SQLite file holding the
// station metadata periods fetched from upstream sources, so that repeat
// runs and offline runs can enrich products without a network lookup.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "modernc.org/sqlite"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// MigrationsFS returns the schema migrations shipped with the binary.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		// embed guarantees the directory exists
		panic(err)
	}
	return sub
}

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the catalog at path and brings its schema up to
// date. Use ":memory:" for a throwaway catalog.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	version, _, err := db.MigrateVersion(MigrationsFS())
	if err == nil {
		monitoring.Debugf("catalog %s at schema version %d", path, version)
	}
	return db, nil
}

func applyPragmas(sqlDB *sql.DB) error {
	for _, p := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}
