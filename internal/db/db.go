// Package db provides the local SQLite database and the story store built on it.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/kimhsiao/storysync/internal/errors"
)

// FileName is the database file created inside the data directory.
const FileName = "storysync.db"

// DB wraps the sql.DB with StorySync-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database inside dataDir and applies all migrations.
// The database is opened with:
// - WAL mode for concurrent reads/writes
// - a busy timeout so short lock contention waits instead of failing
// - a single connection, since SQLite supports one writer
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, FileName))
}

// OpenPath opens the database at path (":memory:" is allowed) and migrates it.
func OpenPath(path string) (*DB, error) {
	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	migrator := NewMigrator(db, Migrations())
	if err := migrator.Initialize(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to initialize migrations", err)
	}
	if err := migrator.Up(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to migrate database", err)
	}

	return &DB{db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
