// Package db is the sqlite-backed record store for tracked entities,
// runtime settings and the operator notification log.
//
// The schema is owned by the embedded golang-migrate migrations; NewDB applies
// any pending ones on open. Every read-modify-write goes through WithTx, which
// opens an IMMEDIATE transaction so the reconciliation goroutine and the admin
// handlers never interleave on the same row.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/friendloc/internal/monitoring"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type DB struct {
	*sql.DB
}

// MigrationsFS returns the embedded migration files rooted at the
// directory that holds the .sql files.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations missing: %v", err))
	}
	return sub
}

// OpenDB opens the database without touching the schema. It is used by the
// migrate subcommand and by tests that manage migrations themselves.
func OpenDB(path string) (*DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")

	sqlDB, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database at path and applies all pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// WithTx runs fn inside a single transaction. The transaction is committed
// when fn returns nil and rolled back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(store EntityStore) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			monitoring.Warnf("failed to rollback transaction: %v", err)
		}
	}()

	if err := fn(&entityQueries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Entities returns a non-transactional view of the entity table.
func (db *DB) Entities() EntityStore {
	return &entityQueries{q: db.DB}
}

// ListAll returns every tracked entity ordered by id.
func (db *DB) ListAll(ctx context.Context) ([]Entity, error) {
	return db.Entities().ListAll(ctx)
}
