// Package persistence keeps the authoritative world in a SQLite property
// graph. Writes flow one way, from tick snapshots to disk; the database is
// read exactly once, at boot, to rebuild the in-memory world.
package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Store owns the SQLite handle. SQLite allows one writer, so the pool is
// pinned to a single connection.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, applying pragmas and the
// schema. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for tests and tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// LatestMarker returns the highest persisted tick, or false if none was
// ever written.
func (s *Store) LatestMarker(ctx context.Context) (uint64, bool, error) {
	var tick sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(tick) FROM snapshot_markers`).Scan(&tick)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to query snapshot markers")
	}
	if !tick.Valid {
		return 0, false, nil
	}
	return uint64(tick.Int64), true, nil
}

// BumpLeaseEpoch increments and returns the durable lease epoch. Called once
// per boot, before any envelope is sent, so every frame from this process
// carries a strictly newer epoch than any prior authority over this world.
func (s *Store) BumpLeaseEpoch(ctx context.Context) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin epoch transaction")
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRowContext(ctx, `SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'lease_epoch'`).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrap(err, "failed to read lease epoch")
	}
	next := current + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('lease_epoch', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", next))
	if err != nil {
		return 0, errors.Wrap(err, "failed to write lease epoch")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit lease epoch")
	}
	return next, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "failed to execute %q", pragma)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return errors.Wrap(err, "failed to set user_version")
	}
	return nil
}
