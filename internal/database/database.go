// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package database owns the embedded SQLite store and every SQL statement in
// Metarr. One relational database holds entities, the durable job queue, the
// provider cache, asset candidates, the cache file registry, runtime settings
// and refresh logs.
//
// The store uses the pure-Go modernc.org/sqlite driver so deployments need no
// cgo toolchain. WAL mode plus a busy timeout gives the worker pool safe
// concurrent access; multi-row sequences that must appear atomic run inside
// short-lived transactions.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/metarr/metarr/internal/logging"
)

// DB wraps the SQL handle and provides typed stores for each table family.
type DB struct {
	sql *sql.DB
}

// Open opens (and creates if necessary) the database at path and applies all
// pending migrations. Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}

	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer; a small pool still helps readers, but the
	// in-memory DSN must stay on a single connection to see one schema.
	if path == ":memory:" {
		handle.SetMaxOpenConns(1)
	} else {
		handle.SetMaxOpenConns(4)
	}
	handle.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{sql: handle}
	if err := db.migrate(context.Background()); err != nil {
		closeQuietly(handle)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logging.Info().Str("path", path).Msg("database opened")
	return db, nil
}

// SQL exposes the underlying handle for stores that live outside this
// package (the job store in internal/queue).
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// Close closes the database handle.
func (db *DB) Close() error {
	return db.sql.Close()
}

// WithTx runs fn inside a transaction, rolling back on error.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Timestamps are stored as Unix seconds so comparisons stay cheap and the
// format survives driver changes.

func nowUnix() int64 {
	return time.Now().UTC().Unix()
}

func toUnix(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnix(*t), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}
