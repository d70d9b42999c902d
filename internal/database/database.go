// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package database implements the historical store on DuckDB.
//
// The store is append-only for listings, feature rows, clone links, event
// correlations, and scores. The only mutable state is the entity row
// (last_seen, source id set), the alert subscription table, and the single
// active model version pointer. Analyzer reads run against a possibly stale
// snapshot; this relaxation is deliberate.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// touchMu serializes the read-merge-write in TouchEntity. One entity is
	// reachable from several resolution keys via its source refs, so the
	// per-key locking in ingest is not enough on its own.
	touchMu sync.Mutex
}

// New creates a new database connection and initializes the schema.
// Path ":memory:" opens an in-memory database, used by tests.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" && cfg.Path != "" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
			cfg.Path, numThreads, cfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}
	if err := db.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Msg("database ready")
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// observe records query timing and errors for the given operation/table.
func observe(op, table string, start time.Time, err error) {
	metrics.DBQueryDuration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues(op, table).Inc()
	}
}

// PruneBefore deletes listings, reviews, feature rows, and scores observed
// before the cutoff. Entities are kept: they are never deleted while the
// retention horizon may still reference them, and an entity row without
// listings is harmless metadata.
func (db *DB) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	var total int64
	for _, stmt := range []struct {
		table string
		query string
	}{
		{"listings", "DELETE FROM listings WHERE observed_at < ?"},
		{"reviews", "DELETE FROM reviews WHERE observed_at < ?"},
		{"feature_rows", "DELETE FROM feature_rows WHERE run_at < ?"},
		{"scores", "DELETE FROM scores WHERE run_at < ?"},
	} {
		res, err := db.conn.ExecContext(ctx, stmt.query, cutoff)
		if err != nil {
			observe("delete", stmt.table, start, err)
			return total, fmt.Errorf("prune %s: %w", stmt.table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	observe("delete", "retention", start, nil)
	return total, nil
}
