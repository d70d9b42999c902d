// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/models"
)

// marshalJSON serializes v for VARCHAR storage. Failures here indicate a
// programming error (unserializable type), so they surface as errors rather
// than being swallowed.
func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalFloats(s sql.NullString) []float32 {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}

// CreateEntity inserts a new entity. A duplicate resolution key returns the
// already-existing row instead of erroring, which makes the call safe under
// the ingest layer's per-key serialization as well as against a second
// process racing on the same store.
func (db *DB) CreateEntity(ctx context.Context, e *models.Entity) (*models.Entity, error) {
	start := time.Now()
	ids, err := marshalJSON(e.SourceIDs)
	if err != nil {
		return nil, err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO entities (id, resolution_key, title, category, first_seen, last_seen, source_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (resolution_key) DO NOTHING`,
		e.ID, e.ResolutionKey, e.Title, e.Category, e.FirstSeen, e.LastSeen, ids)
	observe("insert", "entities", start, err)
	if err != nil {
		return nil, fmt.Errorf("create entity: %w", err)
	}

	// Re-read: on conflict the stored row (possibly created by a racing
	// writer) is authoritative.
	return db.GetEntityByResolutionKey(ctx, e.ResolutionKey)
}

// GetEntityByResolutionKey returns the entity for a resolution key, or
// ErrNotFound.
func (db *DB) GetEntityByResolutionKey(ctx context.Context, key string) (*models.Entity, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, resolution_key, title, category, first_seen, last_seen, source_ids
		 FROM entities WHERE resolution_key = ?`, key)
	e, err := scanEntity(row)
	observe("select", "entities", start, err)
	return e, err
}

// GetEntity returns an entity by id, or ErrNotFound.
func (db *DB) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, resolution_key, title, category, first_seen, last_seen, source_ids
		 FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	observe("select", "entities", start, err)
	return e, err
}

// GetEntityBySourceRef finds the entity already holding a "source:id" ref.
// Source-native ids are authoritative for identity resolution when present.
func (db *DB) GetEntityBySourceRef(ctx context.Context, ref string) (*models.Entity, error) {
	start := time.Now()
	// source_ids is a JSON array; a LIKE over the quoted element is
	// sufficient because refs never contain quotes.
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, resolution_key, title, category, first_seen, last_seen, source_ids
		 FROM entities WHERE source_ids LIKE ?`, `%"`+ref+`"%`)
	e, err := scanEntity(row)
	observe("select", "entities", start, err)
	return e, err
}

// TouchEntity updates last_seen and merges new source refs into the entity's
// source id set. This is the only mutation entities receive. The same entity
// can be touched from two resolution keys at once when a source ref matched,
// so the read-merge-write holds its own lock.
func (db *DB) TouchEntity(ctx context.Context, id uuid.UUID, lastSeen time.Time, sourceIDs []string) error {
	db.touchMu.Lock()
	defer db.touchMu.Unlock()

	start := time.Now()
	current, err := db.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	merged := current.SourceIDs
	for _, ref := range sourceIDs {
		seen := false
		for _, have := range merged {
			if have == ref {
				seen = true
				break
			}
		}
		if !seen {
			merged = append(merged, ref)
		}
	}
	ids, err := marshalJSON(merged)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`UPDATE entities SET last_seen = ?, source_ids = ? WHERE id = ?`,
		lastSeen, ids, id)
	observe("update", "entities", start, err)
	if err != nil {
		return fmt.Errorf("touch entity: %w", err)
	}
	return nil
}

// ListEntitiesByCategory returns all entities in a category, used by the
// clone detector and the fuzzy matcher.
func (db *DB) ListEntitiesByCategory(ctx context.Context, category string) ([]*models.Entity, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, resolution_key, title, category, first_seen, last_seen, source_ids
		 FROM entities WHERE category = ? ORDER BY first_seen`, category)
	observe("select", "entities", start, err)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// ListEntities returns every entity, ordered by first sighting.
func (db *DB) ListEntities(ctx context.Context) ([]*models.Entity, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, resolution_key, title, category, first_seen, last_seen, source_ids
		 FROM entities ORDER BY first_seen`)
	observe("select", "entities", start, err)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// Categories returns the distinct entity categories.
func (db *DB) Categories(ctx context.Context) ([]string, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT category FROM entities ORDER BY category`)
	observe("select", "entities", start, err)
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	var ids string
	err := row.Scan(&e.ID, &e.ResolutionKey, &e.Title, &e.Category, &e.FirstSeen, &e.LastSeen, &ids)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	e.SourceIDs = unmarshalStrings(ids)
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]*models.Entity, error) {
	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
