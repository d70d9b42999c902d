// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/models"
)

// InsertFeatureRow appends one analyzer output row. Feature rows are
// immutable history; multiple analyzers write independent rows for the same
// (entity, run) and nothing ever overwrites them.
func (db *DB) InsertFeatureRow(ctx context.Context, fr *models.FeatureRow) error {
	start := time.Now()
	features, err := marshalJSON(fr.Features)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO feature_rows (entity_id, analyzer, run_at, schema_version, features)
		 VALUES (?, ?, ?, ?, ?)`,
		fr.EntityID, fr.Analyzer, fr.RunAt, fr.SchemaVersion, features)
	observe("insert", "feature_rows", start, err)
	if err != nil {
		return fmt.Errorf("insert feature row: %w", err)
	}
	return nil
}

// LatestFeatures returns the most recent feature row per analyzer for an
// entity, merged into one map keyed "analyzer.feature". The scoring engine
// consumes this shape.
func (db *DB) LatestFeatures(ctx context.Context, entityID uuid.UUID) (map[string]float64, error) {
	return db.FeaturesAsOf(ctx, entityID, time.Time{})
}

// FeaturesAsOf reconstructs the feature view for an entity at a point in
// time: the latest row per analyzer at or before asOf. A zero asOf means
// "now". Point-in-time reconstruction is why feature rows are append-only.
func (db *DB) FeaturesAsOf(ctx context.Context, entityID uuid.UUID, asOf time.Time) (map[string]float64, error) {
	start := time.Now()
	cutoff := asOf
	if cutoff.IsZero() {
		cutoff = time.Now().Add(time.Hour) // future bound, effectively "latest"
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT analyzer, features FROM feature_rows
		 WHERE entity_id = ? AND run_at <= ?
		 QUALIFY row_number() OVER (PARTITION BY analyzer ORDER BY run_at DESC) = 1`,
		entityID, cutoff)
	observe("select", "feature_rows", start, err)
	if err != nil {
		return nil, fmt.Errorf("features as of: %w", err)
	}
	defer rows.Close()

	merged := make(map[string]float64)
	for rows.Next() {
		var analyzer, featJSON string
		if err := rows.Scan(&analyzer, &featJSON); err != nil {
			return nil, err
		}
		var feats map[string]float64
		if err := json.Unmarshal([]byte(featJSON), &feats); err != nil {
			return nil, fmt.Errorf("decode features for %s: %w", analyzer, err)
		}
		for k, v := range feats {
			merged[analyzer+"."+k] = v
		}
	}
	return merged, rows.Err()
}

// FeatureHistory returns an entity's full feature row history, newest first.
func (db *DB) FeatureHistory(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.FeatureRow, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT entity_id, analyzer, run_at, schema_version, features
		 FROM feature_rows WHERE entity_id = ?
		 ORDER BY run_at DESC LIMIT ?`, entityID, limit)
	observe("select", "feature_rows", start, err)
	if err != nil {
		return nil, fmt.Errorf("feature history: %w", err)
	}
	defer rows.Close()

	var out []*models.FeatureRow
	for rows.Next() {
		var fr models.FeatureRow
		var featJSON string
		if err := rows.Scan(&fr.EntityID, &fr.Analyzer, &fr.RunAt, &fr.SchemaVersion, &featJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(featJSON), &fr.Features); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
		out = append(out, &fr)
	}
	return out, rows.Err()
}

// ReplaceCloneLinks supersedes the previous detector run's links with the
// given set in one transaction. Stale links from entities no longer meeting
// threshold must not persist past the next run, so the whole relation is
// replaced, never merged.
func (db *DB) ReplaceCloneLinks(ctx context.Context, links []models.CloneLink) error {
	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace clone links: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM clone_links`); err != nil {
		observe("delete", "clone_links", start, err)
		return fmt.Errorf("clear clone links: %w", err)
	}
	for i := range links {
		l := &links[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO clone_links (entity_a, entity_b, channel, similarity, run_at)
			 VALUES (?, ?, ?, ?, ?)`,
			l.EntityA, l.EntityB, l.Channel, l.Similarity, l.RunAt); err != nil {
			observe("insert", "clone_links", start, err)
			return fmt.Errorf("insert clone link: %w", err)
		}
	}
	err = tx.Commit()
	observe("insert", "clone_links", start, err)
	if err != nil {
		return fmt.Errorf("commit clone links: %w", err)
	}
	return nil
}

// CloneLinksFor returns the current run's links touching an entity, on
// either side of the relation.
func (db *DB) CloneLinksFor(ctx context.Context, entityID uuid.UUID) ([]models.CloneLink, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT entity_a, entity_b, channel, similarity, run_at
		 FROM clone_links WHERE entity_a = ? OR entity_b = ?
		 ORDER BY similarity DESC`, entityID, entityID)
	observe("select", "clone_links", start, err)
	if err != nil {
		return nil, fmt.Errorf("clone links for: %w", err)
	}
	defer rows.Close()
	return scanCloneLinks(rows)
}

// AllCloneLinks returns every current clone link.
func (db *DB) AllCloneLinks(ctx context.Context) ([]models.CloneLink, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT entity_a, entity_b, channel, similarity, run_at FROM clone_links`)
	observe("select", "clone_links", start, err)
	if err != nil {
		return nil, fmt.Errorf("all clone links: %w", err)
	}
	defer rows.Close()
	return scanCloneLinks(rows)
}

// MaxCloneSimilarity returns the highest current similarity for an entity,
// or 0 when it has no links. Feeds the clone-penalty scoring factor.
func (db *DB) MaxCloneSimilarity(ctx context.Context, entityID uuid.UUID) (float64, error) {
	start := time.Now()
	var sim sql.NullFloat64
	err := db.conn.QueryRowContext(ctx,
		`SELECT max(similarity) FROM clone_links WHERE entity_a = ? OR entity_b = ?`,
		entityID, entityID).Scan(&sim)
	observe("select", "clone_links", start, err)
	if err != nil {
		return 0, fmt.Errorf("max clone similarity: %w", err)
	}
	return sim.Float64, nil
}

func scanCloneLinks(rows *sql.Rows) ([]models.CloneLink, error) {
	var out []models.CloneLink
	for rows.Next() {
		var l models.CloneLink
		if err := rows.Scan(&l.EntityA, &l.EntityB, &l.Channel, &l.Similarity, &l.RunAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
