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

// InsertScore appends one scoring result. History is never rewritten; the
// current score per entity is the newest row.
func (db *DB) InsertScore(ctx context.Context, s *models.Score) error {
	start := time.Now()
	breakdown, err := marshalJSON(s.Breakdown)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO scores (entity_id, run_at, value, breakdown, strategy, version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.EntityID, s.RunAt, s.Value, breakdown, s.Strategy, s.Version)
	observe("insert", "scores", start, err)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

// CurrentScore returns the most recent score for one entity, or ErrNotFound.
func (db *DB) CurrentScore(ctx context.Context, entityID uuid.UUID) (*models.Score, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT entity_id, run_at, value, breakdown, strategy, version
		 FROM scores WHERE entity_id = ?
		 ORDER BY run_at DESC LIMIT 1`, entityID)
	s, err := scanScoreRow(row)
	observe("select", "scores", start, err)
	return s, err
}

// TopScores returns the highest current scores, one row per entity. A non-empty
// category restricts the result to entities in that category.
func (db *DB) TopScores(ctx context.Context, category string, limit int) ([]*models.Score, error) {
	start := time.Now()
	q := `SELECT s.entity_id, s.run_at, s.value, s.breakdown, s.strategy, s.version
	      FROM scores s`
	args := []interface{}{}
	if category != "" {
		q += ` JOIN entities e ON e.id = s.entity_id WHERE e.category = ?`
		args = append(args, category)
	}
	q += ` QUALIFY row_number() OVER (PARTITION BY s.entity_id ORDER BY s.run_at DESC) = 1
	       ORDER BY s.value DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	observe("select", "scores", start, err)
	if err != nil {
		return nil, fmt.Errorf("top scores: %w", err)
	}
	defer rows.Close()
	return scanScores(rows)
}

// ScoreHistory returns an entity's score rows, newest first.
func (db *DB) ScoreHistory(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.Score, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT entity_id, run_at, value, breakdown, strategy, version
		 FROM scores WHERE entity_id = ?
		 ORDER BY run_at DESC LIMIT ?`, entityID, limit)
	observe("select", "scores", start, err)
	if err != nil {
		return nil, fmt.Errorf("score history: %w", err)
	}
	defer rows.Close()
	return scanScores(rows)
}

// PreviousScore returns the score that preceded the most recent run for an
// entity. The alert evaluator compares it against the current score to detect
// threshold crossings rather than re-firing on every run.
func (db *DB) PreviousScore(ctx context.Context, entityID uuid.UUID) (*models.Score, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT entity_id, run_at, value, breakdown, strategy, version
		 FROM scores WHERE entity_id = ?
		 ORDER BY run_at DESC LIMIT 1 OFFSET 1`, entityID)
	s, err := scanScoreRow(row)
	observe("select", "scores", start, err)
	return s, err
}

func scanScores(rows *sql.Rows) ([]*models.Score, error) {
	var out []*models.Score
	for rows.Next() {
		s, err := scanScoreRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanScoreRow(row rowScanner) (*models.Score, error) {
	var s models.Score
	var breakdown string
	err := row.Scan(&s.EntityID, &s.RunAt, &s.Value, &breakdown, &s.Strategy, &s.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan score: %w", err)
	}
	if breakdown != "" {
		if err := json.Unmarshal([]byte(breakdown), &s.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown: %w", err)
		}
	}
	return &s, nil
}
