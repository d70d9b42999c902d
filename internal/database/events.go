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

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/models"
)

// UpsertEvent inserts a calendar event, deduplicated on (name, start, source)
// so re-scrapes of the same calendar do not multiply rows.
func (db *DB) UpsertEvent(ctx context.Context, e *models.EventEntity) error {
	start := time.Now()
	keywords, err := marshalJSON(e.Keywords)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO events (id, name, category, start_at, end_at, source, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name, start_at, source) DO UPDATE SET
			category = excluded.category,
			end_at = excluded.end_at,
			keywords = excluded.keywords`,
		e.ID, e.Name, e.Category, e.StartAt, e.EndAt, e.Source, keywords)
	observe("insert", "events", start, err)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// UpcomingEvents returns events starting within the window [now, now+lead].
func (db *DB) UpcomingEvents(ctx context.Context, now time.Time, lead time.Duration) ([]*models.EventEntity, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, category, start_at, end_at, source, keywords
		 FROM events WHERE start_at >= ? AND start_at <= ?
		 ORDER BY start_at`, now, now.Add(lead))
	observe("select", "events", start, err)
	if err != nil {
		return nil, fmt.Errorf("upcoming events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEvent returns one event by id, or ErrNotFound.
func (db *DB) GetEvent(ctx context.Context, id uuid.UUID) (*models.EventEntity, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, category, start_at, end_at, source, keywords
		 FROM events WHERE id = ?`, id)

	e, err := scanEventRow(row)
	observe("select", "events", start, err)
	return e, err
}

// ReplaceCorrelations supersedes the previous correlator run's output, same
// replace-not-merge semantics as clone links.
func (db *DB) ReplaceCorrelations(ctx context.Context, correlations []models.EventCorrelation) error {
	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace correlations: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_correlations`); err != nil {
		observe("delete", "event_correlations", start, err)
		return fmt.Errorf("clear correlations: %w", err)
	}
	for i := range correlations {
		c := &correlations[i]
		keywords, err := marshalJSON(c.Keywords)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_correlations (entity_id, event_id, relevance, keywords, run_at)
			 VALUES (?, ?, ?, ?, ?)`,
			c.EntityID, c.EventID, c.Relevance, keywords, c.RunAt); err != nil {
			observe("insert", "event_correlations", start, err)
			return fmt.Errorf("insert correlation: %w", err)
		}
	}
	err = tx.Commit()
	observe("insert", "event_correlations", start, err)
	if err != nil {
		return fmt.Errorf("commit correlations: %w", err)
	}
	return nil
}

// CorrelationsFor returns an entity's current event correlations, strongest
// first.
func (db *DB) CorrelationsFor(ctx context.Context, entityID uuid.UUID) ([]models.EventCorrelation, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT entity_id, event_id, relevance, keywords, run_at
		 FROM event_correlations WHERE entity_id = ?
		 ORDER BY relevance DESC`, entityID)
	observe("select", "event_correlations", start, err)
	if err != nil {
		return nil, fmt.Errorf("correlations for: %w", err)
	}
	defer rows.Close()

	var out []models.EventCorrelation
	for rows.Next() {
		var c models.EventCorrelation
		var keywords string
		if err := rows.Scan(&c.EntityID, &c.EventID, &c.Relevance, &keywords, &c.RunAt); err != nil {
			return nil, err
		}
		c.Keywords = unmarshalStrings(keywords)
		out = append(out, c)
	}
	return out, rows.Err()
}

// MaxEventRelevance returns the strongest current correlation for an entity,
// or 0. Feeds the event-boost scoring factor.
func (db *DB) MaxEventRelevance(ctx context.Context, entityID uuid.UUID) (float64, error) {
	start := time.Now()
	var rel sql.NullFloat64
	err := db.conn.QueryRowContext(ctx,
		`SELECT max(relevance) FROM event_correlations WHERE entity_id = ?`,
		entityID).Scan(&rel)
	observe("select", "event_correlations", start, err)
	if err != nil {
		return 0, fmt.Errorf("max event relevance: %w", err)
	}
	return rel.Float64, nil
}

func scanEvents(rows *sql.Rows) ([]*models.EventEntity, error) {
	var out []*models.EventEntity
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEventRow(row rowScanner) (*models.EventEntity, error) {
	var e models.EventEntity
	var category sql.NullString
	var endAt sql.NullTime
	var keywords string
	err := row.Scan(&e.ID, &e.Name, &category, &e.StartAt, &endAt, &e.Source, &keywords)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Category = category.String
	if endAt.Valid {
		t := endAt.Time
		e.EndAt = &t
	}
	e.Keywords = unmarshalStrings(keywords)
	return &e, nil
}
