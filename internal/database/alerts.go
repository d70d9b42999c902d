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

// CreateAlertSubscription persists a new subscription.
func (db *DB) CreateAlertSubscription(ctx context.Context, sub *models.AlertSubscription) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO alert_subscriptions (id, entity_id, category, threshold, direction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.EntityID, nullableString(sub.Category), sub.Threshold, sub.Direction, sub.CreatedAt)
	observe("insert", "alert_subscriptions", start, err)
	if err != nil {
		return fmt.Errorf("create alert subscription: %w", err)
	}
	return nil
}

// GetAlertSubscription returns one subscription by id, or ErrNotFound.
func (db *DB) GetAlertSubscription(ctx context.Context, id uuid.UUID) (*models.AlertSubscription, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, entity_id, category, threshold, direction, created_at
		 FROM alert_subscriptions WHERE id = ?`, id)
	sub, err := scanAlertSubscription(row)
	observe("select", "alert_subscriptions", start, err)
	return sub, err
}

// ListAlertSubscriptions returns all subscriptions, oldest first.
func (db *DB) ListAlertSubscriptions(ctx context.Context) ([]*models.AlertSubscription, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, entity_id, category, threshold, direction, created_at
		 FROM alert_subscriptions ORDER BY created_at`)
	observe("select", "alert_subscriptions", start, err)
	if err != nil {
		return nil, fmt.Errorf("list alert subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*models.AlertSubscription
	for rows.Next() {
		sub, err := scanAlertSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// DeleteAlertSubscription removes a subscription. Deleting an unknown id
// returns ErrNotFound.
func (db *DB) DeleteAlertSubscription(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM alert_subscriptions WHERE id = ?`, id)
	observe("delete", "alert_subscriptions", start, err)
	if err != nil {
		return fmt.Errorf("delete alert subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAlertSubscription(row rowScanner) (*models.AlertSubscription, error) {
	var sub models.AlertSubscription
	var entityID uuid.NullUUID
	var category sql.NullString
	err := row.Scan(&sub.ID, &entityID, &category, &sub.Threshold, &sub.Direction, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert subscription: %w", err)
	}
	if entityID.Valid {
		id := entityID.UUID
		sub.EntityID = &id
	}
	sub.Category = category.String
	return &sub, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
