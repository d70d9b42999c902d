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

	"github.com/chartpulse/chartpulse/internal/models"
)

// InsertModelVersion records a trained classifier version. The row is written
// inactive; activation goes through SwapActiveModel so the single-active
// invariant holds even if training crashes between the two steps.
func (db *DB) InsertModelVersion(ctx context.Context, mv *models.ModelVersion) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO model_versions (version, accuracy, trained_at, active, samples)
		 VALUES (?, ?, ?, FALSE, ?)`,
		mv.Version, mv.Accuracy, mv.TrainedAt, mv.Samples)
	observe("insert", "model_versions", start, err)
	if err != nil {
		return fmt.Errorf("insert model version: %w", err)
	}
	return nil
}

// ActiveModel returns the currently active classifier version, or
// ErrNoActiveModel when none has been activated yet.
func (db *DB) ActiveModel(ctx context.Context) (*models.ModelVersion, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT version, accuracy, trained_at, active, samples
		 FROM model_versions WHERE active LIMIT 1`)
	mv, err := scanModelVersion(row)
	observe("select", "model_versions", start, err)
	if err == ErrNotFound {
		return nil, ErrNoActiveModel
	}
	return mv, err
}

// LatestModelVersion returns the highest version number recorded, active or
// not, or 0 when no model has ever been trained.
func (db *DB) LatestModelVersion(ctx context.Context) (int, error) {
	start := time.Now()
	var v sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT max(version) FROM model_versions`).Scan(&v)
	observe("select", "model_versions", start, err)
	if err != nil {
		return 0, fmt.Errorf("latest model version: %w", err)
	}
	return int(v.Int64), nil
}

// SwapActiveModel atomically deactivates the previous model and activates the
// given version. Scoring reads either the old or the new version, never both
// and never neither.
func (db *DB) SwapActiveModel(ctx context.Context, version int) error {
	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin model swap: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET active = FALSE WHERE active`); err != nil {
		observe("update", "model_versions", start, err)
		return fmt.Errorf("deactivate model: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET active = TRUE WHERE version = ?`, version)
	if err != nil {
		observe("update", "model_versions", start, err)
		return fmt.Errorf("activate model %d: %w", version, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activate model %d: %w", version, ErrNotFound)
	}
	err = tx.Commit()
	observe("update", "model_versions", start, err)
	if err != nil {
		return fmt.Errorf("commit model swap: %w", err)
	}
	return nil
}

// ListModelVersions returns all recorded versions, newest first.
func (db *DB) ListModelVersions(ctx context.Context) ([]*models.ModelVersion, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT version, accuracy, trained_at, active, samples
		 FROM model_versions ORDER BY version DESC`)
	observe("select", "model_versions", start, err)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer rows.Close()

	var out []*models.ModelVersion
	for rows.Next() {
		mv, err := scanModelVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func scanModelVersion(row rowScanner) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	err := row.Scan(&mv.Version, &mv.Accuracy, &mv.TrainedAt, &mv.Active, &mv.Samples)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan model version: %w", err)
	}
	return &mv, nil
}
