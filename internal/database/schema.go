// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package database

import (
	"context"
	"fmt"
)

// schemaStatements creates all tables and indexes. DuckDB executes these
// idempotently via IF NOT EXISTS; there is no separate migration runner,
// additive schema changes append statements here.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id UUID PRIMARY KEY,
		resolution_key VARCHAR NOT NULL UNIQUE,
		title VARCHAR NOT NULL,
		category VARCHAR NOT NULL,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		source_ids VARCHAR NOT NULL DEFAULT '[]'
	)`,

	`CREATE TABLE IF NOT EXISTS listings (
		id UUID PRIMARY KEY,
		entity_id UUID NOT NULL,
		source VARCHAR NOT NULL,
		source_id VARCHAR,
		title VARCHAR NOT NULL,
		description VARCHAR,
		developer VARCHAR,
		category VARCHAR NOT NULL,
		region VARCHAR NOT NULL,
		rank INTEGER,
		rating DOUBLE NOT NULL DEFAULT 0,
		rating_count INTEGER NOT NULL DEFAULT 0,
		price DOUBLE NOT NULL DEFAULT 0,
		has_iap BOOLEAN NOT NULL DEFAULT FALSE,
		iap_count INTEGER NOT NULL DEFAULT 0,
		subscription BOOLEAN NOT NULL DEFAULT FALSE,
		released_at TIMESTAMP,
		title_hash VARCHAR NOT NULL DEFAULT '',
		text_vec VARCHAR,
		icon_vec VARCHAR,
		observed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_entity ON listings (entity_id, region, observed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_observed ON listings (observed_at)`,

	`CREATE TABLE IF NOT EXISTS reviews (
		id UUID PRIMARY KEY,
		entity_id UUID NOT NULL,
		rating INTEGER NOT NULL,
		text VARCHAR,
		region VARCHAR NOT NULL,
		observed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_entity ON reviews (entity_id, observed_at)`,

	`CREATE TABLE IF NOT EXISTS feature_rows (
		entity_id UUID NOT NULL,
		analyzer VARCHAR NOT NULL,
		run_at TIMESTAMP NOT NULL,
		schema_version INTEGER NOT NULL DEFAULT 1,
		features VARCHAR NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_features_entity ON feature_rows (entity_id, analyzer, run_at)`,

	`CREATE TABLE IF NOT EXISTS clone_links (
		entity_a UUID NOT NULL,
		entity_b UUID NOT NULL,
		channel VARCHAR NOT NULL,
		similarity DOUBLE NOT NULL,
		run_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clone_links_entity ON clone_links (entity_a)`,

	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		name VARCHAR NOT NULL,
		category VARCHAR,
		start_at TIMESTAMP NOT NULL,
		end_at TIMESTAMP,
		source VARCHAR NOT NULL,
		keywords VARCHAR NOT NULL DEFAULT '[]',
		UNIQUE (name, start_at, source)
	)`,

	`CREATE TABLE IF NOT EXISTS event_correlations (
		entity_id UUID NOT NULL,
		event_id UUID NOT NULL,
		relevance DOUBLE NOT NULL,
		keywords VARCHAR NOT NULL DEFAULT '[]',
		run_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_correlations_entity ON event_correlations (entity_id)`,

	`CREATE TABLE IF NOT EXISTS scores (
		entity_id UUID NOT NULL,
		run_at TIMESTAMP NOT NULL,
		value DOUBLE NOT NULL,
		breakdown VARCHAR NOT NULL,
		strategy VARCHAR NOT NULL,
		version VARCHAR NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scores_entity ON scores (entity_id, run_at)`,

	`CREATE TABLE IF NOT EXISTS model_versions (
		version INTEGER PRIMARY KEY,
		accuracy DOUBLE NOT NULL,
		trained_at TIMESTAMP NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		samples INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS alert_subscriptions (
		id UUID PRIMARY KEY,
		entity_id UUID,
		category VARCHAR,
		threshold DOUBLE NOT NULL,
		direction VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

// initSchema applies all schema statements.
func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w\n%s", err, stmt)
		}
	}
	return nil
}
