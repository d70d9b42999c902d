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

// InsertListing appends one immutable listing snapshot. There is no update
// path for listings anywhere in the codebase: re-ingesting identical raw
// data produces a new row.
func (db *DB) InsertListing(ctx context.Context, l *models.Listing) error {
	start := time.Now()
	textVec, err := marshalJSON(l.TextVec)
	if err != nil {
		return err
	}
	iconVec, err := marshalJSON(l.IconVec)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO listings (id, entity_id, source, source_id, title, description, developer,
			category, region, rank, rating, rating_count, price, has_iap, iap_count,
			subscription, released_at, title_hash, text_vec, icon_vec, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.EntityID, l.Source, l.SourceID, l.Title, l.Description, l.Developer,
		l.Category, l.Region, l.Rank, l.Rating, l.RatingCount, l.Price, l.HasIAP,
		l.IAPCount, l.Subscription, l.ReleasedAt, l.TitleHash, textVec, iconVec, l.ObservedAt)
	observe("insert", "listings", start, err)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// LatestListingPerRegion returns the most recent listing for each region the
// entity has been observed in.
func (db *DB) LatestListingPerRegion(ctx context.Context, entityID uuid.UUID) ([]*models.Listing, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, entity_id, source, source_id, title, description, developer, category,
			region, rank, rating, rating_count, price, has_iap, iap_count, subscription,
			released_at, title_hash, text_vec, icon_vec, observed_at
		 FROM listings
		 WHERE entity_id = ?
		 QUALIFY row_number() OVER (PARTITION BY region ORDER BY observed_at DESC) = 1
		 ORDER BY region`, entityID)
	observe("select", "listings", start, err)
	if err != nil {
		return nil, fmt.Errorf("latest listings: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// LatestListing returns the single most recent listing for an entity.
func (db *DB) LatestListing(ctx context.Context, entityID uuid.UUID) (*models.Listing, error) {
	listings, err := db.LatestListingsForEntities(ctx, []uuid.UUID{entityID})
	if err != nil {
		return nil, err
	}
	l, ok := listings[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

// LatestListingsForEntities returns the most recent listing per entity for
// the given set, in one query. Used by analyzers and the clone detector,
// which operate over whole categories.
func (db *DB) LatestListingsForEntities(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Listing, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*models.Listing{}, nil
	}
	start := time.Now()

	placeholders := ""
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, entity_id, source, source_id, title, description, developer, category,
			region, rank, rating, rating_count, price, has_iap, iap_count, subscription,
			released_at, title_hash, text_vec, icon_vec, observed_at
		 FROM listings
		 WHERE entity_id IN (`+placeholders+`)
		 QUALIFY row_number() OVER (PARTITION BY entity_id ORDER BY observed_at DESC) = 1`,
		args...)
	observe("select", "listings", start, err)
	if err != nil {
		return nil, fmt.Errorf("latest listings for entities: %w", err)
	}
	defer rows.Close()

	listings, err := scanListings(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*models.Listing, len(listings))
	for _, l := range listings {
		out[l.EntityID] = l
	}
	return out, nil
}

// RankObservation is one (time, rank) point for velocity analysis.
type RankObservation struct {
	ObservedAt time.Time
	Rank       int
}

// RankHistory returns an entity's rank observations in one region since the
// cutoff, oldest first. Listings without a rank (catalog sources) are
// excluded.
func (db *DB) RankHistory(ctx context.Context, entityID uuid.UUID, region string, since time.Time) ([]RankObservation, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT observed_at, rank FROM listings
		 WHERE entity_id = ? AND region = ? AND rank IS NOT NULL AND observed_at >= ?
		 ORDER BY observed_at`, entityID, region, since)
	observe("select", "listings", start, err)
	if err != nil {
		return nil, fmt.Errorf("rank history: %w", err)
	}
	defer rows.Close()

	var out []RankObservation
	for rows.Next() {
		var o RankObservation
		if err := rows.Scan(&o.ObservedAt, &o.Rank); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RankRegions returns the regions in which an entity has ranked listings
// since the cutoff.
func (db *DB) RankRegions(ctx context.Context, entityID uuid.UUID, since time.Time) ([]string, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT region FROM listings
		 WHERE entity_id = ? AND rank IS NOT NULL AND observed_at >= ?
		 ORDER BY region`, entityID, since)
	observe("select", "listings", start, err)
	if err != nil {
		return nil, fmt.Errorf("rank regions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BestRankWithin returns an entity's best (lowest) observed rank in the
// window after its first sighting, used to derive training outcome labels.
// Returns ErrNotFound when the entity has no ranked observations in the
// window.
func (db *DB) BestRankWithin(ctx context.Context, entityID uuid.UUID, from, to time.Time) (int, error) {
	start := time.Now()
	var best sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT min(rank) FROM listings
		 WHERE entity_id = ? AND rank IS NOT NULL AND observed_at >= ? AND observed_at <= ?`,
		entityID, from, to).Scan(&best)
	observe("select", "listings", start, err)
	if err != nil {
		return 0, fmt.Errorf("best rank: %w", err)
	}
	if !best.Valid {
		return 0, ErrNotFound
	}
	return int(best.Int64), nil
}

// ReviewCountSince returns how many reviews were observed for an entity
// since the cutoff.
func (db *DB) ReviewCountSince(ctx context.Context, entityID uuid.UUID, since time.Time) (int, error) {
	start := time.Now()
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM reviews WHERE entity_id = ? AND observed_at >= ?`,
		entityID, since).Scan(&n)
	observe("select", "reviews", start, err)
	if err != nil {
		return 0, fmt.Errorf("review count: %w", err)
	}
	return n, nil
}

// InsertReview appends one review snapshot. Callers derive the id from the
// source's review id, so a replayed review hits the primary key and is
// silently skipped.
func (db *DB) InsertReview(ctx context.Context, r *models.ReviewSnapshot) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO reviews (id, entity_id, rating, text, region, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.EntityID, r.Rating, r.Text, r.Region, r.ObservedAt)
	observe("insert", "reviews", start, err)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ReviewsSince returns an entity's review snapshots since the cutoff.
func (db *DB) ReviewsSince(ctx context.Context, entityID uuid.UUID, since time.Time) ([]*models.ReviewSnapshot, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, entity_id, rating, text, region, observed_at
		 FROM reviews WHERE entity_id = ? AND observed_at >= ? ORDER BY observed_at`,
		entityID, since)
	observe("select", "reviews", start, err)
	if err != nil {
		return nil, fmt.Errorf("reviews since: %w", err)
	}
	defer rows.Close()

	var out []*models.ReviewSnapshot
	for rows.Next() {
		var r models.ReviewSnapshot
		var text sql.NullString
		if err := rows.Scan(&r.ID, &r.EntityID, &r.Rating, &text, &r.Region, &r.ObservedAt); err != nil {
			return nil, err
		}
		r.Text = text.String
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanListings(rows *sql.Rows) ([]*models.Listing, error) {
	var out []*models.Listing
	for rows.Next() {
		var l models.Listing
		var sourceID, description, developer sql.NullString
		var rank sql.NullInt64
		var releasedAt sql.NullTime
		var textVec, iconVec sql.NullString
		err := rows.Scan(&l.ID, &l.EntityID, &l.Source, &sourceID, &l.Title, &description,
			&developer, &l.Category, &l.Region, &rank, &l.Rating, &l.RatingCount,
			&l.Price, &l.HasIAP, &l.IAPCount, &l.Subscription, &releasedAt, &l.TitleHash,
			&textVec, &iconVec, &l.ObservedAt)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		l.SourceID = sourceID.String
		l.Description = description.String
		l.Developer = developer.String
		if rank.Valid {
			r := int(rank.Int64)
			l.Rank = &r
		}
		if releasedAt.Valid {
			t := releasedAt.Time
			l.ReleasedAt = &t
		}
		l.TextVec = unmarshalFloats(textVec)
		l.IconVec = unmarshalFloats(iconVec)
		out = append(out, &l)
	}
	return out, rows.Err()
}
