// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/connectors"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/fetch"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Coordinator drives source connectors through one scrape-and-ingest cycle.
// The scheduler invokes its sync methods on each source's interval.
type Coordinator struct {
	resolver *Resolver
	db       *database.DB
}

// NewCoordinator creates the coordinator.
func NewCoordinator(resolver *Resolver, db *database.DB) *Coordinator {
	return &Coordinator{resolver: resolver, db: db}
}

// SyncSource runs one full cycle for a listing connector: fetch, then ingest
// every record. Fetch-layer failures are tolerated per source; whatever was
// scraped before the failure is still ingested, and the run only errors on
// store failures.
func (c *Coordinator) SyncSource(ctx context.Context, conn connectors.Connector) error {
	start := time.Now()
	source := conn.Name()

	records, fetchErr := conn.Fetch(ctx)
	if fetchErr != nil {
		switch {
		case fetch.IsRateLimited(fetchErr):
			logging.Warn().Str("source", source).Msg("[INGEST] Source rate limited, continuing with partial scrape")
		case fetch.IsBlocked(fetchErr):
			logging.Warn().Str("source", source).Msg("[INGEST] Source blocked, continuing with partial scrape")
		case fetch.IsUnreachable(fetchErr):
			logging.Warn().Str("source", source).Err(fetchErr).Msg("[INGEST] Source unreachable, continuing with partial scrape")
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn().Str("source", source).Err(fetchErr).Msg("[INGEST] Scrape failed, continuing with partial scrape")
		}
	}

	var ingested, failed int
	for i := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, _, err := c.resolver.Ingest(ctx, &records[i], source); err != nil {
			failed++
			logging.Error().Str("source", source).Str("title", records[i].Title).Err(err).Msg("[INGEST] Record ingest failed")
			continue
		}
		ingested++
	}

	metrics.IngestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	logging.Info().
		Str("source", source).
		Int("ingested", ingested).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("[INGEST] Sync cycle complete")

	// Only store durability failures fail the run; the next schedule retries.
	if failed > 0 && ingested == 0 {
		return fmt.Errorf("sync %s: all %d records failed to persist", source, failed)
	}
	return nil
}

// SyncReviews runs one review scrape cycle: every entity holding an App
// Store source ref gets its most recent customer reviews fetched for each
// region it has listings in. Snapshot ids derive from the feed's review id,
// so re-scraping an unchanged feed stores nothing new.
func (c *Coordinator) SyncReviews(ctx context.Context, conn *connectors.AppStoreConnector) error {
	start := time.Now()
	source := conn.Name()

	entities, err := c.db.ListEntities(ctx)
	if err != nil {
		return err
	}

	var stored int
	observedAt := time.Now().UTC()
	for _, entity := range entities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		appID := sourceRefID(entity.SourceIDs, source)
		if appID == "" {
			continue
		}
		listings, err := c.db.LatestListingPerRegion(ctx, entity.ID)
		if err != nil {
			return err
		}
		for _, listing := range listings {
			if listing.Source != source {
				continue
			}
			reviews, err := conn.FetchReviews(ctx, appID, listing.Region)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logging.Warn().Str("source_id", appID).Str("region", listing.Region).Err(err).
					Msg("[INGEST] Review scrape failed")
				continue
			}
			for _, rv := range reviews {
				snap := &models.ReviewSnapshot{
					ID:         reviewSnapshotID(entity.ID, rv.SourceID),
					EntityID:   entity.ID,
					Rating:     rv.Rating,
					Text:       rv.Text,
					Region:     listing.Region,
					ObservedAt: observedAt,
				}
				if err := c.db.InsertReview(ctx, snap); err != nil {
					return err
				}
				stored++
			}
		}
	}

	metrics.IngestDuration.WithLabelValues(source + "-reviews").Observe(time.Since(start).Seconds())
	logging.Info().Int("reviews", stored).Dur("elapsed", time.Since(start)).Msg("[INGEST] Review sync complete")
	return nil
}

// sourceRefID extracts the source-native id from an entity's "source:id"
// ref set, empty when the entity was never seen on that source.
func sourceRefID(refs []string, source string) string {
	prefix := source + ":"
	for _, ref := range refs {
		if strings.HasPrefix(ref, prefix) {
			return strings.TrimPrefix(ref, prefix)
		}
	}
	return ""
}

// reviewSnapshotID is deterministic per (entity, feed review id), so stores
// of an already-seen review collapse onto the existing row.
func reviewSnapshotID(entityID uuid.UUID, reviewID string) uuid.UUID {
	return uuid.NewSHA1(entityID, []byte(reviewID))
}

// SyncEvents runs one cycle of the calendar connector, upserting events into
// the store.
func (c *Coordinator) SyncEvents(ctx context.Context, conn *connectors.EventConnector) error {
	events, err := conn.FetchEvents(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn().Err(err).Msg("[INGEST] Calendar scrape failed")
		return nil
	}

	var stored int
	for i := range events {
		if err := c.db.UpsertEvent(ctx, &events[i]); err != nil {
			logging.Error().Str("event", events[i].Name).Err(err).Msg("[INGEST] Event upsert failed")
			continue
		}
		stored++
	}
	logging.Info().Int("events", stored).Msg("[INGEST] Calendar sync complete")
	return nil
}
