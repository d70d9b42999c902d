// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package ingest turns RawRecords into immutable Listings attached to
// deduplicated Entities. Resolution is the pipeline's only mutual exclusion
// point: writers to the same resolution key are serialized in process, and
// the store's uniqueness constraint backstops a second process.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/embed"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Resolver maps raw records onto entities and appends listings.
type Resolver struct {
	db    *database.DB
	cache *embed.Cache
	cfg   *config.IngestConfig

	// Per-row write locks for concurrent upserts
	keyLocks sync.Map
}

// NewResolver creates the resolver.
func NewResolver(db *database.DB, cache *embed.Cache, cfg *config.IngestConfig) *Resolver {
	return &Resolver{db: db, cache: cache, cfg: cfg}
}

// ResolutionKey derives the dedup key for a record: normalized title plus
// category plus region. Source-native ids do not enter the key; they are
// tracked on the entity and win during lookup.
func ResolutionKey(rec *models.RawRecord) string {
	return embed.NormalizeTitle(rec.Title) + "|" + strings.ToLower(rec.Category) + "|" + strings.ToLower(rec.Region)
}

// Ingest resolves one record to its entity and appends a listing. Listings
// are never updated; re-ingesting identical data appends another row.
func (r *Resolver) Ingest(ctx context.Context, rec *models.RawRecord, source string) (*models.Entity, *models.Listing, error) {
	key := ResolutionKey(rec)

	mu := r.acquireKeyLock(key)
	defer mu.Unlock()

	entity, created, err := r.resolve(ctx, rec, source, key)
	if err != nil {
		metrics.IngestRecords.WithLabelValues(source, "error").Inc()
		return nil, nil, err
	}

	listing, err := r.appendListing(ctx, entity, rec, source)
	if err != nil {
		metrics.IngestRecords.WithLabelValues(source, "error").Inc()
		return nil, nil, err
	}

	if created {
		metrics.IngestRecords.WithLabelValues(source, "created_entity").Inc()
	} else {
		metrics.IngestRecords.WithLabelValues(source, "matched_entity").Inc()
	}
	return entity, listing, nil
}

// resolve finds or creates the entity for a record. Match order: source-native
// id, exact resolution key, fuzzy title within category+region, then create.
func (r *Resolver) resolve(ctx context.Context, rec *models.RawRecord, source, key string) (*models.Entity, bool, error) {
	now := rec.ObservedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var sourceRefs []string
	if rec.SourceID != "" {
		ref := source + ":" + rec.SourceID
		sourceRefs = []string{ref}

		if entity, err := r.db.GetEntityBySourceRef(ctx, ref); err == nil {
			if err := r.db.TouchEntity(ctx, entity.ID, now, sourceRefs); err != nil {
				return nil, false, err
			}
			return entity, false, nil
		} else if err != database.ErrNotFound {
			return nil, false, err
		}
	}

	if entity, err := r.db.GetEntityByResolutionKey(ctx, key); err == nil {
		if err := r.db.TouchEntity(ctx, entity.ID, now, sourceRefs); err != nil {
			return nil, false, err
		}
		return entity, false, nil
	} else if err != database.ErrNotFound {
		return nil, false, err
	}

	// Fuzzy matching only applies when the source carries no stable id;
	// with an id, a differently-spelled title is a legitimate new entity.
	if rec.SourceID == "" {
		entity, err := r.fuzzyMatch(ctx, rec)
		if err != nil {
			return nil, false, err
		}
		if entity != nil {
			logging.Debug().
				Str("title", rec.Title).
				Str("matched", entity.Title).
				Msg("[INGEST] Fuzzy title match")
			if err := r.db.TouchEntity(ctx, entity.ID, now, sourceRefs); err != nil {
				return nil, false, err
			}
			return entity, false, nil
		}
	}

	created, err := r.db.CreateEntity(ctx, &models.Entity{
		ID:            uuid.New(),
		ResolutionKey: key,
		Title:         rec.Title,
		Category:      strings.ToLower(rec.Category),
		FirstSeen:     now,
		LastSeen:      now,
		SourceIDs:     sourceRefs,
	})
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// fuzzyMatch scans same-category entities for a normalized title above the
// similarity threshold. Ties go to the most similar candidate.
func (r *Resolver) fuzzyMatch(ctx context.Context, rec *models.RawRecord) (*models.Entity, error) {
	candidates, err := r.db.ListEntitiesByCategory(ctx, strings.ToLower(rec.Category))
	if err != nil {
		return nil, err
	}

	title := embed.NormalizeTitle(rec.Title)
	var best *models.Entity
	bestSim := r.cfg.FuzzyThreshold
	for _, cand := range candidates {
		sim := TitleSimilarity(title, embed.NormalizeTitle(cand.Title))
		if sim >= bestSim {
			best = cand
			bestSim = sim
		}
	}
	return best, nil
}

// appendListing writes the immutable listing row with its content
// fingerprints attached.
func (r *Resolver) appendListing(ctx context.Context, entity *models.Entity, rec *models.RawRecord, source string) (*models.Listing, error) {
	listing := &models.Listing{
		ID:           uuid.New(),
		EntityID:     entity.ID,
		Source:       source,
		SourceID:     rec.SourceID,
		Title:        rec.Title,
		Description:  rec.Description,
		Developer:    rec.Developer,
		Category:     strings.ToLower(rec.Category),
		Region:       strings.ToLower(rec.Region),
		Rank:         rec.Rank,
		Rating:       rec.Rating,
		RatingCount:  rec.RatingCount,
		Price:        rec.Price,
		HasIAP:       rec.HasIAP,
		IAPCount:     rec.IAPCount,
		Subscription: rec.Subscription,
		ReleasedAt:   rec.ReleasedAt,
		TitleHash:    embed.ContentHash(embed.NormalizeTitle(rec.Title), embed.NormalizeTitle(rec.Description)),
		TextVec:      r.cache.TextVector(rec.Title, rec.Description),
		IconVec:      r.cache.IconVector(rec.IconBytes),
		ObservedAt:   rec.ObservedAt,
	}
	if err := r.db.InsertListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("append listing: %w", err)
	}
	return listing, nil
}

// acquireKeyLock acquires a per-resolution-key mutex lock
func (r *Resolver) acquireKeyLock(key string) *sync.Mutex {
	muInterface, _ := r.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := muInterface.(*sync.Mutex)
	mu.Lock()
	return mu
}
