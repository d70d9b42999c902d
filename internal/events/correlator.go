// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package events correlates catalog entities with upcoming calendar events.
// A correlation run is whole-relation replace: every run recomputes all
// correlations against the events inside the lead window and supersedes the
// previous run's rows.
package events

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/embed"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Correlator matches entities against events starting within the configured
// lead time. Relevance is keyword overlap weighted by KeywordWeight plus
// CategoryBonus when the event's category matches the entity's.
type Correlator struct {
	db  *database.DB
	cfg *config.EventsConfig
}

func NewCorrelator(db *database.DB, cfg *config.EventsConfig) *Correlator {
	return &Correlator{db: db, cfg: cfg}
}

// RunOnce recomputes every entity-event correlation and replaces the stored
// relation. Entities with no qualifying event simply have no rows.
func (c *Correlator) RunOnce(ctx context.Context) error {
	runAt := time.Now().UTC()

	events, err := c.db.UpcomingEvents(ctx, runAt, c.cfg.LeadTime)
	if err != nil {
		return err
	}

	entities, err := c.db.ListEntities(ctx)
	if err != nil {
		return err
	}

	var correlations []models.EventCorrelation
	for _, entity := range entities {
		tokens, err := c.entityTokens(ctx, entity.ID, entity.Title)
		if err != nil {
			logging.Warn().Err(err).Str("entity_id", entity.ID.String()).
				Msg("Skipping entity during event correlation")
			continue
		}
		for _, event := range events {
			relevance, matched := c.relevance(entity, tokens, event)
			if relevance < c.cfg.MinRelevance {
				continue
			}
			correlations = append(correlations, models.EventCorrelation{
				EntityID:  entity.ID,
				EventID:   event.ID,
				Relevance: relevance,
				Keywords:  matched,
				RunAt:     runAt,
			})
		}
	}

	if err := c.db.ReplaceCorrelations(ctx, correlations); err != nil {
		return err
	}

	metrics.EventCorrelations.Set(float64(len(correlations)))
	logging.Info().
		Int("events", len(events)).
		Int("entities", len(entities)).
		Int("correlations", len(correlations)).
		Msg("Event correlation run complete")
	return nil
}

// entityTokens collects the token set an entity is matched on: its title plus
// the latest listing's description when one exists.
func (c *Correlator) entityTokens(ctx context.Context, id uuid.UUID, title string) (map[string]bool, error) {
	text := title
	listing, err := c.db.LatestListing(ctx, id)
	switch {
	case err == nil:
		text += " " + listing.Description
	case errors.Is(err, database.ErrNotFound):
		// Entity without listings still matches on title alone.
	default:
		return nil, err
	}

	tokens := map[string]bool{}
	for _, tok := range strings.Fields(embed.NormalizeTitle(text)) {
		tokens[tok] = true
	}
	return tokens, nil
}

// relevance scores one entity against one event. Keyword overlap is the
// fraction of the event's keywords found in the entity's token set. Matched
// keywords come back sorted so repeated runs store identical rows.
func (c *Correlator) relevance(entity *models.Entity, tokens map[string]bool, event *models.EventEntity) (float64, []string) {
	if len(event.Keywords) == 0 {
		return 0, nil
	}

	var matched []string
	for _, kw := range event.Keywords {
		if tokens[strings.ToLower(kw)] {
			matched = append(matched, strings.ToLower(kw))
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}
	sort.Strings(matched)

	overlap := float64(len(matched)) / float64(len(event.Keywords))
	relevance := c.cfg.KeywordWeight * overlap
	if event.Category != "" && strings.EqualFold(event.Category, entity.Category) {
		relevance += c.cfg.CategoryBonus
	}
	if relevance > 1 {
		relevance = 1
	}
	return relevance, matched
}
