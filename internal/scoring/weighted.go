// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package scoring

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/models"
)

const weightedVersion = "rules-v1"

// WeightedStrategy computes a deterministic score from the latest feature
// rows plus clone and event context. Each factor is normalized into [0,1],
// multiplied by its configured weight, and summed; the clone penalty
// subtracts. Missing factors contribute zero, so an entity with no features
// at all still gets a valid score.
type WeightedStrategy struct {
	db      *database.DB
	weights *config.ScoringWeights
}

func NewWeightedStrategy(db *database.DB, weights *config.ScoringWeights) *WeightedStrategy {
	return &WeightedStrategy{db: db, weights: weights}
}

func (s *WeightedStrategy) Name() string { return "weighted" }

func (s *WeightedStrategy) Score(ctx context.Context, entityID uuid.UUID, runAt time.Time) (*models.Score, error) {
	features, err := s.db.LatestFeatures(ctx, entityID)
	if err != nil {
		return nil, err
	}

	breakdown := map[string]float64{}
	total := 0.0
	add := func(factor string, contribution float64) {
		breakdown[factor] = contribution
		total += contribution
	}

	// Feature keys arrive prefixed with the analyzer name, the way
	// LatestFeatures merges rows ("velocity.rank_slope").
	add("rating", s.weights.Rating*s.ratingFactor(ctx, entityID))
	add("review_velocity", s.weights.ReviewVelocity*squash(features["sentiment.review_velocity"], 20))
	add("rank_velocity", s.weights.RankVelocity*squash(-features["velocity.rank_slope"], 5))
	if mean, ok := features["sentiment.sentiment_mean"]; ok {
		add("sentiment", s.weights.Sentiment*(mean+1)/2)
	}
	add("monetization", s.weights.Monetization*monetizationFactor(features))
	add("event_boost", s.weights.EventBoost*s.eventFactor(ctx, entityID))
	add("freshness", s.weights.Freshness*s.freshnessFactor(ctx, entityID, runAt))
	add("clone_penalty", -s.weights.ClonePenalty*s.cloneFactor(ctx, entityID))

	return &models.Score{
		EntityID:  entityID,
		RunAt:     runAt,
		Value:     clampScore(total),
		Breakdown: breakdown,
		Strategy:  s.Name(),
		Version:   weightedVersion,
	}, nil
}

// ratingFactor maps the latest listing's 0-5 rating into [0,1]. An entity
// with no listing or no rating contributes zero.
func (s *WeightedStrategy) ratingFactor(ctx context.Context, entityID uuid.UUID) float64 {
	listing, err := s.db.LatestListing(ctx, entityID)
	if err != nil || listing.Rating <= 0 {
		return 0
	}
	return math.Min(listing.Rating/5, 1)
}

func (s *WeightedStrategy) cloneFactor(ctx context.Context, entityID uuid.UUID) float64 {
	sim, err := s.db.MaxCloneSimilarity(ctx, entityID)
	if err != nil {
		return 0
	}
	return sim
}

func (s *WeightedStrategy) eventFactor(ctx context.Context, entityID uuid.UUID) float64 {
	rel, err := s.db.MaxEventRelevance(ctx, entityID)
	if err != nil {
		return 0
	}
	return rel
}

// freshnessFactor decays with days since first sighting. A brand-new entity
// gets the full bonus, one first seen 30 days ago about a third of it.
func (s *WeightedStrategy) freshnessFactor(ctx context.Context, entityID uuid.UUID, runAt time.Time) float64 {
	entity, err := s.db.GetEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0
		}
		return 0
	}
	ageDays := runAt.Sub(entity.FirstSeen).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / 30)
}

// monetizationFactor reads the analyzer's one-hot tier features. Freemium
// historically converts chart position into revenue best; paid worst.
func monetizationFactor(features map[string]float64) float64 {
	switch {
	case features["monetization.monetization_freemium"] > 0:
		return 1.0
	case features["monetization.monetization_subscription"] > 0:
		return 0.8
	case features["monetization.monetization_free"] > 0:
		return 0.6
	case features["monetization.monetization_paid"] > 0:
		return 0.4
	}
	return 0
}

// squash maps an unbounded non-negative signal into [0,1) with diminishing
// returns; scale is the point where the factor reaches one half. Negative
// input clamps to zero.
func squash(v, scale float64) float64 {
	if v <= 0 {
		return 0
	}
	return v / (v + scale)
}
