// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package analyzers

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Minimal polarity lexicon for store-review vocabulary. Scores in [-1,1].
var sentimentLexicon = map[string]float64{
	"love": 1, "great": 1, "awesome": 1, "amazing": 1, "fun": 0.8,
	"good": 0.6, "best": 1, "addictive": 0.7, "beautiful": 0.8,
	"perfect": 1, "excellent": 1, "enjoy": 0.7, "smooth": 0.5,
	"hate": -1, "terrible": -1, "awful": -1, "bad": -0.6, "worst": -1,
	"boring": -0.7, "broken": -0.9, "crash": -0.9, "crashes": -0.9,
	"bug": -0.6, "buggy": -0.8, "ads": -0.4, "spam": -0.7,
	"scam": -1, "greedy": -0.8, "laggy": -0.7, "unplayable": -1,
}

// SentimentAnalyzer aggregates review polarity and review velocity per
// window. With no review text it degrades to rating-derived polarity; with
// no reviews at all it falls back to the latest listing's star rating.
type SentimentAnalyzer struct {
	db  *database.DB
	cfg *config.AnalysisConfig
}

// NewSentimentAnalyzer creates the sentiment analyzer.
func NewSentimentAnalyzer(db *database.DB, cfg *config.AnalysisConfig) *SentimentAnalyzer {
	return &SentimentAnalyzer{db: db, cfg: cfg}
}

func (a *SentimentAnalyzer) Name() string { return "sentiment" }

func (a *SentimentAnalyzer) Analyze(ctx context.Context, entityID uuid.UUID, asOf time.Time) (map[string]float64, error) {
	window := time.Duration(a.cfg.WindowDays) * 24 * time.Hour
	since := asOf.Add(-window)

	reviews, err := a.db.ReviewsSince(ctx, entityID, since)
	if err != nil {
		return nil, err
	}

	features := map[string]float64{}

	if len(reviews) > 0 {
		features["sentiment_mean"] = meanPolarity(reviews)
		features["review_count"] = float64(len(reviews))

		prevCount, err := a.db.ReviewCountSince(ctx, entityID, since.Add(-window))
		if err != nil {
			return nil, err
		}
		features["review_velocity"] = float64(len(reviews)) - float64(prevCount-len(reviews))
		return features, nil
	}

	// No review snapshots: degrade to the star rating on the latest listing.
	listing, err := a.db.LatestListing(ctx, entityID)
	if err == database.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if listing.Rating <= 0 {
		return nil, nil
	}
	features["sentiment_mean"] = ratingPolarity(listing.Rating)
	return features, nil
}

// meanPolarity averages per-review polarity. Reviews with text score by
// lexicon lookup; rating-only reviews score by star rating.
func meanPolarity(reviews []*models.ReviewSnapshot) float64 {
	var sum float64
	for _, rev := range reviews {
		if rev.Text != "" {
			sum += textPolarity(rev.Text)
		} else {
			sum += ratingPolarity(float64(rev.Rating))
		}
	}
	return sum / float64(len(reviews))
}

// textPolarity scores text by mean lexicon hit, 0 when nothing matches.
func textPolarity(text string) float64 {
	var sum float64
	var hits int
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:'\"()")
		if score, ok := sentimentLexicon[token]; ok {
			sum += score
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return sum / float64(hits)
}

// ratingPolarity maps a 0-5 star rating onto [-1,1] around the 2.5 midpoint.
func ratingPolarity(rating float64) float64 {
	p := (rating - 2.5) / 2.5
	if p > 1 {
		p = 1
	}
	if p < -1 {
		p = -1
	}
	return p
}
