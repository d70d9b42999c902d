// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package analyzers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
)

// VelocityAnalyzer measures chart trajectory: least-squares slope of rank
// over the trailing window (negative = climbing, ranks shrink upward),
// volatility, and top-K breakout/drop flags.
type VelocityAnalyzer struct {
	db  *database.DB
	cfg *config.AnalysisConfig
}

// NewVelocityAnalyzer creates the ranking velocity analyzer.
func NewVelocityAnalyzer(db *database.DB, cfg *config.AnalysisConfig) *VelocityAnalyzer {
	return &VelocityAnalyzer{db: db, cfg: cfg}
}

func (a *VelocityAnalyzer) Name() string { return "velocity" }

// Analyze computes velocity features from the region with the densest rank
// history. Entities with too few observations, or with an observation gap
// wider than the configured tolerance, yield no features.
func (a *VelocityAnalyzer) Analyze(ctx context.Context, entityID uuid.UUID, asOf time.Time) (map[string]float64, error) {
	since := asOf.Add(-time.Duration(a.cfg.WindowDays) * 24 * time.Hour)

	regions, err := a.db.RankRegions(ctx, entityID, since)
	if err != nil {
		return nil, err
	}

	var best []database.RankObservation
	for _, region := range regions {
		history, err := a.db.RankHistory(ctx, entityID, region, since)
		if err != nil {
			return nil, err
		}
		if len(history) > len(best) {
			best = history
		}
	}

	if len(best) < a.cfg.MinObservations {
		return nil, nil
	}
	maxGap := time.Duration(a.cfg.MaxGapDays) * 24 * time.Hour
	for i := 1; i < len(best); i++ {
		if best[i].ObservedAt.Sub(best[i-1].ObservedAt) > maxGap {
			return nil, nil
		}
	}

	features := map[string]float64{
		"rank_slope":      rankSlope(best),
		"rank_volatility": rankVolatility(best),
		"best_rank":       float64(minRank(best)),
	}

	topK := a.cfg.TopK
	first := best[0].Rank
	last := best[len(best)-1].Rank
	features["breakout"] = boolFeature(first > topK && minRank(best) <= topK)
	features["dropped"] = boolFeature(first <= topK && last > topK)

	return features, nil
}

// rankSlope fits rank = a + b*t by least squares, t in days since the first
// observation, and returns b in ranks per day.
func rankSlope(obs []database.RankObservation) float64 {
	n := float64(len(obs))
	t0 := obs[0].ObservedAt

	var sumT, sumR, sumTT, sumTR float64
	for _, o := range obs {
		t := o.ObservedAt.Sub(t0).Hours() / 24
		r := float64(o.Rank)
		sumT += t
		sumR += r
		sumTT += t * t
		sumTR += t * r
	}

	denom := n*sumTT - sumT*sumT
	if denom == 0 {
		return 0
	}
	return (n*sumTR - sumT*sumR) / denom
}

// rankVolatility is the variance of successive rank deltas.
func rankVolatility(obs []database.RankObservation) float64 {
	if len(obs) < 3 {
		return 0
	}
	deltas := make([]float64, 0, len(obs)-1)
	var mean float64
	for i := 1; i < len(obs); i++ {
		d := float64(obs[i].Rank - obs[i-1].Rank)
		deltas = append(deltas, d)
		mean += d
	}
	mean /= float64(len(deltas))

	var variance float64
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	return variance / float64(len(deltas))
}

func minRank(obs []database.RankObservation) int {
	best := obs[0].Rank
	for _, o := range obs[1:] {
		if o.Rank < best {
			best = o.Rank
		}
	}
	return best
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
