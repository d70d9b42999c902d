// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package scoring

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartpulse/chartpulse/internal/analyzers"
	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/models"
)

func testWeights() *config.ScoringWeights {
	return &config.ScoringWeights{
		Rating: 25, ReviewVelocity: 20, RankVelocity: 20, Sentiment: 15,
		Monetization: 10, ClonePenalty: 10, EventBoost: 10, Freshness: 10,
	}
}

func newScoringDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createEntityAt(t *testing.T, db *database.DB, title string, firstSeen time.Time) uuid.UUID {
	t.Helper()
	e, err := db.CreateEntity(context.Background(), &models.Entity{
		ID: uuid.New(), ResolutionKey: title, Title: title, Category: "puzzle",
		FirstSeen: firstSeen, LastSeen: firstSeen,
	})
	require.NoError(t, err)
	return e.ID
}

func TestWeightedScoreWithAllMissingInput(t *testing.T) {
	db := newScoringDB(t)
	s := NewWeightedStrategy(db, testWeights())

	// Entity with no listings, no features, no clone links, no events.
	id := createEntityAt(t, db, "Brand New App", time.Now().UTC())

	score, err := s.Score(context.Background(), id, time.Now().UTC())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score.Value, 0.0)
	assert.LessOrEqual(t, score.Value, 100.0)
	assert.Equal(t, "weighted", score.Strategy)
	assert.NotEmpty(t, score.Breakdown)
}

func TestWeightedScoreRichEntityBeatsEmpty(t *testing.T) {
	db := newScoringDB(t)
	s := NewWeightedStrategy(db, testWeights())
	ctx := context.Background()
	now := time.Now().UTC()

	rich := createEntityAt(t, db, "Chart Climber", now.Add(-2*24*time.Hour))
	empty := createEntityAt(t, db, "Ghost App", now.Add(-400*24*time.Hour))

	require.NoError(t, db.InsertListing(ctx, &models.Listing{
		ID: uuid.New(), EntityID: rich, Source: "appstore", Title: "Chart Climber",
		Category: "puzzle", Region: "us", Rating: 4.8, ObservedAt: now,
	}))
	require.NoError(t, db.InsertFeatureRow(ctx, &models.FeatureRow{
		EntityID: rich, Analyzer: "velocity", RunAt: now, SchemaVersion: 1,
		Features: map[string]float64{"rank_slope": -8, "best_rank": 5, "breakout": 1},
	}))
	require.NoError(t, db.InsertFeatureRow(ctx, &models.FeatureRow{
		EntityID: rich, Analyzer: "sentiment", RunAt: now, SchemaVersion: 1,
		Features: map[string]float64{"sentiment_mean": 0.7, "review_velocity": 40},
	}))
	require.NoError(t, db.InsertFeatureRow(ctx, &models.FeatureRow{
		EntityID: rich, Analyzer: "monetization", RunAt: now, SchemaVersion: 1,
		Features: map[string]float64{"monetization_freemium": 1},
	}))

	richScore, err := s.Score(ctx, rich, now)
	require.NoError(t, err)
	emptyScore, err := s.Score(ctx, empty, now)
	require.NoError(t, err)

	assert.Greater(t, richScore.Value, emptyScore.Value)
	assert.LessOrEqual(t, richScore.Value, 100.0)
}

// Scores an entity whose feature rows were written by the analyzer runner
// rather than seeded by hand, so the strategy reads the exact keys the
// store produces.
func TestWeightedScoreReadsAnalyzerWrittenFeatures(t *testing.T) {
	db := newScoringDB(t)
	s := NewWeightedStrategy(db, testWeights())
	ctx := context.Background()
	now := time.Now().UTC()

	id := createEntityAt(t, db, "Climbing App", now.Add(-3*24*time.Hour))
	for i, rank := range []int{50, 30, 10} {
		r := rank
		require.NoError(t, db.InsertListing(ctx, &models.Listing{
			ID: uuid.New(), EntityID: id, Source: "appstore", Title: "Climbing App",
			Category: "puzzle", Region: "us", Rank: &r,
			ObservedAt: now.Add(time.Duration(i-2) * 24 * time.Hour),
		}))
	}

	runner := analyzers.NewRunner(db, analyzers.NewVelocityAnalyzer(db, &config.AnalysisConfig{
		WindowDays: 7, TopK: 20, MaxGapDays: 2, MinObservations: 3,
	}))
	require.NoError(t, runner.RunOnce(ctx))

	score, err := s.Score(ctx, id, now)
	require.NoError(t, err)

	// The climb is 20 ranks per day, so the velocity factor must register.
	assert.Greater(t, score.Breakdown["rank_velocity"], 0.0)
}

func TestWeightedClonePenaltySubtracts(t *testing.T) {
	db := newScoringDB(t)
	s := NewWeightedStrategy(db, testWeights())
	ctx := context.Background()
	now := time.Now().UTC()

	a := createEntityAt(t, db, "Original Hit", now)
	b := createEntityAt(t, db, "Suspicious Twin", now)
	require.NoError(t, db.ReplaceCloneLinks(ctx, []models.CloneLink{
		{EntityA: a, EntityB: b, Channel: models.ChannelText, Similarity: 0.95, RunAt: now},
	}))

	score, err := s.Score(ctx, b, now)
	require.NoError(t, err)
	assert.InDelta(t, -10*0.95, score.Breakdown["clone_penalty"], 1e-9)
	assert.GreaterOrEqual(t, score.Value, 0.0)
}

func TestClassifierPredictBounds(t *testing.T) {
	m := &Model{
		Features: []string{"a", "b"},
		Weights:  []float64{3, -2},
		Bias:     0.5,
		Means:    []float64{1, 1},
		Stds:     []float64{1, 1},
	}

	for _, features := range []map[string]float64{
		{},
		{"a": 100, "b": -100},
		{"a": -100, "b": 100},
		{"a": 1, "b": 1, "unknown": 42},
	} {
		p := m.Predict(features)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestClassifierStrategyUsesActiveModel(t *testing.T) {
	db := newScoringDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	dir := t.TempDir()

	model := &Model{
		Version:   1,
		TrainedAt: now,
		Accuracy:  0.9,
		Features:  []string{"sentiment.sentiment_mean"},
		Weights:   []float64{2},
		Bias:      0,
		Means:     []float64{0},
		Stds:      []float64{0.5},
	}
	require.NoError(t, SaveModel(dir, model))
	require.NoError(t, db.InsertModelVersion(ctx, &models.ModelVersion{
		Version: 1, Accuracy: 0.9, TrainedAt: now, Samples: 200,
	}))
	require.NoError(t, db.SwapActiveModel(ctx, 1))

	id := createEntityAt(t, db, "Scored App", now)
	require.NoError(t, db.InsertFeatureRow(ctx, &models.FeatureRow{
		EntityID: id, Analyzer: "sentiment", RunAt: now, SchemaVersion: 1,
		Features: map[string]float64{"sentiment_mean": 0.5},
	}))

	s := NewClassifierStrategy(db, dir)
	score, err := s.Score(ctx, id, now)
	require.NoError(t, err)

	// z = 2 * (0.5-0)/0.5 = 2, sigmoid(2) ~ 0.8808
	assert.InDelta(t, 88.08, score.Value, 0.1)
	assert.Equal(t, "classifier", score.Strategy)
	assert.Equal(t, "model-v1", score.Version)
	assert.GreaterOrEqual(t, score.Value, 0.0)
	assert.LessOrEqual(t, score.Value, 100.0)
}

func TestEngineAutoFallsBackToWeighted(t *testing.T) {
	db := newScoringDB(t)
	cfg := &config.ScoringConfig{
		Weights: *testWeights(), Strategy: "auto", ModelPath: t.TempDir(),
	}
	e := NewEngine(db, cfg)
	ctx := context.Background()

	id := createEntityAt(t, db, "Only App", time.Now().UTC())
	require.NoError(t, e.RunOnce(ctx))

	score, err := db.CurrentScore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "weighted", score.Strategy)
}

func trainerConfig(dir string) *config.ScoringConfig {
	return &config.ScoringConfig{
		Weights:             *testWeights(),
		Strategy:            "auto",
		ModelPath:           dir,
		MinTrainingSamples:  50,
		ValidationTolerance: 0.0,
		HoldoutFraction:     0.5,
		OutcomeHorizonDays:  30,
	}
}

// seedLabeledEntity creates an entity whose outcome horizon has elapsed,
// with one feature row inside the horizon and, for hits, a ranked listing.
func seedLabeledEntity(t *testing.T, db *database.DB, i int, features map[string]float64, hit bool) {
	t.Helper()
	ctx := context.Background()
	firstSeen := time.Now().UTC().Add(-40 * 24 * time.Hour)
	title := fmt.Sprintf("Training App %03d", i)
	id := createEntityAt(t, db, title, firstSeen)

	require.NoError(t, db.InsertFeatureRow(ctx, &models.FeatureRow{
		EntityID: id, Analyzer: "velocity", RunAt: firstSeen.Add(24 * time.Hour),
		SchemaVersion: 1, Features: features,
	}))
	if hit {
		rank := 5
		require.NoError(t, db.InsertListing(ctx, &models.Listing{
			ID: uuid.New(), EntityID: id, Source: "appstore", Title: title,
			Category: "puzzle", Region: "us", Rank: &rank,
			ObservedAt: firstSeen.Add(10 * 24 * time.Hour),
		}))
	}
}

func TestTrainerFirstModelSwapsIn(t *testing.T) {
	db := newScoringDB(t)
	dir := t.TempDir()
	trainer := NewTrainer(db, trainerConfig(dir), 20)
	ctx := context.Background()

	// Perfectly separable: hits carry a strong negative slope.
	for i := 0; i < 50; i++ {
		seedLabeledEntity(t, db, i, map[string]float64{"rank_slope": -10}, true)
	}
	for i := 50; i < 100; i++ {
		seedLabeledEntity(t, db, i, map[string]float64{"rank_slope": 10}, false)
	}

	require.NoError(t, trainer.RunOnce(ctx))

	active, err := db.ActiveModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version)
	assert.Greater(t, active.Accuracy, 0.9)

	_, err = os.Stat(modelFile(dir, 1))
	require.NoError(t, err)

	loaded, err := LoadModel(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Version)
}

func TestTrainerBlocksRegression(t *testing.T) {
	db := newScoringDB(t)
	dir := t.TempDir()
	trainer := NewTrainer(db, trainerConfig(dir), 20)
	ctx := context.Background()
	now := time.Now().UTC()

	// An active model with perfect held-out accuracy on record.
	require.NoError(t, SaveModel(dir, &Model{
		Version: 1, TrainedAt: now, Accuracy: 1.0,
		Features: []string{"velocity.rank_slope"}, Weights: []float64{-1},
		Means: []float64{0}, Stds: []float64{1},
	}))
	require.NoError(t, db.InsertModelVersion(ctx, &models.ModelVersion{
		Version: 1, Accuracy: 1.0, TrainedAt: now, Samples: 100,
	}))
	require.NoError(t, db.SwapActiveModel(ctx, 1))

	// Labels are independent of the (constant) feature, so no candidate
	// can validate perfectly. With zero tolerance the swap must block.
	for i := 0; i < 100; i++ {
		seedLabeledEntity(t, db, i, map[string]float64{"rank_slope": 1}, i%2 == 0)
	}

	require.NoError(t, trainer.RunOnce(ctx))

	active, err := db.ActiveModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version, "regressed candidate must not activate")

	latest, err := db.LatestModelVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, latest, "blocked candidate is not even recorded")
}

func TestTrainerSkipsBelowMinSamples(t *testing.T) {
	db := newScoringDB(t)
	trainer := NewTrainer(db, trainerConfig(t.TempDir()), 20)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		seedLabeledEntity(t, db, i, map[string]float64{"rank_slope": -5}, true)
	}

	require.NoError(t, trainer.RunOnce(ctx))

	_, err := db.ActiveModel(ctx)
	assert.ErrorIs(t, err, database.ErrNoActiveModel)
}
