// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package scoring turns analyzer features into a 0-100 hit-prediction score.
//
// Two strategies produce the same Score shape: a deterministic weighted rule
// set that is always available, and a trained logistic-regression classifier
// that takes over once a validated model version is active. Retraining runs
// off the scoring path and activates a new version only through a validated
// store-side swap.
package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Strategy scores one entity at one instant. Implementations must always
// return a value in [0,100] and a per-factor breakdown, even when every
// input feature is missing.
type Strategy interface {
	Name() string
	Score(ctx context.Context, entityID uuid.UUID, runAt time.Time) (*models.Score, error)
}

// Engine runs a scoring pass over the whole catalog using the configured
// strategy. With strategy "auto" it prefers the classifier whenever an
// active model version exists and falls back to weighted rules otherwise.
type Engine struct {
	db         *database.DB
	cfg        *config.ScoringConfig
	weighted   *WeightedStrategy
	classifier *ClassifierStrategy
}

func NewEngine(db *database.DB, cfg *config.ScoringConfig) *Engine {
	return &Engine{
		db:         db,
		cfg:        cfg,
		weighted:   NewWeightedStrategy(db, &cfg.Weights),
		classifier: NewClassifierStrategy(db, cfg.ModelPath),
	}
}

// pick resolves the strategy for this run. The choice is made once per run
// so a mid-run model swap cannot mix strategies within one pass.
func (e *Engine) pick(ctx context.Context) Strategy {
	switch e.cfg.Strategy {
	case "weighted":
		return e.weighted
	case "classifier":
		return e.classifier
	default: // auto
		if _, err := e.db.ActiveModel(ctx); err == nil {
			return e.classifier
		}
		return e.weighted
	}
}

// RunOnce scores every entity and appends the results to score history.
// Individual entity failures are logged and skipped; only a store failure
// that leaves nothing scored fails the run.
func (e *Engine) RunOnce(ctx context.Context) error {
	strategy := e.pick(ctx)
	runAt := time.Now().UTC()

	entities, err := e.db.ListEntities(ctx)
	if err != nil {
		return err
	}

	var scored, failed int
	for _, entity := range entities {
		score, err := strategy.Score(ctx, entity.ID, runAt)
		if err != nil {
			metrics.ScoringRuns.WithLabelValues(strategy.Name(), "error").Inc()
			logging.Warn().Err(err).Str("entity_id", entity.ID.String()).
				Str("strategy", strategy.Name()).Msg("Scoring failed for entity")
			failed++
			continue
		}
		if err := e.db.InsertScore(ctx, score); err != nil {
			metrics.ScoringRuns.WithLabelValues(strategy.Name(), "error").Inc()
			logging.Error().Err(err).Str("entity_id", entity.ID.String()).
				Msg("Failed to persist score")
			failed++
			continue
		}
		metrics.ScoringRuns.WithLabelValues(strategy.Name(), "ok").Inc()
		scored++
	}

	logging.Info().Str("strategy", strategy.Name()).
		Int("scored", scored).Int("failed", failed).
		Msg("Scoring run complete")

	if failed > 0 && scored == 0 && len(entities) > 0 {
		return errors.New("scoring: every entity failed")
	}
	return nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
