// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package analyzers derives numeric features from the historical store.
// Each analyzer writes an append-only FeatureRow per entity per run; a
// feature the analyzer cannot compute is absent from the row, never
// zero-filled, so scoring can tell "unknown" from "zero".
package analyzers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
	"github.com/chartpulse/chartpulse/internal/models"
)

// featureSchemaVersion stamps FeatureRows so a later feature redefinition can
// be told apart in history.
const featureSchemaVersion = 1

// Analyzer computes one family of features for one entity. An empty result
// with a nil error means insufficient data; the runner records it and moves
// on without writing a row.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, entityID uuid.UUID, asOf time.Time) (map[string]float64, error)
}

// Runner drives all analyzers over all entities once per analysis cycle.
type Runner struct {
	db        *database.DB
	analyzers []Analyzer
}

// NewRunner creates the analysis runner.
func NewRunner(db *database.DB, analyzers ...Analyzer) *Runner {
	return &Runner{db: db, analyzers: analyzers}
}

// RunOnce analyzes every known entity with every analyzer. Individual
// analyzer failures are recorded and skipped; only a store read failure on
// the entity listing aborts the cycle.
func (r *Runner) RunOnce(ctx context.Context) error {
	entities, err := r.db.ListEntities(ctx)
	if err != nil {
		return err
	}
	asOf := time.Now().UTC()

	for _, entity := range entities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, a := range r.analyzers {
			r.runOne(ctx, a, entity.ID, asOf)
		}
	}
	logging.Info().Int("entities", len(entities)).Int("analyzers", len(r.analyzers)).Msg("[ANALYZE] Cycle complete")
	return nil
}

func (r *Runner) runOne(ctx context.Context, a Analyzer, entityID uuid.UUID, asOf time.Time) {
	start := time.Now()
	features, err := a.Analyze(ctx, entityID, asOf)
	metrics.AnalyzerDuration.WithLabelValues(a.Name()).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.AnalyzerRuns.WithLabelValues(a.Name(), "error").Inc()
		logging.Error().Str("analyzer", a.Name()).Str("entity", entityID.String()).Err(err).Msg("[ANALYZE] Analyzer failed")
		return
	case len(features) == 0:
		metrics.AnalyzerRuns.WithLabelValues(a.Name(), "insufficient_data").Inc()
		return
	}

	row := &models.FeatureRow{
		EntityID:      entityID,
		Analyzer:      a.Name(),
		RunAt:         asOf,
		SchemaVersion: featureSchemaVersion,
		Features:      features,
	}
	if err := r.db.InsertFeatureRow(ctx, row); err != nil {
		metrics.AnalyzerRuns.WithLabelValues(a.Name(), "error").Inc()
		logging.Error().Str("analyzer", a.Name()).Err(err).Msg("[ANALYZE] Feature row write failed")
		return
	}
	metrics.AnalyzerRuns.WithLabelValues(a.Name(), "ok").Inc()
}
