// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package scoring

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
	"github.com/chartpulse/chartpulse/internal/models"
)

const (
	trainEpochs       = 300
	trainLearningRate = 0.1
	trainL2           = 0.001
)

// ErrModelRegression reports a retraining run whose candidate validated
// worse than the active model minus the configured tolerance. The swap is
// blocked and the active model keeps serving.
var ErrModelRegression = errors.New("scoring: candidate model regressed, swap blocked")

type sample struct {
	features map[string]float64
	label    float64
}

// Trainer fits candidate classifier models from historical outcomes. An
// entity is a positive sample when it reached the top-K rank threshold
// within the outcome horizon after its first sighting; only entities whose
// horizon has fully elapsed are labeled.
type Trainer struct {
	db   *database.DB
	cfg  *config.ScoringConfig
	topK int
}

func NewTrainer(db *database.DB, cfg *config.ScoringConfig, topK int) *Trainer {
	return &Trainer{db: db, cfg: cfg, topK: topK}
}

// RunOnce builds the dataset, fits a candidate, validates it on the
// held-out split, and swaps it active if it does not regress. A blocked
// swap is a warning, not an error; the previous model keeps serving.
func (t *Trainer) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()

	samples, err := t.collectSamples(ctx, now)
	if err != nil {
		return err
	}
	if len(samples) < t.cfg.MinTrainingSamples {
		metrics.ModelSwaps.WithLabelValues("skipped").Inc()
		logging.Info().Int("samples", len(samples)).
			Int("required", t.cfg.MinTrainingSamples).
			Msg("Retraining skipped, not enough labeled samples")
		return nil
	}

	// Deterministic shuffle keyed on the run hour keeps the split stable
	// within a run but rotates it across days.
	rng := rand.New(rand.NewSource(now.Truncate(time.Hour).Unix()))
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})

	holdout := int(float64(len(samples)) * t.cfg.HoldoutFraction)
	if holdout < 1 {
		holdout = 1
	}
	train, valid := samples[holdout:], samples[:holdout]

	candidate := fit(train)
	candidate.Accuracy = accuracy(candidate, valid)
	candidate.Samples = len(samples)
	candidate.TrainedAt = now

	previous, err := t.db.ActiveModel(ctx)
	switch {
	case err == nil:
		if candidate.Accuracy < previous.Accuracy-t.cfg.ValidationTolerance {
			metrics.ModelSwaps.WithLabelValues("regression_blocked").Inc()
			logging.Warn().
				Float64("candidate_accuracy", candidate.Accuracy).
				Float64("active_accuracy", previous.Accuracy).
				Float64("tolerance", t.cfg.ValidationTolerance).
				Msg("Candidate model regressed, keeping active version")
			return nil
		}
	case errors.Is(err, database.ErrNoActiveModel):
		// First model ever trained; nothing to regress against.
	default:
		return err
	}

	latest, err := t.db.LatestModelVersion(ctx)
	if err != nil {
		return err
	}
	candidate.Version = latest + 1

	if err := SaveModel(t.cfg.ModelPath, candidate); err != nil {
		return err
	}
	if err := t.db.InsertModelVersion(ctx, &models.ModelVersion{
		Version:   candidate.Version,
		Accuracy:  candidate.Accuracy,
		TrainedAt: candidate.TrainedAt,
		Samples:   candidate.Samples,
	}); err != nil {
		return err
	}
	if err := t.db.SwapActiveModel(ctx, candidate.Version); err != nil {
		return err
	}

	metrics.ModelSwaps.WithLabelValues("swapped").Inc()
	metrics.ActiveModelVersion.Set(float64(candidate.Version))
	logging.Info().Int("version", candidate.Version).
		Float64("accuracy", candidate.Accuracy).
		Int("samples", candidate.Samples).
		Msg("New classifier model activated")
	return nil
}

// collectSamples labels every entity whose outcome horizon has elapsed.
// Entities without feature rows at the horizon are unlabeled and skipped.
func (t *Trainer) collectSamples(ctx context.Context, now time.Time) ([]sample, error) {
	entities, err := t.db.ListEntities(ctx)
	if err != nil {
		return nil, err
	}

	horizon := time.Duration(t.cfg.OutcomeHorizonDays) * 24 * time.Hour
	var samples []sample
	for _, entity := range entities {
		deadline := entity.FirstSeen.Add(horizon)
		if deadline.After(now) {
			continue
		}

		features, err := t.db.FeaturesAsOf(ctx, entity.ID, deadline)
		if err != nil {
			return nil, err
		}
		if len(features) == 0 {
			continue
		}

		label := 0.0
		best, err := t.db.BestRankWithin(ctx, entity.ID, entity.FirstSeen, deadline)
		switch {
		case err == nil:
			if best <= t.topK {
				label = 1.0
			}
		case errors.Is(err, database.ErrNotFound):
			// Never ranked inside the horizon; a clear negative.
		default:
			return nil, err
		}

		samples = append(samples, sample{features: features, label: label})
	}
	return samples, nil
}

// fit trains a logistic regression with batch gradient descent over the
// standardized feature matrix. The feature layout is the sorted union of
// every sample's feature names so prediction stays stable across runs.
func fit(train []sample) *Model {
	nameSet := map[string]bool{}
	for _, s := range train {
		for name := range s.features {
			nameSet[name] = true
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	n := len(train)
	d := len(names)

	// Column statistics over raw values; missing features count as zero.
	means := make([]float64, d)
	stds := make([]float64, d)
	for j, name := range names {
		for _, s := range train {
			means[j] += s.features[name]
		}
		means[j] /= float64(n)
		for _, s := range train {
			diff := s.features[name] - means[j]
			stds[j] += diff * diff
		}
		stds[j] = math.Sqrt(stds[j] / float64(n))
	}

	x := make([][]float64, n)
	for i, s := range train {
		row := make([]float64, d)
		for j, name := range names {
			if stds[j] != 0 {
				row[j] = (s.features[name] - means[j]) / stds[j]
			}
		}
		x[i] = row
	}

	weights := make([]float64, d)
	bias := 0.0
	for epoch := 0; epoch < trainEpochs; epoch++ {
		gradW := make([]float64, d)
		gradB := 0.0
		for i, s := range train {
			z := bias
			for j := 0; j < d; j++ {
				z += weights[j] * x[i][j]
			}
			residual := sigmoid(z) - s.label
			for j := 0; j < d; j++ {
				gradW[j] += residual * x[i][j]
			}
			gradB += residual
		}
		for j := 0; j < d; j++ {
			weights[j] -= trainLearningRate * (gradW[j]/float64(n) + trainL2*weights[j])
		}
		bias -= trainLearningRate * gradB / float64(n)
	}

	return &Model{
		Features: names,
		Weights:  weights,
		Bias:     bias,
		Means:    means,
		Stds:     stds,
	}
}

// accuracy is the held-out fraction classified correctly at the 0.5 cut.
func accuracy(m *Model, valid []sample) float64 {
	if len(valid) == 0 {
		return 0
	}
	correct := 0
	for _, s := range valid {
		predicted := 0.0
		if m.Predict(s.features) >= 0.5 {
			predicted = 1.0
		}
		if predicted == s.label {
			correct++
		}
	}
	return float64(correct) / float64(len(valid))
}
