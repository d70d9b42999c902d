// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package scoring

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Model is a trained logistic-regression classifier over the standardized
// feature vector. Artifacts are plain JSON so a model survives restarts and
// can be inspected offline.
type Model struct {
	Version   int       `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Accuracy  float64   `json:"accuracy"`
	Samples   int       `json:"samples"`

	// Features fixes the vector layout. Weights, Means, and Stds are
	// indexed in the same order.
	Features []string  `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
	Means    []float64 `json:"means"`
	Stds     []float64 `json:"stds"`
}

// Predict returns the hit probability for a feature map. Features the model
// does not know are ignored; features missing from the map standardize from
// a raw zero.
func (m *Model) Predict(features map[string]float64) float64 {
	z := m.Bias
	for i, name := range m.Features {
		z += m.Weights[i] * m.standardize(i, features[name])
	}
	return sigmoid(z)
}

func (m *Model) standardize(i int, raw float64) float64 {
	if m.Stds[i] == 0 {
		return 0
	}
	return (raw - m.Means[i]) / m.Stds[i]
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func modelFile(dir string, version int) string {
	return filepath.Join(dir, fmt.Sprintf("model_v%d.json", version))
}

// SaveModel writes the artifact for m.Version under dir.
func SaveModel(dir string, m *Model) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("scoring: create model dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("scoring: encode model: %w", err)
	}
	if err := os.WriteFile(modelFile(dir, m.Version), data, 0o644); err != nil {
		return fmt.Errorf("scoring: write model artifact: %w", err)
	}
	return nil
}

// LoadModel reads the artifact for a version from dir.
func LoadModel(dir string, version int) (*Model, error) {
	data, err := os.ReadFile(modelFile(dir, version))
	if err != nil {
		return nil, fmt.Errorf("scoring: read model artifact: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("scoring: decode model artifact: %w", err)
	}
	if len(m.Weights) != len(m.Features) || len(m.Means) != len(m.Features) || len(m.Stds) != len(m.Features) {
		return nil, fmt.Errorf("scoring: model artifact v%d is inconsistent", version)
	}
	return &m, nil
}

// ClassifierStrategy scores with the active model version. The model is
// cached and reloaded only when the store's active version moves, so a
// scoring pass never rereads the artifact per entity.
type ClassifierStrategy struct {
	db       *database.DB
	modelDir string

	mu     sync.RWMutex
	cached *Model
}

func NewClassifierStrategy(db *database.DB, modelDir string) *ClassifierStrategy {
	return &ClassifierStrategy{db: db, modelDir: modelDir}
}

func (s *ClassifierStrategy) Name() string { return "classifier" }

func (s *ClassifierStrategy) Score(ctx context.Context, entityID uuid.UUID, runAt time.Time) (*models.Score, error) {
	model, err := s.activeModel(ctx)
	if err != nil {
		return nil, err
	}

	features, err := s.db.LatestFeatures(ctx, entityID)
	if err != nil {
		return nil, err
	}

	probability := model.Predict(features)

	// Breakdown records each feature's standardized weighted contribution
	// to the logit, which is what moved the probability.
	breakdown := map[string]float64{}
	for i, name := range model.Features {
		breakdown[name] = model.Weights[i] * model.standardize(i, features[name])
	}

	return &models.Score{
		EntityID:  entityID,
		RunAt:     runAt,
		Value:     clampScore(probability * 100),
		Breakdown: breakdown,
		Strategy:  s.Name(),
		Version:   fmt.Sprintf("model-v%d", model.Version),
	}, nil
}

func (s *ClassifierStrategy) activeModel(ctx context.Context) (*Model, error) {
	active, err := s.db.ActiveModel(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil && cached.Version == active.Version {
		return cached, nil
	}

	model, err := LoadModel(s.modelDir, active.Version)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = model
	s.mu.Unlock()
	return model, nil
}
