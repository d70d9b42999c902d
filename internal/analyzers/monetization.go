// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package analyzers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Monetization tiers, one-hot encoded for downstream scoring.
const (
	tierFree         = "monetization_free"
	tierPaid         = "monetization_paid"
	tierFreemium     = "monetization_freemium"
	tierSubscription = "monetization_subscription"
)

// MonetizationAnalyzer classifies the entity's monetization tier from its
// latest listing shape.
type MonetizationAnalyzer struct {
	db *database.DB
}

// NewMonetizationAnalyzer creates the monetization analyzer.
func NewMonetizationAnalyzer(db *database.DB) *MonetizationAnalyzer {
	return &MonetizationAnalyzer{db: db}
}

func (a *MonetizationAnalyzer) Name() string { return "monetization" }

func (a *MonetizationAnalyzer) Analyze(ctx context.Context, entityID uuid.UUID, _ time.Time) (map[string]float64, error) {
	listing, err := a.db.LatestListing(ctx, entityID)
	if err == database.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	features := map[string]float64{
		tierFree:         0,
		tierPaid:         0,
		tierFreemium:     0,
		tierSubscription: 0,
		"price":          listing.Price,
		"iap_count":      float64(listing.IAPCount),
	}
	features[monetizationTier(listing)] = 1
	return features, nil
}

func monetizationTier(l *models.Listing) string {
	switch {
	case l.Subscription:
		return tierSubscription
	case l.Price == 0 && l.HasIAP:
		return tierFreemium
	case l.Price == 0:
		return tierFree
	default:
		return tierPaid
	}
}
