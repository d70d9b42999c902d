// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package alerts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Evaluator checks fresh scores against registered subscriptions. It fires
// on threshold crossings, not levels: a score that stays above an "above"
// threshold run after run triggers once, when it first crosses.
type Evaluator struct {
	db  *database.DB
	bus *Bus
}

func NewEvaluator(db *database.DB, bus *Bus) *Evaluator {
	return &Evaluator{db: db, bus: bus}
}

// RunOnce evaluates every subscription against the current scores. Called
// by the scheduler right after each scoring run.
func (e *Evaluator) RunOnce(ctx context.Context) error {
	subs, err := e.db.ListAlertSubscriptions(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	triggered := 0
	for _, sub := range subs {
		entities, err := e.candidates(ctx, sub)
		if err != nil {
			logging.Warn().Err(err).Str("subscription_id", sub.ID.String()).
				Msg("Skipping subscription during alert evaluation")
			continue
		}
		for _, entity := range entities {
			fired, err := e.evaluate(ctx, sub, entity)
			if err != nil {
				logging.Warn().Err(err).
					Str("subscription_id", sub.ID.String()).
					Str("entity_id", entity.ID.String()).
					Msg("Alert evaluation failed for entity")
				continue
			}
			if fired {
				triggered++
			}
		}
	}

	if triggered > 0 {
		logging.Info().Int("triggered", triggered).Int("subscriptions", len(subs)).
			Msg("Alert evaluation complete")
	}
	return nil
}

func (e *Evaluator) candidates(ctx context.Context, sub *models.AlertSubscription) ([]*models.Entity, error) {
	if sub.EntityID != nil {
		entity, err := e.db.GetEntity(ctx, *sub.EntityID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []*models.Entity{entity}, nil
	}
	return e.db.ListEntitiesByCategory(ctx, strings.ToLower(sub.Category))
}

// evaluate fires when the current score meets the condition and the
// previous one did not. An entity's very first score can fire immediately.
func (e *Evaluator) evaluate(ctx context.Context, sub *models.AlertSubscription, entity *models.Entity) (bool, error) {
	current, err := e.db.CurrentScore(ctx, entity.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !meets(sub, current.Value) {
		return false, nil
	}

	previous, err := e.db.PreviousScore(ctx, entity.ID)
	switch {
	case err == nil:
		if meets(sub, previous.Value) {
			// Still on the same side of the threshold; already fired.
			return false, nil
		}
	case errors.Is(err, database.ErrNotFound):
		// First score for this entity.
	default:
		return false, err
	}

	event := &models.AlertEvent{
		SubscriptionID: sub.ID,
		EntityID:       entity.ID,
		Title:          entity.Title,
		Category:       entity.Category,
		Score:          current.Value,
		Threshold:      sub.Threshold,
		Direction:      sub.Direction,
		TriggeredAt:    time.Now().UTC(),
	}
	if err := e.bus.Publish(event); err != nil {
		return false, err
	}
	return true, nil
}

func meets(sub *models.AlertSubscription, value float64) bool {
	if sub.Direction == models.AlertBelow {
		return value < sub.Threshold
	}
	return value > sub.Threshold
}

// ValidateSubscription enforces the subscription shape at the API boundary:
// exactly one target (entity or category), a sane threshold, and a known
// direction.
func ValidateSubscription(sub *models.AlertSubscription) error {
	hasEntity := sub.EntityID != nil && *sub.EntityID != uuid.Nil
	hasCategory := sub.Category != ""
	if hasEntity == hasCategory {
		return errors.New("alerts: subscription needs exactly one of entity_id or category")
	}
	if sub.Threshold < 0 || sub.Threshold > 100 {
		return errors.New("alerts: threshold must be within [0,100]")
	}
	if sub.Direction != models.AlertAbove && sub.Direction != models.AlertBelow {
		return errors.New("alerts: direction must be above or below")
	}
	return nil
}
