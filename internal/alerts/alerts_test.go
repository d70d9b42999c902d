// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/models"
)

func newAlertsDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedScoredApp(t *testing.T, db *database.DB, title string, scores ...float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	e, err := db.CreateEntity(ctx, &models.Entity{
		ID: uuid.New(), ResolutionKey: title, Title: title, Category: "puzzle",
		FirstSeen: now, LastSeen: now,
	})
	require.NoError(t, err)
	for i, v := range scores {
		require.NoError(t, db.InsertScore(ctx, &models.Score{
			EntityID: e.ID, RunAt: now.Add(time.Duration(i) * time.Minute),
			Value: v, Breakdown: map[string]float64{}, Strategy: "weighted", Version: "rules-v1",
		}))
	}
	return e.ID
}

func collectAlerts(t *testing.T, bus *Bus, ctx context.Context) func() []models.AlertEvent {
	t.Helper()
	messages, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	return func() []models.AlertEvent {
		var events []models.AlertEvent
		for {
			select {
			case msg := <-messages:
				var ev models.AlertEvent
				require.NoError(t, json.Unmarshal(msg.Payload, &ev))
				events = append(events, ev)
				msg.Ack()
			case <-time.After(100 * time.Millisecond):
				return events
			}
		}
	}
}

func TestEvaluatorFiresOnCrossing(t *testing.T) {
	db := newAlertsDB(t)
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	id := seedScoredApp(t, db, "Rising Star", 60, 85)
	require.NoError(t, db.CreateAlertSubscription(ctx, &models.AlertSubscription{
		ID: uuid.New(), EntityID: &id, Threshold: 80,
		Direction: models.AlertAbove, CreatedAt: time.Now().UTC(),
	}))

	collect := collectAlerts(t, bus, ctx)
	require.NoError(t, NewEvaluator(db, bus).RunOnce(ctx))

	events := collect()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].EntityID)
	assert.Equal(t, "Rising Star", events[0].Title)
	assert.InDelta(t, 85, events[0].Score, 1e-9)
}

func TestEvaluatorDoesNotRefireAboveThreshold(t *testing.T) {
	db := newAlertsDB(t)
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	// Both the previous and current score sit above the threshold, so the
	// crossing already fired on an earlier run.
	id := seedScoredApp(t, db, "Plateau App", 85, 90)
	require.NoError(t, db.CreateAlertSubscription(ctx, &models.AlertSubscription{
		ID: uuid.New(), EntityID: &id, Threshold: 80,
		Direction: models.AlertAbove, CreatedAt: time.Now().UTC(),
	}))

	collect := collectAlerts(t, bus, ctx)
	require.NoError(t, NewEvaluator(db, bus).RunOnce(ctx))
	assert.Empty(t, collect())
}

func TestEvaluatorBelowDirection(t *testing.T) {
	db := newAlertsDB(t)
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	id := seedScoredApp(t, db, "Falling Knife", 50, 20)
	require.NoError(t, db.CreateAlertSubscription(ctx, &models.AlertSubscription{
		ID: uuid.New(), EntityID: &id, Threshold: 30,
		Direction: models.AlertBelow, CreatedAt: time.Now().UTC(),
	}))

	collect := collectAlerts(t, bus, ctx)
	require.NoError(t, NewEvaluator(db, bus).RunOnce(ctx))

	events := collect()
	require.Len(t, events, 1)
	assert.Equal(t, models.AlertBelow, events[0].Direction)
}

func TestEvaluatorCategorySubscription(t *testing.T) {
	db := newAlertsDB(t)
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	seedScoredApp(t, db, "Puzzle Hit", 90)
	seedScoredApp(t, db, "Puzzle Dud", 10)
	require.NoError(t, db.CreateAlertSubscription(ctx, &models.AlertSubscription{
		ID: uuid.New(), Category: "puzzle", Threshold: 80,
		Direction: models.AlertAbove, CreatedAt: time.Now().UTC(),
	}))

	collect := collectAlerts(t, bus, ctx)
	require.NoError(t, NewEvaluator(db, bus).RunOnce(ctx))

	events := collect()
	require.Len(t, events, 1)
	assert.Equal(t, "Puzzle Hit", events[0].Title)
}

func TestValidateSubscription(t *testing.T) {
	id := uuid.New()
	valid := &models.AlertSubscription{EntityID: &id, Threshold: 80, Direction: models.AlertAbove}
	assert.NoError(t, ValidateSubscription(valid))

	both := &models.AlertSubscription{EntityID: &id, Category: "puzzle", Threshold: 80, Direction: models.AlertAbove}
	assert.Error(t, ValidateSubscription(both))

	neither := &models.AlertSubscription{Threshold: 80, Direction: models.AlertAbove}
	assert.Error(t, ValidateSubscription(neither))

	badThreshold := &models.AlertSubscription{EntityID: &id, Threshold: 150, Direction: models.AlertAbove}
	assert.Error(t, ValidateSubscription(badThreshold))

	badDirection := &models.AlertSubscription{EntityID: &id, Threshold: 80, Direction: "sideways"}
	assert.Error(t, ValidateSubscription(badDirection))
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received models.AlertEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	event := &models.AlertEvent{
		SubscriptionID: uuid.New(), EntityID: uuid.New(),
		Title: "Rising Star", Score: 85, Threshold: 80,
		Direction: models.AlertAbove, TriggeredAt: time.Now().UTC(),
	}
	require.NoError(t, n.Notify(context.Background(), event))
	assert.Equal(t, event.EntityID, received.EntityID)
}

func TestWebhookNotifierRejectsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Notify(context.Background(), &models.AlertEvent{})
	assert.Error(t, err)
}

func TestDispatcherFansOut(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	var delivered []models.AlertEvent
	done := make(chan struct{})
	recorder := notifierFunc(func(_ context.Context, ev *models.AlertEvent) error {
		delivered = append(delivered, *ev)
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(bus, recorder)
	go func() { _ = d.Serve(ctx) }()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.Publish(&models.AlertEvent{
		EntityID: uuid.New(), Title: "Rising Star", Score: 85,
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never delivered the event")
	}
	require.Len(t, delivered, 1)
	assert.Equal(t, "Rising Star", delivered[0].Title)
}

type notifierFunc func(ctx context.Context, event *models.AlertEvent) error

func (notifierFunc) Name() string { return "test" }

func (f notifierFunc) Notify(ctx context.Context, event *models.AlertEvent) error {
	return f(ctx, event)
}
