// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEntity(t *testing.T, db *DB, key, title, category string) *models.Entity {
	t.Helper()
	e, err := db.CreateEntity(context.Background(), &models.Entity{
		ID:            uuid.New(),
		ResolutionKey: key,
		Title:         title,
		Category:      category,
		FirstSeen:     time.Now().UTC(),
		LastSeen:      time.Now().UTC(),
	})
	require.NoError(t, err)
	return e
}

func TestCreateEntityCollapsesOnResolutionKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.CreateEntity(ctx, &models.Entity{
		ID:            uuid.New(),
		ResolutionKey: "us-store:puzzle-quest",
		Title:         "Puzzle Quest",
		Category:      "puzzle",
		FirstSeen:     time.Now().UTC(),
		LastSeen:      time.Now().UTC(),
	})
	require.NoError(t, err)

	second, err := db.CreateEntity(ctx, &models.Entity{
		ID:            uuid.New(),
		ResolutionKey: "us-store:puzzle-quest",
		Title:         "Puzzle Quest",
		Category:      "puzzle",
		FirstSeen:     time.Now().UTC(),
		LastSeen:      time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same resolution key must map to one entity")

	all, err := db.ListEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateEntityConcurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const workers = 16
	ids := make([]uuid.UUID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := db.CreateEntity(ctx, &models.Entity{
				ID:            uuid.New(),
				ResolutionKey: "race:same-key",
				Title:         "Same Title",
				Category:      "arcade",
				FirstSeen:     time.Now().UTC(),
				LastSeen:      time.Now().UTC(),
			})
			if err == nil {
				ids[i] = e.ID
			}
		}(i)
	}
	wg.Wait()

	want := ids[0]
	for i := 1; i < workers; i++ {
		if ids[i] != uuid.Nil {
			assert.Equal(t, want, ids[i])
		}
	}
}

func TestTouchEntityMergesSourceIDs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := testEntity(t, db, "k1", "Title", "rpg")
	later := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	require.NoError(t, db.TouchEntity(ctx, e.ID, later, []string{"appstore:123", "steam:456"}))
	require.NoError(t, db.TouchEntity(ctx, e.ID, later, []string{"appstore:123"}))

	got, err := db.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"appstore:123", "steam:456"}, got.SourceIDs)

	bySrc, err := db.GetEntityBySourceRef(ctx, "steam:456")
	require.NoError(t, err)
	assert.Equal(t, e.ID, bySrc.ID)
}

func TestTouchEntityConcurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Workers simulate ingests arriving through different resolution keys
	// that all resolved to the same entity. No touch may drop another's ref.
	e := testEntity(t, db, "k1", "Title", "rpg")
	later := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)

	const workers = 16
	refs := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		refs[i] = fmt.Sprintf("appstore:%d", i)
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			assert.NoError(t, db.TouchEntity(ctx, e.ID, later, []string{ref}))
		}(refs[i])
	}
	wg.Wait()

	got, err := db.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, refs, got.SourceIDs)
}

func TestListingsAppendOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	e := testEntity(t, db, "k2", "Tower Blast", "strategy")

	rank := 50
	base := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Microsecond)
	for i := 0; i < 3; i++ {
		r := rank - i*20 // 50, 30, 10
		require.NoError(t, db.InsertListing(ctx, &models.Listing{
			ID:         uuid.New(),
			EntityID:   e.ID,
			Source:     "appstore",
			SourceID:   "42",
			Title:      "Tower Blast",
			Category:   "strategy",
			Region:     "us",
			Rank:       &r,
			Rating:     4.5,
			ObservedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	// Identical payload appends a fourth row rather than updating.
	require.NoError(t, db.InsertListing(ctx, &models.Listing{
		ID:          uuid.New(),
		EntityID:    e.ID,
		Source:      "appstore",
		SourceID:    "42",
		Title:       "Tower Blast",
		Description: "Defend the tower",
		Category:    "strategy",
		Region:      "us",
		Rank:        &rank,
		Rating:      4.5,
		ObservedAt:  base.Add(72 * time.Hour),
	}))

	history, err := db.RankHistory(ctx, e.ID, "us", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, 50, history[0].Rank)
	assert.Equal(t, 10, history[2].Rank)

	latest, err := db.LatestListing(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, *latest.Rank)
	assert.Equal(t, "Defend the tower", latest.Description)
}

func TestLatestListingPerRegion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	e := testEntity(t, db, "k3", "Orbit", "arcade")

	now := time.Now().UTC().Truncate(time.Microsecond)
	for _, tc := range []struct {
		region string
		rank   int
		at     time.Time
	}{
		{"us", 20, now.Add(-2 * time.Hour)},
		{"us", 15, now},
		{"jp", 8, now.Add(-time.Hour)},
	} {
		r := tc.rank
		require.NoError(t, db.InsertListing(ctx, &models.Listing{
			ID: uuid.New(), EntityID: e.ID, Source: "appstore", SourceID: "7",
			Title: "Orbit", Category: "arcade", Region: tc.region,
			Rank: &r, ObservedAt: tc.at,
		}))
	}

	latest, err := db.LatestListingPerRegion(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	byRegion := map[string]int{}
	for _, l := range latest {
		byRegion[l.Region] = *l.Rank
	}
	assert.Equal(t, 15, byRegion["us"])
	assert.Equal(t, 8, byRegion["jp"])
}

func TestBestRankWithin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	e := testEntity(t, db, "k4", "Dash", "racing")

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i, r := range []int{40, 12, 33} {
		rank := r
		require.NoError(t, db.InsertListing(ctx, &models.Listing{
			ID: uuid.New(), EntityID: e.ID, Source: "appstore", SourceID: "9",
			Title: "Dash", Category: "racing", Region: "us",
			Rank: &rank, ObservedAt: now.Add(time.Duration(i) * time.Hour),
		}))
	}

	best, err := db.BestRankWithin(ctx, e.ID, now.Add(-time.Hour), now.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 12, best)

	_, err = db.BestRankWithin(ctx, e.ID, now.Add(24*time.Hour), now.Add(48*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFeaturesAsOfMergesLatestPerAnalyzer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	e := testEntity(t, db, "k5", "Mine", "simulation")

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, db.InsertFeatureRow(ctx, &models.FeatureRow{
		EntityID: e.ID, Analyzer: "velocity", RunAt: now.Add(-2 * time.Hour),
		SchemaVersion: 1, Features: map[string]float64{"rank_slope": -1.0},
	}))
	require.NoError(t, db.InsertFeatureRow(ctx, &models.FeatureRow{
		EntityID: e.ID, Analyzer: "velocity", RunAt: now,
		SchemaVersion: 1, Features: map[string]float64{"rank_slope": -2.5},
	}))
	require.NoError(t, db.InsertFeatureRow(ctx, &models.FeatureRow{
		EntityID: e.ID, Analyzer: "sentiment", RunAt: now.Add(-time.Hour),
		SchemaVersion: 1, Features: map[string]float64{"sentiment_mean": 0.4},
	}))

	feats, err := db.LatestFeatures(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, -2.5, feats["velocity.rank_slope"])
	assert.Equal(t, 0.4, feats["sentiment.sentiment_mean"])

	// Point-in-time read sees only what existed then.
	old, err := db.FeaturesAsOf(ctx, e.ID, now.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, -1.0, old["velocity.rank_slope"])
	_, present := old["sentiment.sentiment_mean"]
	assert.False(t, present)
}

func TestReplaceCloneLinksSupersedes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := testEntity(t, db, "ka", "Gem Crush", "puzzle")
	b := testEntity(t, db, "kb", "Gem Crush Saga", "puzzle")

	run1 := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, db.ReplaceCloneLinks(ctx, []models.CloneLink{
		{EntityA: a.ID, EntityB: b.ID, Channel: models.ChannelCombined, Similarity: 0.92, RunAt: run1},
	}))

	links, err := db.CloneLinksFor(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 0.92, links[0].Similarity)

	// A later run below threshold emits no link; the old link must vanish.
	require.NoError(t, db.ReplaceCloneLinks(ctx, nil))
	links, err = db.CloneLinksFor(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestEventUpsertDedupes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Microsecond)
	ev := &models.EventEntity{
		ID: uuid.New(), Name: "Lunar New Year", Category: "holiday",
		StartAt: start, Source: "calendar", Keywords: []string{"lunar", "dragon"},
	}
	require.NoError(t, db.UpsertEvent(ctx, ev))

	// Re-scrape of the same event with refreshed keywords.
	again := *ev
	again.ID = uuid.New()
	again.Keywords = []string{"lunar", "dragon", "festival"}
	require.NoError(t, db.UpsertEvent(ctx, &again))

	events, err := db.UpcomingEvents(ctx, time.Now().UTC(), 90*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"lunar", "dragon", "festival"}, events[0].Keywords)
}

func TestScoresCurrentAndTop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := testEntity(t, db, "s1", "Alpha", "puzzle")
	b := testEntity(t, db, "s2", "Beta", "racing")

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, db.InsertScore(ctx, &models.Score{
		EntityID: a.ID, RunAt: now.Add(-time.Hour), Value: 40,
		Breakdown: map[string]float64{"rating": 10}, Strategy: "weighted", Version: "v1",
	}))
	require.NoError(t, db.InsertScore(ctx, &models.Score{
		EntityID: a.ID, RunAt: now, Value: 72,
		Breakdown: map[string]float64{"rating": 20}, Strategy: "weighted", Version: "v1",
	}))
	require.NoError(t, db.InsertScore(ctx, &models.Score{
		EntityID: b.ID, RunAt: now, Value: 55,
		Breakdown: map[string]float64{"rating": 12}, Strategy: "weighted", Version: "v1",
	}))

	cur, err := db.CurrentScore(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 72.0, cur.Value)
	assert.Equal(t, 20.0, cur.Breakdown["rating"])

	prev, err := db.PreviousScore(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 40.0, prev.Value)

	top, err := db.TopScores(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, a.ID, top[0].EntityID)

	puzzleOnly, err := db.TopScores(ctx, "puzzle", 10)
	require.NoError(t, err)
	require.Len(t, puzzleOnly, 1)
	assert.Equal(t, a.ID, puzzleOnly[0].EntityID)
}

func TestModelSwapKeepsSingleActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.ActiveModel(ctx)
	assert.ErrorIs(t, err, ErrNoActiveModel)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, db.InsertModelVersion(ctx, &models.ModelVersion{
		Version: 1, Accuracy: 0.70, TrainedAt: now, Samples: 120,
	}))
	require.NoError(t, db.SwapActiveModel(ctx, 1))

	require.NoError(t, db.InsertModelVersion(ctx, &models.ModelVersion{
		Version: 2, Accuracy: 0.74, TrainedAt: now.Add(time.Hour), Samples: 150,
	}))
	require.NoError(t, db.SwapActiveModel(ctx, 2))

	active, err := db.ActiveModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	all, err := db.ListModelVersions(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, mv := range all {
		if mv.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	latest, err := db.LatestModelVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, latest)

	assert.ErrorIs(t, db.SwapActiveModel(ctx, 99), ErrNotFound)
}

func TestAlertSubscriptionCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	e := testEntity(t, db, "a1", "Watched", "puzzle")

	sub := &models.AlertSubscription{
		ID: uuid.New(), EntityID: &e.ID, Threshold: 80,
		Direction: models.AlertAbove, CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, db.CreateAlertSubscription(ctx, sub))

	catSub := &models.AlertSubscription{
		ID: uuid.New(), Category: "racing", Threshold: 30,
		Direction: models.AlertBelow, CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, db.CreateAlertSubscription(ctx, catSub))

	got, err := db.GetAlertSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EntityID)
	assert.Equal(t, e.ID, *got.EntityID)
	assert.Empty(t, got.Category)

	all, err := db.ListAlertSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, db.DeleteAlertSubscription(ctx, sub.ID))
	assert.ErrorIs(t, db.DeleteAlertSubscription(ctx, sub.ID), ErrNotFound)
}

func TestPruneBeforeKeepsEntities(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	e := testEntity(t, db, "p1", "Old Game", "puzzle")

	old := time.Now().UTC().Add(-400 * 24 * time.Hour).Truncate(time.Microsecond)
	r := 90
	require.NoError(t, db.InsertListing(ctx, &models.Listing{
		ID: uuid.New(), EntityID: e.ID, Source: "appstore", SourceID: "1",
		Title: "Old Game", Category: "puzzle", Region: "us", Rank: &r, ObservedAt: old,
	}))

	n, err := db.PruneBefore(ctx, time.Now().UTC().Add(-365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.LatestListing(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The entity identity survives retention.
	_, err = db.GetEntity(ctx, e.ID)
	assert.NoError(t, err)
}
