// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{
			DefaultPageSize: 50,
			MaxPageSize:     200,
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Events: config.EventsConfig{
			LeadTime: 90 * 24 * time.Hour,
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *database.DB) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := NewHandler(db, nil, nil, testConfig())
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(srv.Close)
	return srv, db
}

func seedEntity(t *testing.T, db *database.DB, title, category string) *models.Entity {
	t.Helper()
	e, err := db.CreateEntity(context.Background(), &models.Entity{
		ID:            uuid.New(),
		ResolutionKey: category + ":" + title,
		Title:         title,
		Category:      category,
		FirstSeen:     time.Now().UTC().Add(-30 * 24 * time.Hour),
		LastSeen:      time.Now().UTC(),
	})
	require.NoError(t, err)
	return e
}

func seedScore(t *testing.T, db *database.DB, entityID uuid.UUID, value float64, at time.Time) {
	t.Helper()
	require.NoError(t, db.InsertScore(context.Background(), &models.Score{
		EntityID:  entityID,
		RunAt:     at,
		Value:     value,
		Breakdown: map[string]float64{"rating": value / 2},
		Strategy:  "weighted",
		Version:   "rules-v1",
	}))
}

func getJSON(t *testing.T, url string) (*http.Response, *models.APIResponse) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var envelope models.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, &envelope
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := getJSON(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", envelope.Status)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, true, data["database"])
}

func TestTopScoresOrdersByValue(t *testing.T) {
	srv, db := newTestServer(t)
	now := time.Now().UTC()

	leader := seedEntity(t, db, "Merge Dragons Deluxe", "puzzle")
	trailer := seedEntity(t, db, "Idle Forklift", "simulation")
	seedScore(t, db, leader.ID, 91, now)
	seedScore(t, db, trailer.ID, 40, now)

	resp, envelope := getJSON(t, srv.URL+"/api/v1/scores/top")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var rows []ScoredEntity
	require.NoError(t, json.Unmarshal(raw, &rows))

	require.Len(t, rows, 2)
	assert.Equal(t, leader.ID, rows[0].Entity.ID)
	assert.InDelta(t, 91, rows[0].Score.Value, 0.001)
	assert.Equal(t, trailer.ID, rows[1].Entity.ID)
}

func TestTopScoresCategoryFilter(t *testing.T) {
	srv, db := newTestServer(t)
	now := time.Now().UTC()

	puzzle := seedEntity(t, db, "Block Blast Saga", "puzzle")
	sim := seedEntity(t, db, "Farm Empire", "simulation")
	seedScore(t, db, puzzle.ID, 70, now)
	seedScore(t, db, sim.ID, 80, now)

	resp, envelope := getJSON(t, srv.URL+"/api/v1/scores/top?category=puzzle")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var rows []ScoredEntity
	require.NoError(t, json.Unmarshal(raw, &rows))

	require.Len(t, rows, 1)
	assert.Equal(t, puzzle.ID, rows[0].Entity.ID)
}

func TestEntityDetailAggregates(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entity := seedEntity(t, db, "Tower Defense Kingdoms", "strategy")
	seedScore(t, db, entity.ID, 66, now)

	require.NoError(t, db.InsertListing(ctx, &models.Listing{
		ID:         uuid.New(),
		EntityID:   entity.ID,
		Source:     "appstore",
		SourceID:   "tdk-1",
		Title:      "Tower Defense Kingdoms",
		Category:   "strategy",
		Region:     "us",
		Rating:     4.5,
		ObservedAt: now,
	}))
	require.NoError(t, db.InsertFeatureRow(ctx, &models.FeatureRow{
		EntityID:      entity.ID,
		Analyzer:      "velocity",
		RunAt:         now,
		SchemaVersion: 1,
		Features:      map[string]float64{"review_velocity": 12},
	}))

	resp, envelope := getJSON(t, srv.URL+"/api/v1/entities/"+entity.ID.String())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var detail EntityDetail
	require.NoError(t, json.Unmarshal(raw, &detail))

	assert.Equal(t, entity.ID, detail.Entity.ID)
	require.NotNil(t, detail.Score)
	assert.InDelta(t, 66, detail.Score.Value, 0.001)
	require.Len(t, detail.Listings, 1)
	assert.Equal(t, "us", detail.Listings[0].Region)
	require.Len(t, detail.Features, 1)
	assert.Equal(t, "velocity", detail.Features[0].Analyzer)
}

func TestEntityDetailNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := getJSON(t, srv.URL+"/api/v1/entities/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)
}

func TestEntityDetailRejectsBadID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := getJSON(t, srv.URL+"/api/v1/entities/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INVALID_ID", envelope.Error.Code)
}

func TestScoreHistoryNewestFirst(t *testing.T) {
	srv, db := newTestServer(t)
	now := time.Now().UTC()

	entity := seedEntity(t, db, "Runner Rush", "arcade")
	seedScore(t, db, entity.ID, 30, now.Add(-2*time.Hour))
	seedScore(t, db, entity.ID, 55, now.Add(-time.Hour))
	seedScore(t, db, entity.ID, 62, now)

	resp, envelope := getJSON(t, srv.URL+"/api/v1/entities/"+entity.ID.String()+"/scores")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var history []*models.Score
	require.NoError(t, json.Unmarshal(raw, &history))

	require.Len(t, history, 3)
	assert.InDelta(t, 62, history[0].Value, 0.001)
	assert.InDelta(t, 30, history[2].Value, 0.001)
}

func TestEventsEndpointReturnsUpcoming(t *testing.T) {
	srv, db := newTestServer(t)

	require.NoError(t, db.UpsertEvent(context.Background(), &models.EventEntity{
		ID:       uuid.New(),
		Name:     "Winter Sale",
		Category: "seasonal",
		StartAt:  time.Now().UTC().Add(20 * 24 * time.Hour),
		Source:   "calendar",
		Keywords: []string{"winter", "sale"},
	}))

	resp, envelope := getJSON(t, srv.URL+"/api/v1/events")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var events []*models.EventEntity
	require.NoError(t, json.Unmarshal(raw, &events))

	require.Len(t, events, 1)
	assert.Equal(t, "Winter Sale", events[0].Name)
}

func TestSubscriptionLifecycle(t *testing.T) {
	srv, db := newTestServer(t)

	entity := seedEntity(t, db, "Hero Clicker", "rpg")

	body, err := json.Marshal(models.AlertSubscription{
		EntityID:  &entity.ID,
		Threshold: 80,
		Direction: models.AlertAbove,
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/v1/subscriptions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	raw, err := json.Marshal(created.Data)
	require.NoError(t, err)
	var sub models.AlertSubscription
	require.NoError(t, json.Unmarshal(raw, &sub))
	assert.NotEqual(t, uuid.Nil, sub.ID)

	listResp, listEnvelope := getJSON(t, srv.URL+"/api/v1/subscriptions")
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	raw, err = json.Marshal(listEnvelope.Data)
	require.NoError(t, err)
	var subs []*models.AlertSubscription
	require.NoError(t, json.Unmarshal(raw, &subs))
	require.Len(t, subs, 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/subscriptions/"+sub.ID.String(), nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)

	again, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer again.Body.Close()
	assert.Equal(t, http.StatusNotFound, again.StatusCode)
}

func TestCreateSubscriptionRejectsInvalid(t *testing.T) {
	srv, _ := newTestServer(t)

	entityID := uuid.New()
	invalid := []models.AlertSubscription{
		{Threshold: 80, Direction: models.AlertAbove},
		{EntityID: &entityID, Category: "puzzle", Threshold: 80, Direction: models.AlertAbove},
		{EntityID: &entityID, Threshold: 150, Direction: models.AlertAbove},
		{EntityID: &entityID, Threshold: 80, Direction: "sideways"},
	}

	for _, sub := range invalid {
		body, err := json.Marshal(sub)
		require.NoError(t, err)

		resp, err := http.Post(srv.URL+"/api/v1/subscriptions", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestWebSocketUnavailableWithoutHub(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := getJSON(t, srv.URL+"/api/v1/ws")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "SERVICE_UNAVAILABLE", envelope.Error.Code)
}
