// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chartpulse/chartpulse/internal/alerts"
	"github.com/chartpulse/chartpulse/internal/clone"
	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/models"
	ws "github.com/chartpulse/chartpulse/internal/websocket"
)

// Handler serves the read API. All endpoints except subscription management
// are read-only views over pipeline output.
type Handler struct {
	db       *database.DB
	detector *clone.Detector
	wsHub    *ws.Hub
	config   *config.Config
}

// NewHandler creates an API handler.
func NewHandler(db *database.DB, detector *clone.Detector, hub *ws.Hub, cfg *config.Config) *Handler {
	return &Handler{
		db:       db,
		detector: detector,
		wsHub:    hub,
		config:   cfg,
	}
}

// requireDB guards handlers that need the database.
func (h *Handler) requireDB(w http.ResponseWriter) bool {
	if h.db == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Database not available", nil)
		return false
	}
	return true
}

// pageLimit clamps a requested page size to the configured bounds.
func (h *Handler) pageLimit(r *http.Request) int {
	def, max := 50, 200
	if h.config != nil {
		def = h.config.API.DefaultPageSize
		max = h.config.API.MaxPageSize
	}
	limit := getIntParam(r, "limit", def)
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

// Health reports service liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	status := "ok"
	httpStatus := http.StatusOK

	if h.db == nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else if err := h.db.Ping(r.Context()); err != nil {
		logging.Error().Err(err).Msg("Health check database ping failed")
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	respondJSON(w, httpStatus, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status":   status,
			"database": status == "ok",
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(started).Milliseconds(),
		},
	})
}

// ScoredEntity pairs an entity with its current score for leaderboard views.
type ScoredEntity struct {
	Entity *models.Entity `json:"entity"`
	Score  *models.Score  `json:"score"`
}

// TopScores returns the highest-scored entities, optionally filtered by
// category. One row per entity, most recent score per entity.
func (h *Handler) TopScores(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	started := time.Now()

	category := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category")))
	limit := h.pageLimit(r)

	scores, err := h.db.TopScores(r.Context(), category, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query scores", err)
		return
	}

	result := make([]ScoredEntity, 0, len(scores))
	for _, s := range scores {
		entity, err := h.db.GetEntity(r.Context(), s.EntityID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load entity", err)
			return
		}
		result = append(result, ScoredEntity{Entity: entity, Score: s})
	}

	respondData(w, result, started)
}

// EntityDetail aggregates everything known about one entity: current score
// with breakdown, latest listing per region, recent feature history, clone
// links, and event correlations.
type EntityDetail struct {
	Entity       *models.Entity            `json:"entity"`
	Score        *models.Score             `json:"score,omitempty"`
	Listings     []*models.Listing         `json:"listings"`
	Features     []*models.FeatureRow      `json:"features"`
	CloneLinks   []models.CloneLink        `json:"clone_links"`
	Correlations []models.EventCorrelation `json:"correlations"`
}

// Entity returns the full detail view for one entity.
func (h *Handler) Entity(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	started := time.Now()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Entity id must be a UUID", nil)
		return
	}

	entity, err := h.db.GetEntity(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Entity not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load entity", err)
		return
	}

	detail := EntityDetail{Entity: entity}

	score, err := h.db.CurrentScore(r.Context(), id)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load score", err)
		return
	}
	detail.Score = score

	if detail.Listings, err = h.db.LatestListingPerRegion(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load listings", err)
		return
	}
	if detail.Features, err = h.db.FeatureHistory(r.Context(), id, 20); err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load features", err)
		return
	}
	if detail.CloneLinks, err = h.db.CloneLinksFor(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load clone links", err)
		return
	}
	if detail.Correlations, err = h.db.CorrelationsFor(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load correlations", err)
		return
	}

	respondData(w, detail, started)
}

// ScoreHistory returns an entity's score history, newest first.
func (h *Handler) ScoreHistory(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	started := time.Now()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Entity id must be a UUID", nil)
		return
	}

	history, err := h.db.ScoreHistory(r.Context(), id, h.pageLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query score history", err)
		return
	}

	respondData(w, history, started)
}

// Clusters returns clone clusters with copycat wave flags.
func (h *Handler) Clusters(w http.ResponseWriter, r *http.Request) {
	if h.detector == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Clone detector not available", nil)
		return
	}
	started := time.Now()

	clusters, err := h.detector.Clusters(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to compute clusters", err)
		return
	}

	respondData(w, clusters, started)
}

// Events returns upcoming calendar events within the correlation lead window.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	started := time.Now()

	lead := 90 * 24 * time.Hour
	if h.config != nil && h.config.Events.LeadTime > 0 {
		lead = h.config.Events.LeadTime
	}

	events, err := h.db.UpcomingEvents(r.Context(), time.Now(), lead)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query events", err)
		return
	}

	respondData(w, events, started)
}

// CreateSubscription registers an alert subscription.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	started := time.Now()

	var sub models.AlertSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be a JSON subscription", err)
		return
	}
	sub.Category = strings.ToLower(strings.TrimSpace(sub.Category))

	if err := alerts.ValidateSubscription(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	sub.ID = uuid.New()
	sub.CreatedAt = time.Now().UTC()

	if err := h.db.CreateAlertSubscription(r.Context(), &sub); err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to store subscription", err)
		return
	}

	respondJSON(w, http.StatusCreated, &models.APIResponse{
		Status: "success",
		Data:   &sub,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(started).Milliseconds(),
		},
	})
}

// ListSubscriptions returns all alert subscriptions.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	started := time.Now()

	subs, err := h.db.ListAlertSubscriptions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query subscriptions", err)
		return
	}

	respondData(w, subs, started)
}

// DeleteSubscription removes an alert subscription by id.
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	started := time.Now()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Subscription id must be a UUID", nil)
		return
	}

	if err := h.db.DeleteAlertSubscription(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Subscription not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to delete subscription", err)
		return
	}

	respondData(w, map[string]string{"deleted": id.String()}, started)
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins. Browser
// clients always send Origin; an empty header is rejected because allowing
// it would bypass CORS entirely.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	if h.config == nil {
		return true
	}

	for _, allowed := range h.config.API.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// WebSocket upgrades the connection and attaches the client to the hub for
// realtime score and alert pushes.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "WebSocket service unavailable", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	h.wsHub.Register <- client
	client.Start()
}
