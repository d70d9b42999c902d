// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package models defines the data structures used throughout Chartpulse.
// These models represent observed listings, deduplicated entities, analyzer
// feature rows, clone links, calendar events, and predictive scores.
package models

import (
	"time"

	"github.com/google/uuid"
)

// RawRecord is the canonical pre-Listing record every source connector
// normalizes its payloads into. It is the only contract between connectors
// and the ingestion core.
//
// Title/Category/Region identify the observed item; Rank is nil for catalog
// sources that carry no chart position. IconRef and Description are raw
// content references handed to the embedding layer, never persisted verbatim.
type RawRecord struct {
	SourceID    string    `json:"source_id"` // source-native identifier, may be empty
	Title       string    `json:"title"`
	Developer   string    `json:"developer,omitempty"`
	Category    string    `json:"category"`
	Region      string    `json:"region"`
	Rank        *int      `json:"rank,omitempty"`
	Rating      float64   `json:"rating"`
	RatingCount int       `json:"rating_count"`
	Price       float64   `json:"price"`
	HasIAP      bool      `json:"has_iap"`
	IAPCount    int       `json:"iap_count"`
	Subscription bool     `json:"subscription"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	Description string    `json:"description,omitempty"`
	IconRef     string    `json:"icon_ref,omitempty"`
	IconBytes   []byte    `json:"-"` // fetched icon content, if the connector resolved it
	ObservedAt  time.Time `json:"observed_at"`
}

// Listing is one observed snapshot of an entity at a point in time.
// Listings are immutable once written: every scrape appends a new row,
// re-ingesting identical data appends again rather than updating.
type Listing struct {
	ID          uuid.UUID `json:"id"`
	EntityID    uuid.UUID `json:"entity_id"`
	Source      string    `json:"source"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Developer   string    `json:"developer,omitempty"`
	Category    string    `json:"category"`
	Region      string    `json:"region"`
	Rank        *int      `json:"rank,omitempty"`
	Rating      float64   `json:"rating"`
	RatingCount int       `json:"rating_count"`
	Price       float64   `json:"price"`
	HasIAP      bool      `json:"has_iap"`
	IAPCount    int       `json:"iap_count"`
	Subscription bool     `json:"subscription"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`

	// Content fingerprints for similarity lookups.
	TitleHash string    `json:"title_hash"`           // normalized title+description hash
	TextVec   []float32 `json:"text_vec,omitempty"`   // text embedding
	IconVec   []float32 `json:"icon_vec,omitempty"`   // icon embedding

	ObservedAt time.Time `json:"observed_at"`
}

// Entity is the deduplicated cross-region, cross-time identity for a title.
// Exactly one Entity exists per resolution key; concurrent ingests of the
// same key must collapse onto one row.
type Entity struct {
	ID            uuid.UUID `json:"id"`
	ResolutionKey string    `json:"resolution_key"`
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	// SourceIDs maps "source:source_id" pairs observed for this entity.
	SourceIDs []string `json:"source_ids"`
}

// ReviewSnapshot is one observed review for an entity, consumed by the
// sentiment analyzer. Text may be empty for rating-only sources.
type ReviewSnapshot struct {
	ID         uuid.UUID `json:"id"`
	EntityID   uuid.UUID `json:"entity_id"`
	Rating     int       `json:"rating"`
	Text       string    `json:"text,omitempty"`
	Region     string    `json:"region"`
	ObservedAt time.Time `json:"observed_at"`
}

// FeatureRow is one analyzer's output for one entity at one analysis run.
// Rows are append-only history; point-in-time reconstruction reads the rows
// at or before the desired run timestamp.
type FeatureRow struct {
	EntityID      uuid.UUID          `json:"entity_id"`
	Analyzer      string             `json:"analyzer"`
	RunAt         time.Time          `json:"run_at"`
	SchemaVersion int                `json:"schema_version"`
	// Features holds named numeric values. Categorical outputs are encoded
	// one-hot (e.g. monetization_freemium=1). A feature the analyzer could
	// not compute is simply absent, never zero-filled.
	Features map[string]float64 `json:"features"`
}

// Similarity channels for CloneLink.
const (
	ChannelText     = "text"
	ChannelImage    = "image"
	ChannelCombined = "combined"
)

// CloneLink relates two entities with a similarity score in [0,1].
// Links are a lookup relation, not ownership, and are recomputed whole on
// every detector run; a run's output supersedes the previous run's links.
type CloneLink struct {
	EntityA    uuid.UUID `json:"entity_a"`
	EntityB    uuid.UUID `json:"entity_b"`
	Channel    string    `json:"channel"` // text, image, combined
	Similarity float64   `json:"similarity"`
	RunAt      time.Time `json:"run_at"`
}

// CloneCluster is a union-find component of entities linked above threshold.
type CloneCluster struct {
	ID          int         `json:"id"`
	EntityIDs   []uuid.UUID `json:"entity_ids"`
	CopycatWave bool        `json:"copycat_wave"`
}

// EventEntity is a calendar event observed from an event source.
type EventEntity struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category"`
	StartAt  time.Time `json:"start_at"`
	EndAt    *time.Time `json:"end_at,omitempty"`
	Source   string    `json:"source"`
	Keywords []string  `json:"keywords"`
}

// EventCorrelation relates an entity to an upcoming event. One entity may
// correlate to many events; ties are all retained.
type EventCorrelation struct {
	EntityID  uuid.UUID `json:"entity_id"`
	EventID   uuid.UUID `json:"event_id"`
	Relevance float64   `json:"relevance"`
	Keywords  []string  `json:"keywords"`
	RunAt     time.Time `json:"run_at"`
}

// Score is the predictive engine's output for one entity at one scoring run.
// Append-only history; the current score is the most recent row per entity.
type Score struct {
	EntityID  uuid.UUID          `json:"entity_id"`
	RunAt     time.Time          `json:"run_at"`
	Value     float64            `json:"value"` // always in [0,100]
	Breakdown map[string]float64 `json:"breakdown"`
	Strategy  string             `json:"strategy"` // "weighted" or "classifier"
	Version   string             `json:"version"`  // ruleset or model version
}

// ModelVersion records one trained classifier version and its held-out
// validation accuracy. At most one version is active at a time.
type ModelVersion struct {
	Version   int       `json:"version"`
	Accuracy  float64   `json:"accuracy"`
	TrainedAt time.Time `json:"trained_at"`
	Active    bool      `json:"active"`
	Samples   int       `json:"samples"`
}

// Alert condition directions.
const (
	AlertAbove = "above"
	AlertBelow = "below"
)

// AlertSubscription is an alert-condition definition registered through the
// API. Either EntityID or Category is set, never both.
type AlertSubscription struct {
	ID        uuid.UUID  `json:"id"`
	EntityID  *uuid.UUID `json:"entity_id,omitempty"`
	Category  string     `json:"category,omitempty"`
	Threshold float64    `json:"threshold"`
	Direction string     `json:"direction"` // above or below
	CreatedAt time.Time  `json:"created_at"`
}

// AlertEvent is the structured notification emitted when a subscription's
// condition is met after a scoring run. Transport delivery is an external
// collaborator's concern; the pipeline only decides when to emit.
type AlertEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	EntityID       uuid.UUID `json:"entity_id"`
	Title          string    `json:"title"`
	Category       string    `json:"category"`
	Score          float64   `json:"score"`
	Threshold      float64   `json:"threshold"`
	Direction      string    `json:"direction"`
	TriggeredAt    time.Time `json:"triggered_at"`
}
