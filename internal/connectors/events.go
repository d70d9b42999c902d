// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/models"
)

const eventsSource = "calendar"

// calendarEntry is one event in the JSON calendar feed.
type calendarEntry struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Keywords []string `json:"keywords"`
}

// EventConnector scrapes a JSON calendar feed of holidays, sales windows,
// sports seasons, and industry moments. It is not a Connector: events are
// their own entity kind and bypass listing ingestion.
type EventConnector struct {
	cfg     *config.SourceConfig
	fetcher Fetcher
}

// NewEventConnector creates the calendar connector.
func NewEventConnector(cfg *config.SourceConfig, fetcher Fetcher) *EventConnector {
	return &EventConnector{cfg: cfg, fetcher: fetcher}
}

func (c *EventConnector) Name() string { return eventsSource }

// FetchEvents scrapes the calendar feed once. Entries without a name or a
// parseable start time are skipped.
func (c *EventConnector) FetchEvents(ctx context.Context) ([]models.EventEntity, error) {
	body, err := c.fetcher.Get(ctx, eventsSource, c.cfg.URL)
	if err != nil {
		return nil, err
	}

	var entries []calendarEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode calendar feed: %w", err)
	}

	events := make([]models.EventEntity, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "" {
			continue
		}
		startAt, err := time.Parse(time.RFC3339, entry.Start)
		if err != nil {
			continue
		}
		ev := models.EventEntity{
			ID:       uuid.New(),
			Name:     entry.Name,
			Category: strings.ToLower(entry.Category),
			StartAt:  startAt.UTC(),
			Source:   eventsSource,
			Keywords: normalizeKeywords(entry.Keywords),
		}
		if endAt, err := time.Parse(time.RFC3339, entry.End); err == nil {
			t := endAt.UTC()
			ev.EndAt = &t
		}
		events = append(events, ev)
	}
	return events, nil
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
