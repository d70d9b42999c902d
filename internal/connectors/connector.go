// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package connectors normalizes external market sources into RawRecords.
// Every connector goes through the shared fetch layer; none talks HTTP
// directly, so rate limits and circuit breaking apply uniformly.
package connectors

import (
	"context"

	"github.com/chartpulse/chartpulse/internal/models"
)

// Connector is a listing source. Implementations return normalized records
// for one scrape cycle; partial results with an error are allowed, the
// coordinator ingests what it got.
type Connector interface {
	// Name identifies the source in entities, metrics, and logs.
	Name() string
	// Fetch scrapes the source once and returns normalized records.
	Fetch(ctx context.Context) ([]models.RawRecord, error)
}

// Fetcher is the slice of the fetch layer connectors need. Narrowed for
// test doubles.
type Fetcher interface {
	Get(ctx context.Context, source, url string) ([]byte, error)
}
