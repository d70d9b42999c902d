// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/connectors"
)

// stubFetcher returns one canned payload per URL substring.
type stubFetcher struct {
	payloads map[string]string
}

func (f *stubFetcher) Get(_ context.Context, _, url string) ([]byte, error) {
	for key, payload := range f.payloads {
		if strings.Contains(url, key) {
			return []byte(payload), nil
		}
	}
	return nil, errors.New("no stub payload for " + url)
}

const reviewFeed = `{
  "feed": {
    "entry": [
      {"id": {"label": "1001"}},
      {"id": {"label": "rev-1"}, "im:rating": {"label": "5"}, "content": {"label": "Love it"}},
      {"id": {"label": "rev-2"}, "im:rating": {"label": "1"}, "content": {"label": "Crashes on launch"}}
    ]
  }
}`

func TestSyncReviewsStoresSnapshotsOnce(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()
	coord := NewCoordinator(r, db)

	rec := rawRecord("Tower Blast", "1001")
	entity, _, err := r.Ingest(ctx, &rec, "appstore")
	require.NoError(t, err)

	conn := connectors.NewAppStoreConnector(&config.SourceConfig{
		URL: "https://charts.example", ReviewURL: "https://reviews.example",
	}, &stubFetcher{payloads: map[string]string{"/customerreviews/": reviewFeed}})

	require.NoError(t, coord.SyncReviews(ctx, conn))

	since := time.Now().UTC().Add(-time.Hour)
	n, err := db.ReviewCountSince(ctx, entity.ID, since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-scraping an unchanged feed must not duplicate snapshots.
	require.NoError(t, coord.SyncReviews(ctx, conn))
	n, err = db.ReviewCountSince(ctx, entity.ID, since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSyncReviewsSkipsEntitiesWithoutSourceRef(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()
	coord := NewCoordinator(r, db)

	// Ingested without a source-native id, so there is nothing to look up.
	rec := rawRecord("Unknown Origin", "")
	entity, _, err := r.Ingest(ctx, &rec, "appstore")
	require.NoError(t, err)

	conn := connectors.NewAppStoreConnector(&config.SourceConfig{
		URL: "https://charts.example", ReviewURL: "https://reviews.example",
	}, &stubFetcher{payloads: map[string]string{}})

	require.NoError(t, coord.SyncReviews(ctx, conn))

	n, err := db.ReviewCountSince(ctx, entity.ID, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
