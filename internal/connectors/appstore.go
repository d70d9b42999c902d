// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/models"
)

const appStoreSource = "appstore"

// appStoreFeed is the marketing RSS JSON wrapper.
type appStoreFeed struct {
	Feed struct {
		Updated time.Time       `json:"updated"`
		Results []appStoreEntry `json:"results"`
	} `json:"feed"`
}

// appStoreEntry is one chart position. Rating fields are optional feed
// extensions; absent values decode to zero and the analyzers treat them as
// missing downstream.
type appStoreEntry struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ArtistName  string  `json:"artistName"`
	ReleaseDate string  `json:"releaseDate"`
	Genres      []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Rating      float64 `json:"averageUserRating"`
	RatingCount int     `json:"userRatingCount"`
	Price       float64 `json:"price"`
	HasIAP      bool    `json:"hasInAppPurchases"`
	IAPCount    int     `json:"inAppPurchaseCount"`
	Description string  `json:"description"`
	IconURL     string  `json:"artworkUrl100"`
}

// AppStoreConnector scrapes ranked chart feeds, one request per configured
// region. Chart position is the entry's index in the feed.
type AppStoreConnector struct {
	cfg     *config.SourceConfig
	fetcher Fetcher
}

// NewAppStoreConnector creates the chart connector.
func NewAppStoreConnector(cfg *config.SourceConfig, fetcher Fetcher) *AppStoreConnector {
	return &AppStoreConnector{cfg: cfg, fetcher: fetcher}
}

func (c *AppStoreConnector) Name() string { return appStoreSource }

// Fetch scrapes every configured region. A region that fails is logged and
// skipped; records from the regions that succeeded are still returned, with
// the last error so the coordinator can track source health.
func (c *AppStoreConnector) Fetch(ctx context.Context) ([]models.RawRecord, error) {
	var records []models.RawRecord
	var lastErr error

	for _, region := range c.cfg.Regions {
		feedURL := fmt.Sprintf("%s/api/v2/%s/apps/top-free/%d/apps.json", c.cfg.URL, region, c.cfg.Limit)
		body, err := c.fetcher.Get(ctx, appStoreSource, feedURL)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return records, err
			}
			logging.Warn().Str("region", region).Err(err).Msg("[APPSTORE] Region scrape failed")
			lastErr = err
			continue
		}

		regionRecords, err := parseAppStoreFeed(body, region)
		if err != nil {
			logging.Warn().Str("region", region).Err(err).Msg("[APPSTORE] Feed parse failed")
			lastErr = err
			continue
		}
		records = append(records, regionRecords...)
	}

	return records, lastErr
}

func parseAppStoreFeed(body []byte, region string) ([]models.RawRecord, error) {
	var feed appStoreFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode chart feed: %w", err)
	}

	observedAt := time.Now().UTC()
	records := make([]models.RawRecord, 0, len(feed.Feed.Results))
	for i, entry := range feed.Feed.Results {
		if entry.Name == "" {
			continue
		}
		rank := i + 1
		rec := models.RawRecord{
			SourceID:     entry.ID,
			Title:        entry.Name,
			Developer:    entry.ArtistName,
			Category:     primaryGenre(entry),
			Region:       region,
			Rank:         &rank,
			Rating:       entry.Rating,
			RatingCount:  entry.RatingCount,
			Price:        entry.Price,
			HasIAP:       entry.HasIAP,
			IAPCount:     entry.IAPCount,
			Subscription: false,
			Description:  entry.Description,
			IconRef:      entry.IconURL,
			ObservedAt:   observedAt,
		}
		if t, err := time.Parse("2006-01-02", entry.ReleaseDate); err == nil {
			rec.ReleasedAt = &t
		}
		records = append(records, rec)
	}
	return records, nil
}

func primaryGenre(entry appStoreEntry) string {
	if len(entry.Genres) > 0 && entry.Genres[0].Name != "" {
		return entry.Genres[0].Name
	}
	return "unknown"
}
