// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package connectors

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// AppReview is one customer review parsed from a source feed, not yet bound
// to an entity.
type AppReview struct {
	SourceID string
	Rating   int
	Text     string
}

// appStoreReviewFeed is the customer-reviews RSS JSON wrapper.
type appStoreReviewFeed struct {
	Feed struct {
		Entry []appStoreReviewEntry `json:"entry"`
	} `json:"feed"`
}

type appStoreReviewEntry struct {
	ID      rssLabel `json:"id"`
	Rating  rssLabel `json:"im:rating"`
	Content rssLabel `json:"content"`
}

type rssLabel struct {
	Label string `json:"label"`
}

// FetchReviews scrapes the most recent page of customer reviews for one app
// in one region. The review feed lives on a different host than the charts,
// so it carries its own base URL; an empty one disables scraping.
func (c *AppStoreConnector) FetchReviews(ctx context.Context, appID, region string) ([]AppReview, error) {
	if c.cfg.ReviewURL == "" {
		return nil, nil
	}
	feedURL := fmt.Sprintf("%s/%s/rss/customerreviews/page=1/id=%s/sortby=mostrecent/json",
		c.cfg.ReviewURL, region, appID)
	body, err := c.fetcher.Get(ctx, appStoreSource, feedURL)
	if err != nil {
		return nil, err
	}
	return parseAppStoreReviews(body)
}

// parseAppStoreReviews decodes the feed, skipping entries without a rating.
// The feed's first entry is the app's own metadata and carries none.
func parseAppStoreReviews(body []byte) ([]AppReview, error) {
	var feed appStoreReviewFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode review feed: %w", err)
	}

	reviews := make([]AppReview, 0, len(feed.Feed.Entry))
	for _, entry := range feed.Feed.Entry {
		rating, err := strconv.Atoi(entry.Rating.Label)
		if err != nil || rating < 1 || rating > 5 {
			continue
		}
		reviews = append(reviews, AppReview{
			SourceID: entry.ID.Label,
			Rating:   rating,
			Text:     entry.Content.Label,
		})
	}
	return reviews, nil
}
