// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package connectors

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/models"
)

const steamSource = "steam"

// Review tooltips read "Very Positive<br>85% of the 12,345 user reviews...".
var (
	reviewPercentRe = regexp.MustCompile(`(\d+)% of the ([\d,]+) user reviews`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// SteamConnector scrapes top-seller search result pages. The catalog carries
// no chart rank comparable to store charts, so records are emitted rank-less
// and feed the historical store as catalog observations.
type SteamConnector struct {
	cfg     *config.SourceConfig
	fetcher Fetcher
}

// NewSteamConnector creates the catalog connector.
func NewSteamConnector(cfg *config.SourceConfig, fetcher Fetcher) *SteamConnector {
	return &SteamConnector{cfg: cfg, fetcher: fetcher}
}

func (c *SteamConnector) Name() string { return steamSource }

// Fetch scrapes result pages until the configured limit is reached or a page
// comes back empty.
func (c *SteamConnector) Fetch(ctx context.Context) ([]models.RawRecord, error) {
	var records []models.RawRecord

	for page := 1; len(records) < c.cfg.Limit; page++ {
		pageURL := fmt.Sprintf("%s/search/?filter=topsellers&page=%d", c.cfg.URL, page)
		body, err := c.fetcher.Get(ctx, steamSource, pageURL)
		if err != nil {
			return records, err
		}

		pageRecords, err := parseSteamSearchPage(body)
		if err != nil {
			return records, err
		}
		if len(pageRecords) == 0 {
			break
		}
		records = append(records, pageRecords...)
	}

	if len(records) > c.cfg.Limit {
		records = records[:c.cfg.Limit]
	}
	logging.Debug().Int("records", len(records)).Msg("[STEAM] Catalog scrape complete")
	return records, nil
}

func parseSteamSearchPage(body []byte) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	observedAt := time.Now().UTC()
	var records []models.RawRecord

	doc.Find("a.search_result_row").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("span.title").Text())
		if title == "" {
			return
		}

		rec := models.RawRecord{
			SourceID:   s.AttrOr("data-ds-appid", ""),
			Title:      title,
			Category:   "game",
			Region:     "global",
			ObservedAt: observedAt,
		}

		rec.Price = parseSteamPrice(s)
		rec.Rating, rec.RatingCount = parseSteamReviews(s)
		if released := strings.TrimSpace(s.Find(".search_released").Text()); released != "" {
			if t, err := time.Parse("2 Jan, 2006", released); err == nil {
				rec.ReleasedAt = &t
			}
		}
		if img, ok := s.Find(".search_capsule img").Attr("src"); ok {
			rec.IconRef = img
		}

		records = append(records, rec)
	})

	return records, nil
}

// parseSteamPrice reads the discounted price when present, the plain price
// otherwise. Free titles and unparseable labels yield 0.
func parseSteamPrice(s *goquery.Selection) float64 {
	text := s.Find(".discount_final_price").First().Text()
	if text == "" {
		text = s.Find(".search_price").First().Text()
	}
	text = whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	if text == "" || strings.EqualFold(text, "free") || strings.EqualFold(text, "free to play") {
		return 0
	}

	// Strip currency symbols and keep the first numeric token.
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' || r == ' ' {
			return r
		}
		return -1
	}, strings.ReplaceAll(text, ",", "."))
	for _, tok := range strings.Fields(cleaned) {
		if v, err := strconv.ParseFloat(tok, 64); err == nil {
			return v
		}
	}
	return 0
}

// parseSteamReviews converts the review-summary tooltip into a 0-5 rating
// and a review count. Missing summaries yield (0, 0).
func parseSteamReviews(s *goquery.Selection) (float64, int) {
	tooltip, ok := s.Find(".search_review_summary span").Attr("data-tooltip-html")
	if !ok {
		tooltip, ok = s.Find(".search_review_summary").Attr("data-tooltip-html")
	}
	if !ok {
		return 0, 0
	}
	m := reviewPercentRe.FindStringSubmatch(tooltip)
	if m == nil {
		return 0, 0
	}
	pct, _ := strconv.Atoi(m[1])
	count, _ := strconv.Atoi(strings.ReplaceAll(m[2], ",", ""))
	return float64(pct) / 20.0, count
}
