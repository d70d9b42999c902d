// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package clone finds copycat relationships between entities by comparing
// text and icon embeddings within a category. Each run recomputes the whole
// link relation; the run's output supersedes the previous run's links.
package clone

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/database"
	"github.com/chartpulse/chartpulse/internal/embed"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
	"github.com/chartpulse/chartpulse/internal/models"
)

// candidate is one entity's comparable state within a category.
type candidate struct {
	id        uuid.UUID
	firstSeen time.Time
	textVec   []float32
	iconVec   []float32
}

// Detector computes clone links and clusters.
type Detector struct {
	db  *database.DB
	cfg *config.CloneConfig
}

// NewDetector creates the clone detector.
func NewDetector(db *database.DB, cfg *config.CloneConfig) *Detector {
	return &Detector{db: db, cfg: cfg}
}

// RunOnce recomputes all clone links across every category and replaces the
// stored relation in one transaction.
func (d *Detector) RunOnce(ctx context.Context) error {
	categories, err := d.db.Categories(ctx)
	if err != nil {
		return err
	}

	runAt := time.Now().UTC()
	var links []models.CloneLink
	for _, category := range categories {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		categoryLinks, err := d.detectCategory(ctx, category, runAt)
		if err != nil {
			return err
		}
		links = append(links, categoryLinks...)
	}

	if err := d.db.ReplaceCloneLinks(ctx, links); err != nil {
		return err
	}
	metrics.CloneLinksFound.Set(float64(len(links)))
	logging.Info().Int("links", len(links)).Int("categories", len(categories)).Msg("[CLONE] Detection run complete")
	return nil
}

// detectCategory compares entities within one category. All-pairs below the
// brute-force ceiling, LSH candidate retrieval above it.
func (d *Detector) detectCategory(ctx context.Context, category string, runAt time.Time) ([]models.CloneLink, error) {
	candidates, err := d.loadCandidates(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	if len(candidates) <= d.cfg.BruteForceCeiling {
		return d.bruteForce(candidates, runAt), nil
	}
	return d.lshPass(candidates, runAt), nil
}

func (d *Detector) loadCandidates(ctx context.Context, category string) ([]candidate, error) {
	entities, err := d.db.ListEntitiesByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	listings, err := d.db.LatestListingsForEntities(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(entities))
	for _, e := range entities {
		l, ok := listings[e.ID]
		if !ok || len(l.TextVec) == 0 {
			continue
		}
		out = append(out, candidate{
			id:        e.ID,
			firstSeen: e.FirstSeen,
			textVec:   l.TextVec,
			iconVec:   l.IconVec,
		})
	}
	// Deterministic pair ordering within a run.
	sort.Slice(out, func(i, j int) bool { return out[i].id.String() < out[j].id.String() })
	return out, nil
}

func (d *Detector) bruteForce(candidates []candidate, runAt time.Time) []models.CloneLink {
	var links []models.CloneLink
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			links = append(links, d.compare(&candidates[i], &candidates[j], runAt)...)
		}
	}
	return links
}

func (d *Detector) lshPass(candidates []candidate, runAt time.Time) []models.CloneLink {
	// One index per channel. A pair similar only on icons never shares a
	// text bucket, so it must surface through the icon index.
	textIdx := newLSHIndex(d.cfg.LSHBands, d.cfg.LSHPlanes, embed.TextDim, runAt.UnixNano())
	iconIdx := newLSHIndex(d.cfg.LSHBands, d.cfg.LSHPlanes, embed.IconDim, runAt.UnixNano()+1)
	byID := make(map[uuid.UUID]*candidate, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		textIdx.add(c.id, c.textVec)
		if len(c.iconVec) > 0 {
			iconIdx.add(c.id, c.iconVec)
		}
		byID[c.id] = c
	}

	var links []models.CloneLink
	for i := range candidates {
		c := &candidates[i]
		merged := textIdx.candidates(c.id, c.textVec)
		if len(c.iconVec) > 0 {
			merged = unionIDs(merged, iconIdx.candidates(c.id, c.iconVec))
		}
		for _, otherID := range merged {
			// Each unordered pair compared once.
			if c.id.String() >= otherID.String() {
				continue
			}
			links = append(links, d.compare(c, byID[otherID], runAt)...)
		}
	}
	return links
}

// unionIDs merges two candidate sets, keeping order deterministic.
func unionIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	out := a
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// compare emits per-channel links for one pair when similarity meets the
// channel thresholds, plus a combined link when both channels agree.
func (d *Detector) compare(a, b *candidate, runAt time.Time) []models.CloneLink {
	var links []models.CloneLink

	textSim := embed.Cosine(a.textVec, b.textVec)
	imageSim := embed.Cosine(a.iconVec, b.iconVec)

	if textSim >= d.cfg.TextThreshold {
		links = append(links, models.CloneLink{
			EntityA: a.id, EntityB: b.id,
			Channel: models.ChannelText, Similarity: textSim, RunAt: runAt,
		})
	}
	if imageSim >= d.cfg.ImageThreshold {
		links = append(links, models.CloneLink{
			EntityA: a.id, EntityB: b.id,
			Channel: models.ChannelImage, Similarity: imageSim, RunAt: runAt,
		})
	}
	if textSim >= d.cfg.TextThreshold && imageSim >= d.cfg.ImageThreshold {
		links = append(links, models.CloneLink{
			EntityA: a.id, EntityB: b.id,
			Channel: models.ChannelCombined, Similarity: (textSim + imageSim) / 2, RunAt: runAt,
		})
	}
	return links
}

// Clusters derives union-find components from the stored link relation and
// flags copycat waves: clusters of WaveMinSize or more entities whose first
// sightings all fall within the wave window.
func (d *Detector) Clusters(ctx context.Context) ([]models.CloneCluster, error) {
	links, err := d.db.AllCloneLinks(ctx)
	if err != nil {
		return nil, err
	}

	uf := newUnionFind()
	for _, link := range links {
		uf.union(link.EntityA, link.EntityB)
	}

	groups := uf.components()
	roots := make([]uuid.UUID, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].String() < roots[j].String() })

	clusters := make([]models.CloneCluster, 0, len(roots))
	for i, root := range roots {
		members := groups[root]
		sort.Slice(members, func(a, b int) bool { return members[a].String() < members[b].String() })

		wave, err := d.isCopycatWave(ctx, members)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, models.CloneCluster{
			ID:          i + 1,
			EntityIDs:   members,
			CopycatWave: wave,
		})
	}
	return clusters, nil
}

func (d *Detector) isCopycatWave(ctx context.Context, members []uuid.UUID) (bool, error) {
	if len(members) < d.cfg.WaveMinSize {
		return false, nil
	}
	var earliest, latest time.Time
	for i, id := range members {
		e, err := d.db.GetEntity(ctx, id)
		if err != nil {
			return false, err
		}
		if i == 0 || e.FirstSeen.Before(earliest) {
			earliest = e.FirstSeen
		}
		if i == 0 || e.FirstSeen.After(latest) {
			latest = e.FirstSeen
		}
	}
	return latest.Sub(earliest) <= d.cfg.WaveWindow, nil
}
