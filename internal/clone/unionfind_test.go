// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package clone

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestUnionFindComponents(t *testing.T) {
	ids := make([]uuid.UUID, 6)
	for i := range ids {
		ids[i] = uuid.New()
	}

	uf := newUnionFind()
	uf.union(ids[0], ids[1])
	uf.union(ids[1], ids[2])
	uf.union(ids[3], ids[4])
	// ids[5] stays a singleton and must not appear in any component.
	uf.find(ids[5])

	comps := uf.components()
	assert.Len(t, comps, 2)

	sizes := map[int]int{}
	for _, members := range comps {
		sizes[len(members)]++
	}
	assert.Equal(t, 1, sizes[3])
	assert.Equal(t, 1, sizes[2])
}

func TestUnionFindIdempotent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	uf := newUnionFind()
	uf.union(a, b)
	uf.union(b, a)
	uf.union(a, b)
	assert.Equal(t, uf.find(a), uf.find(b))
	assert.Len(t, uf.components(), 1)
}

func TestLSHNearDuplicatesCollide(t *testing.T) {
	idx := newLSHIndex(6, 12, 2, 42)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	idx.add(a, unitVec(1.0))
	idx.add(b, unitVec(0.9999))
	idx.add(c, unitVec(-0.9))

	cands := idx.candidates(uuid.Nil, unitVec(1.0))
	got := map[uuid.UUID]bool{}
	for _, id := range cands {
		got[id] = true
	}
	// A near-identical vector lands in a shared band with overwhelming
	// probability, a near-opposite one with vanishing probability. The
	// index is seeded so this is deterministic.
	assert.True(t, got[a])
	assert.True(t, got[b])
	assert.False(t, got[c])
}
