// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package clone

import (
	"math/rand"

	"github.com/google/uuid"
)

// lshIndex buckets vectors by random-hyperplane signatures. Two vectors
// landing in the same bucket in any band become a candidate pair; a high
// cosine similarity makes matching signatures likely, so near-duplicates
// surface without all-pairs comparison.
type lshIndex struct {
	planes  [][][]float32 // [band][plane][dim]
	buckets []map[uint64][]uuid.UUID
}

// newLSHIndex builds an index with the given band/plane shape over dim-sized
// vectors. The seed is fixed per run so a run's candidates are reproducible.
func newLSHIndex(bands, planesPerBand, dim int, seed int64) *lshIndex {
	rng := rand.New(rand.NewSource(seed))
	idx := &lshIndex{
		planes:  make([][][]float32, bands),
		buckets: make([]map[uint64][]uuid.UUID, bands),
	}
	for b := 0; b < bands; b++ {
		idx.planes[b] = make([][]float32, planesPerBand)
		idx.buckets[b] = make(map[uint64][]uuid.UUID)
		for p := 0; p < planesPerBand; p++ {
			plane := make([]float32, dim)
			for d := range plane {
				plane[d] = float32(rng.NormFloat64())
			}
			idx.planes[b][p] = plane
		}
	}
	return idx
}

// add inserts a vector under an entity id.
func (idx *lshIndex) add(id uuid.UUID, vec []float32) {
	for b := range idx.planes {
		sig := idx.signature(b, vec)
		idx.buckets[b][sig] = append(idx.buckets[b][sig], id)
	}
}

// candidates returns ids sharing at least one bucket with vec, excluding
// self.
func (idx *lshIndex) candidates(id uuid.UUID, vec []float32) []uuid.UUID {
	seen := map[uuid.UUID]bool{id: true}
	var out []uuid.UUID
	for b := range idx.planes {
		sig := idx.signature(b, vec)
		for _, cand := range idx.buckets[b][sig] {
			if !seen[cand] {
				seen[cand] = true
				out = append(out, cand)
			}
		}
	}
	return out
}

func (idx *lshIndex) signature(band int, vec []float32) uint64 {
	var sig uint64
	for p, plane := range idx.planes[band] {
		var dot float64
		n := len(vec)
		if len(plane) < n {
			n = len(plane)
		}
		for d := 0; d < n; d++ {
			dot += float64(plane[d]) * float64(vec[d])
		}
		if dot >= 0 {
			sig |= 1 << uint(p)
		}
	}
	return sig
}
