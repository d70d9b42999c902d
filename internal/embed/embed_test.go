// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package embed

import (
	"math"
	"testing"
)

func TestNormalizeTitle(t *testing.T) {
	cases := map[string]string{
		"Gem Crush: Saga!":     "gem crush saga",
		"  TOWER   Blast 2  ":  "tower blast 2",
		"!!! ###":              "",
		"Héllo Wörld":          "h llo w rld",
	}
	for in, want := range cases {
		if got := NormalizeTitle(in); got != want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTextVectorDeterministic(t *testing.T) {
	a := TextVector("Gem Crush", "match three gems")
	b := TextVector("Gem Crush", "match three gems")
	if Cosine(a, b) < 0.999999 {
		t.Error("identical input must embed identically")
	}
}

func TestTextVectorSimilarityOrdering(t *testing.T) {
	base := TextVector("Gem Crush Saga", "match three colorful gems in this puzzle")
	clone := TextVector("Gem Crush Mania", "match three colorful gems puzzle fun")
	unrelated := TextVector("Space Shooter", "pilot a starfighter through asteroid fields")

	simClone := Cosine(base, clone)
	simUnrelated := Cosine(base, unrelated)
	if simClone <= simUnrelated {
		t.Errorf("clone sim %v must exceed unrelated sim %v", simClone, simUnrelated)
	}
}

func TestTextVectorNormalized(t *testing.T) {
	vec := TextVector("Tower Blast", "defend the tower")
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("vector norm^2 = %v, want 1", sum)
	}
}

func TestIconVector(t *testing.T) {
	if IconVector(nil) != nil {
		t.Error("empty icon must embed to nil")
	}

	icon := make([]byte, 1024)
	for i := range icon {
		icon[i] = byte(i % 251)
	}
	a := IconVector(icon)
	if len(a) != IconDim {
		t.Fatalf("dim = %d, want %d", len(a), IconDim)
	}
	if Cosine(a, IconVector(icon)) < 0.999999 {
		t.Error("identical bytes must embed identically")
	}

	flat := make([]byte, 1024) // all zero bytes, very different distribution
	if sim := Cosine(a, IconVector(flat)); sim > 0.5 {
		t.Errorf("dissimilar byte distributions should diverge, sim=%v", sim)
	}
}

func TestCosineEdgeCases(t *testing.T) {
	if Cosine(nil, nil) != 0 {
		t.Error("nil vectors must score 0")
	}
	if Cosine([]float32{1, 0}, []float32{1, 0, 0}) != 0 {
		t.Error("dimension mismatch must score 0")
	}
	if Cosine([]float32{0, 0}, []float32{1, 0}) != 0 {
		t.Error("zero vector must score 0")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cache, err := OpenCache("")
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	first := cache.TextVector("Gem Crush", "match gems")
	second := cache.TextVector("Gem Crush", "match gems")
	if Cosine(first, second) < 0.999999 {
		t.Error("cache hit must return the stored vector")
	}

	icon := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	iconVec := cache.IconVector(icon)
	if len(iconVec) != IconDim {
		t.Fatalf("icon vector dim = %d", len(iconVec))
	}
	if cache.IconVector(nil) != nil {
		t.Error("empty icon bypasses the cache")
	}
}
