// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package embed computes content fingerprints for clone detection: a hashed
// bag-of-words vector for titles and descriptions, and a byte-distribution
// histogram for icon images. Vectors are deterministic for identical input,
// which is what makes the content-hash cache sound.
package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// TextDim is the hashed text vector dimensionality. Wide enough that common
// store vocabulary rarely collides, small enough to keep the store rows cheap.
const TextDim = 256

// IconDim buckets the icon byte histogram.
const IconDim = 64

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// NormalizeTitle lowercases, strips punctuation, and collapses whitespace.
// Shared with the ingest resolver so fingerprints and resolution keys agree
// on what "the same title" means.
func NormalizeTitle(s string) string {
	tokens := tokenRe.FindAllString(strings.ToLower(s), -1)
	return strings.Join(tokens, " ")
}

// ContentHash returns the hex digest of the raw parts, used as the embedding
// cache key and the listing's title hash. Callers normalize text first when
// they want normalization-insensitive keys.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TextVector embeds title and description with signed feature hashing.
// Each token increments or decrements one of TextDim buckets; the result is
// L2-normalized so cosine similarity reduces to a dot product.
func TextVector(title, description string) []float32 {
	vec := make([]float32, TextDim)
	for _, token := range tokenRe.FindAllString(strings.ToLower(title+" "+description), -1) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		idx := sum % TextDim
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return l2Normalize(vec)
}

// IconVector embeds raw icon bytes as a normalized byte-value histogram.
// Crude but resilient to recompression: near-identical artwork keeps a
// near-identical byte distribution.
func IconVector(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	vec := make([]float32, IconDim)
	for _, b := range data {
		vec[int(b)*IconDim/256]++
	}
	return l2Normalize(vec)
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or they disagree on dimensionality.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
