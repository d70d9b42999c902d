// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package embed

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/chartpulse/chartpulse/internal/metrics"
)

// Key prefixes for BadgerDB storage
const (
	textVecKeyPrefix = "textvec:"
	iconVecKeyPrefix = "iconvec:"
)

// Cache persists computed embeddings keyed by content hash, so re-scrapes of
// unchanged listings skip recomputation across restarts.
type Cache struct {
	db *badger.DB
}

// OpenCache opens the badger-backed cache at path. An empty path opens an
// in-memory cache, which tests use.
func OpenCache(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// TextVector returns the cached text embedding for (title, description),
// computing and storing it on a miss.
func (c *Cache) TextVector(title, description string) []float32 {
	key := textVecKeyPrefix + ContentHash(NormalizeTitle(title), NormalizeTitle(description))
	if vec, ok := c.get(key); ok {
		metrics.EmbedCacheHits.Inc()
		return vec
	}
	metrics.EmbedCacheMisses.Inc()
	vec := TextVector(title, description)
	c.put(key, vec)
	return vec
}

// IconVector returns the cached icon embedding for the given bytes,
// computing and storing it on a miss. Empty input yields nil without
// touching the cache.
func (c *Cache) IconVector(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	key := iconVecKeyPrefix + ContentHash(string(data))
	if vec, ok := c.get(key); ok {
		metrics.EmbedCacheHits.Inc()
		return vec
	}
	metrics.EmbedCacheMisses.Inc()
	vec := IconVector(data)
	c.put(key, vec)
	return vec
}

func (c *Cache) get(key string) ([]float32, bool) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &vec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return vec, true
}

func (c *Cache) put(key string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	// Best effort: a failed write only costs a recomputation later.
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}
