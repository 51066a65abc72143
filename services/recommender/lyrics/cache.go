// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lyrics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/storage/kv"
)

// Source produces context text for a track.
type Source interface {
	Describe(ctx context.Context, t catalog.Track) (string, error)
}

type cacheEntry struct {
	Text     string    `json:"text"`
	Missing  bool      `json:"missing"`
	StoredAt time.Time `json:"stored_at"`
}

// CachedSource memoizes another Source in a kv bucket, including negative
// results, so repeated requests do not hit the network.
type CachedSource struct {
	next       Source
	bucket     *kv.Bucket
	ttl        time.Duration
	missingTTL time.Duration
	logger     *slog.Logger
}

// NewCachedSource wraps next. ttl applies to hits, missingTTL to
// not-found results.
func NewCachedSource(next Source, bucket *kv.Bucket, ttl, missingTTL time.Duration, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{next: next, bucket: bucket, ttl: ttl, missingTTL: missingTTL, logger: logger}
}

// Describe implements Source.
func (c *CachedSource) Describe(ctx context.Context, t catalog.Track) (string, error) {
	key := t.Key().String()

	var entry cacheEntry
	err := c.bucket.GetJSON(ctx, key, &entry)
	switch {
	case err == nil:
		if entry.Missing {
			return "", ErrNotFound
		}
		return entry.Text, nil
	case !errors.Is(err, kv.ErrNotFound):
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("Lyrics cache read failed", "track", key, "error", err)
	}

	text, err := c.next.Describe(ctx, t)
	switch {
	case err == nil:
		c.store(ctx, key, cacheEntry{Text: text, StoredAt: time.Now()}, c.ttl)
	case errors.Is(err, ErrNotFound):
		c.store(ctx, key, cacheEntry{Missing: true, StoredAt: time.Now()}, c.missingTTL)
	}
	return text, err
}

func (c *CachedSource) store(ctx context.Context, key string, entry cacheEntry, ttl time.Duration) {
	if err := c.bucket.PutJSON(ctx, key, entry, ttl); err != nil {
		c.logger.Warn("Lyrics cache write failed", "track", key, "error", err)
	}
}
