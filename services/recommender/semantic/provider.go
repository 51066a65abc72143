// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ProviderConfig tunes CorpusProvider.
type ProviderConfig struct {
	// WriteInterval is the minimum spacing between index writes, protecting
	// the embedding backend's rate limit. Zero disables pacing.
	WriteInterval time.Duration

	// WriteBurst is the number of writes allowed back to back. Default: 1.
	WriteBurst int
}

// DefaultProviderConfig paces writes at one every two seconds.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{WriteInterval: 2 * time.Second, WriteBurst: 1}
}

// CorpusProvider implements ContextProvider over a VectorIndex. On an index
// miss it asks the TextSource for text, embeds it and upserts it, so the
// next lookup is a hit.
//
// Concurrent lookups of the same key share one fetch. Failures at any
// step mean "no context" and are logged. Errors are returned only when the
// caller cancels or the deadline leaves no time to wait for a write slot.
type CorpusProvider struct {
	index    VectorIndex
	embedder Embedder
	source   TextSource
	limiter  *rate.Limiter
	group    singleflight.Group
	logger   *slog.Logger
}

// NewCorpusProvider creates a provider. source may be nil, in which case
// only already indexed tracks have context.
func NewCorpusProvider(index VectorIndex, embedder Embedder, source TextSource, cfg ProviderConfig, logger *slog.Logger) *CorpusProvider {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.WriteInterval > 0 {
		burst := cfg.WriteBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(cfg.WriteInterval), burst)
	}
	return &CorpusProvider{
		index:    index,
		embedder: embedder,
		source:   source,
		limiter:  limiter,
		logger:   logger.With("component", "corpus_provider"),
	}
}

// Context implements ContextProvider.
func (p *CorpusProvider) Context(ctx context.Context, track catalog.Track) (*SemanticContext, error) {
	key := track.Key()
	v, err, _ := p.group.Do(key.String(), func() (interface{}, error) {
		return p.getOrCreate(ctx, track)
	})
	if err != nil {
		return nil, err
	}
	sc, _ := v.(*SemanticContext)
	return sc, nil
}

func (p *CorpusProvider) getOrCreate(ctx context.Context, track catalog.Track) (*SemanticContext, error) {
	key := track.Key()

	existing, err := p.index.Get(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Index lookup failed", "track", key.String(), "error", err)
	} else if existing != nil {
		return existing, nil
	}

	if p.source == nil || p.embedder == nil {
		return nil, nil
	}

	text, err := p.source.Describe(ctx, track)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Debug("No context text for track", "track", key.String(), "error", err)
		return nil, nil
	}
	if text == "" {
		return nil, nil
	}
	sc := ContextFromTrack(track, text)

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed rate wait: %w", err)
	}
	vector, err := p.embedder.Embed(ctx, sc.Text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Embedding failed, context not indexed", "track", key.String(), "error", err)
		return &sc, nil
	}
	if err := p.index.Upsert(ctx, Document{Context: sc, Vector: vector}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Index write failed", "track", key.String(), "error", err)
		return &sc, nil
	}
	p.logger.Debug("Indexed new track context", "track", key.String())
	return &sc, nil
}

var _ ContextProvider = (*CorpusProvider)(nil)
