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
	"log/slog"
	"sort"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// RankerConfig tunes EmbeddingRanker.
type RankerConfig struct {
	// Concurrency bounds parallel context lookups. Default: 4.
	Concurrency int
}

// EmbeddingRanker orders candidates by embedding distance between their
// context and the request.
//
// # Thread Safety
//
// Safe for concurrent use if its collaborators are.
type EmbeddingRanker struct {
	provider ContextProvider
	embedder Embedder
	index    VectorIndex
	config   RankerConfig
	logger   *slog.Logger
}

// NewEmbeddingRanker creates a ranker. The embedder must be the one used to
// populate the index.
func NewEmbeddingRanker(provider ContextProvider, embedder Embedder, index VectorIndex, config RankerConfig, logger *slog.Logger) *EmbeddingRanker {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingRanker{
		provider: provider,
		embedder: embedder,
		index:    index,
		config:   config,
		logger:   logger.With("component", "embedding_ranker"),
	}
}

// Contexts looks up the context of every candidate. The result is aligned
// with candidates; entries are nil where no context exists.
func (r *EmbeddingRanker) Contexts(ctx context.Context, candidates []catalog.Track) ([]*SemanticContext, error) {
	contexts := make([]*SemanticContext, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	for i, t := range candidates {
		g.Go(func() error {
			sc, err := r.provider.Context(gctx, t)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("Context lookup failed", "track", t.String(), "error", err)
				return nil
			}
			contexts[i] = sc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return contexts, nil
}

// Rank returns up to topK candidates ordered by ascending distance.
//
// # Description
//
//  1. Looks up each candidate's context; candidates without one are
//     ineligible.
//  2. Embeds the query.
//  3. Searches the index restricted to eligible keys with
//     limit = min(topK, eligible).
//  4. Keeps only hits that map to a supplied eligible candidate, once each.
//
// # Outputs
//
//   - []Ranked: Possibly empty. Empty when topK <= 0, no candidate is
//     eligible, or the embedder or index fails (logged).
//   - error: Only ctx.Err() when the caller cancels.
func (r *EmbeddingRanker) Rank(ctx context.Context, query string, candidates []catalog.Track, topK int) ([]Ranked, error) {
	ctx, span := tracer.Start(ctx, "EmbeddingRanker.Rank")
	defer span.End()
	span.SetAttributes(attribute.Int("ranker.candidates", len(candidates)), attribute.Int("ranker.top_k", topK))

	if topK <= 0 || len(candidates) == 0 {
		return nil, nil
	}

	contexts, err := r.Contexts(ctx, candidates)
	if err != nil {
		return nil, err
	}

	type eligibleTrack struct {
		track   catalog.Track
		context *SemanticContext
	}
	eligible := make(map[catalog.IdentityKey]eligibleTrack)
	var keys []catalog.IdentityKey
	for i, t := range candidates {
		if contexts[i] == nil {
			continue
		}
		k := t.Key()
		if _, dup := eligible[k]; dup {
			continue
		}
		eligible[k] = eligibleTrack{track: t, context: contexts[i]}
		keys = append(keys, k)
	}
	span.SetAttributes(attribute.Int("ranker.eligible", len(keys)))
	if len(keys) == 0 {
		r.logger.Info("No candidate has semantic context", "candidates", len(candidates))
		return nil, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("Query embedding failed", "error", err)
		return nil, nil
	}

	limit := min(topK, len(keys))
	neighbors, err := r.index.Query(ctx, vector, keys, limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("Vector query failed", "error", err)
		return nil, nil
	}

	seen := make(map[catalog.IdentityKey]bool, len(neighbors))
	ranked := make([]Ranked, 0, len(neighbors))
	for _, n := range neighbors {
		e, ok := eligible[n.Key]
		if !ok {
			r.logger.Debug("Dropping neighbour outside the candidate set", "key", n.Key.String())
			continue
		}
		if seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		ranked = append(ranked, Ranked{Track: e.track, Context: e.context, Distance: n.Distance})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Distance < ranked[j].Distance })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	span.SetAttributes(attribute.Int("ranker.ranked", len(ranked)))
	return ranked, nil
}
