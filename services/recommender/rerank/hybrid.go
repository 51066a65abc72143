// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rerank

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/fitbeat/pkg/validation"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/recommender/semantic"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultEmbeddingTopK is the shortlist size handed to the oracle.
const DefaultEmbeddingTopK = 10

// Stage names which level produced a Refinement's order.
type Stage string

const (
	StageOracle    Stage = "oracle"
	StageEmbedding Stage = "embedding"
	StageOriginal  Stage = "original"
)

// Refinement is the outcome of HybridRefiner.Refine.
type Refinement struct {
	Tracks []catalog.Track
	Label  string
	Stage  Stage
}

// Ranker is the embedding stage. semantic.EmbeddingRanker implements it.
type Ranker interface {
	Rank(ctx context.Context, query string, candidates []catalog.Track, topK int) ([]semantic.Ranked, error)
	Contexts(ctx context.Context, candidates []catalog.Track) ([]*semantic.SemanticContext, error)
}

// Reranker is the oracle stage. OracleReranker implements it.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) (Ranking, error)
}

// RefinerConfig configures HybridRefiner.
type RefinerConfig struct {
	// EmbeddingTopK is used when Refine is called with a non-positive topK.
	// Default: DefaultEmbeddingTopK.
	EmbeddingTopK int
}

// HybridRefiner shortlists candidates by embedding distance and lets the
// oracle order the shortlist, degrading oracle → embedding → original.
type HybridRefiner struct {
	ranker   Ranker
	reranker Reranker
	config   RefinerConfig
	logger   *slog.Logger
	recorder Recorder
}

// NewHybridRefiner creates a refiner.
func NewHybridRefiner(ranker Ranker, reranker Reranker, config RefinerConfig, logger *slog.Logger) *HybridRefiner {
	if config.EmbeddingTopK <= 0 {
		config.EmbeddingTopK = DefaultEmbeddingTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRefiner{
		ranker:   ranker,
		reranker: reranker,
		config:   config,
		logger:   logger.With("component", "hybrid_refiner"),
		recorder: nopRecorder{},
	}
}

// WithRecorder attaches a statistics recorder and returns h.
func (h *HybridRefiner) WithRecorder(r Recorder) *HybridRefiner {
	if r != nil {
		h.recorder = r
	}
	return h
}

// Refine reorders candidates for query.
//
// # Description
//
//  1. The embedding stage shortlists up to embeddingTopK candidates. An
//     empty shortlist passes the full candidate set on unchanged.
//  2. The oracle orders what the first stage produced.
//  3. If the oracle fails, the shortlist order is returned; if there was
//     no shortlist, the original order.
//
// # Outputs
//
//   - Refinement: Stage records which level produced the order. Label is
//     the oracle's label or the default label.
//   - error: Only ctx.Err() when the caller cancels.
func (h *HybridRefiner) Refine(ctx context.Context, query string, candidates []catalog.Track, embeddingTopK int) (Refinement, error) {
	ctx, span := tracer.Start(ctx, "HybridRefiner.Refine")
	defer span.End()

	if embeddingTopK <= 0 {
		embeddingTopK = h.config.EmbeddingTopK
	}
	span.SetAttributes(attribute.Int("refine.candidates", len(candidates)), attribute.Int("refine.top_k", embeddingTopK))

	result := Refinement{Tracks: candidates, Label: validation.DefaultLabel, Stage: StageOriginal}
	if len(candidates) == 0 {
		return result, nil
	}

	ranked, err := h.ranker.Rank(ctx, query, candidates, embeddingTopK)
	if err != nil {
		return Refinement{}, err
	}

	var shortlist []Candidate
	if len(ranked) > 0 {
		shortlist = make([]Candidate, len(ranked))
		tracks := make([]catalog.Track, len(ranked))
		for i, r := range ranked {
			shortlist[i] = Candidate{Track: r.Track, Context: r.Context}
			tracks[i] = r.Track
		}
		result = Refinement{Tracks: tracks, Label: validation.DefaultLabel, Stage: StageEmbedding}
	} else {
		h.logger.Info("Embedding stage found nothing, passing all candidates to the oracle",
			"candidates", len(candidates))
		shortlist, err = h.withContexts(ctx, candidates)
		if err != nil {
			return Refinement{}, err
		}
	}

	ranking, err := h.reranker.Rerank(ctx, query, shortlist)
	if err != nil {
		return Refinement{}, err
	}
	if ranking.OK && len(ranking.Tracks) > 0 {
		result = Refinement{Tracks: ranking.Tracks, Label: ranking.Label, Stage: StageOracle}
		if result.Label == "" {
			result.Label = validation.DefaultLabel
		}
	}

	span.SetAttributes(attribute.String("refine.stage", string(result.Stage)), attribute.Int("refine.tracks", len(result.Tracks)))
	h.recorder.ObserveRefineStage(string(result.Stage))
	h.logger.Info("Refinement complete", "stage", result.Stage, "tracks", len(result.Tracks), "label", result.Label)
	return result, nil
}

// withContexts attaches whatever contexts are available to candidates.
func (h *HybridRefiner) withContexts(ctx context.Context, candidates []catalog.Track) ([]Candidate, error) {
	contexts, err := h.ranker.Contexts(ctx, candidates)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(candidates))
	for i, t := range candidates {
		out[i] = Candidate{Track: t}
		if i < len(contexts) {
			out[i].Context = contexts[i]
		}
	}
	return out, nil
}
