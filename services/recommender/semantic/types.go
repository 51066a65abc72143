// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package semantic ranks candidate tracks by how close their lyrics and
// descriptions sit to a free-text request in embedding space.
//
// # Components
//
//   - VectorIndex: keyed store of track contexts and their vectors
//     (WeaviateIndex in production, MemoryIndex for lightweight mode).
//   - CorpusProvider: get-or-create access to a track's context, fetching
//     and embedding text on a miss.
//   - EmbeddingRanker: nearest-neighbour ranking restricted to a candidate
//     set.
//   - BulkIndexer: pre-populates the index from a directory of context
//     files.
//
// A track without a context has no semantic signal. That is a normal
// condition, never an error.
package semantic

import (
	"context"
	"strings"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
)

// SemanticContext is the text associated with one track.
type SemanticContext struct {
	Key    catalog.IdentityKey `json:"key"`
	Artist string              `json:"artist"`
	Title  string              `json:"track_name"`
	Genre  string              `json:"genre,omitempty"`
	Text   string              `json:"content"`
}

// Document is a context together with its embedding, as stored.
type Document struct {
	Context SemanticContext
	Vector  []float32
}

// Neighbor is one vector-search hit.
type Neighbor struct {
	Key      catalog.IdentityKey
	Distance float32
	Context  *SemanticContext
}

// Ranked is a candidate with its semantic distance to the query. Lower is
// closer.
type Ranked struct {
	Track    catalog.Track
	Context  *SemanticContext
	Distance float32
}

// Embedder turns text into a vector. llm.OpenAIClient, llm.OllamaClient and
// llm.HTTPEmbedder implement it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores contexts keyed by identity key.
//
// Upsert is last-write-wins per key. Get returns (nil, nil) when the key
// is absent. Query returns at most limit neighbours among keys, nearest
// first; implementations may return keys outside the filter, so callers
// re-check membership.
type VectorIndex interface {
	Upsert(ctx context.Context, docs ...Document) error
	Get(ctx context.Context, key catalog.IdentityKey) (*SemanticContext, error)
	Query(ctx context.Context, vector []float32, keys []catalog.IdentityKey, limit int) ([]Neighbor, error)
}

// ContextProvider returns the context for a track, or (nil, nil) when none
// is available.
type ContextProvider interface {
	Context(ctx context.Context, track catalog.Track) (*SemanticContext, error)
}

// TextSource produces context text for a track that is not indexed yet.
// An empty string means nothing was found.
type TextSource interface {
	Describe(ctx context.Context, track catalog.Track) (string, error)
}

// ContextFromTrack builds the context skeleton for a track.
func ContextFromTrack(t catalog.Track, text string) SemanticContext {
	return SemanticContext{
		Key:    t.Key(),
		Artist: t.PrimaryArtist(),
		Title:  t.Title,
		Genre:  t.Genre,
		Text:   strings.TrimSpace(text),
	}
}
