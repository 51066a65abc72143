// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides language-model and embedding backends used as
// oracles by the recommender: constraint translation, planning, reranking
// and conversation summaries.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers with no content.
var ErrEmptyResponse = errors.New("llm returned an empty response")

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// JSONMode asks the backend to constrain output to a JSON object where
	// supported. Callers must still parse defensively.
	JSONMode bool `json:"json_mode"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Embedder turns text into a vector. Queries and stored documents must be
// embedded by the same Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Temperature returns a pointer for GenerationParams.Temperature.
func Temperature(t float32) *float32 {
	return &t
}

// MaxTokens returns a pointer for GenerationParams.MaxTokens.
func MaxTokens(n int) *int {
	return &n
}
