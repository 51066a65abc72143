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
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/AleutianAI/fitbeat/pkg/validation"
	"github.com/AleutianAI/fitbeat/services/llm"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/recommender/semantic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Implementations
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockLLM returns a canned response and records prompts.
type MockLLM struct {
	Response string
	Err      error
	Prompts  []string
	Params   []llm.GenerationParams
}

func (m *MockLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	m.Params = append(m.Params, params)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Response, m.Err
}

// MockRecorder collects observations.
type MockRecorder struct {
	Failures []string
	Stages   []string
}

func (m *MockRecorder) ObserveOracleFailure(reason string) { m.Failures = append(m.Failures, reason) }
func (m *MockRecorder) ObserveRefineStage(stage string)    { m.Stages = append(m.Stages, stage) }

// MockRanker returns canned embedding results.
type MockRanker struct {
	Ranked       []semantic.Ranked
	Err          error
	RankCalls    int
	ContextCalls int
}

func (m *MockRanker) Rank(ctx context.Context, query string, candidates []catalog.Track, topK int) ([]semantic.Ranked, error) {
	m.RankCalls++
	return m.Ranked, m.Err
}

func (m *MockRanker) Contexts(ctx context.Context, candidates []catalog.Track) ([]*semantic.SemanticContext, error) {
	m.ContextCalls++
	return make([]*semantic.SemanticContext, len(candidates)), nil
}

// MockReranker returns a canned ranking and records its input.
type MockReranker struct {
	Ranking Ranking
	Err     error
	Got     []Candidate
	Calls   int
}

func (m *MockReranker) Rerank(ctx context.Context, query string, candidates []Candidate) (Ranking, error) {
	m.Calls++
	m.Got = candidates
	return m.Ranking, m.Err
}

func track(artist, title string) catalog.Track {
	return catalog.Track{Artists: artist, Title: title}
}

func candidates(tracks ...catalog.Track) []Candidate {
	out := make([]Candidate, len(tracks))
	for i, t := range tracks {
		out[i] = Candidate{Track: t}
	}
	return out
}

func titles(tracks []catalog.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Title
	}
	return out
}

var (
	trackA = track("Survivor", "Eye of the Tiger")
	trackB = track("Queen", "Don't Stop Me Now")
	trackC = track("Europe", "The Final Countdown")
)

// =============================================================================
// OracleReranker Tests
// =============================================================================

func TestOracleReranker_FullPermutation(t *testing.T) {
	client := &MockLLM{Response: `{"ranked_playlist":[
		{"artist":"Europe","track_name":"The Final Countdown"},
		{"artist":"survivor ","track_name":"EYE OF THE TIGER"},
		{"artist":"Queen","track_name":"Don't Stop Me Now"}],
		"summary":"Morning Run"}`}
	o := NewOracleReranker(client, OracleConfig{}, quietLogger())

	got, err := o.Rerank(context.Background(), "running", candidates(trackA, trackB, trackC))
	require.NoError(t, err)

	assert.True(t, got.OK)
	assert.Equal(t, []string{"The Final Countdown", "Eye of the Tiger", "Don't Stop Me Now"}, titles(got.Tracks))
	assert.Equal(t, "morning_run", got.Label)
	require.Len(t, client.Params, 1)
	assert.True(t, client.Params[0].JSONMode)
}

// TestOracleReranker_OmittedCandidateDropped covers an oracle answer that
// lists only two of three candidates.
func TestOracleReranker_OmittedCandidateDropped(t *testing.T) {
	client := &MockLLM{Response: `{"ranked_playlist":[
		{"artist":"Queen","track_name":"Don't Stop Me Now"},
		{"artist":"Survivor","track_name":"Eye of the Tiger"}],"summary":"x"}`}
	o := NewOracleReranker(client, OracleConfig{}, quietLogger())

	got, err := o.Rerank(context.Background(), "q", candidates(trackA, trackB, trackC))
	require.NoError(t, err)

	assert.True(t, got.OK)
	assert.Equal(t, []string{"Don't Stop Me Now", "Eye of the Tiger"}, titles(got.Tracks))
	assert.Equal(t, 1, got.Omitted)
}

func TestOracleReranker_ReinsertUnranked(t *testing.T) {
	client := &MockLLM{Response: `{"ranked_playlist":[{"artist":"Europe","track_name":"The Final Countdown"}]}`}
	o := NewOracleReranker(client, OracleConfig{ReinsertUnranked: true}, quietLogger())

	got, err := o.Rerank(context.Background(), "q", candidates(trackA, trackB, trackC))
	require.NoError(t, err)

	assert.Equal(t, []string{"The Final Countdown", "Eye of the Tiger", "Don't Stop Me Now"}, titles(got.Tracks))
	assert.Equal(t, 2, got.Omitted)
	assert.Empty(t, got.Label, "no summary leaves the label unset")
}

// TestOracleReranker_NeverFabricates verifies entries outside the
// candidate set and repeats are dropped.
func TestOracleReranker_NeverFabricates(t *testing.T) {
	client := &MockLLM{Response: `{"ranked_playlist":[
		{"artist":"Made Up","track_name":"Not A Candidate"},
		{"artist":"Queen","track_name":"Don't Stop Me Now"},
		{"artist":"Queen","track_name":"Don't Stop Me Now"}],"summary":"s"}`}
	o := NewOracleReranker(client, OracleConfig{}, quietLogger())

	input := candidates(trackA, trackB)
	got, err := o.Rerank(context.Background(), "q", input)
	require.NoError(t, err)

	allowed := map[catalog.IdentityKey]bool{trackA.Key(): true, trackB.Key(): true}
	for _, tr := range got.Tracks {
		assert.True(t, allowed[tr.Key()], "unexpected track %s", tr)
	}
	assert.Equal(t, []string{"Don't Stop Me Now"}, titles(got.Tracks))
	assert.Equal(t, 1, got.Unknown)
}

func TestOracleReranker_Failures(t *testing.T) {
	tests := []struct {
		name   string
		client *MockLLM
		reason string
	}{
		{"call error", &MockLLM{Err: errors.New("timeout")}, FailureCall},
		{"prose", &MockLLM{Response: "Here is my ranking: Queen first."}, FailureParse},
		{"missing field", &MockLLM{Response: `{"tracks":[]}`}, FailureNoRanking},
		{"no matches", &MockLLM{Response: `{"ranked_playlist":[{"artist":"x","track_name":"y"}]}`}, FailureNoMatches},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &MockRecorder{}
			o := NewOracleReranker(tt.client, OracleConfig{}, quietLogger()).WithRecorder(rec)

			got, err := o.Rerank(context.Background(), "q", candidates(trackA, trackB))
			require.NoError(t, err, "oracle failures are soft")

			assert.False(t, got.OK)
			assert.Empty(t, got.Tracks)
			assert.Empty(t, got.Label)
			assert.Equal(t, []string{tt.reason}, rec.Failures)
		})
	}
}

func TestOracleReranker_Temperature(t *testing.T) {
	response := `{"ranked_playlist":[{"artist":"Survivor","track_name":"Eye of the Tiger"}]}`

	t.Run("default", func(t *testing.T) {
		client := &MockLLM{Response: response}
		_, err := NewOracleReranker(client, OracleConfig{}, quietLogger()).Rerank(context.Background(), "q", candidates(trackA))
		require.NoError(t, err)
		require.Len(t, client.Params, 1)
		require.NotNil(t, client.Params[0].Temperature)
		assert.InDelta(t, 0.2, *client.Params[0].Temperature, 1e-6)
	})

	t.Run("explicit zero", func(t *testing.T) {
		client := &MockLLM{Response: response}
		cfg := OracleConfig{Temperature: llm.Temperature(0)}
		_, err := NewOracleReranker(client, cfg, quietLogger()).Rerank(context.Background(), "q", candidates(trackA))
		require.NoError(t, err)
		require.Len(t, client.Params, 1)
		require.NotNil(t, client.Params[0].Temperature)
		assert.Zero(t, *client.Params[0].Temperature)
	})
}

func TestOracleReranker_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := NewOracleReranker(&MockLLM{}, OracleConfig{}, quietLogger())

	_, err := o.Rerank(ctx, "q", candidates(trackA))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOracleReranker_NoCandidates(t *testing.T) {
	client := &MockLLM{}
	o := NewOracleReranker(client, OracleConfig{}, quietLogger())

	got, err := o.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.False(t, got.OK)
	assert.Empty(t, client.Prompts, "no oracle call without candidates")
}

func TestOracleReranker_BuildPrompt(t *testing.T) {
	o := NewOracleReranker(&MockLLM{}, OracleConfig{ContextChars: 50}, quietLogger())
	long := strings.Repeat("lyrics line here\n", 40)

	prompt := o.BuildPrompt("sad rain", []Candidate{
		{Track: trackA, Context: &semantic.SemanticContext{Text: long}},
		{Track: trackB},
	})

	assert.Contains(t, prompt, "'sad rain'")
	assert.Contains(t, prompt, "1. Survivor - Eye of the Tiger:\n")
	assert.Contains(t, prompt, "2. Queen - Don't Stop Me Now: No additional context.")
	assert.Contains(t, prompt, `"ranked_playlist"`)
	assert.NotContains(t, prompt, long)
}

func TestOracleReranker_Truncate(t *testing.T) {
	o := NewOracleReranker(&MockLLM{}, OracleConfig{ContextChars: 40}, quietLogger())

	short := "short text"
	assert.Equal(t, short, o.truncate(short))

	got := o.truncate(strings.Repeat("word ", 100))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 40)
	assert.NotEmpty(t, got)
}

// =============================================================================
// HybridRefiner Tests
// =============================================================================

func rankedOf(tracks ...catalog.Track) []semantic.Ranked {
	out := make([]semantic.Ranked, len(tracks))
	for i, t := range tracks {
		out[i] = semantic.Ranked{Track: t, Distance: float32(i) / 10}
	}
	return out
}

func TestHybridRefiner_OracleStage(t *testing.T) {
	ranker := &MockRanker{Ranked: rankedOf(trackC, trackA)}
	reranker := &MockReranker{Ranking: Ranking{Tracks: []catalog.Track{trackA, trackC}, Label: "gym", OK: true}}
	rec := &MockRecorder{}
	h := NewHybridRefiner(ranker, reranker, RefinerConfig{}, quietLogger()).WithRecorder(rec)

	got, err := h.Refine(context.Background(), "q", []catalog.Track{trackA, trackB, trackC}, 2)
	require.NoError(t, err)

	assert.Equal(t, StageOracle, got.Stage)
	assert.Equal(t, "gym", got.Label)
	assert.Equal(t, []string{"Eye of the Tiger", "The Final Countdown"}, titles(got.Tracks))
	require.Len(t, reranker.Got, 2, "oracle sees only the shortlist")
	assert.Equal(t, []string{"oracle"}, rec.Stages)
}

func TestHybridRefiner_OracleWithoutLabel(t *testing.T) {
	ranker := &MockRanker{Ranked: rankedOf(trackC, trackA)}
	reranker := &MockReranker{Ranking: Ranking{Tracks: []catalog.Track{trackA}, OK: true}}
	h := NewHybridRefiner(ranker, reranker, RefinerConfig{}, quietLogger())

	got, err := h.Refine(context.Background(), "q", []catalog.Track{trackA, trackB, trackC}, 2)
	require.NoError(t, err)

	assert.Equal(t, StageOracle, got.Stage)
	assert.Equal(t, validation.DefaultLabel, got.Label)
}

// TestHybridRefiner_OracleFailsKeepsEmbeddingOrder covers the first
// degradation level.
func TestHybridRefiner_OracleFailsKeepsEmbeddingOrder(t *testing.T) {
	ranker := &MockRanker{Ranked: rankedOf(trackC, trackA)}
	reranker := &MockReranker{Ranking: Ranking{Label: validation.DefaultLabel}}
	h := NewHybridRefiner(ranker, reranker, RefinerConfig{}, quietLogger())

	got, err := h.Refine(context.Background(), "q", []catalog.Track{trackA, trackB, trackC}, 10)
	require.NoError(t, err)

	assert.Equal(t, StageEmbedding, got.Stage)
	assert.Equal(t, []string{"The Final Countdown", "Eye of the Tiger"}, titles(got.Tracks))
	assert.Equal(t, validation.DefaultLabel, got.Label)
}

// TestHybridRefiner_BothFailKeepsOriginal covers the second degradation
// level: the oracle still receives every candidate.
func TestHybridRefiner_BothFailKeepsOriginal(t *testing.T) {
	ranker := &MockRanker{}
	reranker := &MockReranker{Ranking: Ranking{}}
	h := NewHybridRefiner(ranker, reranker, RefinerConfig{}, quietLogger())

	input := []catalog.Track{trackA, trackB, trackC}
	got, err := h.Refine(context.Background(), "q", input, 10)
	require.NoError(t, err)

	assert.Equal(t, StageOriginal, got.Stage)
	assert.ElementsMatch(t, titles(input), titles(got.Tracks))
	assert.Len(t, reranker.Got, 3)
	assert.Equal(t, 1, ranker.ContextCalls)
}

func TestHybridRefiner_EmptyEmbeddingThenOracle(t *testing.T) {
	ranker := &MockRanker{}
	reranker := &MockReranker{Ranking: Ranking{Tracks: []catalog.Track{trackB}, Label: "l", OK: true}}
	h := NewHybridRefiner(ranker, reranker, RefinerConfig{}, quietLogger())

	got, err := h.Refine(context.Background(), "q", []catalog.Track{trackA, trackB}, 0)
	require.NoError(t, err)
	assert.Equal(t, StageOracle, got.Stage)
	assert.Equal(t, []string{"Don't Stop Me Now"}, titles(got.Tracks))
}

func TestHybridRefiner_PropagatesCancellation(t *testing.T) {
	ranker := &MockRanker{Err: context.Canceled}
	reranker := &MockReranker{}
	h := NewHybridRefiner(ranker, reranker, RefinerConfig{}, quietLogger())

	_, err := h.Refine(context.Background(), "q", []catalog.Track{trackA}, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, reranker.Calls)
}

func TestHybridRefiner_NoCandidates(t *testing.T) {
	ranker := &MockRanker{}
	h := NewHybridRefiner(ranker, &MockReranker{}, RefinerConfig{}, quietLogger())

	got, err := h.Refine(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, StageOriginal, got.Stage)
	assert.Empty(t, got.Tracks)
	assert.Zero(t, ranker.RankCalls)
}
