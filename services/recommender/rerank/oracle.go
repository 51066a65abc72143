// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rerank orders a candidate set by semantic relevance to the
// request: a listwise language-model reranker and the hybrid refiner that
// chains it after embedding search with graceful fallback.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/fitbeat/pkg/validation"
	"github.com/AleutianAI/fitbeat/services/llm"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/recommender/semantic"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fitbeat.recommender.rerank")

const (
	DefaultContextChars = 500
	noContext           = "No additional context."
)

// Oracle failure reasons reported to the Recorder.
const (
	FailureCall      = "call"
	FailureParse     = "parse"
	FailureNoRanking = "no_ranking"
	FailureNoMatches = "no_matches"
)

// Candidate is a track with its semantic context, if any.
type Candidate struct {
	Track   catalog.Track
	Context *semantic.SemanticContext
}

// Ranking is the reranker's outcome. OK is false when the oracle failed or
// its answer was unusable; Tracks is then empty and callers keep their
// previous order.
type Ranking struct {
	Tracks []catalog.Track

	// Label is the sanitized oracle summary. Empty when the answer had none.
	Label string
	OK    bool

	// Unknown counts oracle entries that matched no candidate.
	Unknown int
	// Omitted counts candidates the oracle left out.
	Omitted int
}

// Recorder receives reranking statistics.
type Recorder interface {
	ObserveOracleFailure(reason string)
	ObserveRefineStage(stage string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOracleFailure(string) {}
func (nopRecorder) ObserveRefineStage(string)   {}

// OracleConfig configures OracleReranker.
type OracleConfig struct {
	// ContextChars bounds each candidate's context in the prompt.
	// Default: DefaultContextChars.
	ContextChars int

	// ReinsertUnranked appends candidates the oracle omitted, in their
	// original order, after the ranked ones. Default: false (omitted
	// candidates are dropped).
	ReinsertUnranked bool

	// Temperature for the oracle call. Nil means 0.2.
	Temperature *float32
}

// OracleReranker asks a language model for a complete ordering of the
// candidates and reconciles the answer against them.
//
// # Thread Safety
//
// Safe for concurrent use if the client is.
type OracleReranker struct {
	client   llm.LLMClient
	config   OracleConfig
	splitter textsplitter.TextSplitter
	logger   *slog.Logger
	recorder Recorder
}

// NewOracleReranker creates a reranker over client.
func NewOracleReranker(client llm.LLMClient, config OracleConfig, logger *slog.Logger) *OracleReranker {
	if config.ContextChars <= 0 {
		config.ContextChars = DefaultContextChars
	}
	if config.Temperature == nil {
		config.Temperature = llm.Temperature(0.2)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OracleReranker{
		client: client,
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ContextChars),
			textsplitter.WithChunkOverlap(0),
		),
		logger:   logger.With("component", "oracle_reranker"),
		recorder: nopRecorder{},
	}
}

// WithRecorder attaches a statistics recorder and returns o.
func (o *OracleReranker) WithRecorder(r Recorder) *OracleReranker {
	if r != nil {
		o.recorder = r
	}
	return o
}

// Rerank orders candidates by the oracle's judgement of fit to query.
//
// # Description
//
// Sends one prompt listing every candidate with its truncated context and
// asks for a complete permutation plus a short summary as JSON. There is
// no retry. The answer is parsed defensively and reconciled by identity
// key: unknown and repeated entries are dropped, and omitted candidates
// are dropped unless ReinsertUnranked is set. The oracle can never add a
// track that was not a candidate.
//
// # Outputs
//
//   - Ranking: OK=false with no tracks when the call, the parse or the
//     reconciliation yields nothing usable.
//   - error: Only ctx.Err() when the caller cancels.
func (o *OracleReranker) Rerank(ctx context.Context, query string, candidates []Candidate) (Ranking, error) {
	ctx, span := tracer.Start(ctx, "OracleReranker.Rerank")
	defer span.End()
	span.SetAttributes(attribute.Int("rerank.candidates", len(candidates)))

	var failed Ranking
	if len(candidates) == 0 {
		return failed, nil
	}

	raw, err := o.client.Generate(ctx, o.BuildPrompt(query, candidates), llm.GenerationParams{
		Temperature: o.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Ranking{}, ctx.Err()
		}
		o.fail(span, FailureCall, err)
		return failed, nil
	}

	resp, err := parseOracleResponse(raw)
	if err != nil {
		o.fail(span, FailureParse, err)
		return failed, nil
	}
	if len(resp.RankedPlaylist) == 0 {
		o.fail(span, FailureNoRanking, fmt.Errorf("response has no ranked_playlist entries"))
		return failed, nil
	}

	ranking := o.reconcile(candidates, resp.RankedPlaylist)
	if len(ranking.Tracks) == 0 {
		o.fail(span, FailureNoMatches, fmt.Errorf("no oracle entry matched a candidate"))
		return failed, nil
	}
	if summary := strings.TrimSpace(resp.Summary); summary != "" {
		ranking.Label = validation.SanitizeLabel(summary)
	}
	ranking.OK = true

	span.SetAttributes(
		attribute.Int("rerank.ranked", len(ranking.Tracks)),
		attribute.Int("rerank.unknown", ranking.Unknown),
		attribute.Int("rerank.omitted", ranking.Omitted),
	)
	o.logger.Info("Oracle rerank complete",
		"candidates", len(candidates),
		"ranked", len(ranking.Tracks),
		"unknown", ranking.Unknown,
		"omitted", ranking.Omitted,
		"label", ranking.Label)
	return ranking, nil
}

func (o *OracleReranker) fail(span trace.Span, reason string, err error) {
	o.logger.Warn("Oracle rerank failed, keeping previous order", "reason", reason, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	o.recorder.ObserveOracleFailure(reason)
}

// reconcile maps oracle entries back onto candidates in oracle order.
func (o *OracleReranker) reconcile(candidates []Candidate, entries []oracleEntry) Ranking {
	byKey := make(map[catalog.IdentityKey]catalog.Track, len(candidates))
	for _, c := range candidates {
		k := c.Track.Key()
		if _, dup := byKey[k]; !dup {
			byKey[k] = c.Track
		}
	}

	var r Ranking
	used := make(map[catalog.IdentityKey]bool, len(byKey))
	for _, e := range entries {
		k := catalog.NewIdentityKey(e.Artist, e.TrackName)
		t, ok := byKey[k]
		if !ok {
			r.Unknown++
			o.logger.Warn("Dropping oracle entry that is not a candidate", "entry", k.String())
			continue
		}
		if used[k] {
			o.logger.Debug("Dropping repeated oracle entry", "entry", k.String())
			continue
		}
		used[k] = true
		r.Tracks = append(r.Tracks, t)
	}

	for _, c := range candidates {
		k := c.Track.Key()
		if used[k] {
			continue
		}
		used[k] = true
		r.Omitted++
		if o.config.ReinsertUnranked && len(r.Tracks) > 0 {
			r.Tracks = append(r.Tracks, c.Track)
			continue
		}
		o.logger.Info("Oracle omitted candidate", "track", k.String())
	}
	return r
}

// BuildPrompt renders the listwise ranking prompt.
func (o *OracleReranker) BuildPrompt(query string, candidates []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the user's request: '%s',\n", query)
	b.WriteString("and given the candidate tracks with their lyrics/descriptions provided below:\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s - %s:", i+1, c.Track.PrimaryArtist(), c.Track.Title)
		if c.Context == nil || strings.TrimSpace(c.Context.Text) == "" {
			b.WriteString(" " + noContext + "\n")
			continue
		}
		fmt.Fprintf(&b, "\n%s...\n", o.truncate(c.Context.Text))
	}
	b.WriteString(`
Perform the following instructions precisely:

1. Rank ALL tracks listed above from MOST suitable to LEAST suitable
   according to how closely each matches the user's request.
2. Include every track listed exactly once. Do not omit any track.
3. Ensure there are NO DUPLICATES in your ranked list.
4. Return ONLY this JSON object with no additional text:

{
  "ranked_playlist": [
    {"artist": "Artist1", "track_name": "Track1"},
    {"artist": "Artist2", "track_name": "Track2"}
  ],
  "summary": "short_summary_for_folder_name"
}
`)
	return b.String()
}

// truncate keeps the first chunk of text, cut on paragraph, line or word
// boundaries where possible.
func (o *OracleReranker) truncate(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= o.config.ContextChars {
		return text
	}
	chunks, err := o.splitter.SplitText(text)
	if err == nil && len(chunks) > 0 && utf8.RuneCountInString(chunks[0]) <= o.config.ContextChars {
		return strings.TrimSpace(chunks[0])
	}
	runes := []rune(text)
	return string(runes[:o.config.ContextChars])
}
