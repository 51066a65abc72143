// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/AleutianAI/fitbeat/pkg/validation"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/recommender/filter"
	"github.com/AleutianAI/fitbeat/services/recommender/playlist"
	"github.com/AleutianAI/fitbeat/services/recommender/rerank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Implementations
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockTranslator struct {
	Result Translation
	Err    error
	Calls  int
}

func (m *MockTranslator) Translate(ctx context.Context, request string) (Translation, error) {
	m.Calls++
	return m.Result, m.Err
}

type MockCatalog struct {
	Tracks []catalog.Track
	Err    error
}

func (m *MockCatalog) Catalog(ctx context.Context) ([]catalog.Track, error) {
	return m.Tracks, m.Err
}

type MockRefiner struct {
	Result rerank.Refinement
	Err    error
	Calls  int
}

func (m *MockRefiner) Refine(ctx context.Context, query string, candidates []catalog.Track, topK int) (rerank.Refinement, error) {
	m.Calls++
	if m.Err != nil {
		return rerank.Refinement{}, m.Err
	}
	if m.Result.Tracks == nil {
		return rerank.Refinement{Tracks: candidates, Label: validation.DefaultLabel, Stage: rerank.StageOriginal}, nil
	}
	return m.Result, nil
}

type MockTables struct {
	Calls     int
	LastLabel string
}

func (m *MockTables) Build(ctx context.Context, label string, tracks []catalog.Track) (*playlist.Playlist, error) {
	m.Calls++
	m.LastLabel = label
	pl := &playlist.Playlist{Label: label}
	for _, t := range tracks {
		pl.Entries = append(pl.Entries, playlist.Entry{Artist: t.PrimaryArtist(), Track: t.Title})
	}
	return pl, nil
}

type MockRetriever struct {
	Calls  int
	Label  string
	Tracks []catalog.Track
}

func (m *MockRetriever) Retrieve(ctx context.Context, label string, tracks []catalog.Track) (*playlist.Retrieval, error) {
	m.Calls++
	m.Label = label
	m.Tracks = tracks
	return &playlist.Retrieval{Dir: label}, nil
}

type MockSummarizer struct {
	Calls int
}

func (m *MockSummarizer) Summarize(ctx context.Context, label string, tracks []catalog.Track) (string, error) {
	m.Calls++
	return label, nil
}

type MockRecorder struct {
	Outcomes []string
}

func (m *MockRecorder) ObservePlanStep(step, outcome string) {
	m.Outcomes = append(m.Outcomes, step+":"+outcome)
}

type fixture struct {
	translator *MockTranslator
	catalog    *MockCatalog
	refiner    *MockRefiner
	tables     *MockTables
	retriever  *MockRetriever
	summarizer *MockSummarizer
	recorder   *MockRecorder
}

func tempoRange(min, max float64) catalog.ConstraintSet {
	return catalog.ConstraintSet{Ranges: map[catalog.Field]catalog.Range{
		catalog.FieldTempo: {Min: min, Max: max},
	}}
}

func newFixture() *fixture {
	return &fixture{
		translator: &MockTranslator{Result: Translation{Constraints: tempoRange(95, 105), Label: "gym"}},
		catalog: &MockCatalog{Tracks: []catalog.Track{
			{Artists: "A", Title: "Slow", Tempo: 100, Popularity: 10},
			{Artists: "B", Title: "Mid", Tempo: 140, Popularity: 50},
			{Artists: "C", Title: "Fast", Tempo: 180, Popularity: 90},
		}},
		refiner:    &MockRefiner{},
		tables:     &MockTables{},
		retriever:  &MockRetriever{},
		summarizer: &MockSummarizer{},
		recorder:   &MockRecorder{},
	}
}

func (f *fixture) executor(cfg Config) *Executor {
	return NewExecutor(Collaborators{
		Translator: f.translator,
		Catalog:    f.catalog,
		Filter:     filter.New(filter.Config{}, quietLogger()),
		Refiner:    f.refiner,
		Tables:     f.tables,
		Retriever:  f.retriever,
		Summarizer: f.summarizer,
	}, cfg, quietLogger()).WithRecorder(f.recorder)
}

// =============================================================================
// Parsing Tests
// =============================================================================

func TestParseStep(t *testing.T) {
	tests := []struct {
		in   string
		want Step
	}{
		{"Analyze", StepAnalyze},
		{" filter ", StepFilter},
		{"create recommendation table", StepRecommend},
		{"Retrieve-and-Convert", StepRetrieve},
		{"SUMMARIZE", StepSummarize},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStep(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseStep("Dance")
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestParsePlan_UnknownStep(t *testing.T) {
	_, err := ParsePlan([]string{"Analyze", "Teleport", "Filter"})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindUnknownStep, execErr.Kind)
	assert.Equal(t, 1, execErr.Index)
	assert.Equal(t, "Teleport", execErr.Name)
	assert.ErrorIs(t, err, ErrUnknownStep)
	assert.NotErrorIs(t, err, ErrPrecondition)
}

func TestPlan_Names(t *testing.T) {
	assert.Equal(t, []string{"Analyze", "Filter", "Refine", "Create_Recommendation_Table", "Summarize"}, DefaultPlan.Names())
}

// =============================================================================
// Executor Tests
// =============================================================================

func TestExecutor_FullPlan(t *testing.T) {
	f := newFixture()
	f.refiner.Result = rerank.Refinement{
		Tracks: []catalog.Track{{Artists: "B", Title: "Mid"}, {Artists: "A", Title: "Slow"}},
		Label:  "power_hour",
		Stage:  rerank.StageOracle,
	}
	e := f.executor(Config{TargetCount: 2})

	state, err := e.Run(context.Background(), "gym songs", DefaultPlan)
	require.NoError(t, err)

	assert.Equal(t, []Step(DefaultPlan), state.Completed)
	assert.Equal(t, "power_hour", state.Label, "an oracle label replaces the analyze label")
	assert.Equal(t, rerank.StageOracle, state.Stage)
	require.NotNil(t, state.Playlist)
	assert.Len(t, state.Playlist.Entries, 2)
	assert.Equal(t, "power_hour", f.tables.LastLabel)
	assert.Equal(t, "power_hour", state.Summary)
	assert.NotEmpty(t, state.RunID)
	assert.Equal(t, []string{
		"Analyze:ok", "Filter:ok", "Refine:ok", "Create_Recommendation_Table:ok", "Summarize:ok",
	}, f.recorder.Outcomes)
}

func TestExecutor_OracleDefaultLabelKeepsAnalyzeLabel(t *testing.T) {
	f := newFixture()
	f.translator.Result.Label = "rainy_evening_chill"
	f.refiner.Result = rerank.Refinement{
		Tracks: []catalog.Track{{Artists: "A", Title: "Slow"}},
		Label:  validation.DefaultLabel,
		Stage:  rerank.StageOracle,
	}
	e := f.executor(Config{})

	state, err := e.Run(context.Background(), "q", DefaultPlan)
	require.NoError(t, err)

	assert.Equal(t, rerank.StageOracle, state.Stage)
	assert.Equal(t, "rainy_evening_chill", state.Label)
	assert.Equal(t, "rainy_evening_chill", f.tables.LastLabel)
}

func TestExecutor_FilterRelaxes(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{TargetCount: 2})

	state, err := e.Run(context.Background(), "q", Plan{StepAnalyze, StepFilter})
	require.NoError(t, err)

	require.NotEmpty(t, state.Tracks)
	assert.Equal(t, "Slow", state.Tracks[len(state.Tracks)-1].Title)
	assert.Greater(t, state.FilterAttempts, 1)
	assert.Equal(t, "gym", state.Label)
}

// TestExecutor_RefineWithoutFilter verifies a rerank-like step before any
// filter aborts without touching the refiner.
func TestExecutor_RefineWithoutFilter(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{})

	state, err := e.Run(context.Background(), "q", Plan{StepAnalyze, StepRefine})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindPrecondition, execErr.Kind)
	assert.Equal(t, StepRefine, execErr.Step)
	assert.Equal(t, 1, execErr.Index)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Zero(t, f.refiner.Calls)
	assert.Equal(t, []Step{StepAnalyze}, state.Completed, "partial progress is kept")
	assert.NotNil(t, state.Constraints)
}

// TestExecutor_EmptyFilterStopsRefine covers a filter that matches nothing:
// the following Refine aborts on its precondition.
func TestExecutor_EmptyFilterStopsRefine(t *testing.T) {
	f := newFixture()
	f.translator.Result.Constraints = catalog.ConstraintSet{Genres: []string{"polka"}}
	e := f.executor(Config{})

	state, err := e.Run(context.Background(), "q", Plan{StepAnalyze, StepFilter, StepRefine, StepSummarize})

	require.ErrorIs(t, err, ErrPrecondition)
	assert.Contains(t, err.Error(), "candidate set is empty")
	assert.Zero(t, f.refiner.Calls)
	assert.Zero(t, f.summarizer.Calls)
	assert.True(t, state.TracksProduced)
	assert.Empty(t, state.Tracks)
}

func TestExecutor_FilterWithoutAnalyze(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{})

	_, err := e.Run(context.Background(), "q", Plan{StepFilter})
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Contains(t, err.Error(), "Analyze must run before Filter")
}

func TestExecutor_TranslatorFailure(t *testing.T) {
	f := newFixture()
	f.translator.Err = errors.New("llm down")
	e := f.executor(Config{})

	_, err := e.Run(context.Background(), "q", DefaultPlan)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindStepFailed, execErr.Kind)
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.Contains(t, err.Error(), "llm down")
}

func TestExecutor_InvalidConstraints(t *testing.T) {
	f := newFixture()
	f.translator.Result.Constraints = tempoRange(150, 100)
	e := f.executor(Config{})

	_, err := e.Run(context.Background(), "q", DefaultPlan)
	require.ErrorIs(t, err, ErrStepFailed)
	assert.ErrorIs(t, err, catalog.ErrInvalidConstraint)
}

func TestExecutor_RetrieveFromRequest(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{})
	request := "Download these:\n- The Weeknd - Blinding Lights\n- Eminem - Lose Yourself\nthanks"

	state, err := e.Run(context.Background(), request, Plan{StepRetrieve, StepSummarize})
	require.NoError(t, err)

	assert.Equal(t, playlist.UserProvidedLabel, f.retriever.Label)
	require.Len(t, f.retriever.Tracks, 2)
	assert.Equal(t, "Blinding Lights", f.retriever.Tracks[0].Title)
	assert.Equal(t, playlist.UserProvidedLabel, state.Label)
}

func TestExecutor_RetrieveWithNothing(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{})

	_, err := e.Run(context.Background(), "just download something", Plan{StepRetrieve})
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Zero(t, f.retriever.Calls)
}

func TestExecutor_SkipRetrieval(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{SkipRetrieval: true})

	state, err := e.Run(context.Background(), "q", Plan{StepAnalyze, StepFilter, StepRetrieve, StepSummarize})
	require.NoError(t, err)

	assert.Zero(t, f.retriever.Calls)
	assert.Equal(t, []Step{StepRetrieve}, state.Skipped)
	assert.Contains(t, f.recorder.Outcomes, "Retrieve_and_Convert:skipped")
}

func TestExecutor_RunNamesUnknownStep(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{})

	state, err := e.RunNames(context.Background(), "q", []string{"Analyze", "Moonwalk"})
	require.ErrorIs(t, err, ErrUnknownStep)
	assert.Zero(t, f.translator.Calls, "no step runs when the plan has an unknown name")
	assert.Equal(t, "q", state.Request)
}

func TestExecutor_RunUnknownStepValue(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{})

	state, err := e.Run(context.Background(), "q", Plan{StepAnalyze, Step("Dance")})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindUnknownStep, execErr.Kind)
	assert.Equal(t, "unknown action", execErr.Reason)
	assert.Equal(t, 1, execErr.Index)
	assert.Equal(t, "Dance", execErr.Name)
	assert.ErrorIs(t, err, ErrUnknownStep)
	assert.NotErrorIs(t, err, ErrPrecondition)
	assert.Zero(t, f.translator.Calls, "no step runs when the plan has an unknown step")
	assert.Empty(t, state.Completed)
	assert.Equal(t, []string{"Dance:unknown_step"}, f.recorder.Outcomes)
}

func TestExecutor_RunResolvesStepSpelling(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{})

	state, err := e.Run(context.Background(), "q", Plan{Step("analyze"), Step("filter")})
	require.NoError(t, err)
	assert.Equal(t, []Step{StepAnalyze, StepFilter}, state.Completed)
}

func TestExecutor_Cancelled(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, "q", DefaultPlan)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.translator.Calls)
}

func TestExecutor_MissingCollaborator(t *testing.T) {
	e := NewExecutor(Collaborators{}, Config{}, quietLogger())

	_, err := e.Run(context.Background(), "q", Plan{StepAnalyze})
	require.ErrorIs(t, err, ErrStepFailed)
	assert.ErrorIs(t, err, errNotConfigured)
}

func TestExecutor_WithTargetCount(t *testing.T) {
	f := newFixture()
	e := f.executor(Config{TargetCount: 5})

	assert.Equal(t, 1, e.WithTargetCount(1).config.TargetCount)
	assert.Equal(t, 5, e.WithTargetCount(0).config.TargetCount)
	assert.Equal(t, 5, e.config.TargetCount, "original is unchanged")
}
