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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/fitbeat/pkg/validation"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/recommender/filter"
	"github.com/AleutianAI/fitbeat/services/recommender/playlist"
	"github.com/AleutianAI/fitbeat/services/recommender/rerank"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("fitbeat.recommender.plan")

const (
	DefaultTargetCount = 20

	outcomeOK           = "ok"
	outcomeSkipped      = "skipped"
	outcomePrecondition = "precondition"
	outcomeFailed       = "failed"
	outcomeUnknown      = "unknown_step"
)

// =============================================================================
// Collaborators
// =============================================================================

// Translation is the constraint translator's answer.
type Translation struct {
	Constraints catalog.ConstraintSet
	Label       string
}

// Translator turns the request into constraints.
type Translator interface {
	Translate(ctx context.Context, request string) (Translation, error)
}

// CatalogProvider returns the current catalog. catalog.Store implements it.
type CatalogProvider interface {
	Catalog(ctx context.Context) ([]catalog.Track, error)
}

// Filterer narrows a catalog. filter.RelaxingFilter implements it.
type Filterer interface {
	Filter(ctx context.Context, tracks []catalog.Track, constraints catalog.ConstraintSet, target int) (filter.Result, error)
}

// Refiner reorders candidates. rerank.HybridRefiner implements it.
type Refiner interface {
	Refine(ctx context.Context, query string, candidates []catalog.Track, embeddingTopK int) (rerank.Refinement, error)
}

// TableBuilder builds and saves the recommendation table.
type TableBuilder interface {
	Build(ctx context.Context, label string, tracks []catalog.Track) (*playlist.Playlist, error)
}

// Retriever downloads audio for the candidates.
type Retriever interface {
	Retrieve(ctx context.Context, label string, tracks []catalog.Track) (*playlist.Retrieval, error)
}

// Summarizer renders the final candidate set.
type Summarizer interface {
	Summarize(ctx context.Context, label string, tracks []catalog.Track) (string, error)
}

// Recorder receives per-step outcomes.
type Recorder interface {
	ObservePlanStep(step, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObservePlanStep(string, string) {}

// Collaborators are the step handlers' dependencies. A step whose
// collaborator is nil fails with KindStepFailed when it runs.
type Collaborators struct {
	Translator Translator
	Catalog    CatalogProvider
	Filter     Filterer
	Refiner    Refiner
	Tables     TableBuilder
	Retriever  Retriever
	Summarizer Summarizer
}

// Config configures the Executor.
type Config struct {
	// TargetCount is the number of tracks requested from the filter.
	// Default: DefaultTargetCount.
	TargetCount int

	// EmbeddingTopK is passed to the refiner. Zero uses its default.
	EmbeddingTopK int

	// SkipRetrieval skips Retrieve steps, for deployments that must not
	// download audio.
	SkipRetrieval bool
}

// =============================================================================
// Executor
// =============================================================================

// Executor runs plans step by step.
//
// # Thread Safety
//
// Run holds no shared mutable state; independent runs may proceed in
// parallel if the collaborators allow it.
type Executor struct {
	deps     Collaborators
	config   Config
	logger   *slog.Logger
	recorder Recorder
}

// NewExecutor creates an Executor.
func NewExecutor(deps Collaborators, config Config, logger *slog.Logger) *Executor {
	if config.TargetCount <= 0 {
		config.TargetCount = DefaultTargetCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		deps:     deps,
		config:   config,
		logger:   logger.With("component", "plan_executor"),
		recorder: nopRecorder{},
	}
}

// WithRecorder attaches a statistics recorder and returns e.
func (e *Executor) WithRecorder(r Recorder) *Executor {
	if r != nil {
		e.recorder = r
	}
	return e
}

// WithTargetCount returns a copy of e requesting n tracks from the filter.
// Non-positive n keeps the configured count.
func (e *Executor) WithTargetCount(n int) *Executor {
	c := *e
	if n > 0 {
		c.config.TargetCount = n
	}
	return &c
}

// RunNames resolves names with ParsePlan and runs the result. An unknown
// name aborts before any step runs.
func (e *Executor) RunNames(ctx context.Context, request string, names []string) (*State, error) {
	p, err := ParsePlan(names)
	if err != nil {
		return &State{RunID: uuid.NewString(), Request: request}, err
	}
	return e.Run(ctx, request, p)
}

// Run executes plan for request.
//
// # Description
//
// Every step is resolved first; a value naming no known step aborts
// before anything runs. Steps then run strictly in order. Before each step
// its preconditions are checked against the state; a missing input aborts
// the run without calling any collaborator. Soft outcomes (few or no matches, failed
// refinement) never abort. Retrieve steps are skipped when SkipRetrieval
// is set.
//
// # Outputs
//
//   - *State: Never nil. Holds all progress made, including after an abort.
//   - error: *ExecutionError (KindUnknownStep, KindPrecondition or
//     KindStepFailed), or ctx.Err() when the caller cancels.
func (e *Executor) Run(ctx context.Context, request string, plan Plan) (*State, error) {
	state := &State{RunID: uuid.NewString(), Request: request}
	logger := e.logger.With("run_id", state.RunID)

	ctx, span := tracer.Start(ctx, "Executor.Run")
	defer span.End()
	span.SetAttributes(attribute.String("plan.run_id", state.RunID), attribute.StringSlice("plan.steps", plan.Names()))

	resolved, err := ParsePlan(plan.Names())
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			e.recorder.ObservePlanStep(execErr.Name, outcomeUnknown)
			logger.Warn("Plan rejected", "step", execErr.Name, "index", execErr.Index+1, "reason", execErr.Reason)
		}
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}
	plan = resolved

	logger.Info("Executing plan", "steps", plan.Names())
	start := time.Now()

	for i, step := range plan {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		if step == StepRetrieve && e.config.SkipRetrieval {
			logger.Info("Skipping step, retrieval disabled", "step", step)
			state.Skipped = append(state.Skipped, step)
			e.recorder.ObservePlanStep(string(step), outcomeSkipped)
			continue
		}

		if reason := e.prepare(step, state); reason != "" {
			e.recorder.ObservePlanStep(string(step), outcomePrecondition)
			err := &ExecutionError{Index: i, Step: step, Name: string(step), Kind: KindPrecondition, Reason: reason}
			logger.Warn("Plan aborted", "step", step, "index", i+1, "reason", reason)
			span.SetStatus(codes.Error, err.Error())
			return state, err
		}

		logger.Debug("Running step", "step", step, "index", i+1)
		if err := e.runStep(ctx, step, state); err != nil {
			if ctx.Err() != nil {
				return state, ctx.Err()
			}
			e.recorder.ObservePlanStep(string(step), outcomeFailed)
			execErr := &ExecutionError{Index: i, Step: step, Name: string(step), Kind: KindStepFailed, Reason: "step returned an error", Err: err}
			logger.Error("Plan aborted", "step", step, "index", i+1, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, execErr.Error())
			return state, execErr
		}
		state.Completed = append(state.Completed, step)
		e.recorder.ObservePlanStep(string(step), outcomeOK)
	}

	logger.Info("Plan completed",
		"tracks", len(state.Tracks),
		"label", state.Label,
		"duration", time.Since(start))
	return state, nil
}

// prepare checks step's preconditions and returns a description of the
// first missing one, or "". For Retrieve without a prior candidate set it
// seeds the state from tracks listed in the request.
func (e *Executor) prepare(step Step, state *State) string {
	switch step {
	case StepAnalyze:
		return ""
	case StepFilter:
		if state.Constraints == nil {
			return "no constraints: Analyze must run before Filter"
		}
		return ""
	case StepRefine, StepRecommend, StepSummarize:
		return needCandidates(state)
	case StepRetrieve:
		if !state.TracksProduced {
			listed := playlist.ParseTrackList(state.Request)
			if len(listed) == 0 {
				return "no candidate set and no tracks listed in the request"
			}
			state.Tracks = listed
			state.TracksProduced = true
			state.Label = playlist.UserProvidedLabel
			return ""
		}
		return needCandidates(state)
	default:
		return fmt.Sprintf("no handler for step %q", step)
	}
}

func needCandidates(state *State) string {
	switch {
	case !state.TracksProduced:
		return "no candidate set: Filter must run first"
	case len(state.Tracks) == 0:
		return "candidate set is empty"
	default:
		return ""
	}
}

var errNotConfigured = errors.New("collaborator not configured")

func (e *Executor) runStep(ctx context.Context, step Step, state *State) error {
	ctx, span := tracer.Start(ctx, "Executor.step."+string(step))
	defer span.End()

	switch step {
	case StepAnalyze:
		return e.analyze(ctx, state)
	case StepFilter:
		return e.filter(ctx, state)
	case StepRefine:
		return e.refine(ctx, state)
	case StepRecommend:
		return e.recommend(ctx, state)
	case StepRetrieve:
		return e.retrieve(ctx, state)
	case StepSummarize:
		return e.summarize(ctx, state)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
}

func (e *Executor) analyze(ctx context.Context, state *State) error {
	if e.deps.Translator == nil {
		return errNotConfigured
	}
	t, err := e.deps.Translator.Translate(ctx, state.Request)
	if err != nil {
		return err
	}
	cs, err := t.Constraints.Normalize()
	if err != nil {
		return err
	}
	state.Constraints = &cs
	state.Label = t.Label
	if state.Label == "" {
		state.Label = validation.DefaultLabel
	}
	return nil
}

func (e *Executor) filter(ctx context.Context, state *State) error {
	if e.deps.Catalog == nil || e.deps.Filter == nil {
		return errNotConfigured
	}
	tracks, err := e.deps.Catalog.Catalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	res, err := e.deps.Filter.Filter(ctx, tracks, *state.Constraints, e.config.TargetCount)
	if err != nil {
		return err
	}
	state.Tracks = res.Tracks
	state.TracksProduced = true
	state.FilterAttempts = res.Attempts
	return nil
}

func (e *Executor) refine(ctx context.Context, state *State) error {
	if e.deps.Refiner == nil {
		return errNotConfigured
	}
	ref, err := e.deps.Refiner.Refine(ctx, state.Request, state.Tracks, e.config.EmbeddingTopK)
	if err != nil {
		return err
	}
	state.Tracks = ref.Tracks
	state.Stage = ref.Stage
	if ref.Stage == rerank.StageOracle && ref.Label != "" && ref.Label != validation.DefaultLabel {
		state.Label = ref.Label
	}
	return nil
}

func (e *Executor) recommend(ctx context.Context, state *State) error {
	if e.deps.Tables == nil {
		return errNotConfigured
	}
	pl, err := e.deps.Tables.Build(ctx, state.label(), state.Tracks)
	if err != nil {
		return err
	}
	state.Playlist = pl
	return nil
}

func (e *Executor) retrieve(ctx context.Context, state *State) error {
	if e.deps.Retriever == nil {
		return errNotConfigured
	}
	r, err := e.deps.Retriever.Retrieve(ctx, state.label(), state.Tracks)
	if err != nil {
		return err
	}
	state.Retrieval = r
	return nil
}

func (e *Executor) summarize(ctx context.Context, state *State) error {
	if e.deps.Summarizer == nil {
		return errNotConfigured
	}
	s, err := e.deps.Summarizer.Summarize(ctx, state.label(), state.Tracks)
	if err != nil {
		return err
	}
	state.Summary = s
	return nil
}

func (s *State) label() string {
	if s.Label == "" {
		return validation.DefaultLabel
	}
	return s.Label
}
