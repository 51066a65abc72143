// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan executes an ordered action plan over an explicit execution
// state, checking every step's preconditions before running it.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/recommender/playlist"
	"github.com/AleutianAI/fitbeat/services/recommender/rerank"
)

// =============================================================================
// Steps
// =============================================================================

// Step is one kind of plan action. The value is the external name used by
// plan producers.
type Step string

const (
	// StepAnalyze translates the request into constraints and a label.
	StepAnalyze Step = "Analyze"

	// StepFilter narrows the catalog with the relaxing filter.
	StepFilter Step = "Filter"

	// StepRefine reorders the candidates semantically.
	StepRefine Step = "Refine"

	// StepRecommend builds the recommendation table with YouTube links.
	StepRecommend Step = "Create_Recommendation_Table"

	// StepRetrieve downloads the candidates' audio.
	StepRetrieve Step = "Retrieve_and_Convert"

	// StepSummarize renders the final playlist.
	StepSummarize Step = "Summarize"
)

// String returns the external name.
func (s Step) String() string {
	return string(s)
}

// Description is the one-line capability text shown to plan producers.
func (s Step) Description() string {
	switch s {
	case StepAnalyze:
		return "Convert emotional descriptions into numeric audio parameters (tempo, valence, energy, etc.)."
	case StepFilter:
		return "Filter tracks based on numeric audio parameters using the track catalog."
	case StepRefine:
		return "Refine the track list semantically using lyrics, song meanings and semantic context."
	case StepRecommend:
		return "Create a structured recommendation table (Artist, Track, YouTube link)."
	case StepRetrieve:
		return "Retrieve audio tracks from YouTube and convert them to MP3."
	case StepSummarize:
		return "Summarize and present the final playlist."
	default:
		return ""
	}
}

// AllSteps returns every known step in canonical order.
func AllSteps() []Step {
	return []Step{StepAnalyze, StepFilter, StepRefine, StepRecommend, StepRetrieve, StepSummarize}
}

// ParseStep resolves an external step name. Matching ignores case,
// surrounding space, and treats spaces and hyphens as underscores.
func ParseStep(name string) (Step, error) {
	norm := normalizeName(name)
	for _, s := range AllSteps() {
		if normalizeName(string(s)) == norm {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStep, name)
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}

// Plan is an ordered list of steps.
type Plan []Step

// DefaultPlan is used when no plan producer is available.
var DefaultPlan = Plan{StepAnalyze, StepFilter, StepRefine, StepRecommend, StepSummarize}

// ParsePlan resolves every name before anything runs.
//
// # Outputs
//
//   - Plan: The resolved steps, in order.
//   - error: *ExecutionError of KindUnknownStep for the first unknown name.
func ParsePlan(names []string) (Plan, error) {
	p := make(Plan, 0, len(names))
	for i, name := range names {
		s, err := ParseStep(name)
		if err != nil {
			return nil, &ExecutionError{
				Index:  i,
				Name:   name,
				Kind:   KindUnknownStep,
				Reason: "unknown action",
			}
		}
		p = append(p, s)
	}
	return p, nil
}

// Names returns the external names of the plan's steps.
func (p Plan) Names() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = string(s)
	}
	return out
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownStep matches errors for plan entries naming no known step.
	ErrUnknownStep = errors.New("unknown step")

	// ErrPrecondition matches errors for steps whose inputs were missing.
	ErrPrecondition = errors.New("precondition failed")

	// ErrStepFailed matches errors for steps that failed while running.
	ErrStepFailed = errors.New("step failed")
)

// Kind classifies an ExecutionError.
type Kind string

const (
	KindUnknownStep  Kind = "unknown_step"
	KindPrecondition Kind = "precondition"
	KindStepFailed   Kind = "step_failed"
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnknownStep:
		return ErrUnknownStep
	case KindPrecondition:
		return ErrPrecondition
	default:
		return ErrStepFailed
	}
}

// ExecutionError reports why a plan run aborted and at which step.
//
// errors.Is matches the sentinel for Kind; errors.Unwrap yields the
// underlying cause, if any.
type ExecutionError struct {
	// Index is the 0-based position in the plan.
	Index int `json:"index"`

	// Step is the resolved step. Empty for KindUnknownStep.
	Step Step `json:"step,omitempty"`

	// Name is the step name as supplied.
	Name string `json:"name"`

	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`

	// Err is the underlying cause for KindStepFailed.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("plan step %d (%s): %s: %s", e.Index+1, e.Name, e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the sentinel for e's Kind.
func (e *ExecutionError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Execution State
// =============================================================================

// State is everything a plan run knows. It starts holding only the
// request and is updated by each step; after an abort it still holds the
// progress made so far.
type State struct {
	RunID   string `json:"run_id"`
	Request string `json:"request"`

	// Constraints is set by Analyze.
	Constraints *catalog.ConstraintSet `json:"constraints,omitempty"`

	// Tracks is the candidate set.
	Tracks []catalog.Track `json:"tracks"`

	// TracksProduced reports whether any step has produced a candidate
	// set, even an empty one.
	TracksProduced bool `json:"tracks_produced"`

	Label string `json:"label"`

	// FilterAttempts is the number of filter passes used.
	FilterAttempts int `json:"filter_attempts,omitempty"`

	// Stage is the refinement level that produced the order, if Refine ran.
	Stage rerank.Stage `json:"stage,omitempty"`

	Playlist  *playlist.Playlist  `json:"playlist,omitempty"`
	Retrieval *playlist.Retrieval `json:"retrieval,omitempty"`
	Summary   string              `json:"summary,omitempty"`

	Completed []Step `json:"completed"`
	Skipped   []Step `json:"skipped,omitempty"`
}
