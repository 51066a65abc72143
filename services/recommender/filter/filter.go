// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filter narrows a track catalog to a target count using a
// constraint set, widening numeric intervals when too few tracks match.
package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("fitbeat.recommender.filter")

// DefaultMaxAttempts bounds the number of filter passes, including the
// first unrelaxed one.
const DefaultMaxAttempts = 10

// ErrInvalidTarget is returned for a non-positive target count.
var ErrInvalidTarget = errors.New("target count must be positive")

// Config controls the relaxation loop.
type Config struct {
	// MaxAttempts is the number of filter passes. Default: 10.
	MaxAttempts int
}

// Recorder receives per-call filter statistics. observability.Metrics
// implements it.
type Recorder interface {
	ObserveFilter(attempts, matched int)
}

// Result is the outcome of one Filter call.
type Result struct {
	// Tracks holds at most target tracks, one per identity key, by
	// descending popularity.
	Tracks []catalog.Track

	// Attempts is the number of passes run.
	Attempts int

	// Constraints is the set used by the final pass.
	Constraints catalog.ConstraintSet

	// History holds the set used by each pass, in order.
	History []catalog.ConstraintSet
}

// RelaxingFilter applies a constraint set to a catalog, relaxing numeric
// bounds until enough tracks match or the attempt budget runs out.
//
// # Thread Safety
//
// Stateless after construction; safe for concurrent use.
type RelaxingFilter struct {
	config   Config
	logger   *slog.Logger
	recorder Recorder
}

// New creates a RelaxingFilter. A nil logger uses slog.Default().
func New(config Config, logger *slog.Logger) *RelaxingFilter {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelaxingFilter{config: config, logger: logger.With("component", "relaxing_filter")}
}

// WithRecorder attaches a statistics recorder and returns f.
func (f *RelaxingFilter) WithRecorder(r Recorder) *RelaxingFilter {
	f.recorder = r
	return f
}

// Filter returns up to target tracks from tracks that satisfy constraints.
//
// # Description
//
// Each pass keeps tracks that satisfy every present predicate, keeps one
// track per identity key (highest popularity, first seen on ties) and
// sorts by descending popularity. When a pass yields at least target
// tracks the top target are returned. Otherwise every numeric interval is
// widened by its field margin and the pass repeats, up to MaxAttempts
// passes. Passes stop early once relaxation can no longer change the set.
//
// # Inputs
//
//   - ctx: Checked between passes.
//   - tracks: The catalog. Not modified.
//   - constraints: Validated and clamped into field domains first.
//   - target: Desired count. Must be positive.
//
// # Outputs
//
//   - Result: Possibly fewer than target tracks, possibly none. Neither is
//     an error.
//   - error: ErrInvalidTarget, a catalog.ConstraintError for malformed
//     constraints, or ctx.Err().
func (f *RelaxingFilter) Filter(ctx context.Context, tracks []catalog.Track, constraints catalog.ConstraintSet, target int) (Result, error) {
	ctx, span := tracer.Start(ctx, "RelaxingFilter.Filter")
	defer span.End()
	span.SetAttributes(
		attribute.Int("filter.catalog_size", len(tracks)),
		attribute.Int("filter.target", target),
	)

	if target <= 0 {
		span.SetStatus(codes.Error, "invalid target")
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidTarget, target)
	}
	current, err := constraints.Normalize()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid constraints")
		return Result{}, err
	}

	var result Result
	for attempt := 1; attempt <= f.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		matched := Select(tracks, current)
		result.Attempts = attempt
		result.Constraints = current
		result.History = append(result.History, current)
		result.Tracks = matched

		f.logger.Debug("Filter pass",
			"attempt", attempt,
			"matched", len(matched),
			"target", target,
			"constraints", current.String())

		if len(matched) >= target || current.Saturated() {
			break
		}
		current = current.Relax()
	}

	if len(result.Tracks) > target {
		result.Tracks = result.Tracks[:target]
	}
	if len(result.Tracks) < target {
		f.logger.Info("Filter returned fewer tracks than requested",
			"found", len(result.Tracks),
			"target", target,
			"attempts", result.Attempts)
	}

	span.SetAttributes(
		attribute.Int("filter.attempts", result.Attempts),
		attribute.Int("filter.matched", len(result.Tracks)),
	)
	if f.recorder != nil {
		f.recorder.ObserveFilter(result.Attempts, len(result.Tracks))
	}
	return result, nil
}

// Select returns the tracks matching constraints, one per identity key,
// sorted by descending popularity. Constraints are applied as given.
func Select(tracks []catalog.Track, constraints catalog.ConstraintSet) []catalog.Track {
	positions := make(map[catalog.IdentityKey]int)
	var out []catalog.Track
	for _, t := range tracks {
		if !constraints.Matches(t) {
			continue
		}
		key := t.Key()
		if i, ok := positions[key]; ok {
			if t.Popularity > out[i].Popularity {
				out[i] = t
			}
			continue
		}
		positions[key] = len(out)
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Popularity > out[j].Popularity
	})
	return out
}
