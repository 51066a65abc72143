// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent runs one playlist request end to end: it adds conversation
// memory to the prompt, asks the planner for an action plan, executes the
// plan and folds the request back into memory.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/fitbeat/services/recommender/plan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("fitbeat.orchestrator.agent")
	meter  = otel.Meter("fitbeat.orchestrator.agent")
)

// ErrEmptyPrompt is returned for a blank request.
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// Planner turns a request into step names.
type Planner interface {
	Plan(ctx context.Context, request string) ([]string, error)
}

// Memory holds per-session conversation summaries.
type Memory interface {
	PromptWithMemory(ctx context.Context, session, prompt string) string
	Update(ctx context.Context, session, prompt string) error
}

// Request is one playlist request.
type Request struct {
	Prompt string

	// NumTracks overrides the executor's target count when positive.
	NumTracks int

	// Session selects the conversation memory. Empty uses the default
	// session.
	Session string
}

// Agent coordinates memory, planning and execution.
//
// # Thread Safety
//
// Safe for concurrent use. Requests on the same session race on the
// memory update; the last one wins.
type Agent struct {
	planner  Planner
	executor *plan.Executor
	memory   Memory
	logger   *slog.Logger
	duration metric.Float64Histogram
}

// New creates an Agent. memory may be nil to disable conversation memory.
func New(planner Planner, executor *plan.Executor, memory Memory, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	duration, err := meter.Float64Histogram("fitbeat.recommend.duration",
		metric.WithDescription("Duration of playlist requests"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("Failed to create duration histogram", "error", err)
	}
	return &Agent{
		planner:  planner,
		executor: executor,
		memory:   memory,
		logger:   logger.With("component", "agent"),
		duration: duration,
	}
}

// Recommend serves one request.
//
// # Description
//
//  1. Prepends the session's memory to the prompt.
//  2. Asks the planner for step names. A planner failure falls back to
//     plan.DefaultPlan.
//  3. Runs the plan with the combined prompt as the request.
//  4. On success, folds the original prompt into memory. A memory failure
//     is logged and does not fail the request.
//
// # Outputs
//
//   - *plan.State: The run's state. Nil only for ErrEmptyPrompt or a
//     cancellation before execution starts.
//   - error: ErrEmptyPrompt, ctx.Err(), or the executor's
//     *plan.ExecutionError.
func (a *Agent) Recommend(ctx context.Context, req Request) (*plan.State, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	ctx, span := tracer.Start(ctx, "Agent.Recommend")
	defer span.End()
	span.SetAttributes(attribute.Int("agent.num_tracks", req.NumTracks))

	start := time.Now()
	outcome := "ok"
	defer func() {
		if a.duration != nil {
			a.duration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}()

	prompt := req.Prompt
	if a.memory != nil {
		prompt = a.memory.PromptWithMemory(ctx, req.Session, req.Prompt)
	}

	names, err := a.planner.Plan(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return nil, ctx.Err()
		}
		a.logger.Warn("Planner failed, using default plan", "error", err)
		names = plan.DefaultPlan.Names()
	}

	state, err := a.executor.WithTargetCount(req.NumTracks).RunNames(ctx, prompt, names)
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
		return state, err
	}

	if a.memory != nil {
		if err := a.memory.Update(ctx, req.Session, req.Prompt); err != nil {
			a.logger.Warn("Failed to update conversation memory", "error", err)
		}
	}
	a.logger.Info("Request complete",
		"run_id", state.RunID,
		"label", state.Label,
		"tracks", len(state.Tracks),
		"duration", time.Since(start).String(),
	)
	return state, nil
}
