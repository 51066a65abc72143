// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/fitbeat/services/llm"
	"github.com/AleutianAI/fitbeat/services/recommender/plan"
	"go.opentelemetry.io/otel/attribute"
)

// ErrEmptyPlan is returned when the planner produced no actions.
var ErrEmptyPlan = errors.New("planner returned no actions")

// PlannerConfig configures Planner.
type PlannerConfig struct {
	// SkipRetrieval hides Retrieve_and_Convert from the offered
	// capabilities.
	SkipRetrieval bool
}

// Planner asks a language model which steps a request needs. It makes two
// calls: a free-text plan, then a structuring pass into step names.
type Planner struct {
	client llm.LLMClient
	config PlannerConfig
	logger *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(client llm.LLMClient, config PlannerConfig, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{client: client, config: config, logger: logger.With("component", "planner")}
}

type actionsResponse struct {
	Actions []string `json:"actions"`
}

// Plan returns the ordered step names for request.
//
// # Outputs
//
//   - []string: Step names as the model spelled them, each at most once
//     (first occurrence wins). Names are not validated here; the executor
//     rejects unknown ones before running anything.
//   - error: Model failure, unparseable structure, or ErrEmptyPlan.
func (p *Planner) Plan(ctx context.Context, request string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Planner.Plan")
	defer span.End()

	textual, err := p.client.Generate(ctx, p.planningPrompt(request), llm.GenerationParams{
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	p.logger.Debug("Textual plan", "plan", textual)

	raw, err := p.client.Generate(ctx, structuringPrompt(textual), llm.GenerationParams{
		Temperature: llm.Temperature(0),
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("structuring plan: %w", err)
	}

	var resp actionsResponse
	if err := llm.DecodeJSONObject(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	actions := CollapseDuplicates(resp.Actions)
	if len(actions) == 0 {
		return nil, ErrEmptyPlan
	}

	span.SetAttributes(attribute.StringSlice("plan.actions", actions))
	p.logger.Info("Plan produced", "actions", actions)
	return actions, nil
}

// CollapseDuplicates keeps the first occurrence of each step name,
// comparing names the way plan.ParseStep does. Blank names are dropped.
func CollapseDuplicates(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if s, err := plan.ParseStep(name); err == nil {
			key = string(s)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

func (p *Planner) capabilities() []plan.Step {
	var steps []plan.Step
	for _, s := range plan.AllSteps() {
		if s == plan.StepRetrieve && p.config.SkipRetrieval {
			continue
		}
		steps = append(steps, s)
	}
	return steps
}

func (p *Planner) planningPrompt(request string) string {
	var b strings.Builder
	b.WriteString("You're a task-planning assistant for FitBeat, a music recommendation agent.\n\n")
	b.WriteString("FitBeat has these abilities:\n")
	for i, s := range p.capabilities() {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, s, s.Description())
	}
	b.WriteString(`
Your task:
- Given the user's request, outline a clear and executable sequence of actions.
- If the user asks about or implies meaning, lyrics or emotional depth beyond
  numeric parameters, include the "Refine" step.
- Distinguish numeric filtering ("Filter") from semantic refinement ("Refine").
- Include "Create_Recommendation_Table" if the user wants recommendations as a
  table or playlist.
`)
	if !p.config.SkipRetrieval {
		b.WriteString(`- Include "Retrieve_and_Convert" only if downloading audio is requested or implied.
`)
	}
	b.WriteString(`- Always end with "Summarize" if a playlist was created.

Return a numbered list of actions.

User request:
`)
	b.WriteString(request)
	return b.String()
}

func structuringPrompt(textual string) string {
	var b strings.Builder
	b.WriteString("You're converting a textual action plan into structured JSON actions for the FitBeat agent.\n\n")
	b.WriteString("Available actions:\n")
	for _, s := range plan.AllSteps() {
		fmt.Fprintf(&b, "- %q: %s\n", s.String(), s.Description())
	}
	b.WriteString(`
Instructions:
- Include each action AT MOST ONCE.
- List actions ONLY IF mentioned in the provided plan.
- Do NOT insert, reorder, or assume actions not stated.

Return ONLY valid JSON, no additional text:
{"actions": ["Action1", "Action2"]}

Convert this plan into structured JSON:

`)
	b.WriteString(textual)
	return b.String()
}
