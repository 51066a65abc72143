// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation keeps a rolling summary of past requests so that a
// follow-up such as "same again but slower" can be interpreted against what
// came before.
//
// # Description
//
// Each session has one summary, persisted in a kv bucket. Before a request
// is planned, the summary is prepended to it (PromptWithMemory). After the
// request completes, the LLM folds the request into a new summary (Update).
//
// # Thread Safety
//
// Memory is safe for concurrent use. Concurrent Updates on the same session
// are last-writer-wins.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/fitbeat/services/llm"
	"github.com/AleutianAI/fitbeat/services/storage/kv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("fitbeat.orchestrator.conversation")

// DefaultSession is used when the caller has no session id.
const DefaultSession = "default"

// record is the persisted form of a session's memory.
type record struct {
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Memory stores one rolling summary per session.
type Memory struct {
	bucket *kv.Bucket
	client llm.LLMClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewMemory creates a Memory. ttl bounds how long an idle session is
// remembered; zero keeps summaries forever.
func NewMemory(bucket *kv.Bucket, client llm.LLMClient, ttl time.Duration, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{bucket: bucket, client: client, ttl: ttl, logger: logger.With("component", "conversation_memory")}
}

func sessionKey(session string) string {
	session = strings.TrimSpace(session)
	if session == "" {
		return DefaultSession
	}
	return session
}

// Summary returns the session's summary, or "" when there is none.
func (m *Memory) Summary(ctx context.Context, session string) (string, error) {
	var rec record
	if err := m.bucket.GetJSON(ctx, sessionKey(session), &rec); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load conversation memory: %w", err)
	}
	return rec.Summary, nil
}

// PromptWithMemory prepends the session's summary to prompt as
// "<summary>\nNew request: <prompt>". Without a summary, or when it cannot
// be loaded, prompt is returned unchanged.
func (m *Memory) PromptWithMemory(ctx context.Context, session, prompt string) string {
	summary, err := m.Summary(ctx, session)
	if err != nil {
		m.logger.Warn("Ignoring conversation memory", "session", sessionKey(session), "error", err)
		return prompt
	}
	if summary == "" {
		return prompt
	}
	return summary + "\nNew request: " + prompt
}

// Update asks the LLM to fold prompt into the session's summary and
// stores the result.
//
// # Outputs
//
//   - error: Non-nil if the summary could not be loaded, generated or
//     stored. The previous summary is left in place.
func (m *Memory) Update(ctx context.Context, session, prompt string) error {
	ctx, span := tracer.Start(ctx, "Memory.Update")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.session", sessionKey(session)))

	existing, err := m.Summary(ctx, session)
	if err != nil {
		return err
	}

	summary, err := m.client.Generate(ctx, BuildSummaryPrompt(existing, prompt), llm.GenerationParams{
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return fmt.Errorf("summarize conversation: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Errorf("summarize conversation: %w", llm.ErrEmptyResponse)
	}

	rec := record{Summary: summary, UpdatedAt: time.Now().UTC()}
	if err := m.bucket.PutJSON(ctx, sessionKey(session), rec, m.ttl); err != nil {
		return fmt.Errorf("store conversation memory: %w", err)
	}
	m.logger.Info("Conversation memory updated", "session", sessionKey(session))
	return nil
}

// Clear forgets the session's summary.
func (m *Memory) Clear(ctx context.Context, session string) error {
	if err := m.bucket.Delete(ctx, sessionKey(session)); err != nil {
		return fmt.Errorf("clear conversation memory: %w", err)
	}
	m.logger.Info("Conversation memory cleared", "session", sessionKey(session))
	return nil
}

// BuildSummaryPrompt asks for a progressive summary: the existing summary
// extended with the new request.
func BuildSummaryPrompt(existing, prompt string) string {
	if existing == "" {
		existing = "(none)"
	}
	var b strings.Builder
	b.WriteString("Progressively summarize a user's playlist requests. ")
	b.WriteString("Extend the current summary with the new request and return only the new summary, ")
	b.WriteString("in a few sentences, keeping preferences that still apply.\n\n")
	b.WriteString("Current summary:\n")
	b.WriteString(existing)
	b.WriteString("\n\nNew request:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nNew summary:")
	return b.String()
}
