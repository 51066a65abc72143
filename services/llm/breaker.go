// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker around an LLM backend.
type BreakerConfig struct {
	Name string

	// ConsecutiveFailures opens the circuit. Default: 5.
	ConsecutiveFailures uint32

	// OpenTimeout is how long the circuit stays open before a probe.
	// Default: 30s.
	OpenTimeout time.Duration

	// HalfOpenRequests is the number of probes allowed while half-open.
	// Default: 1.
	HalfOpenRequests uint32
}

// BreakerClient wraps an LLMClient with a circuit breaker so that a dead
// backend fails fast instead of stalling every plan run on its timeout.
// Callers already treat oracle errors as soft failures, so an open circuit
// simply routes them to their fallback path sooner.
type BreakerClient struct {
	next LLMClient
	cb   *gobreaker.CircuitBreaker[string]
}

// NewBreakerClient wraps next.
func NewBreakerClient(next LLMClient, cfg BreakerConfig, logger *slog.Logger) *BreakerClient {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// Caller cancellation says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("LLM circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerClient{next: next, cb: cb}
}

// Generate implements LLMClient.
func (b *BreakerClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return b.cb.Execute(func() (string, error) {
		return b.next.Generate(ctx, prompt, params)
	})
}

// State returns the breaker state name for health reporting.
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}

var _ LLMClient = (*BreakerClient)(nil)
