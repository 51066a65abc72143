// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing setup for the
// recommender service.
//
// # Description
//
// Metrics records recommender statistics in Prometheus:
//   - Filter passes per call (histogram)
//   - Plan step outcomes (by step and outcome)
//   - Refinement stage reached (oracle, embedding, original)
//   - Oracle failures (by reason)
//
// It implements the Recorder interfaces of the filter, rerank and plan
// packages, so the components never import Prometheus.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "fitbeat"

// Metrics holds the recommender's Prometheus collectors.
//
// # Fields
//
//   - FilterAttempts: Histogram of passes per Filter call
//   - FilterMatched: Histogram of tracks returned per Filter call
//   - PlanSteps: Counter of plan steps by step and outcome
//   - RefineStages: Counter of refinements by stage reached
//   - OracleFailures: Counter of oracle failures by reason
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// FilterAttempts measures relaxation passes per Filter call.
	FilterAttempts prometheus.Histogram

	// FilterMatched measures the number of tracks a Filter call returned.
	FilterMatched prometheus.Histogram

	// PlanSteps counts executed plan steps.
	// Labels: step (Analyze, Filter, ...), outcome (ok, skipped, precondition, failed)
	PlanSteps *prometheus.CounterVec

	// RefineStages counts refinements by the stage that produced the result.
	// Labels: stage (oracle, embedding, original)
	RefineStages *prometheus.CounterVec

	// OracleFailures counts reranker failures.
	// Labels: reason (call, parse, no_ranking, no_matches)
	OracleFailures *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Tests pass prometheus.NewRegistry().
//
// # Outputs
//
//   - *Metrics: Ready to pass to the components' WithRecorder methods.
//
// # Limitations
//
//   - Panics if the collectors are already registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FilterAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "filter_attempts",
				Help:      "Number of relaxation passes per filter call",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			},
		),
		FilterMatched: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "filter_matched_tracks",
				Help:      "Number of tracks returned per filter call",
				Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
			},
		),
		PlanSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "plan_steps_total",
				Help:      "Total number of plan steps by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		RefineStages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "refine_stage_total",
				Help:      "Total number of refinements by the stage that produced the result",
			},
			[]string{"stage"},
		),
		OracleFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "oracle_failures_total",
				Help:      "Total number of oracle reranker failures by reason",
			},
			[]string{"reason"},
		),
	}
}

// =============================================================================
// Recorder Implementations
// =============================================================================

// ObserveFilter implements filter.Recorder.
func (m *Metrics) ObserveFilter(attempts, matched int) {
	m.FilterAttempts.Observe(float64(attempts))
	m.FilterMatched.Observe(float64(matched))
}

// ObservePlanStep implements plan.Recorder.
func (m *Metrics) ObservePlanStep(step, outcome string) {
	m.PlanSteps.WithLabelValues(step, outcome).Inc()
}

// ObserveRefineStage implements rerank.Recorder.
func (m *Metrics) ObserveRefineStage(stage string) {
	m.RefineStages.WithLabelValues(stage).Inc()
}

// ObserveOracleFailure implements rerank.Recorder.
func (m *Metrics) ObserveOracleFailure(reason string) {
	m.OracleFailures.WithLabelValues(reason).Inc()
}
