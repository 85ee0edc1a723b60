// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package metrics provides Prometheus instrumentation for the participant
// pipeline: workflow passes, phase durations, title matching, and delta
// publication.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowRuns counts full federated-learning workflow passes by
	// terminal status (ready, error, no_viewing_history).
	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedflix_workflow_runs_total",
			Help: "Total federated learning workflow passes by terminal status",
		},
		[]string{"status"},
	)

	// ComputationRuns counts recommendation recomputation passes by
	// terminal status.
	ComputationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedflix_computation_runs_total",
			Help: "Total recommendation computation passes by terminal status",
		},
		[]string{"status"},
	)

	// PhaseDuration observes per-phase pipeline latency.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fedflix_phase_duration_seconds",
			Help:    "Duration of pipeline phases in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// UnmatchedTitles counts viewing-history titles that resolved to no
	// vocabulary entry.
	UnmatchedTitles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedflix_unmatched_titles_total",
			Help: "Total titles that failed vocabulary resolution",
		},
	)

	// DeltasPublished counts noisy deltas written for the aggregator.
	DeltasPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedflix_deltas_published_total",
			Help: "Total differentially private delta files published",
		},
	)

	// RejectedScores counts non-finite scores rejected at persistence.
	RejectedScores = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedflix_rejected_scores_total",
			Help: "Total recommendation entries dropped for non-finite scores",
		},
	)
)
