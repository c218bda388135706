// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry holds the Prometheus metrics for the pipeline.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/isorabins/ai-shorthand/services/shorthand"
)

var (
	// cyclesTotal counts completed cycles by outcome.
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shorthand_cycles_total",
		Help: "Total pipeline cycles by outcome",
	}, []string{"outcome"})

	// stageDuration tracks per-stage latency.
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shorthand_stage_duration_seconds",
		Help:    "Pipeline stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"stage"})

	// candidatesTotal counts validated candidates by verdict and pattern.
	candidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shorthand_candidates_total",
		Help: "Validated candidates by verdict and pattern",
	}, []string{"verdict", "pattern"})

	// tokensSavedTotal accumulates approved token savings.
	tokensSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shorthand_tokens_saved_total",
		Help: "Cumulative token savings across approvals",
	})

	// codexSize tracks the number of active codex entries.
	codexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shorthand_codex_entries",
		Help: "Number of active codex entries",
	})

	// collaboratorErrors counts collaborator failures by operation and
	// error category.
	collaboratorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shorthand_collaborator_errors_total",
		Help: "Collaborator failures by operation and category",
	}, []string{"operation", "category"})

	// ceremoniesTotal counts completed ceremonies.
	ceremoniesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shorthand_ceremonies_total",
		Help: "Total completed ceremonies",
	})
)

// RecordCycle records a completed cycle. outcome is "ok", "degraded", or
// "panic".
func RecordCycle(outcome string) {
	cyclesTotal.WithLabelValues(outcome).Inc()
}

// RecordStage records a stage duration.
func RecordStage(stage shorthand.Stage, d time.Duration) {
	stageDuration.WithLabelValues(stage.String()).Observe(d.Seconds())
}

// RecordVerdict records one validated candidate.
func RecordVerdict(c shorthand.CompressionCandidate) {
	candidatesTotal.WithLabelValues(c.Status.String(), c.Pattern.String()).Inc()
	if c.Status == shorthand.StatusApproved {
		tokensSavedTotal.Add(float64(c.TokenSavings))
	}
}

// SetCodexSize updates the codex size gauge.
func SetCodexSize(n int) {
	codexSize.Set(float64(n))
}

// RecordCollaboratorError records a collaborator failure.
func RecordCollaboratorError(operation string, category shorthand.ErrorCategory) {
	collaboratorErrors.WithLabelValues(operation, category.String()).Inc()
}

// RecordCeremony records a completed ceremony.
func RecordCeremony() {
	ceremoniesTotal.Inc()
}
