// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry defines Prometheus metrics for the task graph
// engine. All metrics are registered on the default registry via
// promauto; callers expose them however they serve /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GapsDetected counts gaps reported by the detector.
	GapsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskloom_gaps_detected_total",
		Help: "Number of gaps reported by the gap detector.",
	})

	// GapPairsScanned counts adjacent pairs examined.
	GapPairsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskloom_gap_pairs_scanned_total",
		Help: "Number of adjacent task pairs examined for gaps.",
	})

	// Insertions counts bridging insertion transactions by outcome
	// ("committed" or the typed error code of the abort).
	Insertions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskloom_insertions_total",
		Help: "Bridging insertion transactions by outcome.",
	}, []string{"outcome"})

	// TasksInserted counts task nodes committed by bridging insertions.
	TasksInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskloom_tasks_inserted_total",
		Help: "Task nodes committed by bridging insertions.",
	})

	// EdgesRemoved counts edges deleted by conflict resolution.
	EdgesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskloom_conflict_edges_removed_total",
		Help: "Edges removed by conflict resolution.",
	})

	// StepDuration observes wall time per transaction step.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskloom_transaction_step_seconds",
		Help:    "Wall time of bridging transaction steps.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})
)
