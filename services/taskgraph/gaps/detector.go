// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gaps detects plausible discontinuities between adjacent tasks
// in an externally supplied ordering.
//
// A gap is a detection-time artifact, never persisted: it exists only
// to drive bridging-task generation downstream. Four independent
// indicators are computed per adjacent pair; confidence is a step
// function of how many fired. Pairs where the successor already
// reaches the predecessor are discarded up front: bridging them would
// force a cycle the resolver would have to fight immediately.
package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
	"github.com/loomworks-ai/taskloom/services/taskgraph/store"
	"github.com/loomworks-ai/taskloom/services/taskgraph/telemetry"
)

// Detection defaults.
const (
	// DefaultTimeGapWindow is how far apart creation timestamps must be
	// before the time_gap indicator fires.
	DefaultTimeGapWindow = 7 * 24 * time.Hour

	// DefaultMaxGaps caps reported gaps to bound downstream generation
	// cost.
	DefaultMaxGaps = 3

	// MinIndicators is the reporting floor: pairs with fewer fired
	// indicators are not gaps.
	MinIndicators = 2

	// stageJumpDistance is the minimum workflow-stage distance for the
	// action_type_jump indicator.
	stageJumpDistance = 2
)

// MissingTaskError reports task ids that could not be resolved, even
// after the store's secondary-source recovery.
type MissingTaskError struct {
	Missing []string
}

// Error lists the unresolved ids.
func (e *MissingTaskError) Error() string {
	return fmt.Sprintf("tasks not found: [%s]", strings.Join(e.Missing, ", "))
}

// Gap is a detected discontinuity between two sequential tasks.
type Gap struct {
	// PredecessorID and SuccessorID are the adjacent tasks.
	PredecessorID string `json:"predecessor_task_id"`
	SuccessorID   string `json:"successor_task_id"`

	// Indicator flags, each computed independently.
	TimeGap        bool `json:"time_gap"`
	ActionTypeJump bool `json:"action_type_jump"`
	NoDependency   bool `json:"no_dependency"`
	SkillJump      bool `json:"skill_jump"`

	// Confidence is the step-function score derived from the indicator
	// count (0.6 at two indicators, 0.75 at three, then +0.25 per
	// additional indicator capped at 1).
	Confidence float64 `json:"confidence"`
}

// IndicatorCount returns how many indicators fired.
func (g Gap) IndicatorCount() int {
	count := 0
	for _, fired := range []bool{g.TimeGap, g.ActionTypeJump, g.NoDependency, g.SkillJump} {
		if fired {
			count++
		}
	}
	return count
}

// Metadata summarizes a detection run.
type Metadata struct {
	TasksExamined     int `json:"tasks_examined"`
	PairsScanned      int `json:"pairs_scanned"`
	PairsBelowFloor   int `json:"pairs_below_floor"`
	PairsUnbridgeable int `json:"pairs_unbridgeable"`
}

// Report is the result of a detection run: gaps ordered by
// (confidence desc, indicator count desc), capped to the configured
// maximum.
type Report struct {
	Gaps     []Gap    `json:"gaps"`
	Metadata Metadata `json:"metadata"`
}

// Config tunes the detector. The zero value selects all defaults.
type Config struct {
	// TimeGapWindow overrides DefaultTimeGapWindow when positive.
	TimeGapWindow time.Duration

	// MaxGaps overrides DefaultMaxGaps when positive.
	MaxGaps int
}

// Detector scans ordered task sequences for gaps.
type Detector struct {
	store  store.GraphStore
	log    *slog.Logger
	window time.Duration
	max    int
}

// NewDetector builds a Detector over the given store. A nil logger
// falls back to slog.Default().
func NewDetector(s store.GraphStore, cfg Config, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	window := cfg.TimeGapWindow
	if window <= 0 {
		window = DefaultTimeGapWindow
	}
	max := cfg.MaxGaps
	if max <= 0 {
		max = DefaultMaxGaps
	}
	return &Detector{store: s, log: log, window: window, max: max}
}

// DetectGaps scans each adjacent pair in the ordering. Returns
// *MissingTaskError when any id cannot be resolved; fewer than two ids
// yields an empty report.
func (d *Detector) DetectGaps(ctx context.Context, orderedIDs []string) (*Report, error) {
	report := &Report{Metadata: Metadata{TasksExamined: len(orderedIDs)}}
	if len(orderedIDs) < 2 {
		return report, nil
	}

	nodes, err := d.store.GetNodes(ctx, orderedIDs)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	byID := make(map[string]graph.TaskNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	var missing []string
	for _, id := range orderedIDs {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingTaskError{Missing: missing}
	}

	edges, err := d.store.GetEdges(ctx, orderedIDs)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	adjacency := graph.Snapshot(edges)

	var gaps []Gap
	for i := 0; i < len(orderedIDs)-1; i++ {
		pred, succ := byID[orderedIDs[i]], byID[orderedIDs[i+1]]
		if pred.ID == succ.ID {
			continue
		}
		report.Metadata.PairsScanned++
		telemetry.GapPairsScanned.Inc()

		gap := d.scorePair(pred, succ, adjacency)
		if gap.IndicatorCount() < MinIndicators {
			report.Metadata.PairsBelowFloor++
			continue
		}

		// Reachability pre-filter: if the successor already reaches the
		// predecessor, inserting pred→X→succ would close a cycle.
		if adjacency.HasPath(succ.ID, pred.ID) {
			report.Metadata.PairsUnbridgeable++
			d.log.Debug("gap discarded, successor reaches predecessor",
				"predecessor", pred.ID, "successor", succ.ID)
			continue
		}

		gaps = append(gaps, gap)
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Confidence != gaps[j].Confidence {
			return gaps[i].Confidence > gaps[j].Confidence
		}
		return gaps[i].IndicatorCount() > gaps[j].IndicatorCount()
	})
	if len(gaps) > d.max {
		gaps = gaps[:d.max]
	}
	report.Gaps = gaps

	for range gaps {
		telemetry.GapsDetected.Inc()
	}
	d.log.Info("gap scan complete",
		"tasks", len(orderedIDs),
		"pairs", report.Metadata.PairsScanned,
		"gaps", len(gaps))
	return report, nil
}

// scorePair computes the four indicators and the step-function
// confidence for one adjacent pair.
func (d *Detector) scorePair(pred, succ graph.TaskNode, adjacency *graph.Adjacency) Gap {
	gap := Gap{PredecessorID: pred.ID, SuccessorID: succ.ID}

	// time_gap: skipped entirely when either timestamp is missing.
	if !pred.CreatedAt.IsZero() && !succ.CreatedAt.IsZero() {
		gap.TimeGap = succ.CreatedAt.Sub(pred.CreatedAt) > d.window
	}

	// action_type_jump: skipped when either text classifies as unknown.
	predStage, succStage := classifyStage(pred.Text), classifyStage(succ.Text)
	if predStage != stageUnknown && succStage != stageUnknown {
		dist := succStage - predStage
		if dist < 0 {
			dist = -dist
		}
		gap.ActionTypeJump = dist >= stageJumpDistance
	}

	// no_dependency: no direct structural edge in either direction.
	gap.NoDependency = !adjacency.HasEdge(pred.ID, succ.ID) && !adjacency.HasEdge(succ.ID, pred.ID)

	// skill_jump: both tagged, sets fully disjoint.
	predSkills, succSkills := classifySkills(pred.Text), classifySkills(succ.Text)
	if len(predSkills) > 0 && len(succSkills) > 0 {
		gap.SkillJump = disjoint(predSkills, succSkills)
	}

	gap.Confidence = confidenceForCount(gap.IndicatorCount())
	return gap
}

// confidenceForCount is the step function mapping indicator count to
// confidence. Counts below MinIndicators score zero and are never
// reported.
func confidenceForCount(count int) float64 {
	switch {
	case count < MinIndicators:
		return 0
	case count == 2:
		return 0.6
	case count == 3:
		return 0.75
	default:
		c := 0.75 + 0.25*float64(count-3)
		if c > 1 {
			return 1
		}
		return c
	}
}
