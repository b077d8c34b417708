// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gaps

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
	"github.com/loomworks-ai/taskloom/services/taskgraph/store"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// insertTask writes a task and returns its content-hash id.
func insertTask(t *testing.T, s store.GraphStore, text string, createdAt time.Time) string {
	t.Helper()
	node := graph.TaskNode{
		ID:         graph.DeriveTaskID(text, "doc-1"),
		Text:       graph.NormalizeText(text),
		DocumentID: "doc-1",
		CreatedAt:  createdAt,
	}
	require.NoError(t, s.InsertNodes(context.Background(), []graph.TaskNode{node}))
	return node.ID
}

func insertEdge(t *testing.T, s store.GraphStore, sourceID, targetID string) {
	t.Helper()
	require.NoError(t, s.InsertEdges(context.Background(), []graph.DependencyEdge{{
		SourceID: sourceID,
		TargetID: targetID,
		Type:     graph.RelPrerequisite,
		Method:   graph.MethodStored,
	}}))
}

func TestConfidenceForCount_Monotonic(t *testing.T) {
	tests := []struct {
		count    int
		expected float64
	}{
		{0, 0},
		{1, 0},
		{2, 0.6},
		{3, 0.75},
		{4, 1.0},
		{5, 1.0}, // capped
	}

	prev := -1.0
	for _, tc := range tests {
		got := confidenceForCount(tc.count)
		assert.InDelta(t, tc.expected, got, 1e-9, "count %d", tc.count)
		assert.GreaterOrEqual(t, got, prev, "confidence must never decrease with more indicators")
		prev = got
	}
}

// Two neutral texts ten days apart with no stored edge fire exactly
// time_gap and no_dependency, scoring 0.6.
func TestDetectGaps_TwoIndicators(t *testing.T) {
	s := store.NewMemoryStore()
	a := insertTask(t, s, "alpha bravo", baseTime)
	b := insertTask(t, s, "charlie delta", baseTime.Add(10*24*time.Hour))

	d := NewDetector(s, Config{}, nil)
	report, err := d.DetectGaps(context.Background(), []string{a, b})
	require.NoError(t, err)
	require.Len(t, report.Gaps, 1)

	gap := report.Gaps[0]
	assert.Equal(t, a, gap.PredecessorID)
	assert.Equal(t, b, gap.SuccessorID)
	assert.True(t, gap.TimeGap)
	assert.True(t, gap.NoDependency)
	assert.False(t, gap.ActionTypeJump, "unknown stages skip the indicator")
	assert.False(t, gap.SkillJump, "untagged texts skip the indicator")
	assert.InDelta(t, 0.6, gap.Confidence, 1e-9)
}

// A single indicator is below the reporting floor.
func TestDetectGaps_BelowFloor(t *testing.T) {
	s := store.NewMemoryStore()
	a := insertTask(t, s, "alpha bravo", baseTime)
	b := insertTask(t, s, "charlie delta", baseTime.Add(10*24*time.Hour))
	insertEdge(t, s, a, b) // kills no_dependency, leaving only time_gap

	d := NewDetector(s, Config{}, nil)
	report, err := d.DetectGaps(context.Background(), []string{a, b})
	require.NoError(t, err)
	assert.Empty(t, report.Gaps)
	assert.Equal(t, 1, report.Metadata.PairsBelowFloor)
}

func TestDetectGaps_TimeGapBoundary(t *testing.T) {
	s := store.NewMemoryStore()
	// Exactly seven days is not "more than 7 days".
	a := insertTask(t, s, "alpha bravo", baseTime)
	b := insertTask(t, s, "charlie delta", baseTime.Add(7*24*time.Hour))

	d := NewDetector(s, Config{}, nil)
	report, err := d.DetectGaps(context.Background(), []string{a, b})
	require.NoError(t, err)
	assert.Empty(t, report.Gaps, "only no_dependency fires at exactly seven days")
}

// If the successor already reaches the predecessor, the pair must never
// be reported: bridging it would force a cycle.
func TestDetectGaps_ReachabilityPreFilter(t *testing.T) {
	s := store.NewMemoryStore()
	a := insertTask(t, s, "alpha bravo", baseTime)
	b := insertTask(t, s, "charlie delta", baseTime.Add(10*24*time.Hour))
	c := insertTask(t, s, "echo foxtrot", baseTime)
	insertEdge(t, s, b, c)
	insertEdge(t, s, c, a)

	d := NewDetector(s, Config{}, nil)
	report, err := d.DetectGaps(context.Background(), []string{a, b})
	require.NoError(t, err)
	assert.Empty(t, report.Gaps)
	assert.Equal(t, 1, report.Metadata.PairsUnbridgeable)
}

func TestDetectGaps_SortedAndScored(t *testing.T) {
	s := store.NewMemoryStore()
	// Pair (a, b): time_gap + no_dependency + action jump (research→deploy) = 3 → 0.75.
	// Pair (b, c): time_gap + no_dependency = 2 → 0.6.
	a := insertTask(t, s, "research competitor offerings", baseTime)
	b := insertTask(t, s, "deploy binaries", baseTime.Add(10*24*time.Hour))
	c := insertTask(t, s, "golf hotel", baseTime.Add(20*24*time.Hour))

	d := NewDetector(s, Config{}, nil)
	report, err := d.DetectGaps(context.Background(), []string{a, b, c})
	require.NoError(t, err)
	require.Len(t, report.Gaps, 2)

	assert.InDelta(t, 0.75, report.Gaps[0].Confidence, 1e-9)
	assert.True(t, report.Gaps[0].ActionTypeJump)
	assert.InDelta(t, 0.6, report.Gaps[1].Confidence, 1e-9)
}

func TestDetectGaps_CappedAtMax(t *testing.T) {
	s := store.NewMemoryStore()
	var ids []string
	for i := 0; i < 7; i++ {
		text := fmt.Sprintf("neutral task number %d", i)
		ids = append(ids, insertTask(t, s, text, baseTime.Add(time.Duration(i)*10*24*time.Hour)))
	}

	d := NewDetector(s, Config{}, nil)
	report, err := d.DetectGaps(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Metadata.PairsScanned)
	assert.Len(t, report.Gaps, DefaultMaxGaps)
}

func TestDetectGaps_MissingTask(t *testing.T) {
	s := store.NewMemoryStore()
	a := insertTask(t, s, "alpha bravo", baseTime)

	d := NewDetector(s, Config{}, nil)
	_, err := d.DetectGaps(context.Background(), []string{a, "zzz"})

	var missingErr *MissingTaskError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, []string{"zzz"}, missingErr.Missing)
}

// Recovery makes detection work even when the node row is gone but the
// document extraction survives.
func TestDetectGaps_RecoversFromSecondarySource(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	a := insertTask(t, s, "alpha bravo", baseTime)
	require.NoError(t, s.PutDocumentExtraction(ctx, "doc-1", []string{"charlie delta"}))
	recovered := graph.DeriveTaskID("charlie delta", "doc-1")

	d := NewDetector(s, Config{}, nil)
	report, err := d.DetectGaps(ctx, []string{a, recovered})
	require.NoError(t, err)
	// Recovered node has a fresh timestamp, so only no_dependency is
	// guaranteed; the scan itself must succeed.
	assert.Equal(t, 1, report.Metadata.PairsScanned)
}

func TestDetectGaps_FewerThanTwoTasks(t *testing.T) {
	s := store.NewMemoryStore()
	d := NewDetector(s, Config{}, nil)

	report, err := d.DetectGaps(context.Background(), []string{"only-one"})
	require.NoError(t, err)
	assert.Empty(t, report.Gaps)
	assert.Equal(t, 0, report.Metadata.PairsScanned)
}
