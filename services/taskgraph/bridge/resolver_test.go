// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
	"github.com/loomworks-ai/taskloom/services/taskgraph/store"
)

// seedResolverGraph inserts the named nodes and the given structural
// edges into a fresh memory store.
func seedResolverGraph(t *testing.T, nodes map[string]string, edges [][2]string) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()

	taskNodes := make([]graph.TaskNode, 0, len(nodes))
	for id, text := range nodes {
		taskNodes = append(taskNodes, graph.TaskNode{
			ID:         id,
			Text:       text,
			DocumentID: "doc-1",
			CreatedAt:  time.Now().UTC(),
		})
	}
	require.NoError(t, s.InsertNodes(ctx, taskNodes))

	depEdges := make([]graph.DependencyEdge, 0, len(edges))
	for _, e := range edges {
		depEdges = append(depEdges, graph.DependencyEdge{
			SourceID:  e[0],
			TargetID:  e[1],
			Type:      graph.RelPrerequisite,
			Method:    graph.MethodStored,
			CreatedAt: time.Now().UTC(),
		})
	}
	require.NoError(t, s.InsertEdges(ctx, depEdges))
	return s
}

func snapshotOf(t *testing.T, s store.GraphStore) *graph.Adjacency {
	t.Helper()
	edges, err := s.GetEdges(context.Background(), nil)
	require.NoError(t, err)
	return graph.Snapshot(edges)
}

// TestResolve_NoConflict verifies that nothing is removed when the
// successor does not reach the predecessor.
func TestResolve_NoConflict(t *testing.T) {
	s := seedResolverGraph(t,
		map[string]string{"a": "design schema", "b": "ship release"},
		[][2]string{{"a", "b"}},
	)
	adj := snapshotOf(t, s)

	removals, err := NewResolver(s, nil).Resolve(context.Background(), adj, "a", "b")
	require.NoError(t, err)
	assert.Empty(t, removals)
	assert.Equal(t, 1, s.EdgeCount())
}

// TestResolve_DirectBackEdge verifies that a direct successor→
// predecessor edge is deleted outright, from both the store and the
// shared snapshot.
func TestResolve_DirectBackEdge(t *testing.T) {
	s := seedResolverGraph(t,
		map[string]string{"a": "design the database schema", "b": "deploy to production"},
		[][2]string{{"b", "a"}},
	)
	adj := snapshotOf(t, s)

	removals, err := NewResolver(s, nil).Resolve(context.Background(), adj, "a", "b")
	require.NoError(t, err)
	require.Len(t, removals, 1)
	assert.Equal(t, "b", removals[0].SourceID)
	assert.Equal(t, "a", removals[0].TargetID)
	assert.Contains(t, removals[0].Reason, "deploy to production")
	assert.Contains(t, removals[0].Reason, "design the database schema")

	assert.Equal(t, 0, s.EdgeCount())
	assert.False(t, adj.HasPath("b", "a"))
}

// TestResolve_IndirectPath verifies that without a direct back-edge
// the first edge of the shortest back-path is removed.
func TestResolve_IndirectPath(t *testing.T) {
	s := seedResolverGraph(t,
		map[string]string{"a": "t a", "b": "t b", "c": "t c"},
		[][2]string{{"b", "c"}, {"c", "a"}},
	)
	adj := snapshotOf(t, s)

	removals, err := NewResolver(s, nil).Resolve(context.Background(), adj, "a", "b")
	require.NoError(t, err)
	require.Len(t, removals, 1)
	assert.Equal(t, "b", removals[0].SourceID)
	assert.Equal(t, "c", removals[0].TargetID)

	assert.Equal(t, 1, s.EdgeCount())
	assert.True(t, adj.HasEdge("c", "a"))
	assert.False(t, adj.HasPath("b", "a"))
}

// TestResolve_MultipleBackPaths verifies that resolution repeats until
// no successor→predecessor path remains, removing one edge per
// iteration.
func TestResolve_MultipleBackPaths(t *testing.T) {
	s := seedResolverGraph(t,
		map[string]string{"a": "t a", "b": "t b", "x": "t x", "y": "t y"},
		[][2]string{{"b", "a"}, {"b", "x"}, {"x", "y"}, {"y", "a"}},
	)
	adj := snapshotOf(t, s)

	removals, err := NewResolver(s, nil).Resolve(context.Background(), adj, "a", "b")
	require.NoError(t, err)
	require.Len(t, removals, 2)
	// The direct edge first, then the first edge of the indirect path.
	assert.Equal(t, "b", removals[0].SourceID)
	assert.Equal(t, "a", removals[0].TargetID)
	assert.Equal(t, "b", removals[1].SourceID)
	assert.Equal(t, "x", removals[1].TargetID)

	assert.False(t, adj.HasPath("b", "a"))
	assert.Equal(t, 2, s.EdgeCount())
}

// deleteFailStore fails DeleteEdge and delegates everything else.
type deleteFailStore struct {
	store.GraphStore
}

func (f *deleteFailStore) DeleteEdge(ctx context.Context, sourceID, targetID string) error {
	return errors.New("disk on fire")
}

// TestResolve_StoreFailure verifies that a store failure during edge
// deletion surfaces as an INSERTION_FAILED error.
func TestResolve_StoreFailure(t *testing.T) {
	s := seedResolverGraph(t,
		map[string]string{"a": "t a", "b": "t b"},
		[][2]string{{"b", "a"}},
	)
	adj := snapshotOf(t, s)

	_, err := NewResolver(&deleteFailStore{GraphStore: s}, nil).
		Resolve(context.Background(), adj, "a", "b")
	require.Error(t, err)
	assert.Equal(t, CodeInsertionFailed, ErrorCode(err))

	var insErr *InsertionError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, "delete conflicting edge", insErr.Stage)
}
