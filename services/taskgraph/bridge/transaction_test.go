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

	"github.com/loomworks-ai/taskloom/services/taskgraph/embeddings"
	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
	"github.com/loomworks-ai/taskloom/services/taskgraph/similarity"
	"github.com/loomworks-ai/taskloom/services/taskgraph/store"
)

type engineFixture struct {
	engine *Engine
	store  *store.MemoryStore
	index  *similarity.MemoryIndex
}

// newEngineFixture builds an engine over in-memory collaborators and
// seeds two unconnected tasks "a" and "b" in document doc-1.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	s := store.NewMemoryStore()
	idx := similarity.NewMemoryIndex()

	require.NoError(t, s.InsertNodes(context.Background(), []graph.TaskNode{
		{ID: "a", Text: "design the database schema", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
		{ID: "b", Text: "deploy the service to production", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
	}))

	return &engineFixture{
		engine: NewEngine(s, idx, embeddings.NewDeterministicProvider(), Config{}, nil),
		store:  s,
		index:  idx,
	}
}

func (f *engineFixture) addEdge(t *testing.T, source, target string) {
	t.Helper()
	require.NoError(t, f.store.InsertEdges(context.Background(), []graph.DependencyEdge{{
		SourceID:  source,
		TargetID:  target,
		Type:      graph.RelPrerequisite,
		Method:    graph.MethodStored,
		CreatedAt: time.Now().UTC(),
	}}))
}

func validTask(text string) BridgingTask {
	return BridgingTask{
		Text:           text,
		EstimatedHours: 16,
		PredecessorID:  "a",
		SuccessorID:    "b",
		Confidence:     0.8,
	}
}

// TestInsertBridgingTasks_Commit verifies the happy path: one bridging
// task committed with both edges, a durable node, and an index entry
// under the content-hash id.
func TestInsertBridgingTasks_Commit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	result, err := f.engine.InsertBridgingTasks(ctx, []BridgingTask{
		validTask("write schema migration scripts"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 2, result.EdgesCreated)
	assert.Empty(t, result.Removals)

	wantID := graph.DeriveTaskID("write schema migration scripts", "doc-1")
	require.Equal(t, []string{wantID}, result.TaskIDs)

	nodes, err := f.store.GetNodes(ctx, []string{wantID})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "doc-1", nodes[0].DocumentID)
	assert.Equal(t, 16, nodes[0].EstimatedHours)
	assert.Len(t, nodes[0].Embedding, graph.EmbeddingDimensions)

	edges, err := f.store.GetEdges(ctx, []string{wantID})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, graph.RelPrerequisite, e.Type)
		assert.Equal(t, graph.MethodAI, e.Method)
		assert.InDelta(t, 0.8, e.Confidence, 1e-9)
	}

	assert.Equal(t, 1, f.index.Len())
}

// TestInsertBridgingTasks_EditedTextOverride verifies that a non-empty
// EditedText replaces the generated draft before validation and id
// derivation.
func TestInsertBridgingTasks_EditedTextOverride(t *testing.T) {
	f := newEngineFixture(t)

	task := validTask("short")
	task.EditedText = "  write schema migration scripts  "

	result, err := f.engine.InsertBridgingTasks(context.Background(), []BridgingTask{task})
	require.NoError(t, err)
	assert.Equal(t, []string{graph.DeriveTaskID("write schema migration scripts", "doc-1")}, result.TaskIDs)
}

// TestInsertBridgingTasks_Validation verifies whole-batch rejection on
// the first malformed candidate, before any store writes.
func TestInsertBridgingTasks_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BridgingTask)
		field  string
	}{
		{"text too short", func(b *BridgingTask) { b.Text = "too short" }, "Text"},
		{"hours below one day", func(b *BridgingTask) { b.EstimatedHours = 4 }, "EstimatedHours"},
		{"hours above one month", func(b *BridgingTask) { b.EstimatedHours = 200 }, "EstimatedHours"},
		{"missing predecessor", func(b *BridgingTask) { b.PredecessorID = "" }, "PredecessorID"},
		{"self loop", func(b *BridgingTask) { b.SuccessorID = "a" }, "SuccessorID"},
		{"confidence above one", func(b *BridgingTask) { b.Confidence = 1.5 }, "Confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			task := validTask("write schema migration scripts")
			tt.mutate(&task)

			_, err := f.engine.InsertBridgingTasks(context.Background(), []BridgingTask{task})
			require.Error(t, err)
			assert.Equal(t, CodeValidation, ErrorCode(err))

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Equal(t, 2, f.store.NodeCount())
		})
	}
}

// TestInsertBridgingTasks_EmptyBatch verifies that an empty batch is a
// validation error, not a silent no-op.
func TestInsertBridgingTasks_EmptyBatch(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.InsertBridgingTasks(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, CodeValidation, ErrorCode(err))
}

// TestInsertBridgingTasks_TaskNotFound verifies that unknown endpoint
// ids abort the batch with the sorted missing list and no writes.
func TestInsertBridgingTasks_TaskNotFound(t *testing.T) {
	f := newEngineFixture(t)

	task := validTask("write schema migration scripts")
	task.PredecessorID = "zzz"

	_, err := f.engine.InsertBridgingTasks(context.Background(), []BridgingTask{task})
	require.Error(t, err)
	assert.Equal(t, CodeTaskNotFound, ErrorCode(err))

	var nfErr *TaskNotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, []string{"zzz"}, nfErr.Missing)

	assert.Equal(t, 2, f.store.NodeCount())
	assert.Equal(t, 0, f.store.EdgeCount())
	assert.Equal(t, 0, f.index.Len())
}

// TestInsertBridgingTasks_DuplicateViaIndex verifies the semantic
// duplicate check: a candidate whose embedding matches an indexed task
// above the threshold is rejected with the existing task's identity.
func TestInsertBridgingTasks_DuplicateViaIndex(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	text := "write schema migration scripts"
	vec, err := embeddings.NewDeterministicProvider().Embed(ctx, text)
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(ctx, "existing", text, vec))

	_, err = f.engine.InsertBridgingTasks(ctx, []BridgingTask{validTask(text)})
	require.Error(t, err)
	assert.Equal(t, CodeDuplicateTask, ErrorCode(err))

	var dupErr *DuplicateTaskError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "existing", dupErr.TaskID)
	assert.InDelta(t, 1.0, dupErr.Similarity, 1e-6)

	assert.Equal(t, 2, f.store.NodeCount())
}

// TestInsertBridgingTasks_DuplicateRejectionIdempotent verifies that
// committing a batch and resubmitting the same task yields
// DUPLICATE_TASK and leaves the graph unchanged.
func TestInsertBridgingTasks_DuplicateRejectionIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	batch := []BridgingTask{validTask("write schema migration scripts")}

	_, err := f.engine.InsertBridgingTasks(ctx, batch)
	require.NoError(t, err)
	nodesAfter, edgesAfter := f.store.NodeCount(), f.store.EdgeCount()

	_, err = f.engine.InsertBridgingTasks(ctx, batch)
	require.Error(t, err)
	assert.Equal(t, CodeDuplicateTask, ErrorCode(err))
	assert.Equal(t, nodesAfter, f.store.NodeCount())
	assert.Equal(t, edgesAfter, f.store.EdgeCount())
}

// TestInsertBridgingTasks_DirectConflictRemoved verifies that a
// pre-existing successor→predecessor edge is removed, audited, and
// replaced by the bridging chain.
func TestInsertBridgingTasks_DirectConflictRemoved(t *testing.T) {
	f := newEngineFixture(t)
	f.addEdge(t, "b", "a")
	ctx := context.Background()

	result, err := f.engine.InsertBridgingTasks(ctx, []BridgingTask{
		validTask("write schema migration scripts"),
	})
	require.NoError(t, err)

	require.Len(t, result.Removals, 1)
	assert.Equal(t, "b", result.Removals[0].SourceID)
	assert.Equal(t, "a", result.Removals[0].TargetID)
	assert.Contains(t, result.Removals[0].Reason, "deploy the service to production")

	// The back-edge is gone; only the two bridging edges remain.
	assert.Equal(t, 2, f.store.EdgeCount())

	edges, err := f.store.GetEdges(ctx, nil)
	require.NoError(t, err)
	assert.False(t, graph.Snapshot(edges).HasCycle())
}

// TestInsertBridgingTasks_IndirectConflictRemoved verifies that an
// indirect back-path loses its first edge only.
func TestInsertBridgingTasks_IndirectConflictRemoved(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.InsertNodes(ctx, []graph.TaskNode{
		{ID: "c", Text: "provision the staging cluster", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
	}))
	f.addEdge(t, "b", "c")
	f.addEdge(t, "c", "a")

	result, err := f.engine.InsertBridgingTasks(ctx, []BridgingTask{
		validTask("write schema migration scripts"),
	})
	require.NoError(t, err)

	require.Len(t, result.Removals, 1)
	assert.Equal(t, "b", result.Removals[0].SourceID)
	assert.Equal(t, "c", result.Removals[0].TargetID)

	// c→a survives.
	edges, err := f.store.GetEdges(ctx, []string{"c"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "a", edges[0].TargetID)
}

// TestInsertBridgingTasks_BatchChaining verifies that a later batch
// entry may use an earlier entry's derived id as its predecessor.
func TestInsertBridgingTasks_BatchChaining(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	first := validTask("write schema migration scripts")
	firstID := graph.DeriveTaskID(first.Text, "doc-1")

	second := validTask("run the migration on staging data")
	second.PredecessorID = firstID

	result, err := f.engine.InsertBridgingTasks(ctx, []BridgingTask{first, second})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 4, result.EdgesCreated)
	assert.Equal(t, firstID, result.TaskIDs[0])

	edges, err := f.store.GetEdges(ctx, []string{result.TaskIDs[1]})
	require.NoError(t, err)
	require.Len(t, edges, 2)

	all, err := f.store.GetEdges(ctx, nil)
	require.NoError(t, err)
	assert.False(t, graph.Snapshot(all).HasCycle())
}

// TestInsertBridgingTasks_InBatchDuplicate verifies that two batch
// entries deriving the same content-hash id are rejected.
func TestInsertBridgingTasks_InBatchDuplicate(t *testing.T) {
	f := newEngineFixture(t)

	batch := []BridgingTask{
		validTask("write schema migration scripts"),
		validTask("Write Schema   Migration Scripts"), // normalizes to the same text
	}
	_, err := f.engine.InsertBridgingTasks(context.Background(), batch)
	require.Error(t, err)
	assert.Equal(t, CodeDuplicateTask, ErrorCode(err))

	var dupErr *DuplicateTaskError
	require.ErrorAs(t, err, &dupErr)
	assert.InDelta(t, 1.0, dupErr.Similarity, 1e-9)
	assert.Equal(t, 2, f.store.NodeCount())
}

// TestInsertBridgingTasks_LatentCycleAborts verifies the final
// acyclicity re-check: a pre-existing cycle that no successor to
// predecessor back-path touches survives conflict resolution, so the
// batch must abort with CYCLE_DETECTED, a rendered path with truncated
// task texts, and no committed nodes.
func TestInsertBridgingTasks_LatentCycleAborts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	longText := "a very long latent task text that should be truncated in the rendered cycle path"
	require.NoError(t, f.store.InsertNodes(ctx, []graph.TaskNode{
		{ID: "x", Text: longText, DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
		{ID: "y", Text: "another latent task", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
	}))
	f.addEdge(t, "x", "y")
	f.addEdge(t, "y", "x")

	_, err := f.engine.InsertBridgingTasks(ctx, []BridgingTask{
		validTask("write schema migration scripts"),
	})
	require.Error(t, err)
	assert.Equal(t, CodeCycleDetected, ErrorCode(err))

	var cycErr *CycleError
	require.ErrorAs(t, err, &cycErr)
	require.NotEmpty(t, cycErr.Path)
	assert.Equal(t, cycErr.Path[0], cycErr.Path[len(cycErr.Path)-1])
	assert.Contains(t, cycErr.Rendered, "another latent task")
	assert.Contains(t, cycErr.Rendered, truncate(longText, 50))
	assert.NotContains(t, cycErr.Rendered, longText)
	assert.Contains(t, err.Error(), "remove one of the listed dependencies and retry")

	// The latent cycle is untouched and nothing new was committed.
	assert.Equal(t, 4, f.store.NodeCount())
	assert.Equal(t, 2, f.store.EdgeCount())
	assert.Equal(t, 0, f.index.Len())
}

// edgeFailStore fails InsertEdges and delegates everything else.
type edgeFailStore struct {
	store.GraphStore
}

func (f *edgeFailStore) InsertEdges(ctx context.Context, edges []graph.DependencyEdge) error {
	return errors.New("edge write rejected")
}

// TestInsertBridgingTasks_RollbackOnEdgeFailure verifies the
// compensating delete: when edge insertion fails after nodes were
// written, the new nodes are removed again.
func TestInsertBridgingTasks_RollbackOnEdgeFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.InsertNodes(ctx, []graph.TaskNode{
		{ID: "a", Text: "design the database schema", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
		{ID: "b", Text: "deploy the service to production", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
	}))

	idx := similarity.NewMemoryIndex()
	engine := NewEngine(&edgeFailStore{GraphStore: mem}, idx, embeddings.NewDeterministicProvider(), Config{}, nil)

	_, err := engine.InsertBridgingTasks(ctx, []BridgingTask{
		validTask("write schema migration scripts"),
	})
	require.Error(t, err)
	assert.Equal(t, CodeInsertionFailed, ErrorCode(err))

	assert.Equal(t, 2, mem.NodeCount())
	assert.Equal(t, 0, mem.EdgeCount())
	assert.Equal(t, 0, idx.Len())
}

// failingProvider always fails to embed.
type failingProvider struct{}

func (failingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding backend unavailable")
}

// TestInsertBridgingTasks_EmbeddingFailure verifies that embedding
// backend failures abort the batch as INSERTION_FAILED before any
// graph mutation.
func TestInsertBridgingTasks_EmbeddingFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.InsertNodes(ctx, []graph.TaskNode{
		{ID: "a", Text: "design the database schema", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
		{ID: "b", Text: "deploy the service to production", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
	}))

	engine := NewEngine(mem, similarity.NewMemoryIndex(), failingProvider{}, Config{}, nil)

	_, err := engine.InsertBridgingTasks(ctx, []BridgingTask{
		validTask("write schema migration scripts"),
	})
	require.Error(t, err)
	assert.Equal(t, CodeInsertionFailed, ErrorCode(err))
	assert.Equal(t, 2, mem.NodeCount())
	assert.Equal(t, 0, mem.EdgeCount())
}

// TestInsertBridgingTasks_CustomThreshold verifies that a looser
// configured threshold still admits dissimilar tasks.
func TestInsertBridgingTasks_CustomThreshold(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.InsertNodes(ctx, []graph.TaskNode{
		{ID: "a", Text: "design the database schema", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
		{ID: "b", Text: "deploy the service to production", DocumentID: "doc-1", CreatedAt: time.Now().UTC()},
	}))

	idx := similarity.NewMemoryIndex()
	provider := embeddings.NewDeterministicProvider()
	vec, err := provider.Embed(ctx, "a completely unrelated piece of work")
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, "other", "a completely unrelated piece of work", vec))

	engine := NewEngine(s, idx, provider, Config{SimilarityThreshold: 0.5}, nil)
	_, err = engine.InsertBridgingTasks(ctx, []BridgingTask{
		validTask("write schema migration scripts"),
	})
	require.NoError(t, err)
}

func TestStateIsTerminal(t *testing.T) {
	assert.True(t, StateCommitted.IsTerminal())
	assert.True(t, StateAborted.IsTerminal())
	assert.False(t, StateValidating.IsTerminal())
	assert.False(t, StateConflictsResolved.IsTerminal())
}
