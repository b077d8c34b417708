// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bridge inserts accepted bridging tasks into the dependency
// graph without ever breaking the DAG invariant.
//
// Each batch runs a sequential state machine:
//
//	validating → context_loaded → deduplicated → conflicts_resolved → committed
//
// with a terminal aborted state reachable from every step. Bridging
// tasks within a batch are processed strictly in list order because
// conflict resolution mutates a shared adjacency snapshot later tasks
// must observe. Only embedding generation runs concurrently, and it is
// joined before conflict resolution begins.
//
// There is no cross-invocation locking: two simultaneous batches are
// protected only by the store's uniqueness constraint on task ids, and
// resolver-side edge deletions are not rolled back when a later step
// fails. Deployments that need stronger guarantees should serialize
// calls behind an advisory lock.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loomworks-ai/taskloom/services/taskgraph/embeddings"
	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
	"github.com/loomworks-ai/taskloom/services/taskgraph/similarity"
	"github.com/loomworks-ai/taskloom/services/taskgraph/store"
	"github.com/loomworks-ai/taskloom/services/taskgraph/telemetry"
)

// Engine defaults.
const (
	// DefaultSimilarityThreshold is the duplicate-detection cutoff.
	DefaultSimilarityThreshold = 0.9

	// DefaultDuplicateSearchLimit bounds neighbors fetched per candidate.
	DefaultDuplicateSearchLimit = 3

	// cycleTextLimit truncates task texts in rendered cycle paths.
	cycleTextLimit = 50
)

// Config tunes the engine. The zero value selects all defaults.
type Config struct {
	// SimilarityThreshold overrides DefaultSimilarityThreshold when
	// positive.
	SimilarityThreshold float64

	// DuplicateSearchLimit overrides DefaultDuplicateSearchLimit when
	// positive.
	DuplicateSearchLimit int
}

// Engine orchestrates bridging insertion transactions. Construct with
// NewEngine; the zero value is not usable.
type Engine struct {
	store    store.GraphStore
	index    similarity.Index
	embedder embeddings.Provider
	resolver *Resolver
	validate *validator.Validate
	log      *slog.Logger
	tracer   trace.Tracer

	threshold   float64
	searchLimit int
}

// NewEngine wires an Engine over its collaborators. A nil logger falls
// back to slog.Default().
func NewEngine(s store.GraphStore, idx similarity.Index, embedder embeddings.Provider, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	limit := cfg.DuplicateSearchLimit
	if limit <= 0 {
		limit = DefaultDuplicateSearchLimit
	}
	return &Engine{
		store:       s,
		index:       idx,
		embedder:    embedder,
		resolver:    NewResolver(s, log),
		validate:    validator.New(),
		log:         log,
		tracer:      otel.Tracer("taskgraph/bridge"),
		threshold:   threshold,
		searchLimit: limit,
	}
}

// InsertBridgingTasks runs the full state machine over a batch of
// accepted bridging tasks. On success every proposed node and both of
// its edges are durable; on failure one of the typed errors of this
// package is returned and no partially inserted nodes remain (resolver
// edge deletions from completed steps are the documented exception).
func (e *Engine) InsertBridgingTasks(ctx context.Context, batch []BridgingTask) (*InsertionResult, error) {
	batchID := uuid.NewString()
	log := e.log.With("batch_id", batchID, "batch_size", len(batch))

	ctx, span := e.tracer.Start(ctx, "bridge.insert",
		trace.WithAttributes(attribute.Int("batch.size", len(batch))))
	defer span.End()

	result, err := e.run(ctx, log, batchID, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
		telemetry.Insertions.WithLabelValues(ErrorCode(err)).Inc()
		log.Warn("bridging insertion aborted", "state", StateAborted, "error", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	telemetry.Insertions.WithLabelValues(string(StateCommitted)).Inc()
	telemetry.TasksInserted.Add(float64(result.Inserted))
	log.Info("bridging insertion committed",
		"inserted", result.Inserted,
		"edges", result.EdgesCreated,
		"removals", len(result.Removals))
	return result, nil
}

func (e *Engine) run(ctx context.Context, log *slog.Logger, batchID string, batch []BridgingTask) (*InsertionResult, error) {
	candidates, err := e.stepValidate(ctx, batch)
	if err != nil {
		return nil, err
	}
	log.Debug("state transition", "state", StateValidating)

	if err := e.stepLoadContext(ctx, candidates); err != nil {
		return nil, err
	}
	log.Debug("state transition", "state", StateContextLoaded)

	if err := e.stepDeduplicate(ctx, candidates); err != nil {
		return nil, err
	}
	log.Debug("state transition", "state", StateDeduplicated)

	adjacency, newEdges, removals, err := e.stepResolveConflicts(ctx, candidates)
	if err != nil {
		return nil, err
	}
	log.Debug("state transition", "state", StateConflictsResolved)

	// Final invariant re-check over the fully assembled graph: existing
	// edges minus resolved deletions, plus every new node and edge.
	if adjacency.HasCycle() {
		path, pathErr := adjacency.FindCyclePath()
		if pathErr != nil {
			path = nil
		}
		return nil, &CycleError{Path: path, Rendered: e.renderCycle(ctx, path, candidates)}
	}

	result, err := e.stepCommit(ctx, log, candidates, newEdges)
	if err != nil {
		return nil, err
	}
	result.BatchID = batchID
	result.Removals = removals
	return result, nil
}

// observeStep records step latency for metrics.
func observeStep(step State, start time.Time) {
	telemetry.StepDuration.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())
}

// stepValidate normalizes and validates the whole batch before any
// I/O. The first violation rejects the batch; there is no partial
// validation.
func (e *Engine) stepValidate(ctx context.Context, batch []BridgingTask) ([]*candidate, error) {
	_, span := e.tracer.Start(ctx, "bridge.validating")
	defer span.End()
	defer observeStep(StateValidating, time.Now())

	if len(batch) == 0 {
		return nil, &ValidationError{Reason: "batch must contain at least one bridging task"}
	}

	candidates := make([]*candidate, 0, len(batch))
	for i, task := range batch {
		// A user edit overrides the generated draft.
		if edited := strings.TrimSpace(task.EditedText); edited != "" {
			task.Text = edited
		} else {
			task.Text = strings.TrimSpace(task.Text)
		}
		task.EditedText = ""

		if err := e.validate.Struct(task); err != nil {
			var fieldErrs validator.ValidationErrors
			if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
				fe := fieldErrs[0]
				return nil, &ValidationError{
					Index:  i,
					Field:  fe.Field(),
					Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
				}
			}
			return nil, &ValidationError{Index: i, Reason: err.Error()}
		}
		candidates = append(candidates, &candidate{task: task})
	}
	return candidates, nil
}

// stepLoadContext bulk-fetches predecessor/successor nodes, derives
// each new task's id and owning document, and guards content-hash ids
// against existing rows. Endpoints may reference tasks created earlier
// in the same batch.
func (e *Engine) stepLoadContext(ctx context.Context, candidates []*candidate) error {
	ctx, span := e.tracer.Start(ctx, "bridge.context_loaded")
	defer span.End()
	defer observeStep(StateContextLoaded, time.Now())

	neighborSet := make(map[string]struct{})
	for _, c := range candidates {
		neighborSet[c.task.PredecessorID] = struct{}{}
		neighborSet[c.task.SuccessorID] = struct{}{}
	}
	neighborIDs := make([]string, 0, len(neighborSet))
	for id := range neighborSet {
		neighborIDs = append(neighborIDs, id)
	}

	nodes, err := e.store.GetNodes(ctx, neighborIDs)
	if err != nil {
		return &InsertionError{Stage: "load context", Err: err}
	}
	byID := make(map[string]graph.TaskNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	// In-batch references resolve against nodes built earlier in this
	// loop, so a second task may hang off the first one's new id.
	batchNodes := make(map[string]graph.TaskNode)
	missingSet := make(map[string]struct{})
	now := time.Now().UTC()

	for _, c := range candidates {
		pred, predOK := lookup(byID, batchNodes, c.task.PredecessorID)
		succ, succOK := lookup(byID, batchNodes, c.task.SuccessorID)
		if !predOK {
			missingSet[c.task.PredecessorID] = struct{}{}
		}
		if !succOK {
			missingSet[c.task.SuccessorID] = struct{}{}
		}
		if !predOK || !succOK {
			continue
		}

		// Predecessor's document wins; a synthetic predecessor defers
		// to the successor.
		docID := pred.DocumentID
		if docID == "" {
			docID = succ.DocumentID
		}

		c.node = graph.TaskNode{
			ID:             graph.DeriveTaskID(c.task.Text, docID),
			Text:           graph.NormalizeText(c.task.Text),
			DocumentID:     docID,
			EstimatedHours: c.task.EstimatedHours,
			CreatedAt:      now,
		}
		if prior, dup := batchNodes[c.node.ID]; dup {
			return &DuplicateTaskError{TaskID: prior.ID, Text: prior.Text, Similarity: 1}
		}
		batchNodes[c.node.ID] = c.node
	}

	if len(missingSet) > 0 {
		missing := make([]string, 0, len(missingSet))
		for id := range missingSet {
			missing = append(missing, id)
		}
		sort.Strings(missing)
		return &TaskNotFoundError{Missing: missing}
	}

	// Content-hash collision guard: a new id matching an existing row
	// means the same text already exists in that document. Silent
	// overwrite would lose the original's edges.
	newIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		newIDs = append(newIDs, c.node.ID)
	}
	existing, err := e.store.GetNodes(ctx, newIDs)
	if err != nil {
		return &InsertionError{Stage: "check id collisions", Err: err}
	}
	if len(existing) > 0 {
		hit := existing[0]
		return &DuplicateTaskError{TaskID: hit.ID, Text: hit.Text, Similarity: 1}
	}
	return nil
}

// lookup resolves an id against stored nodes first, then nodes built
// earlier in the batch.
func lookup(stored, batch map[string]graph.TaskNode, id string) (graph.TaskNode, bool) {
	if n, ok := stored[id]; ok {
		return n, true
	}
	n, ok := batch[id]
	return n, ok
}

// stepDeduplicate embeds every candidate (concurrently; there is no
// shared mutable state at this stage) and rejects the batch when any
// candidate's nearest neighbor exceeds the similarity threshold.
func (e *Engine) stepDeduplicate(ctx context.Context, candidates []*candidate) error {
	ctx, span := e.tracer.Start(ctx, "bridge.deduplicated")
	defer span.End()
	defer observeStep(StateDeduplicated, time.Now())

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range candidates {
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, c.node.Text)
			if err != nil {
				return err
			}
			c.vector = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &InsertionError{Stage: "generate embeddings", Err: err}
	}

	for _, c := range candidates {
		c.node.Embedding = c.vector

		matches, err := e.index.Search(ctx, c.vector, e.threshold, e.searchLimit)
		if err != nil {
			return &InsertionError{Stage: "similarity search", Err: err}
		}
		for _, m := range matches {
			if m.TaskID == c.node.ID {
				continue // self
			}
			if m.Similarity > e.threshold {
				return &DuplicateTaskError{TaskID: m.TaskID, Text: m.Text, Similarity: m.Similarity}
			}
			break // matches are ordered; the top non-self hit decides
		}
	}
	return nil
}

// stepResolveConflicts assembles the adjacency snapshot from stored
// structural edges plus this batch's new edges, resolving back-paths
// per bridging task in batch order. Edge deletions hit the store
// immediately so later tasks in the batch observe them.
func (e *Engine) stepResolveConflicts(ctx context.Context, candidates []*candidate) (*graph.Adjacency, []graph.DependencyEdge, []EdgeRemoval, error) {
	ctx, span := e.tracer.Start(ctx, "bridge.conflicts_resolved")
	defer span.End()
	defer observeStep(StateConflictsResolved, time.Now())

	stored, err := e.store.GetEdges(ctx, nil)
	if err != nil {
		return nil, nil, nil, &InsertionError{Stage: "load edges", Err: err}
	}
	adjacency := graph.Snapshot(stored)

	var newEdges []graph.DependencyEdge
	var removals []EdgeRemoval
	now := time.Now().UTC()

	for _, c := range candidates {
		taskRemovals, err := e.resolver.Resolve(ctx, adjacency, c.task.PredecessorID, c.task.SuccessorID)
		removals = append(removals, taskRemovals...)
		if err != nil {
			return nil, nil, removals, err
		}

		adjacency.AddEdge(c.task.PredecessorID, c.node.ID)
		adjacency.AddEdge(c.node.ID, c.task.SuccessorID)
		newEdges = append(newEdges,
			graph.DependencyEdge{
				SourceID:   c.task.PredecessorID,
				TargetID:   c.node.ID,
				Type:       graph.RelPrerequisite,
				Confidence: c.task.Confidence,
				Method:     graph.MethodAI,
				CreatedAt:  now,
			},
			graph.DependencyEdge{
				SourceID:   c.node.ID,
				TargetID:   c.task.SuccessorID,
				Type:       graph.RelPrerequisite,
				Confidence: c.task.Confidence,
				Method:     graph.MethodAI,
				CreatedAt:  now,
			},
		)
	}
	return adjacency, newEdges, removals, nil
}

// stepCommit inserts nodes, then edges. If edge insertion fails after
// nodes were written, the nodes are deleted as compensation before the
// error is surfaced, since no distributed transaction is assumed.
func (e *Engine) stepCommit(ctx context.Context, log *slog.Logger, candidates []*candidate, edges []graph.DependencyEdge) (*InsertionResult, error) {
	ctx, span := e.tracer.Start(ctx, "bridge.committed")
	defer span.End()
	defer observeStep(StateCommitted, time.Now())

	nodes := make([]graph.TaskNode, 0, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		nodes = append(nodes, c.node)
		ids = append(ids, c.node.ID)
	}

	if err := e.store.InsertNodes(ctx, nodes); err != nil {
		// Nothing durable yet beyond resolver deletions; no rollback.
		return nil, &InsertionError{Stage: "insert nodes", Err: err}
	}

	if err := e.store.InsertEdges(ctx, edges); err != nil {
		if rbErr := e.store.DeleteNodes(ctx, ids); rbErr != nil {
			log.Error("compensating node rollback failed", "error", rbErr)
		}
		return nil, &InsertionError{Stage: "insert edges", Err: err}
	}

	// Index the committed tasks so resubmitting the same text is caught
	// as a duplicate. The graph commit already succeeded; index failures
	// are logged, not fatal.
	for _, c := range candidates {
		if err := e.index.Upsert(ctx, c.node.ID, c.node.Text, c.vector); err != nil {
			log.Warn("similarity index update failed", "task_id", c.node.ID, "error", err)
		}
	}

	return &InsertionResult{Inserted: len(nodes), TaskIDs: ids, EdgesCreated: len(edges)}, nil
}

// renderCycle renders a cycle path with truncated task texts for the
// CYCLE_DETECTED diagnostic payload.
func (e *Engine) renderCycle(ctx context.Context, path []string, candidates []*candidate) string {
	if len(path) == 0 {
		return "cycle detected"
	}

	texts := make(map[string]string, len(path))
	for _, c := range candidates {
		texts[c.node.ID] = c.node.Text
	}
	var toFetch []string
	for _, id := range path {
		if _, ok := texts[id]; !ok {
			toFetch = append(toFetch, id)
		}
	}
	if len(toFetch) > 0 {
		if nodes, err := e.store.GetNodes(ctx, toFetch); err == nil {
			for _, n := range nodes {
				texts[n.ID] = n.Text
			}
		}
	}

	parts := make([]string, 0, len(path))
	for _, id := range path {
		if text, ok := texts[id]; ok && text != "" {
			parts = append(parts, fmt.Sprintf("%q", truncate(text, cycleTextLimit)))
		} else {
			parts = append(parts, id)
		}
	}
	return strings.Join(parts, " -> ")
}
