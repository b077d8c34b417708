// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
	"github.com/loomworks-ai/taskloom/services/taskgraph/store"
	"github.com/loomworks-ai/taskloom/services/taskgraph/telemetry"
)

// Resolver removes the minimal edge set needed to make a bridging
// insertion feasible. Inserting predecessor→new→successor can only
// close a cycle if the successor already reaches the predecessor, so
// resolution targets exactly those back-paths:
//
//  1. A direct successor→predecessor edge is deleted outright. This is
//     the common case: a prior coarse-grained edge the new, more
//     granular tasks supersede.
//  2. Otherwise the first edge of the shortest successor→predecessor
//     path is deleted: the edge leaving the successor, closest to the
//     point of conflict, rather than an arbitrary edge in the middle
//     of an unrelated chain.
//
// Each removal mutates the shared snapshot immediately and is persisted
// to the store, so later bridging tasks in the same batch see the fix.
// Resolution is best-effort; the transaction re-checks acyclicity after
// the whole batch.
type Resolver struct {
	store store.GraphStore
	log   *slog.Logger
}

// NewResolver builds a Resolver. A nil logger falls back to
// slog.Default().
func NewResolver(s store.GraphStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: s, log: log}
}

// Resolve removes back-path edges until the successor no longer
// reaches the predecessor. Every iteration deletes one existing edge,
// so the loop terminates. Returns the audit records of what was
// removed and why.
func (r *Resolver) Resolve(ctx context.Context, adj *graph.Adjacency, predecessorID, successorID string) ([]EdgeRemoval, error) {
	var removals []EdgeRemoval

	for adj.HasPath(successorID, predecessorID) {
		var source, target string
		if adj.HasEdge(successorID, predecessorID) {
			source, target = successorID, predecessorID
		} else {
			pathEdges, err := adj.FindPathEdges(successorID, predecessorID)
			if err != nil || len(pathEdges) == 0 {
				// HasPath said reachable; treat disagreement as done
				// rather than looping forever.
				break
			}
			source, target = pathEdges[0].SourceID, pathEdges[0].TargetID
		}

		if err := r.store.DeleteEdge(ctx, source, target); err != nil {
			return removals, &InsertionError{Stage: "delete conflicting edge", Err: err}
		}
		adj.RemoveEdge(source, target)

		removal := EdgeRemoval{
			SourceID: source,
			TargetID: target,
			Reason:   r.describeRemoval(ctx, source, target, predecessorID, successorID),
		}
		removals = append(removals, removal)
		telemetry.EdgesRemoved.Inc()
		r.log.Info("removed conflicting edge",
			"source", source,
			"target", target,
			"predecessor", predecessorID,
			"successor", successorID)
	}

	return removals, nil
}

// describeRemoval renders a human-readable reason naming the task
// texts on both ends of the removed edge. Text lookups are best-effort;
// ids stand in when a node cannot be loaded.
func (r *Resolver) describeRemoval(ctx context.Context, sourceID, targetID, predecessorID, successorID string) string {
	sourceText, targetText := sourceID, targetID
	if nodes, err := r.store.GetNodes(ctx, []string{sourceID, targetID}); err == nil {
		for _, n := range nodes {
			switch n.ID {
			case sourceID:
				sourceText = truncate(n.Text, 50)
			case targetID:
				targetText = truncate(n.Text, 50)
			}
		}
	}
	return fmt.Sprintf("removed dependency %q -> %q: superseded by a bridging task between %s and %s",
		sourceText, targetText, predecessorID, successorID)
}
