// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store provides durable persistence for task nodes and
// dependency edges.
//
// Two implementations are provided: MemoryStore (tests, dry runs) and
// BadgerStore (embedded durable storage). Both satisfy GraphStore and
// share the same recovery behavior for missing task ids.
//
// # Secondary-source recovery
//
// Task ids are content hashes, so a task that is absent from the node
// table can sometimes be re-derived: each document's raw extracted task
// texts are retained (PutDocumentExtraction), and GetNodes hashes those
// candidates against the requested ids before giving up. Recovered
// nodes are persisted so the next lookup is a plain hit.
package store

import (
	"context"
	"errors"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
)

// Sentinel errors for store operations.
var (
	// ErrNodeExists is returned by InsertNodes when a task id already
	// has a row. The id is a content hash, so a collision means the
	// same task text in the same document; overwriting silently would
	// hide that.
	ErrNodeExists = errors.New("task node already exists")

	// ErrMissingEndpoint is returned by InsertEdges when an edge
	// references a task id with no node row.
	ErrMissingEndpoint = errors.New("edge endpoint does not exist")

	// ErrClosed is returned when operations are called on a closed store.
	ErrClosed = errors.New("store is closed")
)

// GraphStore is the persistence contract the engine depends on.
//
// Implementations must be safe for concurrent use. Point writes are
// atomic per call; the engine layers its own compensation logic on top
// (no cross-call transactionality is assumed).
type GraphStore interface {
	// GetNodes returns the nodes for the requested ids. Ids that cannot
	// be resolved, even via secondary-source recovery, are simply
	// absent from the result; callers decide whether that is an error.
	GetNodes(ctx context.Context, ids []string) ([]graph.TaskNode, error)

	// GetEdges returns dependency edges. With a non-empty id list, only
	// edges touching at least one requested id are returned; with an
	// empty list, every stored edge is returned.
	GetEdges(ctx context.Context, ids []string) ([]graph.DependencyEdge, error)

	// InsertNodes writes new task nodes. Fails with ErrNodeExists if
	// any id already has a row; earlier nodes in the slice may have
	// been written when that happens.
	InsertNodes(ctx context.Context, nodes []graph.TaskNode) error

	// InsertEdges writes new dependency edges, keyed by (source, target).
	// Fails with ErrMissingEndpoint when an endpoint has no node row.
	InsertEdges(ctx context.Context, edges []graph.DependencyEdge) error

	// DeleteEdge removes the edge (source, target). Deleting an absent
	// edge is a no-op.
	DeleteEdge(ctx context.Context, sourceID, targetID string) error

	// DeleteNodes removes the given nodes. Used for compensating
	// rollback; deleting an absent node is a no-op.
	DeleteNodes(ctx context.Context, ids []string) error

	// PutDocumentExtraction records a document's raw extracted task
	// texts, the secondary source for id recovery.
	PutDocumentExtraction(ctx context.Context, documentID string, texts []string) error
}

// recover attempts to re-derive missing task ids from stored document
// extractions. For every (text, document) candidate it recomputes the
// content hash and keeps matches. Shared by both implementations.
func recoverFromExtractions(missing map[string]struct{}, docs map[string][]string) []graph.TaskNode {
	if len(missing) == 0 {
		return nil
	}
	var recovered []graph.TaskNode
	for docID, texts := range docs {
		for _, text := range texts {
			id := graph.DeriveTaskID(text, docID)
			if _, want := missing[id]; !want {
				continue
			}
			recovered = append(recovered, graph.TaskNode{
				ID:         id,
				Text:       graph.NormalizeText(text),
				DocumentID: docID,
			})
			delete(missing, id)
			if len(missing) == 0 {
				return recovered
			}
		}
	}
	return recovered
}
