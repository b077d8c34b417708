// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
)

// MemoryStore is a map-backed GraphStore for tests and dry-run mode.
// Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]graph.TaskNode
	edges map[string]graph.DependencyEdge
	docs  map[string][]string
}

var _ GraphStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]graph.TaskNode),
		edges: make(map[string]graph.DependencyEdge),
		docs:  make(map[string][]string),
	}
}

func edgeKey(sourceID, targetID string) string {
	return sourceID + "\x00" + targetID
}

// GetNodes returns nodes for the requested ids, re-deriving missing
// ones from document extractions where possible.
func (s *MemoryStore) GetNodes(ctx context.Context, ids []string) ([]graph.TaskNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []graph.TaskNode
	missing := make(map[string]struct{})
	for _, id := range ids {
		if node, ok := s.nodes[id]; ok {
			result = append(result, node)
		} else {
			missing[id] = struct{}{}
		}
	}

	for _, node := range recoverFromExtractions(missing, s.docs) {
		node.CreatedAt = time.Now().UTC()
		s.nodes[node.ID] = node
		result = append(result, node)
	}
	return result, nil
}

// GetEdges returns all edges, or only those touching a requested id.
func (s *MemoryStore) GetEdges(ctx context.Context, ids []string) ([]graph.DependencyEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var want map[string]struct{}
	if len(ids) > 0 {
		want = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			want[id] = struct{}{}
		}
	}

	var result []graph.DependencyEdge
	for _, e := range s.edges {
		if want != nil {
			_, src := want[e.SourceID]
			_, dst := want[e.TargetID]
			if !src && !dst {
				continue
			}
		}
		result = append(result, e)
	}
	return result, nil
}

// InsertNodes writes new nodes, failing on id collision.
func (s *MemoryStore) InsertNodes(ctx context.Context, nodes []graph.TaskNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, node := range nodes {
		if _, exists := s.nodes[node.ID]; exists {
			return fmt.Errorf("insert node %s: %w", node.ID, ErrNodeExists)
		}
		s.nodes[node.ID] = node
	}
	return nil
}

// InsertEdges writes new edges, requiring both endpoints to exist.
func (s *MemoryStore) InsertEdges(ctx context.Context, edges []graph.DependencyEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range edges {
		if _, ok := s.nodes[e.SourceID]; !ok {
			return fmt.Errorf("insert edge %s->%s: source: %w", e.SourceID, e.TargetID, ErrMissingEndpoint)
		}
		if _, ok := s.nodes[e.TargetID]; !ok {
			return fmt.Errorf("insert edge %s->%s: target: %w", e.SourceID, e.TargetID, ErrMissingEndpoint)
		}
		s.edges[edgeKey(e.SourceID, e.TargetID)] = e
	}
	return nil
}

// DeleteEdge removes an edge; absent edges are a no-op.
func (s *MemoryStore) DeleteEdge(ctx context.Context, sourceID, targetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, edgeKey(sourceID, targetID))
	return nil
}

// DeleteNodes removes nodes; absent nodes are a no-op.
func (s *MemoryStore) DeleteNodes(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.nodes, id)
	}
	return nil
}

// PutDocumentExtraction records a document's raw extracted task texts.
func (s *MemoryStore) PutDocumentExtraction(ctx context.Context, documentID string, texts []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[documentID] = append([]string(nil), texts...)
	return nil
}

// NodeCount returns the number of stored nodes. Test helper.
func (s *MemoryStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of stored edges. Test helper.
func (s *MemoryStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}
