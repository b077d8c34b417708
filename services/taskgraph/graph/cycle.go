// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import "sort"

// Adjacency is a mutable in-memory adjacency snapshot of the structural
// (prerequisite/blocks) subgraph. It is not safe for concurrent use;
// each transaction owns its own snapshot.
type Adjacency struct {
	next  map[string][]string
	nodes map[string]struct{}
}

// NewAdjacency returns an empty snapshot.
func NewAdjacency() *Adjacency {
	return &Adjacency{
		next:  make(map[string][]string),
		nodes: make(map[string]struct{}),
	}
}

// Snapshot builds an adjacency from the structural subset of edges.
// Related edges are dropped here so no caller needs to pre-filter.
func Snapshot(edges []DependencyEdge) *Adjacency {
	adj := NewAdjacency()
	for _, e := range edges {
		if !e.Type.Structural() {
			continue
		}
		adj.AddEdge(e.SourceID, e.TargetID)
	}
	return adj
}

// AddNode registers a node with no edges. Adding an existing node is a
// no-op.
func (a *Adjacency) AddNode(id string) {
	a.nodes[id] = struct{}{}
}

// AddEdge adds a directed edge, registering both endpoints. Duplicate
// edges are ignored.
func (a *Adjacency) AddEdge(source, target string) {
	a.nodes[source] = struct{}{}
	a.nodes[target] = struct{}{}
	for _, n := range a.next[source] {
		if n == target {
			return
		}
	}
	a.next[source] = append(a.next[source], target)
}

// RemoveEdge deletes a directed edge if present. Endpoints stay
// registered.
func (a *Adjacency) RemoveEdge(source, target string) {
	neighbors := a.next[source]
	for i, n := range neighbors {
		if n == target {
			a.next[source] = append(neighbors[:i], neighbors[i+1:]...)
			return
		}
	}
}

// HasEdge reports whether the direct edge source→target exists.
func (a *Adjacency) HasEdge(source, target string) bool {
	for _, n := range a.next[source] {
		if n == target {
			return true
		}
	}
	return false
}

// NodeCount returns the number of registered nodes.
func (a *Adjacency) NodeCount() int {
	return len(a.nodes)
}

// sortedNodes returns node ids in deterministic order so traversals
// produce stable results across runs.
func (a *Adjacency) sortedNodes() []string {
	ids := make([]string, 0, len(a.nodes))
	for id := range a.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasCycle reports whether the snapshot contains a directed cycle,
// using Kahn's algorithm: peel zero-in-degree nodes until none remain;
// a cycle exists iff some nodes were never peeled. O(V+E).
func (a *Adjacency) HasCycle() bool {
	inDegree := make(map[string]int, len(a.nodes))
	for id := range a.nodes {
		inDegree[id] = 0
	}
	for _, targets := range a.next {
		for _, t := range targets {
			inDegree[t]++
		}
	}

	queue := make([]string, 0, len(a.nodes))
	for id := range a.nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, t := range a.next[id] {
			inDegree[t]--
			if inDegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}

	return processed < len(a.nodes)
}

// FindCyclePath extracts one cycle as an ordered node list, ending with
// a repeat of the first node. Intended for diagnostics only; call it
// after HasCycle reports true. Returns ErrNoCycle otherwise.
//
// The DFS uses an explicit stack rather than recursion so pathological
// chains cannot blow the goroutine stack.
func (a *Adjacency) FindCyclePath() ([]string, error) {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(a.nodes))
	parent := make(map[string]string, len(a.nodes))

	type frame struct {
		id   string
		next int
	}

	for _, start := range a.sortedNodes() {
		if color[start] != white {
			continue
		}
		stack := []frame{{id: start}}
		color[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := a.next[top.id]

			if top.next >= len(neighbors) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			n := neighbors[top.next]
			top.next++

			switch color[n] {
			case white:
				color[n] = gray
				parent[n] = top.id
				stack = append(stack, frame{id: n})
			case gray:
				// Walk parent pointers from the current node back to
				// the repeated node, then reverse.
				cycle := []string{top.id}
				for cur := top.id; cur != n; {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				cycle = append(cycle, n)
				return cycle, nil
			}
		}
	}

	return nil, ErrNoCycle
}

// HasPath reports whether target is reachable from source following
// directed edges. A node always reaches itself.
func (a *Adjacency) HasPath(source, target string) bool {
	if source == target {
		return true
	}
	visited := map[string]struct{}{source: {}}
	queue := []string{source}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range a.next[id] {
			if n == target {
				return true
			}
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			queue = append(queue, n)
		}
	}
	return false
}

// PathEdge is one hop of a path through the snapshot.
type PathEdge struct {
	SourceID string
	TargetID string
}

// FindPathEdges returns the edge sequence of a shortest path from
// source to target (BFS, so hop-count shortest). Returns ErrNoPath when
// target is unreachable and an empty slice when source == target.
func (a *Adjacency) FindPathEdges(source, target string) ([]PathEdge, error) {
	if _, ok := a.nodes[source]; !ok {
		return nil, ErrUnknownNode
	}
	if source == target {
		return nil, nil
	}

	prev := map[string]string{source: source}
	queue := []string{source}
	found := false
	for len(queue) > 0 && !found {
		id := queue[0]
		queue = queue[1:]
		for _, n := range a.next[id] {
			if _, seen := prev[n]; seen {
				continue
			}
			prev[n] = id
			if n == target {
				found = true
				break
			}
			queue = append(queue, n)
		}
	}
	if !found {
		return nil, ErrNoPath
	}

	var edges []PathEdge
	for cur := target; cur != source; cur = prev[cur] {
		edges = append(edges, PathEdge{SourceID: prev[cur], TargetID: cur})
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	return edges, nil
}
