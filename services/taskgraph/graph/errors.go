// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph holds the task dependency graph domain types and the
// pure algorithms that guard its structural invariant.
//
// The graph is a DAG over tasks: a directed edge source→target means
// "source must happen before target". Only prerequisite and blocks
// edges are structural; related edges are advisory and ignored by every
// function in this package.
//
// # Adjacency snapshots
//
// All algorithms operate on an Adjacency, an in-memory snapshot built
// from stored edges plus any edges a pending insertion would add. A
// snapshot is cheap, mutable, and owned by a single goroutine; the
// durable store is never touched from here.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrNoCycle is returned by FindCyclePath when the snapshot is
	// acyclic. Callers are expected to check HasCycle first.
	ErrNoCycle = errors.New("graph contains no cycle")

	// ErrNoPath is returned by FindPathEdges when the target is not
	// reachable from the source.
	ErrNoPath = errors.New("no path between nodes")

	// ErrUnknownNode is returned when a path query names a node the
	// snapshot has never seen.
	ErrUnknownNode = errors.New("node not in adjacency snapshot")
)
