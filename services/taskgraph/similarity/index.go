// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package similarity provides nearest-neighbor search over task
// embeddings for duplicate detection.
//
// WeaviateIndex is the production implementation; MemoryIndex serves
// tests and local mode with exact cosine similarity.
package similarity

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Match is one nearest-neighbor hit.
type Match struct {
	// TaskID is the matched task's content-hash id.
	TaskID string `json:"task_id"`

	// Similarity is cosine similarity in [-1, 1].
	Similarity float64 `json:"similarity"`

	// Text is the matched task's normalized text, carried so duplicate
	// errors can name the competing task.
	Text string `json:"text"`
}

// Index is the nearest-neighbor contract the engine depends on.
type Index interface {
	// Search returns up to limit tasks whose similarity to the vector
	// is at least threshold, ordered by similarity descending.
	Search(ctx context.Context, vector []float32, threshold float64, limit int) ([]Match, error)

	// Upsert indexes (or re-indexes) a task embedding. Called after a
	// bridging batch commits so later submissions of the same text are
	// caught as duplicates.
	Upsert(ctx context.Context, taskID, text string, vector []float32) error
}

// Cosine returns the cosine similarity of two vectors. Mismatched or
// zero-length vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemoryIndex is an exact cosine-similarity index held in memory.
// Safe for concurrent use.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	text   string
	vector []float32
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]memoryEntry)}
}

// Search scans all entries; fine for the index sizes tests use.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, threshold float64, limit int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for id, entry := range m.entries {
		sim := Cosine(vector, entry.vector)
		if sim < threshold {
			continue
		}
		matches = append(matches, Match{TaskID: id, Similarity: sim, Text: entry.text})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Upsert stores a copy of the vector under the task id.
func (m *MemoryIndex) Upsert(ctx context.Context, taskID, text string, vector []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[taskID] = memoryEntry{
		text:   text,
		vector: append([]float32(nil), vector...),
	}
	return nil
}

// Len returns the number of indexed tasks. Test helper.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
