// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// EmbeddingDimensions is the fixed length of task embedding vectors.
// Embeddings exist only for duplicate detection; the graph structure
// never depends on them.
const EmbeddingDimensions = 1536

// RelationshipType classifies a dependency edge.
type RelationshipType string

const (
	// RelPrerequisite means the source must complete before the target starts.
	RelPrerequisite RelationshipType = "prerequisite"

	// RelBlocks means the source actively blocks the target.
	RelBlocks RelationshipType = "blocks"

	// RelRelated is an advisory association; it never participates in
	// the acyclicity invariant.
	RelRelated RelationshipType = "related"
)

// String returns the string representation of the relationship type.
func (t RelationshipType) String() string {
	return string(t)
}

// Structural reports whether edges of this type participate in cycle
// checks. Only prerequisite and blocks edges constrain ordering.
func (t RelationshipType) Structural() bool {
	return t == RelPrerequisite || t == RelBlocks
}

// DetectionMethod records the provenance of a dependency edge.
type DetectionMethod string

const (
	// MethodAI marks edges proposed by a model.
	MethodAI DetectionMethod = "ai"

	// MethodHeuristic marks edges derived from rules over task text.
	MethodHeuristic DetectionMethod = "heuristic"

	// MethodStored marks edges imported from stored relationship rows.
	MethodStored DetectionMethod = "stored_relationship"

	// MethodManual marks edges entered by a user.
	MethodManual DetectionMethod = "manual"
)

// TaskNode is a single task in the dependency graph.
//
// The ID is content-derived (see DeriveTaskID), which makes re-extraction
// of the same document reproduce the same ids without a lookup table.
// Nodes are never implicitly deleted; deletion cascades from the owning
// document only.
type TaskNode struct {
	// ID is the stable content hash of (normalized text, document id).
	ID string `json:"task_id"`

	// Text is the normalized task description.
	Text string `json:"text"`

	// DocumentID is the owning document. Empty for synthetic or manual
	// container tasks.
	DocumentID string `json:"document_id,omitempty"`

	// Embedding is the optional duplicate-detection vector
	// (EmbeddingDimensions long when present).
	Embedding []float32 `json:"embedding,omitempty"`

	// EstimatedHours is the effort estimate, 0 when unknown.
	EstimatedHours int `json:"estimated_hours,omitempty"`

	// CreatedAt is when the task was first extracted or inserted.
	CreatedAt time.Time `json:"created_at"`
}

// DependencyEdge is a directed edge meaning "source must happen before
// target".
type DependencyEdge struct {
	SourceID   string           `json:"source_task_id"`
	TargetID   string           `json:"target_task_id"`
	Type       RelationshipType `json:"relationship_type"`
	Confidence float64          `json:"confidence"`
	Method     DetectionMethod  `json:"detection_method"`
	CreatedAt  time.Time        `json:"created_at"`
}

// NormalizeText lowercases a task description, collapses internal
// whitespace runs to single spaces, and trims the ends. Two task texts
// that differ only in case or spacing normalize identically and hash to
// the same task id.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// DeriveTaskID computes the deterministic task id for a task text and
// its owning document. The text is normalized first, so the id survives
// re-extraction. The id is one-way; recovering a task from an id
// requires hashing candidate texts and comparing (see the store's
// secondary-source recovery).
func DeriveTaskID(text, documentID string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeText(text)))
	h.Write([]byte{0})
	h.Write([]byte(documentID))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
