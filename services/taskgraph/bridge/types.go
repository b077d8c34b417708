// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bridge

import (
	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
)

// State is a step in the bridging insertion state machine. Each state
// is reached only after the previous one completed; any failure moves
// to the terminal StateAborted.
type State string

const (
	// StateValidating normalizes and validates every candidate in the
	// batch before any I/O.
	StateValidating State = "validating"

	// StateContextLoaded means all predecessor/successor nodes were
	// resolved and new task ids derived.
	StateContextLoaded State = "context_loaded"

	// StateDeduplicated means embeddings were generated and no
	// candidate matched an existing task above the threshold.
	StateDeduplicated State = "deduplicated"

	// StateConflictsResolved means the adjacency snapshot was assembled
	// and conflicting edges removed.
	StateConflictsResolved State = "conflicts_resolved"

	// StateCommitted is the successful terminal state.
	StateCommitted State = "committed"

	// StateAborted is the failure terminal state.
	StateAborted State = "aborted"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether the state ends the transaction.
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateAborted
}

// BridgingTask is a proposed task meant to fill a detected gap between
// two existing tasks. It wraps the task draft plus the endpoint pair it
// connects and the generator's provenance metadata.
//
// Validation tags are enforced whole-batch in the VALIDATING step:
// min/max on Text count runes of the trimmed text, hours must be a
// whole working day up to a month of effort, and the endpoints must be
// present and distinct.
type BridgingTask struct {
	// Text is the proposed task description.
	Text string `json:"text" validate:"required,min=10,max=500"`

	// EditedText, when set, overrides Text. It carries a user's edit of
	// a generated draft and is folded into Text during validation.
	EditedText string `json:"edited_text,omitempty"`

	// EstimatedHours is the effort estimate.
	EstimatedHours int `json:"estimated_hours" validate:"required,min=8,max=160"`

	// PredecessorID and SuccessorID are the tasks the bridge connects.
	// Either may reference a task created earlier in the same batch.
	PredecessorID string `json:"predecessor_id" validate:"required"`
	SuccessorID   string `json:"successor_id" validate:"required,nefield=PredecessorID"`

	// Reasoning is the generator's explanation for the proposal.
	Reasoning string `json:"reasoning,omitempty"`

	// Confidence is the generator's confidence in the proposal.
	Confidence float64 `json:"confidence" validate:"min=0,max=1"`
}

// EdgeRemoval records one edge deleted by conflict resolution, for
// audit and undo visibility.
type EdgeRemoval struct {
	SourceID string `json:"source_task_id"`
	TargetID string `json:"target_task_id"`

	// Reason is human-readable and references the task texts on both
	// ends of the removed edge.
	Reason string `json:"reason"`
}

// InsertionResult is returned when a batch commits.
type InsertionResult struct {
	// BatchID identifies the transaction in logs and audit trails.
	BatchID string `json:"batch_id"`

	// Inserted is the number of task nodes committed.
	Inserted int `json:"inserted"`

	// TaskIDs are the content-hash ids of the new tasks, in batch order.
	TaskIDs []string `json:"task_ids"`

	// EdgesCreated is the number of dependency edges written (two per
	// bridging task).
	EdgesCreated int `json:"edges_created"`

	// Removals lists every edge deleted by conflict resolution, for
	// surfacing in the UI.
	Removals []EdgeRemoval `json:"removals,omitempty"`
}

// candidate is a validated batch entry moving through the pipeline.
type candidate struct {
	task   BridgingTask
	node   graph.TaskNode
	vector []float32
}
