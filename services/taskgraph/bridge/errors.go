// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes surfaced to callers alongside the typed errors. The
// engine never retries silently; callers are expected to show the
// error message and, for duplicates and cycles, the embedded
// diagnostic payload verbatim.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeTaskNotFound    = "TASK_NOT_FOUND"
	CodeDuplicateTask   = "DUPLICATE_TASK"
	CodeCycleDetected   = "CYCLE_DETECTED"
	CodeInsertionFailed = "INSERTION_FAILED"
)

// ValidationError reports the first malformed candidate in a batch.
// It is raised before any I/O; resubmitting corrected input always
// recovers.
type ValidationError struct {
	// Index is the position of the offending task in the batch.
	Index int

	// Field names the violated field, empty for batch-level problems.
	Field string

	// Reason describes the violation.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", CodeValidation, e.Reason)
	}
	return fmt.Sprintf("%s: task %d field %s: %s", CodeValidation, e.Index, e.Field, e.Reason)
}

// TaskNotFoundError reports every predecessor/successor id that could
// not be resolved, even after secondary-source recovery.
type TaskNotFoundError struct {
	Missing []string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("%s: [%s]", CodeTaskNotFound, strings.Join(e.Missing, ", "))
}

// DuplicateTaskError reports a candidate whose embedding matched an
// existing task above the similarity threshold, or whose content hash
// collided with an existing row. The competing task is named so the
// caller can offer a merge.
type DuplicateTaskError struct {
	// TaskID and Text identify the existing competing task.
	TaskID string
	Text   string

	// Similarity is the match score; 1.0 for content-hash collisions.
	Similarity float64
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("%s: matches existing task %s (%q, similarity %.2f)",
		CodeDuplicateTask, e.TaskID, e.Text, e.Similarity)
}

// CycleError reports that the graph would still be cyclic after
// best-effort conflict resolution. It is the only error implying the
// resolver already tried and failed.
type CycleError struct {
	// Path is the offending cycle as node ids, closed (first == last).
	Path []string

	// Rendered is the cycle with task texts for humans.
	Rendered string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s; remove one of the listed dependencies and retry", CodeCycleDetected, e.Rendered)
}

// InsertionError wraps a store-level failure. When edge insertion
// fails after nodes were committed, the nodes are deleted as
// compensation before this error is returned.
type InsertionError struct {
	// Stage names the operation that failed.
	Stage string

	// Err is the underlying store or provider error.
	Err error
}

func (e *InsertionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", CodeInsertionFailed, e.Stage, e.Err)
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *InsertionError) Unwrap() error {
	return e.Err
}

// ErrorCode maps any engine error to its wire code, or "INTERNAL" for
// unexpected errors. Used for metric labels and API surfaces.
func ErrorCode(err error) string {
	var (
		validationErr *ValidationError
		notFoundErr   *TaskNotFoundError
		duplicateErr  *DuplicateTaskError
		cycleErr      *CycleError
		insertionErr  *InsertionError
	)
	switch {
	case errors.As(err, &validationErr):
		return CodeValidation
	case errors.As(err, &notFoundErr):
		return CodeTaskNotFound
	case errors.As(err, &duplicateErr):
		return CodeDuplicateTask
	case errors.As(err, &cycleErr):
		return CodeCycleDetected
	case errors.As(err, &insertionErr):
		return CodeInsertionFailed
	default:
		return "INTERNAL"
	}
}

// truncate shortens s to at most n runes for diagnostic rendering.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
