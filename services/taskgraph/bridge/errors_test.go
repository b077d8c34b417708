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
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorCode verifies every typed error maps to its wire code, and
// anything else is INTERNAL.
func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ValidationError{Reason: "bad"}, CodeValidation},
		{&TaskNotFoundError{Missing: []string{"x"}}, CodeTaskNotFound},
		{&DuplicateTaskError{TaskID: "x"}, CodeDuplicateTask},
		{&CycleError{Rendered: "a -> b -> a"}, CodeCycleDetected},
		{&InsertionError{Stage: "insert nodes", Err: errors.New("boom")}, CodeInsertionFailed},
		{fmt.Errorf("wrapped: %w", &DuplicateTaskError{TaskID: "x"}), CodeDuplicateTask},
		{errors.New("something else"), "INTERNAL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), "error %v", tt.err)
	}
}

// TestCycleError_Message verifies the recovery hint is part of the
// rendered message.
func TestCycleError_Message(t *testing.T) {
	err := &CycleError{Rendered: `"task a" -> "task b" -> "task a"`}
	assert.Contains(t, err.Error(), CodeCycleDetected)
	assert.Contains(t, err.Error(), "remove one of the listed dependencies and retry")
}

// TestInsertionError_Unwrap verifies the wrapped store error remains
// reachable.
func TestInsertionError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &InsertionError{Stage: "insert edges", Err: cause}
	assert.ErrorIs(t, err, cause)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
	assert.Equal(t, "héllo...", truncate("héllo wörld", 5))
}
