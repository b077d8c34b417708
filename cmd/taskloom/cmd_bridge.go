// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomworks-ai/taskloom/services/taskgraph/bridge"
)

// bridgeCmd is the parent bridge command.
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Insert accepted bridging tasks into the graph",
}

// bridgeInsertCmd runs an insertion transaction over a batch file.
var bridgeInsertCmd = &cobra.Command{
	Use:   "insert FILE",
	Short: "Transactionally insert a batch of accepted bridging tasks",
	Long: `Insert accepted bridging tasks from a JSON file. The whole batch
commits or none of it does; existing dependencies that would form a
cycle with the new tasks are removed and reported.

Example file:
  [
    {
      "text": "Write schema migration scripts",
      "estimated_hours": 16,
      "predecessor_id": "3f6c...",
      "successor_id": "9a21...",
      "confidence": 0.8
    }
  ]`,
	Args: cobra.ExactArgs(1),
	RunE: runBridgeInsert,
}

func init() {
	bridgeCmd.AddCommand(bridgeInsertCmd)
}

func runBridgeInsert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	var batch []bridge.BridgingTask
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}

	engine := bridge.NewEngine(rt.store, rt.index, rt.embedder, bridge.Config{
		SimilarityThreshold:  rt.cfg.Bridge.SimilarityThreshold,
		DuplicateSearchLimit: rt.cfg.Bridge.DuplicateSearchLimit,
	}, rt.logger.Slog())

	result, err := engine.InsertBridgingTasks(ctx, batch)
	if err != nil {
		return fmt.Errorf("[%s] %w", bridge.ErrorCode(err), err)
	}

	if flagJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Batch %s committed: %d tasks, %d edges\n",
		result.BatchID, result.Inserted, result.EdgesCreated)
	for _, id := range result.TaskIDs {
		fmt.Fprintf(cmd.OutOrStdout(), "  inserted %s\n", id)
	}
	for _, removal := range result.Removals {
		fmt.Fprintf(cmd.OutOrStdout(), "  removed  %s -> %s (%s)\n",
			removal.SourceID, removal.TargetID, removal.Reason)
	}
	return nil
}
