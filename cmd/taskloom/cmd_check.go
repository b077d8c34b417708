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
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
)

// checkCmd verifies the stored graph is still a DAG.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the dependency graph is acyclic",
	Long: `Load every structural dependency edge and run cycle detection. Exits
non-zero and prints one concrete cycle path if the invariant is broken.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	edges, err := rt.store.GetEdges(ctx, nil)
	if err != nil {
		return fmt.Errorf("load edges: %w", err)
	}
	adjacency := graph.Snapshot(edges)

	if !adjacency.HasCycle() {
		if flagJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"acyclic": true,
				"nodes":   adjacency.NodeCount(),
				"edges":   len(edges),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d nodes, %d structural edges, no cycles\n",
			adjacency.NodeCount(), len(edges))
		return nil
	}

	path, pathErr := adjacency.FindCyclePath()
	if pathErr != nil {
		return fmt.Errorf("graph has a cycle but no path could be extracted: %w", pathErr)
	}
	if flagJSON {
		_ = json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
			"acyclic": false,
			"cycle":   path,
		})
		return fmt.Errorf("dependency graph contains a cycle")
	}
	return fmt.Errorf("dependency graph contains a cycle: %s", strings.Join(path, " -> "))
}
