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
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
)

// =============================================================================
// INPUT FORMAT
// =============================================================================

// importFile is the JSON payload accepted by `taskloom tasks import`.
// Dependencies reference tasks by list index; ids are derived from the
// task text and document id.
type importFile struct {
	DocumentID string `json:"document_id"`
	Tasks      []struct {
		Text           string `json:"text"`
		EstimatedHours int    `json:"estimated_hours"`
	} `json:"tasks"`
	Dependencies []struct {
		Source     int     `json:"source"`
		Target     int     `json:"target"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"dependencies"`
}

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// tasksCmd is the parent tasks command.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Load and inspect tasks in the dependency graph",
}

// tasksImportCmd loads a document's extracted tasks and dependencies.
var tasksImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import tasks and dependencies from a JSON extraction file",
	Long: `Import a document's extracted tasks and their dependencies.

Task ids are derived from the normalized task text and the document id,
so re-importing the same file is rejected rather than duplicated. The
raw extraction is also retained so tasks referenced before import can
be recovered later.

Example file:
  {
    "document_id": "plan-2026-q3",
    "tasks": [
      {"text": "Design the database schema", "estimated_hours": 16},
      {"text": "Deploy the service", "estimated_hours": 8}
    ],
    "dependencies": [
      {"source": 0, "target": 1, "type": "prerequisite", "confidence": 0.9}
    ]
  }`,
	Args: cobra.ExactArgs(1),
	RunE: runTasksImport,
}

func init() {
	tasksCmd.AddCommand(tasksImportCmd)
}

func runTasksImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	var file importFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse import file: %w", err)
	}
	if file.DocumentID == "" {
		return fmt.Errorf("import file is missing document_id")
	}
	if len(file.Tasks) == 0 {
		return fmt.Errorf("import file contains no tasks")
	}

	now := time.Now().UTC()
	nodes := make([]graph.TaskNode, 0, len(file.Tasks))
	texts := make([]string, 0, len(file.Tasks))
	for _, task := range file.Tasks {
		nodes = append(nodes, graph.TaskNode{
			ID:             graph.DeriveTaskID(task.Text, file.DocumentID),
			Text:           graph.NormalizeText(task.Text),
			DocumentID:     file.DocumentID,
			EstimatedHours: task.EstimatedHours,
			CreatedAt:      now,
		})
		texts = append(texts, task.Text)
	}

	edges := make([]graph.DependencyEdge, 0, len(file.Dependencies))
	for _, dep := range file.Dependencies {
		if dep.Source < 0 || dep.Source >= len(nodes) || dep.Target < 0 || dep.Target >= len(nodes) {
			return fmt.Errorf("dependency %d -> %d is out of range", dep.Source, dep.Target)
		}
		relType := graph.RelationshipType(dep.Type)
		if relType == "" {
			relType = graph.RelPrerequisite
		}
		edges = append(edges, graph.DependencyEdge{
			SourceID:   nodes[dep.Source].ID,
			TargetID:   nodes[dep.Target].ID,
			Type:       relType,
			Confidence: dep.Confidence,
			Method:     graph.MethodStored,
			CreatedAt:  now,
		})
	}

	if graph.Snapshot(edges).HasCycle() {
		return fmt.Errorf("import rejected: dependencies contain a cycle")
	}

	if err := rt.store.InsertNodes(ctx, nodes); err != nil {
		return fmt.Errorf("insert tasks: %w", err)
	}
	if err := rt.store.InsertEdges(ctx, edges); err != nil {
		return fmt.Errorf("insert dependencies: %w", err)
	}
	if err := rt.store.PutDocumentExtraction(ctx, file.DocumentID, texts); err != nil {
		return fmt.Errorf("retain extraction: %w", err)
	}

	// Index embeddings so the imported tasks participate in duplicate
	// detection. Failures here do not undo the import.
	for _, n := range nodes {
		vec, err := rt.embedder.Embed(ctx, n.Text)
		if err != nil {
			rt.logger.Warn("embedding failed, task not indexed", "task_id", n.ID, "error", err)
			continue
		}
		if err := rt.index.Upsert(ctx, n.ID, n.Text, vec); err != nil {
			rt.logger.Warn("similarity index update failed", "task_id", n.ID, "error", err)
		}
	}

	if flagJSON {
		out := make([]map[string]string, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, map[string]string{"id": n.ID, "text": n.Text})
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d tasks and %d dependencies from %s\n",
		len(nodes), len(edges), file.DocumentID)
	for _, n := range nodes {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", n.ID, n.Text)
	}
	return nil
}
