// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	flagConfig   string
	flagLogLevel string
	flagJSON     bool
	flagQuiet    bool
)

// rootCmd is the taskloom entry point.
var rootCmd = &cobra.Command{
	Use:   "taskloom",
	Short: "Task dependency graph integrity and gap bridging",
	Long: `taskloom maintains a task dependency graph: it detects likely missing
tasks between dependency chain neighbors, inserts accepted bridging tasks
transactionally, and keeps the graph acyclic throughout.

Examples:
  taskloom tasks import plan.json
  taskloom gaps --ids task1,task2,task3
  taskloom bridge insert accepted.json
  taskloom check`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "taskloom.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress console log output")

	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(checkCmd)
}
