// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks-ai/taskloom/services/taskgraph/gaps"
)

var flagGapIDs []string

// gapsCmd scans an ordered task chain for likely missing tasks.
var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Detect likely missing tasks between dependency chain neighbors",
	Long: `Scan consecutive pairs of an ordered task chain and report pairs that
look like they skip over missing work: distant workflow stages, creation
times far apart, disjoint skill sets. Pairs already connected through
the graph are skipped.

Examples:
  taskloom gaps --ids id1,id2,id3
  taskloom gaps --ids id1,id2,id3 --json`,
	RunE: runGaps,
}

func init() {
	gapsCmd.Flags().StringSliceVar(&flagGapIDs, "ids", nil, "Ordered, comma-separated task ids to scan")
	_ = gapsCmd.MarkFlagRequired("ids")
}

func runGaps(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	detector := gaps.NewDetector(rt.store, gaps.Config{
		TimeGapWindow: rt.cfg.Gaps.TimeGapWindow,
		MaxGaps:       rt.cfg.Gaps.MaxGaps,
	}, rt.logger.Slog())

	report, err := detector.DetectGaps(ctx, flagGapIDs)
	if err != nil {
		var missing *gaps.MissingTaskError
		if errors.As(err, &missing) {
			return fmt.Errorf("unknown task ids: %s", strings.Join(missing.Missing, ", "))
		}
		return err
	}

	if flagJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
	}

	if len(report.Gaps) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No gaps detected across %d pairs\n", report.Metadata.PairsScanned)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d likely gaps (of %d pairs scanned):\n",
		len(report.Gaps), report.Metadata.PairsScanned)
	for _, g := range report.Gaps {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %s  confidence=%.2f indicators=%d\n",
			g.PredecessorID, g.SuccessorID, g.Confidence, g.IndicatorCount())
	}
	return nil
}
