// Package cmd provides CLI commands for the Lattice application.
// This file implements the stats command for inspecting the knowledge base.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/lattice/core/componentgraphdb"
)

// =============================================================================
// Stats Command Flags
// =============================================================================

var (
	statsJSON   bool
	statsCycles bool
)

// =============================================================================
// Stats Command
// =============================================================================

// statsCmd represents the stats command.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	Long: `Show node and edge counts, design token usage, and optionally
dependency cycles in the component graph.

Examples:
  lattice stats
  lattice stats --cycles
  lattice stats --json | jq '.nodes_by_type'`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output statistics as JSON")
	statsCmd.Flags().BoolVar(&statsCycles, "cycles", false, "Report dependency cycles between components")
}

// =============================================================================
// Stats Execution
// =============================================================================

type statsOutput struct {
	*componentgraphdb.GraphStats
	Cycles []componentgraphdb.DependencyCycle `json:"cycles,omitempty"`
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := buildLogger(cfg)

	backing, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer backing.Close()

	stats, err := backing.graph.Stats()
	if err != nil {
		return fmt.Errorf("failed to collect stats: %w", err)
	}

	output := &statsOutput{GraphStats: stats}
	if statsCycles {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		traverser := componentgraphdb.NewGraphTraverser(backing.graph)
		cycles, err := traverser.DependencyCycles(ctx, 0)
		if err != nil {
			return fmt.Errorf("failed to detect cycles: %w", err)
		}
		output.Cycles = cycles
	}

	return outputStats(cmd.OutOrStdout(), output)
}

// =============================================================================
// Output Formatting
// =============================================================================

func outputStats(w io.Writer, output *statsOutput) error {
	if statsJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(output)
	}

	fmt.Fprintf(w, "%s%sKnowledge Base%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%sNodes:%s %d  %sEdges:%s %d  %sPlaceholders:%s %d  %sSize:%s %s\n\n",
		colorGray, colorReset, output.TotalNodes,
		colorGray, colorReset, output.TotalEdges,
		colorGray, colorReset, output.Placeholders,
		colorGray, colorReset, formatBytes(output.DBSizeBytes))

	outputCountTable(w, "Nodes by type", nodeTypeCounts(output.NodesByType))
	outputCountTable(w, "Edges by type", edgeTypeCounts(output.EdgesByType))
	outputCountTable(w, "Token references", output.TokenRefCounts)

	if statsCycles {
		outputCycles(w, output.Cycles)
	}
	return nil
}

func nodeTypeCounts(counts map[componentgraphdb.NodeType]int64) map[string]int64 {
	result := make(map[string]int64, len(counts))
	for nodeType, count := range counts {
		result[string(nodeType)] = count
	}
	return result
}

func edgeTypeCounts(counts map[componentgraphdb.EdgeType]int64) map[string]int64 {
	result := make(map[string]int64, len(counts))
	for edgeType, count := range counts {
		result[string(edgeType)] = count
	}
	return result
}

func outputCountTable(w io.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}

	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s%s%s\n", colorBold, title, colorReset)
	for _, key := range keys {
		fmt.Fprintf(w, "   %s%-24s%s %d\n", colorGray, key, colorReset, counts[key])
	}
	fmt.Fprintln(w)
}

func outputCycles(w io.Writer, cycles []componentgraphdb.DependencyCycle) {
	fmt.Fprintf(w, "%sDependency cycles%s\n", colorBold, colorReset)
	if len(cycles) == 0 {
		fmt.Fprintf(w, "   %snone%s\n", colorGreen, colorReset)
		return
	}
	for _, cycle := range cycles {
		fmt.Fprintf(w, "   %s%s%s\n", colorRed, strings.Join(cycle.ComponentIDs, " -> "), colorReset)
	}
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%dB", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(size)/float64(div), "KMGTPE"[exp])
}
