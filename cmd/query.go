// Package cmd provides CLI commands for the Lattice application.
// This file implements the query command for asking about components.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/lattice/core/config"
	"github.com/adalundhe/lattice/core/knowledge/query"
	"github.com/adalundhe/lattice/core/vectorindex"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// QueryMaxLimit is the maximum number of results per query.
	QueryMaxLimit = 100
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Query Command Flags
// =============================================================================

var (
	queryLimit   int
	queryTimeout time.Duration
	queryJSON    bool
	queryVerbose bool
)

// =============================================================================
// Query Command
// =============================================================================

// queryCmd represents the query command.
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask about the component corpus",
	Long: `Ask a natural-language question about the ingested components.

Questions that name a known component are answered from the knowledge
graph; everything else falls back to semantic similarity over the
vector index.

Examples:
  lattice query "What properties does Button have?"
  lattice query "components for picking dates"
  lattice query --limit 5 "what uses the primary color token"
  lattice query --json "Button" | jq '.components'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().IntVarP(&queryLimit, "limit", "l", 0, "Maximum number of results (defaults to the configured top_n)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "Overall query deadline (defaults to the configured one)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Output the response as JSON")
	queryCmd.Flags().BoolVarP(&queryVerbose, "verbose", "v", false, "Show diagnostics and phase timings")
}

// =============================================================================
// Query Execution
// =============================================================================

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := buildLogger(cfg)

	applyQueryFlags(cfg)

	backing, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer backing.Close()

	embedder := vectorindex.NewHashEmbedder(cfg.Vector.Dimension)
	engine, err := query.NewEngine(backing.graph, backing.index, embedder, cfg.Query, logger)
	if err != nil {
		return fmt.Errorf("failed to build query engine: %w", err)
	}
	defer engine.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	response, metrics, err := engine.QueryWithMetrics(ctx, question)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	return outputQueryResponse(cmd.OutOrStdout(), response, metrics)
}

func applyQueryFlags(cfg *config.Config) {
	if queryLimit > 0 {
		if queryLimit > QueryMaxLimit {
			queryLimit = QueryMaxLimit
		}
		cfg.Query.TopN = queryLimit
	}
	if queryTimeout > 0 {
		cfg.Query.QueryTimeout = queryTimeout
	}
}

// =============================================================================
// Output Formatting
// =============================================================================

func outputQueryResponse(w io.Writer, response *query.StructuredResponse, metrics *query.PhaseMetrics) error {
	if queryJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	}

	fmt.Fprintf(w, "%s%sQuery Results%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%sQuery:%s %s\n", colorGray, colorReset, response.Query)
	fmt.Fprintf(w, "%sFound:%s %d components in %v\n", colorGray, colorReset, len(response.Components), response.ElapsedTime)

	if response.Partial {
		fmt.Fprintf(w, "%sNote: partial results, the deadline expired before all phases finished.%s\n", colorYellow, colorReset)
	}
	if response.FallbackUsed {
		fmt.Fprintf(w, "%sNote: one retrieval path was unavailable, results come from the other.%s\n", colorYellow, colorReset)
	}
	fmt.Fprintln(w)

	if len(response.Components) == 0 {
		fmt.Fprintf(w, "%sNo matching components.%s\n", colorYellow, colorReset)
	}

	for i, component := range response.Components {
		outputAnswerComponent(w, i+1, &component)
	}

	if queryVerbose {
		outputDiagnostics(w, response, metrics)
	}
	return nil
}

func outputAnswerComponent(w io.Writer, index int, component *query.AnswerComponent) {
	name := component.Name
	if name == "" {
		name = component.ComponentID
	}
	fmt.Fprintf(w, "%s%d.%s %s%s%s", colorYellow, index, colorReset, colorBold, name, colorReset)
	if component.Category != "" {
		fmt.Fprintf(w, " %s(%s)%s", colorGray, component.Category, colorReset)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "   %sScore:%s %.4f  %sSource:%s %s\n",
		colorGray, colorReset, component.Score,
		colorGray, colorReset, component.Source)

	if component.Description != "" {
		fmt.Fprintf(w, "   %s%s%s\n", colorGray, component.Description, colorReset)
	}

	for _, related := range component.Related {
		label := related.Name
		if label == "" {
			label = related.Content
		}
		fmt.Fprintf(w, "   %s[%s]%s %s\n", colorGreen, related.NodeType, colorReset, label)
	}
	fmt.Fprintln(w)
}

func outputDiagnostics(w io.Writer, response *query.StructuredResponse, metrics *query.PhaseMetrics) {
	fmt.Fprintf(w, "%sDiagnostics%s\n", colorBold, colorReset)
	fmt.Fprintf(w, "   %squery_id:%s %s\n", colorGray, colorReset, response.QueryID)
	for key, value := range response.Diagnostic {
		fmt.Fprintf(w, "   %s%s:%s %s\n", colorGray, key, colorReset, value)
	}
	fmt.Fprintf(w, "   %sgraph_latency:%s %v  %svector_latency:%s %v  %scache_hit:%s %v\n",
		colorGray, colorReset, metrics.GraphLatency,
		colorGray, colorReset, metrics.VectorLatency,
		colorGray, colorReset, metrics.CacheHit)
}
