// Package cmd provides CLI commands for the Lattice application.
// This file implements the ingest command for absorbing component records.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adalundhe/lattice/core/componentgraphdb"
	"github.com/adalundhe/lattice/core/config"
	"github.com/adalundhe/lattice/core/ingest"
	"github.com/adalundhe/lattice/core/vectorindex"
)

// =============================================================================
// Ingest Command Flags
// =============================================================================

var (
	ingestWatch    bool
	ingestSpoolDir string
	ingestRemove   bool
	ingestJSON     bool
)

// =============================================================================
// Ingest Command
// =============================================================================

// ingestCmd represents the ingest command.
var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest component records",
	Long: `Ingest component record JSON files into the knowledge base.

Each file holds one component record. Unchanged records are skipped,
changed records extend the component's version chain and refresh its
graph and vector entries.

Examples:
  lattice ingest button.json card.json     # Ingest specific files
  lattice ingest --watch                   # Watch the spool directory
  lattice ingest --watch --spool-dir ./in  # Watch a custom directory
  lattice ingest --json *.json | jq .      # Machine-readable results`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "Watch the spool directory for new records")
	ingestCmd.Flags().StringVar(&ingestSpoolDir, "spool-dir", "", "Spool directory to watch (defaults to the configured one)")
	ingestCmd.Flags().BoolVar(&ingestRemove, "remove", false, "Remove spool files after ingesting them")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "Output results as JSON")
}

// =============================================================================
// Ingest Execution
// =============================================================================

func runIngest(cmd *cobra.Command, args []string) error {
	if !ingestWatch && len(args) == 0 {
		return fmt.Errorf("no record files given; pass files or use --watch")
	}

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

	store := componentgraphdb.NewComponentStore(backing.graph, logger)
	embedder := vectorindex.NewHashEmbedder(cfg.Vector.Dimension)
	pipeline := ingest.NewPipeline(store, backing.tracker, backing.index, embedder, logger)

	if ingestWatch {
		return runSpoolWatch(cmd, cfg, pipeline, logger)
	}
	return runIngestFiles(cmd, pipeline, args)
}

func runIngestFiles(cmd *cobra.Command, pipeline *ingest.Pipeline, paths []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	records := make([]*componentgraphdb.ComponentRecord, 0, len(paths))
	for _, path := range paths {
		record, err := readRecord(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, record)
	}

	results, err := pipeline.IngestBatch(ctx, records)
	if outputErr := outputIngestResults(cmd.OutOrStdout(), results); outputErr != nil {
		return outputErr
	}
	return err
}

// runSpoolWatch watches the spool directory until interrupted.
func runSpoolWatch(cmd *cobra.Command, cfg *config.Config, pipeline *ingest.Pipeline, logger *slog.Logger) error {
	spoolConfig := cfg.Spool
	if ingestSpoolDir != "" {
		spoolConfig.Dir = ingestSpoolDir
	}
	if ingestRemove {
		spoolConfig.RemoveAfterIngest = true
	}

	watcher, err := ingest.NewSpoolWatcher(spoolConfig, pipeline, logger)
	if err != nil {
		return fmt.Errorf("failed to create spool watcher: %w", err)
	}
	defer watcher.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start spool watcher: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for component records. Press Ctrl+C to stop.\n", spoolConfig.Dir)
	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "Stopping spool watcher.")
	return nil
}

func readRecord(path string) (*componentgraphdb.ComponentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record componentgraphdb.ComponentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("invalid record json: %w", err)
	}
	return &record, nil
}

// =============================================================================
// Output Formatting
// =============================================================================

func outputIngestResults(w io.Writer, results []*ingest.IngestResult) error {
	if ingestJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}

	for _, result := range results {
		switch result.Status {
		case ingest.StatusIngested:
			fmt.Fprintf(w, "%s✓%s %s ingested (version %d)\n", colorGreen, colorReset, result.ComponentID, result.Sequence)
		case ingest.StatusUnchanged:
			fmt.Fprintf(w, "%s-%s %s unchanged\n", colorGray, colorReset, result.ComponentID)
		case ingest.StatusDeferred:
			fmt.Fprintf(w, "%s!%s %s deferred (store unavailable)\n", colorYellow, colorReset, result.ComponentID)
		}
	}
	return nil
}
