// Package cmd provides CLI commands for the Lattice application.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/lattice/core/componentgraphdb"
	"github.com/adalundhe/lattice/core/config"
	"github.com/adalundhe/lattice/core/storage"
	"github.com/adalundhe/lattice/core/vectorindex"
	"github.com/adalundhe/lattice/core/versioning"
)

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Lattice - a UI component knowledge base",
	Long: `Lattice ingests UI component records into a versioned knowledge graph
and a vector index, and answers natural-language questions about the corpus.`,
}

func Execute() error {
	return rootCmd.Execute()
}

// =============================================================================
// Shared Setup
// =============================================================================

// loadConfig resolves directories, loads layered configuration, and
// ensures the data directories exist.
func loadConfig() (*config.Config, error) {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directories: %w", err)
	}
	if err := dirs.EnsureAll(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	manager := config.NewManager(dirs)
	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return manager.Get(), nil
}

// buildLogger constructs the process logger from configuration.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, options)
	} else {
		handler = slog.NewTextHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// stores bundles the open backing stores behind one Close.
type stores struct {
	graph   *componentgraphdb.GraphDB
	tracker *versioning.Tracker
	index   *vectorindex.Index
}

func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	graph, err := componentgraphdb.Open(cfg.Storage.GraphDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	tracker, err := versioning.Open(cfg.Storage.VersionDB, logger)
	if err != nil {
		graph.Close()
		return nil, fmt.Errorf("failed to open version tracker: %w", err)
	}

	index, err := vectorindex.Open(cfg.Storage.VectorDB, cfg.Vector.Dimension, logger)
	if err != nil {
		graph.Close()
		tracker.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	return &stores{graph: graph, tracker: tracker, index: index}, nil
}

func (s *stores) Close() {
	s.index.Close()
	s.tracker.Close()
	s.graph.Close()
}
