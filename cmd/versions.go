// Package cmd provides CLI commands for the Lattice application.
// This file implements the versions command for inspecting version chains.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/lattice/core/componentgraphdb"
	"github.com/adalundhe/lattice/core/versioning"
)

// =============================================================================
// Versions Command Flags
// =============================================================================

var (
	versionsCategory string
	versionsJSON     bool
	versionsVerify   bool
)

// =============================================================================
// Versions Command
// =============================================================================

// versionsCmd represents the versions command.
var versionsCmd = &cobra.Command{
	Use:   "versions <component-name>",
	Short: "Show a component's version chain",
	Long: `Show the hash-linked version chain recorded for a component.

Each entry links its content hash to the previous one, so any
tampering with the stored history is detectable with --verify.

Examples:
  lattice versions Button --category actions
  lattice versions Button --category actions --verify
  lattice versions Button --category actions --json`,
	Args: cobra.ExactArgs(1),
	RunE: runVersions,
}

func init() {
	rootCmd.AddCommand(versionsCmd)

	versionsCmd.Flags().StringVarP(&versionsCategory, "category", "c", "", "Component category (required)")
	versionsCmd.Flags().BoolVar(&versionsJSON, "json", false, "Output the chain as JSON")
	versionsCmd.Flags().BoolVar(&versionsVerify, "verify", false, "Verify the chain's hash links")
	versionsCmd.MarkFlagRequired("category")
}

// =============================================================================
// Versions Execution
// =============================================================================

func runVersions(cmd *cobra.Command, args []string) error {
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

	componentID := componentgraphdb.ComponentID(args[0], versionsCategory)
	chain, err := backing.tracker.Chain(componentID)
	if err != nil {
		return fmt.Errorf("failed to load chain: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(chain) == 0 {
		fmt.Fprintf(w, "No versions recorded for %s (%s).\n", args[0], componentID)
		return nil
	}

	if err := outputChain(w, args[0], componentID, chain); err != nil {
		return err
	}

	if versionsVerify {
		return outputVerification(w, backing.tracker, componentID)
	}
	return nil
}

// =============================================================================
// Output Formatting
// =============================================================================

func outputChain(w io.Writer, name, componentID string, chain []*versioning.VersionRecord) error {
	if versionsJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(chain)
	}

	fmt.Fprintf(w, "%s%s%s %s(%s)%s\n", colorBold, name, colorReset, colorGray, componentID, colorReset)
	for _, record := range chain {
		fmt.Fprintf(w, "   %sv%-4d%s %s  %s%s%s\n",
			colorYellow, record.Sequence, colorReset,
			record.ContentHash[:16],
			colorGray, record.RecordedAt.Format(time.RFC3339), colorReset)
	}
	fmt.Fprintln(w)
	return nil
}

func outputVerification(w io.Writer, tracker *versioning.Tracker, componentID string) error {
	err := tracker.VerifyChain(componentID)
	switch {
	case err == nil:
		fmt.Fprintf(w, "%s✓ chain verified%s\n", colorGreen, colorReset)
		return nil
	case errors.Is(err, versioning.ErrChainCorrupt):
		fmt.Fprintf(w, "%s✗ chain corrupt: %v%s\n", colorRed, err, colorReset)
		return err
	default:
		return fmt.Errorf("failed to verify chain: %w", err)
	}
}
