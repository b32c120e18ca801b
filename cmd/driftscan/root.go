// Package main provides the entry point for the driftscan CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for driftscan.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driftscan",
		Short: "Drift-aware crawler for unstable paginated listings",
		Long: `Driftscan crawls paginated listing endpoints whose page-to-content
mapping shifts while documents are added and removed, and maintains a
deduplicated manifest of every identifier the listing has ever exposed.

Crawl progress is checkpointed atomically, so an interrupted run resumes
exactly where it stopped. Before resuming, a sample of already-visited
pages is re-fetched to detect drift; a drifted listing advances to a new
epoch instead of silently reconciling stale page records.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewProbeCmd())
	cmd.AddCommand(NewDiffCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
