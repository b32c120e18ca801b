package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/driftscan/internal/config"
	"github.com/nao1215/driftscan/internal/database"
	"github.com/nao1215/driftscan/internal/model"
)

// noRunsMessage is shown for runs without a stored class summary.
const noRunsMessage = "N/A"

// NewHistoryCmd creates the history command.
// This command lists archived crawl runs and drift verdicts from the
// database.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [endpoint-url]",
		Short: "List archived crawl runs and drift verdicts",
		Long: `History displays archived crawl results from the database.

Without arguments it lists every endpoint that has archived runs. With
an endpoint URL it lists that endpoint's run history: run IDs, dates,
epochs, and per-classification page counts. Run IDs feed
'driftscan diff --with-run-id'.

Examples:
  # List all archived endpoints
  driftscan history

  # List run history for an endpoint
  driftscan history https://example.com/listing

  # List drift verification verdicts for an endpoint
  driftscan history --drift https://example.com/listing`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().BoolP("drift", "d", false,
		"List drift verification verdicts instead of crawl runs")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	driftHistory, err := cmd.Flags().GetBool("drift")
	if err != nil {
		return err
	}
	if driftHistory && len(args) == 0 {
		return fmt.Errorf("--drift requires an endpoint URL")
	}

	db, err := database.Open(config.XDGDataDir(), database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	if len(args) == 0 {
		return listArchivedEndpoints(ctx, db)
	}
	if driftHistory {
		return listDriftHistory(ctx, db, args[0])
	}
	return listRunHistory(ctx, db, args[0])
}

// listArchivedEndpoints lists all endpoints with archived runs.
func listArchivedEndpoints(ctx context.Context, db *database.CrawlDB) error {
	endpoints, err := db.ListEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to list endpoints: %w", err)
	}

	if len(endpoints) == 0 {
		fmt.Println("No archived runs found in the database.")
		fmt.Println("\nUse 'driftscan scan <endpoint-url>' to crawl a listing.")
		return nil
	}

	fmt.Printf("Archived endpoints (%d):\n\n", len(endpoints))
	for _, endpoint := range endpoints {
		fmt.Printf("  • %s\n", endpoint)
	}
	fmt.Println("\nUse 'driftscan history <endpoint-url>' to see run history for an endpoint.")

	return nil
}

// listRunHistory lists all archived runs for a specific endpoint.
func listRunHistory(ctx context.Context, db *database.CrawlDB, endpoint string) error {
	runs, err := db.GetRunHistoryWithMetadata(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to get run history: %w", err)
	}

	if len(runs) == 0 {
		fmt.Printf("No run history found for %s\n", endpoint)
		fmt.Println("\nUse 'driftscan scan' to crawl this listing.")
		return nil
	}

	fmt.Printf("Run history for %s (%d runs):\n\n", endpoint, len(runs))
	fmt.Printf("  %-6s  %-20s  %-6s  %s\n", "ID", "Date", "Epoch", "Pages")
	fmt.Println("  " + strings.Repeat("-", 60))

	for _, meta := range runs {
		fmt.Printf("  %-6d  %-20s  %-6d  %s\n",
			meta.ID,
			meta.Timestamp.Format("2006-01-02 15:04:05"),
			meta.Epoch,
			formatClassSummary(meta.ClassSummary),
		)
	}

	fmt.Println("\nUse 'driftscan diff <endpoint-url>' to compare the latest two runs.")
	fmt.Println("Use 'driftscan diff --with-run-id <id> <endpoint-url>' to compare with a specific run.")

	return nil
}

// formatClassSummary formats the per-classification page counts into a
// compact human-readable string.
func formatClassSummary(summary map[string]int) string {
	if summary == nil {
		return noRunsMessage
	}

	// Single-letter codes keep the history table narrow:
	// N=NEW, W=TRUE_WRAP, R=REDUNDANT, E=EMPTY, X=ERROR
	codes := map[model.Class]string{
		model.ClassNew:       "N",
		model.ClassTrueWrap:  "W",
		model.ClassRedundant: "R",
		model.ClassEmpty:     "E",
		model.ClassError:     "X",
	}

	var parts []string
	for _, class := range model.Classes() {
		if v := summary[string(class)]; v > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", codes[class], v))
		}
	}

	if len(parts) == 0 {
		return noRunsMessage
	}
	return strings.Join(parts, " ")
}

// listDriftHistory lists archived drift verdicts for a specific endpoint.
func listDriftHistory(ctx context.Context, db *database.CrawlDB, endpoint string) error {
	records, err := db.GetDriftHistory(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to get drift history: %w", err)
	}

	if len(records) == 0 {
		fmt.Printf("No drift verdicts found for %s\n", endpoint)
		fmt.Println("\nUse 'driftscan verify' to check this listing for drift.")
		return nil
	}

	fmt.Printf("Drift verdicts for %s (%d records):\n\n", endpoint, len(records))
	fmt.Printf("  %-20s  %-6s  %-12s  %-8s  %s\n", "Date", "Epoch", "Page", "Verdict", "Note")
	fmt.Println("  " + strings.Repeat("-", 64))

	for _, rec := range records {
		fmt.Printf("  %-20s  %-6d  %-12s  %-8s  %s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Epoch,
			rec.Page,
			rec.Verdict,
			rec.Note,
		)
	}

	return nil
}
