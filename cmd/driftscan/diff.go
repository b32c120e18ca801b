package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/driftscan/internal/checkpoint"
	"github.com/nao1215/driftscan/internal/config"
	"github.com/nao1215/driftscan/internal/database"
	"github.com/nao1215/driftscan/internal/diffset"
	"github.com/nao1215/driftscan/internal/model"
)

// Constants for manifest growth direction.
const (
	manifestDirectionGrew      = "grew"
	manifestDirectionShrank    = "shrank"
	manifestDirectionUnchanged = "unchanged"
)

// maxListedIdentifiers bounds how many added/removed identifiers the
// text and markdown outputs list before truncating.
const maxListedIdentifiers = 20

// NewDiffCmd creates the diff command.
// This command compares crawl results, either two archived runs of an
// endpoint or two checkpoint files.
func NewDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff [endpoint-url | checkpoint-a checkpoint-b]",
		Short: "Compare crawl runs or checkpoint manifests",
		Long: `Diff displays differences between crawl results.

With one endpoint URL, it compares the latest two archived runs of that
endpoint from the database: manifest growth, classification changes, and
epoch advances. Use --with-run-id or --since to pick the older run.

With two file paths, it compares the identifier manifests of two
checkpoint files directly, listing identifiers present in only one of
them. This works across endpoints and epochs.

With --reference, it compares one checkpoint's manifest against an
external newline-delimited identifier list and partitions the union
into crawl-only, reference-only, and shared identifiers. Reference
lines may carry the pattern suffix and mixed case; they are normalized
on load.

Examples:
  # Compare the latest two archived runs of an endpoint
  driftscan diff https://example.com/listing

  # Compare with a specific archived run by ID
  driftscan diff --with-run-id 5 https://example.com/listing

  # Compare with the first run after a date
  driftscan diff --since "2026-01-01" https://example.com/listing

  # Compare two checkpoint files identifier by identifier
  driftscan diff old-checkpoint.json new-checkpoint.json

  # Compare a crawl against an externally published identifier list
  driftscan diff --reference published.txt checkpoint.json

  # Write the three partition lists as files
  driftscan diff --reference published.txt --sections out/ checkpoint.json

  # Output in JSON format
  driftscan diff --json https://example.com/listing`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runDiffCmd,
	}

	// Comparison target flags
	cmd.Flags().Int64P("with-run-id", "i", 0,
		"Compare with a specific archived run by ID (use 'driftscan history' to see IDs)")
	cmd.Flags().StringP("since", "s", "",
		"Compare with the first run after this date (format: YYYY-MM-DD)")
	cmd.Flags().StringP("reference", "r", "",
		"Newline-delimited identifier list to compare the checkpoint manifest against")
	cmd.Flags().String("sections", "",
		"Directory to write the three partition lists into (reference mode only)")

	// Identifier pattern flags, for parsing the reference list
	pattern := model.DefaultPattern()
	cmd.Flags().String("prefix", pattern.Prefix,
		"Identifier prefix expected in the reference list")
	cmd.Flags().Int("digits", pattern.Digits,
		"Number of digits in reference-list identifiers")
	cmd.Flags().String("suffix", pattern.Suffix,
		"Suffix tolerated on reference-list identifiers")

	// Output format flags
	cmd.Flags().BoolP("json", "j", false,
		"Output comparison result in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output comparison result in Markdown format")

	return cmd
}

// runDiffCmd executes the diff command.
func runDiffCmd(cmd *cobra.Command, args []string) error {
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOutput && markdownOutput {
		return errors.New("--json and --markdown are mutually exclusive")
	}

	referencePath, err := cmd.Flags().GetString("reference")
	if err != nil {
		return err
	}
	if referencePath != "" {
		if len(args) != 1 {
			return errors.New("--reference takes exactly one checkpoint file")
		}
		sectionsDir, err := cmd.Flags().GetString("sections")
		if err != nil {
			return err
		}
		pattern, err := patternFromFlags(cmd)
		if err != nil {
			return err
		}
		return runReferenceDiff(args[0], referencePath, pattern, sectionsDir, jsonOutput, markdownOutput)
	}

	// Two file paths: direct manifest diff between checkpoints
	if len(args) == 2 {
		return runCheckpointDiff(args[0], args[1], jsonOutput, markdownOutput)
	}

	// One endpoint: compare archived runs from the database
	withRunID, err := cmd.Flags().GetInt64("with-run-id")
	if err != nil {
		return err
	}
	sinceDate, err := cmd.Flags().GetString("since")
	if err != nil {
		return err
	}

	db, err := database.Open(config.XDGDataDir(), database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return runRunComparison(context.Background(), db, args[0], withRunID, sinceDate, jsonOutput, markdownOutput)
}

// ManifestDiff holds the result of comparing two checkpoint manifests.
type ManifestDiff struct {
	// PathA and PathB are the compared checkpoint files.
	PathA string `json:"path_a"`
	PathB string `json:"path_b"`

	// EndpointA and EndpointB are the checkpoints' listing endpoints.
	EndpointA string `json:"endpoint_a"`
	EndpointB string `json:"endpoint_b"`

	// EpochA and EpochB are the checkpoints' drift epochs.
	EpochA int `json:"epoch_a"`
	EpochB int `json:"epoch_b"`

	// SizeA and SizeB are the manifest sizes.
	SizeA int `json:"size_a"`
	SizeB int `json:"size_b"`

	// Added lists identifiers present only in B.
	Added []model.Identifier `json:"added,omitempty"`

	// Removed lists identifiers present only in A.
	Removed []model.Identifier `json:"removed,omitempty"`

	// CommonCount is the number of identifiers present in both.
	CommonCount int `json:"common_count"`
}

// runCheckpointDiff compares the manifests of two checkpoint files.
func runCheckpointDiff(pathA, pathB string, jsonOutput, markdownOutput bool) error {
	cpA, err := loadCheckpointFile(pathA)
	if err != nil {
		return err
	}
	cpB, err := loadCheckpointFile(pathB)
	if err != nil {
		return err
	}

	result := diffset.Diff(
		model.ManifestFromEntries(cpA.Manifest),
		model.ManifestFromEntries(cpB.Manifest),
	)

	diff := &ManifestDiff{
		PathA:       pathA,
		PathB:       pathB,
		EndpointA:   cpA.Endpoint,
		EndpointB:   cpB.Endpoint,
		EpochA:      cpA.Epoch,
		EpochB:      cpB.Epoch,
		SizeA:       result.SizeA,
		SizeB:       result.SizeB,
		Added:       result.OnlyB,
		Removed:     result.OnlyA,
		CommonCount: len(result.Common),
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(diff)
	}
	if markdownOutput {
		return outputManifestDiffMarkdown(diff)
	}
	return outputManifestDiffText(diff)
}

// loadCheckpointFile loads a checkpoint from an explicit path.
func loadCheckpointFile(path string) (*model.Checkpoint, error) {
	cp, err := checkpoint.NewStore(path).Load()
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("checkpoint not found: %s", path)
		}
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// patternFromFlags builds the identifier pattern used to parse a
// reference list.
func patternFromFlags(cmd *cobra.Command) (model.Pattern, error) {
	var pattern model.Pattern
	var err error
	if pattern.Prefix, err = cmd.Flags().GetString("prefix"); err != nil {
		return pattern, err
	}
	if pattern.Digits, err = cmd.Flags().GetInt("digits"); err != nil {
		return pattern, err
	}
	if pattern.Suffix, err = cmd.Flags().GetString("suffix"); err != nil {
		return pattern, err
	}
	if err := pattern.Validate(); err != nil {
		return pattern, err
	}
	return pattern, nil
}

// Section file names written by --sections.
const (
	sectionOnlyInCrawl     = "only-in-crawl.txt"
	sectionOnlyInReference = "only-in-reference.txt"
	sectionInBoth          = "in-both.txt"
)

// ReferenceDiff holds the comparison of a crawl manifest against an
// external reference list.
type ReferenceDiff struct {
	// CheckpointPath is the compared checkpoint file.
	CheckpointPath string `json:"checkpoint_path"`

	// ReferencePath is the external identifier list.
	ReferencePath string `json:"reference_path"`

	// Endpoint and Epoch come from the checkpoint.
	Endpoint string `json:"endpoint"`
	Epoch    int    `json:"epoch"`

	// CrawlSize and ReferenceSize are the two manifest sizes.
	CrawlSize     int `json:"crawl_size"`
	ReferenceSize int `json:"reference_size"`

	// OnlyInCrawl lists identifiers the crawl found but the reference
	// list lacks.
	OnlyInCrawl []model.Identifier `json:"only_in_crawl"`

	// OnlyInReference lists identifiers the reference list carries but
	// the crawl never observed.
	OnlyInReference []model.Identifier `json:"only_in_reference"`

	// InBoth lists identifiers present on both sides.
	InBoth []model.Identifier `json:"in_both"`
}

// runReferenceDiff compares a checkpoint's manifest against an external
// newline-delimited identifier list.
func runReferenceDiff(checkpointPath, referencePath string, pattern model.Pattern, sectionsDir string, jsonOutput, markdownOutput bool) error {
	cp, err := loadCheckpointFile(checkpointPath)
	if err != nil {
		return err
	}

	f, err := os.Open(referencePath)
	if err != nil {
		return fmt.Errorf("failed to open reference list %s: %w", referencePath, err)
	}
	reference, err := model.ReadManifest(f, pattern)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read reference list %s: %w", referencePath, err)
	}

	result := diffset.Diff(model.ManifestFromEntries(cp.Manifest), reference)

	diff := &ReferenceDiff{
		CheckpointPath:  checkpointPath,
		ReferencePath:   referencePath,
		Endpoint:        cp.Endpoint,
		Epoch:           cp.Epoch,
		CrawlSize:       result.SizeA,
		ReferenceSize:   result.SizeB,
		OnlyInCrawl:     result.OnlyA,
		OnlyInReference: result.OnlyB,
		InBoth:          result.Common,
	}

	if sectionsDir != "" {
		if err := writeSections(sectionsDir, diff); err != nil {
			return err
		}
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(diff)
	}
	if markdownOutput {
		return outputReferenceDiffMarkdown(diff)
	}
	return outputReferenceDiffText(diff, sectionsDir)
}

// writeSections writes the three partition lists as files, one bare
// identifier per line like manifest exports.
func writeSections(dir string, diff *ReferenceDiff) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create sections directory: %w", err)
	}
	sections := []struct {
		name string
		ids  []model.Identifier
	}{
		{sectionOnlyInCrawl, diff.OnlyInCrawl},
		{sectionOnlyInReference, diff.OnlyInReference},
		{sectionInBoth, diff.InBoth},
	}
	for _, section := range sections {
		f, err := os.Create(filepath.Join(dir, section.name))
		if err != nil {
			return fmt.Errorf("create section file: %w", err)
		}
		if err := diffset.WriteSection(f, section.ids); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close section file: %w", err)
		}
	}
	return nil
}

// outputReferenceDiffText outputs a reference diff in human-readable form.
func outputReferenceDiffText(diff *ReferenceDiff, sectionsDir string) error {
	fmt.Println("Reference diff")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\nCrawl:     %s\n           %s (epoch %d, %d identifiers)\n",
		diff.CheckpointPath, diff.Endpoint, diff.Epoch, diff.CrawlSize)
	fmt.Printf("Reference: %s (%d identifiers)\n", diff.ReferencePath, diff.ReferenceSize)

	fmt.Printf("\n  %-19s %d\n", "Only in crawl:", len(diff.OnlyInCrawl))
	fmt.Printf("  %-19s %d\n", "Only in reference:", len(diff.OnlyInReference))
	fmt.Printf("  %-19s %d\n", "In both:", len(diff.InBoth))

	listIdentifiers := func(label string, ids []model.Identifier) {
		if len(ids) == 0 {
			return
		}
		fmt.Printf("\n%s (%d):\n", label, len(ids))
		for i, id := range ids {
			if i == maxListedIdentifiers {
				fmt.Printf("  ... and %d more\n", len(ids)-maxListedIdentifiers)
				break
			}
			fmt.Printf("  %s\n", id)
		}
	}

	listIdentifiers("Only in crawl", diff.OnlyInCrawl)
	listIdentifiers("Only in reference", diff.OnlyInReference)

	if len(diff.OnlyInCrawl) == 0 && len(diff.OnlyInReference) == 0 {
		fmt.Println("\nThe crawl matches the reference list exactly.")
	}
	if sectionsDir != "" {
		fmt.Printf("\nPartition lists written to %s\n", sectionsDir)
	}

	return nil
}

// outputReferenceDiffMarkdown outputs a reference diff in Markdown format.
func outputReferenceDiffMarkdown(diff *ReferenceDiff) error {
	fmt.Printf("# Reference Diff\n\n")

	fmt.Println("| Side | Source | Identifiers |")
	fmt.Println("|------|--------|-------------|")
	fmt.Printf("| Crawl | `%s` (epoch %d) | %d |\n", diff.CheckpointPath, diff.Epoch, diff.CrawlSize)
	fmt.Printf("| Reference | `%s` | %d |\n", diff.ReferencePath, diff.ReferenceSize)

	fmt.Printf("\n**Only in crawl:** %d, **Only in reference:** %d, **In both:** %d\n",
		len(diff.OnlyInCrawl), len(diff.OnlyInReference), len(diff.InBoth))

	listIdentifiers := func(heading string, ids []model.Identifier) {
		if len(ids) == 0 {
			return
		}
		fmt.Printf("\n## %s (%d)\n\n", heading, len(ids))
		for i, id := range ids {
			if i == maxListedIdentifiers {
				fmt.Printf("- *... and %d more*\n", len(ids)-maxListedIdentifiers)
				break
			}
			fmt.Printf("- `%s`\n", id)
		}
	}

	listIdentifiers("Only in Crawl", diff.OnlyInCrawl)
	listIdentifiers("Only in Reference", diff.OnlyInReference)

	return nil
}

// outputManifestDiffText outputs a manifest diff in human-readable form.
func outputManifestDiffText(diff *ManifestDiff) error {
	fmt.Println("Manifest diff")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\nA: %s\n   %s (epoch %d, %d identifiers)\n", diff.PathA, diff.EndpointA, diff.EpochA, diff.SizeA)
	fmt.Printf("B: %s\n   %s (epoch %d, %d identifiers)\n", diff.PathB, diff.EndpointB, diff.EpochB, diff.SizeB)

	if diff.EndpointA != diff.EndpointB {
		fmt.Println("\nNote: the checkpoints belong to different endpoints.")
	}

	fmt.Printf("\n  %-10s %s\n", "Added:", formatDelta(len(diff.Added)))
	fmt.Printf("  %-10s %s\n", "Removed:", formatDelta(-len(diff.Removed)))
	fmt.Printf("  %-10s %d\n", "Common:", diff.CommonCount)

	listIdentifiers := func(label, sign string, ids []model.Identifier) {
		if len(ids) == 0 {
			return
		}
		fmt.Printf("\n%s (%d):\n", label, len(ids))
		for i, id := range ids {
			if i == maxListedIdentifiers {
				fmt.Printf("  ... and %d more\n", len(ids)-maxListedIdentifiers)
				break
			}
			fmt.Printf("  [%s] %s\n", sign, id)
		}
	}

	listIdentifiers("Added identifiers", "+", diff.Added)
	listIdentifiers("Removed identifiers", "-", diff.Removed)

	if len(diff.Added) == 0 && len(diff.Removed) == 0 {
		fmt.Println("\nThe manifests are identical.")
	}

	return nil
}

// outputManifestDiffMarkdown outputs a manifest diff in Markdown format.
func outputManifestDiffMarkdown(diff *ManifestDiff) error {
	fmt.Printf("# Manifest Diff\n\n")

	fmt.Println("| Side | Checkpoint | Endpoint | Epoch | Identifiers |")
	fmt.Println("|------|------------|----------|-------|-------------|")
	fmt.Printf("| A | `%s` | `%s` | %d | %d |\n", diff.PathA, diff.EndpointA, diff.EpochA, diff.SizeA)
	fmt.Printf("| B | `%s` | `%s` | %d | %d |\n", diff.PathB, diff.EndpointB, diff.EpochB, diff.SizeB)

	fmt.Printf("\n**Added:** %s, **Removed:** %s, **Common:** %d\n",
		formatDelta(len(diff.Added)), formatDelta(-len(diff.Removed)), diff.CommonCount)

	listIdentifiers := func(heading string, ids []model.Identifier) {
		if len(ids) == 0 {
			return
		}
		fmt.Printf("\n## %s (%d)\n\n", heading, len(ids))
		for i, id := range ids {
			if i == maxListedIdentifiers {
				fmt.Printf("- *... and %d more*\n", len(ids)-maxListedIdentifiers)
				break
			}
			fmt.Printf("- `%s`\n", id)
		}
	}

	listIdentifiers("Added Identifiers", diff.Added)
	listIdentifiers("Removed Identifiers", diff.Removed)

	return nil
}

// runRunComparison compares two archived runs of an endpoint.
func runRunComparison(ctx context.Context, db *database.CrawlDB, endpoint string, withRunID int64, sinceDate string, jsonOutput, markdownOutput bool) error {
	// Get the run history
	reports, err := db.GetRunHistory(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to get run history: %w", err)
	}

	if len(reports) == 0 {
		return fmt.Errorf("no run history found for %s", endpoint)
	}

	if len(reports) < 2 && withRunID == 0 && sinceDate == "" {
		return fmt.Errorf("at least 2 runs are required for comparison (found %d)", len(reports))
	}

	// Determine which runs to compare
	var currentRun, previousRun *model.CrawlReport

	// Latest run is always the current one
	currentRun = reports[0]

	if withRunID > 0 {
		// Find the run with the specified ID
		previousRun, err = db.GetCrawlReportByID(ctx, withRunID)
		if err != nil {
			return fmt.Errorf("failed to get run with ID %d: %w", withRunID, err)
		}
		if previousRun == nil {
			return fmt.Errorf("run with ID %d not found", withRunID)
		}
		// Validate that the run ID belongs to the same endpoint
		if previousRun.Endpoint != endpoint {
			return fmt.Errorf("run ID %d belongs to %s, not %s", withRunID, previousRun.Endpoint, endpoint)
		}
	} else if sinceDate != "" {
		// Parse the date and find the first (oldest) run at or after the specified date
		parsedDate, err := time.Parse("2006-01-02", sinceDate)
		if err != nil {
			return fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
		}

		// Runs are sorted newest first, so iterate in reverse to find
		// the oldest run at or after the date
		for i := len(reports) - 1; i >= 0; i-- {
			r := reports[i]
			if r.StartedAt.After(parsedDate) || r.StartedAt.Equal(parsedDate) {
				previousRun = r
				break
			}
		}
		if previousRun == nil {
			return fmt.Errorf("no runs found since %s", sinceDate)
		}
		if previousRun == currentRun {
			return fmt.Errorf("only one run found since %s; at least 2 runs are required for comparison", sinceDate)
		}
	} else {
		// Default: compare with the previous run
		previousRun = reports[1]
	}

	// Generate comparison result
	comparison := compareRuns(previousRun, currentRun)

	// Output the result
	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(comparison)
	}
	if markdownOutput {
		return outputRunComparisonMarkdown(comparison)
	}
	return outputRunComparisonText(comparison)
}

// RunComparison holds the result of comparing two archived runs.
type RunComparison struct {
	// Endpoint is the compared listing endpoint.
	Endpoint string `json:"endpoint"`

	// PreviousRun contains metadata about the older run.
	PreviousRun RunInfo `json:"previous_run"`

	// CurrentRun contains metadata about the newer run.
	CurrentRun RunInfo `json:"current_run"`

	// ManifestDelta is the change in distinct identifier count.
	ManifestDelta int `json:"manifest_delta"`

	// ClassDeltas holds the per-classification page count changes.
	ClassDeltas map[model.Class]int `json:"class_deltas"`

	// Direction is "grew", "shrank", or "unchanged", by manifest size.
	Direction string `json:"direction"`

	// EpochAdvanced reports that the listing drifted between the runs.
	EpochAdvanced bool `json:"epoch_advanced"`
}

// RunInfo contains metadata about a run for comparison display.
type RunInfo struct {
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Epoch is the drift epoch the run crawled under.
	Epoch int `json:"epoch"`

	// ManifestSize is the distinct identifier count after the run.
	ManifestSize int `json:"manifest_size"`

	// NewIdentifiers counts identifiers first discovered in the run.
	NewIdentifiers int `json:"new_identifiers"`

	// PagesProcessed counts pages fetched and classified in the run.
	PagesProcessed int `json:"pages_processed"`

	// Counts tallies pages per classification.
	Counts map[model.Class]int `json:"counts"`
}

// compareRuns compares two archived runs and generates a comparison result.
func compareRuns(previous, current *model.CrawlReport) *RunComparison {
	result := &RunComparison{
		Endpoint:    current.Endpoint,
		PreviousRun: runInfo(previous),
		CurrentRun:  runInfo(current),
		ClassDeltas: make(map[model.Class]int),
	}

	result.ManifestDelta = current.ManifestSize - previous.ManifestSize
	for _, class := range model.Classes() {
		result.ClassDeltas[class] = current.Counts[class] - previous.Counts[class]
	}

	switch {
	case result.ManifestDelta > 0:
		result.Direction = manifestDirectionGrew
	case result.ManifestDelta < 0:
		result.Direction = manifestDirectionShrank
	default:
		result.Direction = manifestDirectionUnchanged
	}

	result.EpochAdvanced = current.Epoch > previous.Epoch

	return result
}

// runInfo extracts display metadata from an archived run.
func runInfo(r *model.CrawlReport) RunInfo {
	return RunInfo{
		StartedAt:      r.StartedAt,
		Epoch:          r.Epoch,
		ManifestSize:   r.ManifestSize,
		NewIdentifiers: r.NewIdentifiers,
		PagesProcessed: r.PagesProcessed,
		Counts:         r.Counts,
	}
}

// outputRunComparisonMarkdown outputs the run comparison in Markdown format.
func outputRunComparisonMarkdown(result *RunComparison) error {
	fmt.Printf("# Run Comparison: %s\n\n", result.Endpoint)

	// Manifest change summary
	fmt.Println("## Summary")
	fmt.Printf("\n**Manifest:** %s\n\n", formatManifestDirection(result.Direction, result.ManifestDelta))
	if result.EpochAdvanced {
		fmt.Printf("**Epoch advanced:** %d → %d (the listing drifted between the runs)\n\n",
			result.PreviousRun.Epoch, result.CurrentRun.Epoch)
	}

	// Run metadata table
	fmt.Println("| Metric | Previous | Current | Change |")
	fmt.Println("|--------|----------|---------|--------|")
	fmt.Printf("| Date | %s | %s | - |\n",
		result.PreviousRun.StartedAt.Format("2006-01-02 15:04"),
		result.CurrentRun.StartedAt.Format("2006-01-02 15:04"))
	fmt.Printf("| Epoch | %d | %d | %s |\n",
		result.PreviousRun.Epoch,
		result.CurrentRun.Epoch,
		formatDelta(result.CurrentRun.Epoch-result.PreviousRun.Epoch))
	fmt.Printf("| Manifest size | %d | %d | %s |\n",
		result.PreviousRun.ManifestSize,
		result.CurrentRun.ManifestSize,
		formatDelta(result.ManifestDelta))
	fmt.Printf("| Pages processed | %d | %d | %s |\n",
		result.PreviousRun.PagesProcessed,
		result.CurrentRun.PagesProcessed,
		formatDelta(result.CurrentRun.PagesProcessed-result.PreviousRun.PagesProcessed))
	for _, class := range model.Classes() {
		fmt.Printf("| %s | %d | %d | %s |\n",
			class,
			result.PreviousRun.Counts[class],
			result.CurrentRun.Counts[class],
			formatDelta(result.ClassDeltas[class]))
	}

	return nil
}

// outputRunComparisonText outputs the run comparison in human-readable text format.
func outputRunComparisonText(result *RunComparison) error {
	fmt.Printf("Run Comparison: %s\n", result.Endpoint)
	fmt.Println(strings.Repeat("=", 60))

	// Manifest change summary
	fmt.Printf("\nManifest: %s\n", formatManifestDirection(result.Direction, result.ManifestDelta))
	if result.EpochAdvanced {
		fmt.Printf("Epoch advanced: %d -> %d (the listing drifted between the runs)\n",
			result.PreviousRun.Epoch, result.CurrentRun.Epoch)
	}

	// Run dates
	fmt.Printf("\nPrevious run: %s (epoch %d)\n",
		result.PreviousRun.StartedAt.Format("2006-01-02 15:04:05"), result.PreviousRun.Epoch)
	fmt.Printf("Current run:  %s (epoch %d)\n",
		result.CurrentRun.StartedAt.Format("2006-01-02 15:04:05"), result.CurrentRun.Epoch)

	// Summary table
	fmt.Println("\nRun Summary:")
	fmt.Printf("  %-16s  %-10s  %-10s  %-10s\n", "Metric", "Previous", "Current", "Change")
	fmt.Println("  " + strings.Repeat("-", 52))
	fmt.Printf("  %-16s  %-10d  %-10d  %-10s\n", "Manifest size",
		result.PreviousRun.ManifestSize, result.CurrentRun.ManifestSize,
		formatDelta(result.ManifestDelta))
	fmt.Printf("  %-16s  %-10d  %-10d  %-10s\n", "New identifiers",
		result.PreviousRun.NewIdentifiers, result.CurrentRun.NewIdentifiers,
		formatDelta(result.CurrentRun.NewIdentifiers-result.PreviousRun.NewIdentifiers))
	fmt.Printf("  %-16s  %-10d  %-10d  %-10s\n", "Pages processed",
		result.PreviousRun.PagesProcessed, result.CurrentRun.PagesProcessed,
		formatDelta(result.CurrentRun.PagesProcessed-result.PreviousRun.PagesProcessed))
	for _, class := range model.Classes() {
		fmt.Printf("  %-16s  %-10d  %-10d  %-10s\n", class,
			result.PreviousRun.Counts[class], result.CurrentRun.Counts[class],
			formatDelta(result.ClassDeltas[class]))
	}

	return nil
}

// formatManifestDirection formats the manifest change direction for display.
func formatManifestDirection(direction string, delta int) string {
	switch direction {
	case manifestDirectionGrew:
		return fmt.Sprintf("GREW (%s identifiers)", formatDelta(delta))
	case manifestDirectionShrank:
		return fmt.Sprintf("SHRANK (%s identifiers; manifests never forget, check the archive)", formatDelta(delta))
	default:
		return "UNCHANGED"
	}
}

// formatDelta formats a numeric delta with sign for display.
func formatDelta(delta int) string {
	if delta > 0 {
		return "+" + strconv.Itoa(delta)
	} else if delta < 0 {
		return strconv.Itoa(delta)
	}
	return "0"
}
