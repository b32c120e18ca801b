package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/driftscan/internal/checkpoint"
	"github.com/nao1215/driftscan/internal/config"
	"github.com/nao1215/driftscan/internal/database"
	"github.com/nao1215/driftscan/internal/drift"
	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/model"
)

// NewVerifyCmd creates the verify command.
// This command re-checks a sample of already-crawled pages without
// crawling anything new.
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [endpoint-url]",
		Short: "Re-check crawled pages for drift without crawling",
		Long: `Verify re-fetches a sample of pages recorded in an endpoint's checkpoint
and compares their content fingerprints against the recorded ones.

A page whose fingerprint changed means the listing shifted underneath
the checkpoint: the page-to-content mapping from crawl time can no
longer be trusted, and the next 'driftscan scan' will advance to a new
epoch automatically.

Verify never modifies the checkpoint. It is safe to run at any time,
for example from a cron job that watches a listing for churn.

Examples:
  # Verify the default checkpoint of an endpoint
  driftscan verify https://example.com/listing

  # Verify a larger sample against an explicit checkpoint file
  driftscan verify --sample-size 50 --checkpoint cp.json https://example.com/listing

  # Machine-readable verdicts
  driftscan verify --json https://example.com/listing`,
		Args: cobra.ExactArgs(1),
		RunE: runVerifyCmd,
	}

	cmd.Flags().Int("sample-size", config.DefaultSampleSize,
		"Number of recorded pages to re-fetch")
	cmd.Flags().String("checkpoint", "",
		"Checkpoint file path (default: per-endpoint file under the XDG data directory)")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Per-request timeout")
	cmd.Flags().Duration("delay", config.DefaultDelay,
		"Minimum interval between requests")
	cmd.Flags().String("page-param", config.DefaultPageParam,
		"Query parameter carrying the page number")
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .driftscan in current or home directory)")
	cmd.Flags().BoolP("json", "j", false,
		"Output verdicts in JSON format")

	return cmd
}

// runVerifyCmd executes the verify command.
func runVerifyCmd(cmd *cobra.Command, args []string) error {
	endpoint := args[0]

	cfg := config.NewConfig()
	cfg.Endpoints = args

	var err error
	cfg.SampleSize, err = cmd.Flags().GetInt("sample-size")
	if err != nil {
		return err
	}
	cfg.CheckpointPath, err = cmd.Flags().GetString("checkpoint")
	if err != nil {
		return err
	}
	cfg.Timeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	cfg.Delay, err = cmd.Flags().GetDuration("delay")
	if err != nil {
		return err
	}
	cfg.PageParam, err = cmd.Flags().GetString("page-param")
	if err != nil {
		return err
	}
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	if err := loadProfiles(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	verbose := getVerboseFlag(cmd)
	logger := setupLogger(verbose)
	slog.SetDefault(logger)

	ctx := context.Background()

	// Load the checkpoint to verify against
	store := checkpoint.NewStore(checkpointPathFor(cfg, endpoint))
	cp, err := store.Load()
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("no checkpoint found for %s (run 'driftscan scan' first)", endpoint)
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp.Endpoint != endpoint {
		return fmt.Errorf("checkpoint belongs to %s, not %s", cp.Endpoint, endpoint)
	}

	// Build the fetcher with the endpoint's profile
	profile := getEndpointProfile(cfg, endpoint)
	pageParam := cfg.PageParam
	if profile.PageParam != "" {
		pageParam = profile.PageParam
	}
	fetchOpts := []fetch.Option{
		fetch.WithTimeout(cfg.Timeout),
		fetch.WithDelay(cfg.Delay),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithPageParam(pageParam),
		fetch.WithLogger(logger),
	}
	if profile.Cookie != "" {
		fetchOpts = append(fetchOpts, fetch.WithCookie(profile.Cookie))
	}
	if len(profile.Headers) > 0 {
		fetchOpts = append(fetchOpts, fetch.WithHeaders(profile.Headers))
	}
	client, err := fetch.NewClient(endpoint, fetchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create fetch client: %w", err)
	}

	extractor := extract.New(patternForEndpoint(cfg, profile))
	detector := drift.New(client, extractor,
		drift.WithSampleSize(cfg.SampleSize),
		drift.WithLogger(logger),
	)

	summary, err := detector.Check(ctx, cp)
	if err != nil {
		return fmt.Errorf("drift verification failed: %w", err)
	}

	// Archive the verdicts alongside crawl history
	db, err := database.Open(config.XDGDataDir(), database.DefaultOptions())
	if err != nil {
		logger.Warn("failed to open database, verdicts not archived", "error", err)
	} else {
		defer db.Close()
		if err := db.SaveDriftSummary(ctx, endpoint, summary); err != nil {
			logger.Warn("failed to archive drift verdicts", "error", err)
		}
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	}
	return outputVerifyText(endpoint, summary)
}

// loadProfiles loads endpoint profiles from the config file into cfg.
// An explicitly specified config path must exist; otherwise a missing
// file is treated as an empty configuration.
func loadProfiles(cfg *config.Config) error {
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)

	if configPath != "" {
		profiles, err := config.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cfg.Profiles = profiles
		return nil
	}
	if explicitConfigPath {
		return fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}
	cfg.Profiles = &config.File{
		Endpoints: make(map[string]config.EndpointProfile),
	}
	return nil
}

// outputVerifyText renders a drift summary in human-readable form.
func outputVerifyText(endpoint string, summary *model.DriftSummary) error {
	fmt.Printf("Drift verification: %s\n", endpoint)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\nEpoch:   %d\n", summary.Epoch)
	fmt.Printf("Sampled: %d pages\n", len(summary.Reports))
	fmt.Printf("\n  %-10s %d\n", "Matched:", summary.Matched)
	fmt.Printf("  %-10s %d\n", "Changed:", summary.Changed)
	fmt.Printf("  %-10s %d\n", "Skipped:", summary.Skipped)

	// Show every page that did not simply match
	var shown bool
	for _, r := range summary.Reports {
		if r.Verdict == model.VerdictMatch {
			continue
		}
		if !shown {
			fmt.Println()
			shown = true
		}
		if r.Note != "" {
			fmt.Printf("  page %s: %s (%s)\n", r.Page, r.Verdict, r.Note)
		} else {
			fmt.Printf("  page %s: %s\n", r.Page, r.Verdict)
		}
	}

	fmt.Println()
	if summary.Drifted() {
		fmt.Printf("Listing drifted: the next scan will run under epoch %d.\n", summary.NextEpoch())
	} else {
		fmt.Printf("Listing stable: epoch %d continues.\n", summary.Epoch)
	}

	return nil
}
