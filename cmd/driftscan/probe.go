package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/driftscan/internal/checkpoint"
	"github.com/nao1215/driftscan/internal/config"
	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/index"
	"github.com/nao1215/driftscan/internal/model"
	"github.com/nao1215/driftscan/internal/probe"
)

// NewProbeCmd creates the probe command.
// This command explores the edges of the page-number space without
// running a full crawl.
func NewProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [endpoint-url]",
		Short: "Probe the page-number boundaries of a listing",
		Long: `Probe sends requests for out-of-range and extreme page numbers to map
how the listing server behaves at the edges of its page space.

It bisects for the last page that still answers distinctly and the
first page that fails or degenerates, in both directions. Out-of-range
responses whose content fingerprint equals the reference page's are
reported as clamped: the server silently serves a default page instead
of erroring.

When a checkpoint exists for the endpoint, probe responses are also
classified against the crawled manifest, so a probe can reveal
identifiers the bounded crawl never reached.

Examples:
  # Probe both boundaries of a listing
  driftscan probe https://example.com/listing

  # Compare out-of-range responses against a different reference page
  driftscan probe --reference-page 1 https://example.com/listing

  # Bound the upward sweep
  driftscan probe --search-cap 1000000 https://example.com/listing

  # Machine-readable findings
  driftscan probe --json https://example.com/listing`,
		Args: cobra.ExactArgs(1),
		RunE: runProbeCmd,
	}

	cmd.Flags().String("reference-page", "0",
		"Page whose fingerprint out-of-range responses are compared against")
	cmd.Flags().String("search-cap", "",
		"Upper bound for the boundary sweep (default: a generous built-in cap)")
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
		"Output findings in JSON format")

	return cmd
}

// runProbeCmd executes the probe command.
func runProbeCmd(cmd *cobra.Command, args []string) error {
	endpoint := args[0]

	cfg := config.NewConfig()
	cfg.Endpoints = args

	var err error
	referencePage, err := cmd.Flags().GetString("reference-page")
	if err != nil {
		return err
	}
	if !model.PageNumber(referencePage).Valid() {
		return fmt.Errorf("invalid reference page: %s", referencePage)
	}

	searchCap, err := cmd.Flags().GetString("search-cap")
	if err != nil {
		return err
	}
	var capLimit *big.Int
	if searchCap != "" {
		capLimit, err = parseSearchCap(searchCap)
		if err != nil {
			return err
		}
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

	probeOpts := []probe.Option{
		probe.WithLogger(logger),
	}
	if capLimit != nil {
		probeOpts = append(probeOpts, probe.WithSearchCap(capLimit))
	}

	// Classify probe responses against the crawled manifest when a
	// checkpoint exists. A missing checkpoint is fine: the probe still
	// maps the boundaries, it just cannot tell NEW from REDUNDANT.
	store := checkpoint.NewStore(checkpointPathFor(cfg, endpoint))
	var cp *model.Checkpoint
	var ix *index.Index
	if loaded, err := store.Load(); err == nil && loaded.Endpoint == endpoint {
		cp = loaded
		ix = index.Restore(cp)
		probeOpts = append(probeOpts, probe.WithIndex(ix))
	} else if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		logger.Warn("checkpoint unavailable, probes will not be classified", "error", err)
	}

	prober := probe.New(client, extractor, probeOpts...)
	boundary, err := prober.Run(ctx, model.PageNumber(referencePage))
	if err != nil {
		return fmt.Errorf("boundary probing failed: %w", err)
	}

	// Probes that landed on uncrawled in-range content merged into the
	// index; write the growth back so the next scan resumes with it.
	if ix != nil {
		before := len(cp.Manifest)
		cp.Manifest = ix.SnapshotManifest().Entries()
		cp.Fingerprints = ix.SnapshotFingerprints()
		cp.Counts = ix.Counts()
		if err := store.Save(cp); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		if grown := len(cp.Manifest) - before; grown > 0 {
			logger.Info("probe grew the manifest", "new_identifiers", grown)
		}
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(boundary)
	}
	return outputProbeText(endpoint, boundary)
}

// parseSearchCap parses the --search-cap flag as a positive integer of
// arbitrary size.
func parseSearchCap(s string) (*big.Int, error) {
	limit, ok := new(big.Int).SetString(s, 10)
	if !ok || limit.Sign() <= 0 {
		return nil, fmt.Errorf("invalid search cap: %s (must be a positive integer)", s)
	}
	return limit, nil
}

// outputProbeText renders a boundary report in human-readable form.
func outputProbeText(endpoint string, boundary *model.BoundaryReport) error {
	fmt.Printf("Boundary probe: %s\n", endpoint)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\nReference page: %s\n", boundary.ReferencePage)

	printSearch := func(label string, search *model.BoundarySearch) {
		if search == nil {
			return
		}
		line := fmt.Sprintf("  %-16s last good %s", label, search.LastGood)
		if search.Unbounded {
			line += ", no edge below the search cap"
		} else if search.FirstBad != "" {
			line += fmt.Sprintf(", first bad %s", search.FirstBad)
		}
		fmt.Printf("%s (%d probes)\n", line, search.Probes)
	}

	fmt.Println()
	printSearch("Upper bound:", boundary.Upper)
	printSearch("Lower bound:", boundary.Lower)

	if len(boundary.Probes) > 0 {
		fmt.Printf("\nOut-of-range probes (%d):\n", len(boundary.Probes))
		clamped := 0
		for _, p := range boundary.Probes {
			switch {
			case p.Clamped:
				clamped++
				fmt.Printf("  page %s: %s (clamped)\n", p.Page, p.Status)
			case p.NewIdentifiers > 0:
				fmt.Printf("  page %s: %s, %d new identifiers\n", p.Page, p.Status, p.NewIdentifiers)
			default:
				fmt.Printf("  page %s: %s\n", p.Page, p.Status)
			}
		}
		if clamped > 0 {
			fmt.Printf("\n%d probe(s) were clamped: the server serves a default page for\nout-of-range requests instead of erroring.\n", clamped)
		}
	}

	return nil
}
