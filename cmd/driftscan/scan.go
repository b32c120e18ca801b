package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/driftscan/internal/checkpoint"
	"github.com/nao1215/driftscan/internal/config"
	"github.com/nao1215/driftscan/internal/database"
	"github.com/nao1215/driftscan/internal/drift"
	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/log"
	"github.com/nao1215/driftscan/internal/model"
	"github.com/nao1215/driftscan/internal/pipeline"
	"github.com/nao1215/driftscan/internal/report"
)

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [endpoint-url]",
		Short: "Crawl a paginated listing and update its identifier manifest",
		Long: `Scan crawls a paginated listing endpoint page by page, extracts document
identifiers, and merges them into a deduplicated manifest.

Progress is checkpointed atomically, so an interrupted scan resumes
exactly where it stopped. Before resuming, a sample of already-visited
pages is re-fetched; if the listing drifted since the checkpoint was
taken, the crawl advances to a new epoch instead of trusting stale
page records.

Examples:
  # Scan a single listing endpoint
  driftscan scan https://example.com/listing

  # Scan multiple endpoints concurrently
  driftscan scan https://a.example.com/docs https://b.example.com/docs

  # Discard the checkpoint and crawl from scratch
  driftscan scan --fresh https://example.com/listing

  # Crawl the full range, ignoring the consecutive non-NEW stop rule
  driftscan scan --force --end 100000 https://example.com/listing

  # Probe the page-number boundaries after the crawl
  driftscan scan --probe https://example.com/listing

  # Export the manifest and a JSON report
  driftscan scan --manifest ids.txt --json -o report.json https://example.com/listing

Configuration file (.driftscan) example:
  endpoints:
    https://example.com/listing:
      cookie: "session_id=abc123"
      pageParam: "p"
      patternPrefix: "DOC"
      patternDigits: 6
      patternSuffix: ".pdf"`,
		Args: cobra.ArbitraryArgs,
		RunE: runScanCmd,
	}

	// Crawl range flags
	cmd.Flags().String("start", config.DefaultStartPage,
		"First page of the requested crawl range")
	cmd.Flags().String("end", config.DefaultEndPage,
		"Last page of the requested crawl range")

	// Identifier pattern flags
	cmd.Flags().String("prefix", "",
		"Identifier pattern prefix (default from config file or built-in pattern)")
	cmd.Flags().Int("digits", 0,
		"Identifier pattern digit count (default from config file or built-in pattern)")
	cmd.Flags().String("suffix", "",
		"Identifier pattern suffix (default from config file or built-in pattern)")
	cmd.Flags().String("page-param", config.DefaultPageParam,
		"Query parameter carrying the page number")

	// Fetch behavior flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Per-request timeout")
	cmd.Flags().Duration("delay", config.DefaultDelay,
		"Minimum interval between requests")
	cmd.Flags().Int("max-attempts", config.DefaultMaxAttempts,
		"Retry attempts per page before it is marked failed")
	cmd.Flags().Int("prefetch", 0,
		"Concurrent fetch workers (classification stays ordered)")

	// Crawl control flags
	cmd.Flags().Int64("checkpoint-every", config.DefaultCheckpointEvery,
		"Pages between checkpoint flushes")
	cmd.Flags().Int("stop-after", config.DefaultStopAfter,
		"Stop after this many consecutive non-NEW pages (0 disables)")
	cmd.Flags().Bool("force", false,
		"Ignore the stop rule and crawl the full requested range")
	cmd.Flags().Bool("fresh", false,
		"Discard any existing checkpoint and start from scratch")
	cmd.Flags().Int("retry-rounds", config.DefaultRetryRounds,
		"End-of-crawl sweeps over pages that stayed failed")

	// Drift verification flags
	cmd.Flags().Int("sample-size", config.DefaultSampleSize,
		"Visited pages re-fetched for drift verification before resuming")
	cmd.Flags().Bool("no-verify", false,
		"Skip the pre-crawl drift verification pass")

	// Boundary probing flags
	cmd.Flags().Bool("probe", false,
		"Probe the page-number boundaries after the crawl")

	// Batch scanning flags
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of concurrent endpoint crawls")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .driftscan in current or home directory)")

	// Output flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().String("checkpoint", "",
		"Checkpoint file path (default: per-endpoint file under the XDG data directory)")
	cmd.Flags().String("manifest", "",
		"Export the identifier manifest to this file after the crawl")

	return cmd
}

// runScanCmd executes the scan command.
func runScanCmd(cmd *cobra.Command, args []string) error {
	// Build config from flags
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Set up structured logging with automatic secret redaction
	cfg.Verbose = getVerboseFlag(cmd)
	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals. The crawl driver flushes a checkpoint
	// before unwinding, so a cancelled run resumes cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	return runScan(ctx, cfg, logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	// Get flag values
	var err error

	cfg.StartPage, err = cmd.Flags().GetString("start")
	if err != nil {
		return nil, err
	}

	cfg.EndPage, err = cmd.Flags().GetString("end")
	if err != nil {
		return nil, err
	}

	prefix, err := cmd.Flags().GetString("prefix")
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		cfg.PatternPrefix = prefix
	}

	digits, err := cmd.Flags().GetInt("digits")
	if err != nil {
		return nil, err
	}
	if digits > 0 {
		cfg.PatternDigits = digits
	}

	suffix, err := cmd.Flags().GetString("suffix")
	if err != nil {
		return nil, err
	}
	if suffix != "" {
		cfg.PatternSuffix = suffix
	}

	cfg.PageParam, err = cmd.Flags().GetString("page-param")
	if err != nil {
		return nil, err
	}

	cfg.Timeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	cfg.Delay, err = cmd.Flags().GetDuration("delay")
	if err != nil {
		return nil, err
	}

	cfg.MaxAttempts, err = cmd.Flags().GetInt("max-attempts")
	if err != nil {
		return nil, err
	}

	cfg.Prefetch, err = cmd.Flags().GetInt("prefetch")
	if err != nil {
		return nil, err
	}

	cfg.CheckpointEvery, err = cmd.Flags().GetInt64("checkpoint-every")
	if err != nil {
		return nil, err
	}

	cfg.StopAfter, err = cmd.Flags().GetInt("stop-after")
	if err != nil {
		return nil, err
	}

	cfg.Force, err = cmd.Flags().GetBool("force")
	if err != nil {
		return nil, err
	}

	cfg.Fresh, err = cmd.Flags().GetBool("fresh")
	if err != nil {
		return nil, err
	}

	cfg.RetryRounds, err = cmd.Flags().GetInt("retry-rounds")
	if err != nil {
		return nil, err
	}

	cfg.SampleSize, err = cmd.Flags().GetInt("sample-size")
	if err != nil {
		return nil, err
	}

	cfg.SkipVerify, err = cmd.Flags().GetBool("no-verify")
	if err != nil {
		return nil, err
	}

	cfg.Probe, err = cmd.Flags().GetBool("probe")
	if err != nil {
		return nil, err
	}

	cfg.BatchSize, err = cmd.Flags().GetInt("batch")
	if err != nil {
		return nil, err
	}

	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// Load endpoint profiles from the config file
	if err := loadProfiles(cfg); err != nil {
		return nil, err
	}

	cfg.JSONReport, err = cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}

	cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}

	cfg.ReportFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	cfg.CheckpointPath, err = cmd.Flags().GetString("checkpoint")
	if err != nil {
		return nil, err
	}

	cfg.ManifestPath, err = cmd.Flags().GetString("manifest")
	if err != nil {
		return nil, err
	}

	// Always archive run results using the XDG data directory
	cfg.SaveToDB = true
	cfg.DBDir = config.XDGDataDir()

	// Get positional arguments (listing endpoints)
	cfg.Endpoints = args

	return cfg, nil
}

// setupLogger creates a structured logger based on verbosity setting.
// The secure handler masks cookies and auth headers from endpoint
// profiles before they reach the log output.
func setupLogger(verbose bool) *slog.Logger {
	return log.NewSecureLogger(os.Stderr, verbose)
}

// runScan executes the scan.
func runScan(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if len(cfg.Endpoints) == 0 {
		return errors.New("no endpoints provided (specify one or more listing URLs as arguments)")
	}

	// The crawl driver works on int64 page offsets
	startPage, endPage, err := parseRange(cfg)
	if err != nil {
		return err
	}

	logger.Info("starting scan",
		"endpoints", cfg.Endpoints,
		"start", cfg.StartPage,
		"end", cfg.EndPage,
		"batchSize", cfg.BatchSize,
		"saveToDB", cfg.SaveToDB,
	)

	// Open database connection if archiving is enabled
	var db *database.CrawlDB
	if cfg.SaveToDB {
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "dir", cfg.DBDir)
	}

	// A shared checkpoint or manifest file cannot serve several
	// endpoints: checkpoints refuse to resume a different endpoint and
	// manifest exports would overwrite each other.
	if len(cfg.Endpoints) > 1 {
		if cfg.CheckpointPath != "" {
			logger.Warn("--checkpoint is ignored with multiple endpoints; per-endpoint files under the XDG data directory are used")
			cfg.CheckpointPath = ""
		}
		if cfg.ManifestPath != "" {
			logger.Warn("--manifest is ignored with multiple endpoints")
			cfg.ManifestPath = ""
		}
	}

	// Use batch processor for parallel crawling if multiple endpoints
	if len(cfg.Endpoints) > 1 && cfg.BatchSize > 1 {
		return runBatchScan(ctx, cfg, db, startPage, endPage, logger)
	}

	// Single endpoint or sequential crawling
	return runSequentialScan(ctx, cfg, db, startPage, endPage, logger)
}

// parseRange converts the configured page range into int64 bounds.
func parseRange(cfg *config.Config) (int64, int64, error) {
	start, err := strconv.ParseInt(cfg.StartPage, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("start page %s is outside the crawlable range", cfg.StartPage)
	}
	end, err := strconv.ParseInt(cfg.EndPage, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("end page %s is outside the crawlable range", cfg.EndPage)
	}
	if start < 0 {
		return 0, 0, fmt.Errorf("start page must not be negative, got %d", start)
	}
	if end < start {
		return 0, 0, fmt.Errorf("end page %d is before start page %d", end, start)
	}
	return start, end, nil
}

// runSequentialScan crawls endpoints one at a time.
func runSequentialScan(ctx context.Context, cfg *config.Config, db *database.CrawlDB, startPage, endPage int64, logger *slog.Logger) error {
	for _, endpoint := range cfg.Endpoints {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Create pipeline with endpoint-specific options
		p, err := createPipelineForEndpoint(endpoint, cfg, db, startPage, endPage, logger)
		if err != nil {
			logger.Error("pipeline setup failed", "endpoint", endpoint, "error", err)
			fmt.Fprintf(os.Stderr, "Setup error for %s: %v\n", endpoint, err)
			continue
		}

		crawlReport := model.NewCrawlReport(endpoint, 1)

		fmt.Printf("Scanning %s...\n", endpoint)
		startTime := time.Now()

		// Execute the pipeline
		if err := p.Execute(ctx, crawlReport); err != nil {
			logger.Error("scan failed", "endpoint", endpoint, "error", err)
			fmt.Fprintf(os.Stderr, "Scan error for %s: %v\n", endpoint, err)
			if crawlReport.FinishedAt.IsZero() {
				crawlReport.FinishedAt = time.Now()
			}
			// Still render the report: a cancelled or failed run carries
			// progress worth showing, and the checkpoint stays resumable.
			if rerr := outputReport(cfg, crawlReport); rerr != nil {
				logger.Error("report failed", "endpoint", endpoint, "error", rerr)
			}
			continue
		}

		elapsed := time.Since(startTime)
		fmt.Printf("Scan completed in %s\n\n", elapsed.Round(time.Millisecond))

		// Generate and output report
		if err := outputReport(cfg, crawlReport); err != nil {
			logger.Error("report failed", "endpoint", endpoint, "error", err)
		}
	}

	return nil
}

// runBatchScan crawls multiple endpoints concurrently using BatchProcessor.
func runBatchScan(ctx context.Context, cfg *config.Config, db *database.CrawlDB, startPage, endPage int64, logger *slog.Logger) error {
	fmt.Printf("Starting batch scan of %d endpoints (concurrency: %d)...\n\n",
		len(cfg.Endpoints), cfg.BatchSize)

	startTime := time.Now()

	// The batch factory cannot report errors, so build every pipeline
	// up front and fail before any crawl starts.
	pipelines := make(map[string]*pipeline.Pipeline, len(cfg.Endpoints))
	for _, endpoint := range cfg.Endpoints {
		p, err := createPipelineForEndpoint(endpoint, cfg, db, startPage, endPage, logger)
		if err != nil {
			return fmt.Errorf("pipeline setup failed for %s: %w", endpoint, err)
		}
		pipelines[endpoint] = p
	}

	// Create batch processor with pipeline factory
	bp := pipeline.NewBatchProcessor(
		func(endpoint string) *pipeline.Pipeline {
			return pipelines[endpoint]
		},
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
	)

	// Process with callback for streaming output
	var mu sync.Mutex
	err := bp.ProcessBatchWithCallback(ctx, cfg.Endpoints, func(crawlReport *model.CrawlReport, index int) {
		mu.Lock()
		defer mu.Unlock()

		fmt.Printf("[%d/%d] Scan completed: %s\n", index+1, len(cfg.Endpoints), crawlReport.Endpoint)

		// Generate and output report
		if err := outputReport(cfg, crawlReport); err != nil {
			logger.Error("report failed", "endpoint", crawlReport.Endpoint, "error", err)
		}
	})

	elapsed := time.Since(startTime)
	fmt.Printf("\nBatch scan completed in %s\n", elapsed.Round(time.Millisecond))

	return err
}

// getEndpointProfile returns the endpoint-specific profile for a listing.
// Falls back to defaults if no endpoint-specific profile exists.
func getEndpointProfile(cfg *config.Config, endpoint string) config.EndpointProfile {
	if cfg.Profiles == nil {
		return config.EndpointProfile{}
	}
	return cfg.Profiles.GetProfile(endpoint)
}

// patternForEndpoint resolves the identifier pattern for an endpoint:
// profile overrides win over global flags, which win over the built-in
// default.
func patternForEndpoint(cfg *config.Config, profile config.EndpointProfile) model.Pattern {
	pattern := cfg.Pattern()
	if profile.PatternPrefix != "" {
		pattern.Prefix = profile.PatternPrefix
	}
	if profile.PatternDigits > 0 {
		pattern.Digits = profile.PatternDigits
	}
	if profile.PatternSuffix != "" {
		pattern.Suffix = profile.PatternSuffix
	}
	return pattern
}

// checkpointPathFor returns the checkpoint file path for an endpoint.
// An explicit --checkpoint flag wins; otherwise each endpoint gets its
// own file under the XDG data directory.
func checkpointPathFor(cfg *config.Config, endpoint string) string {
	if cfg.CheckpointPath != "" {
		return cfg.CheckpointPath
	}
	return filepath.Join(config.XDGDataDir(), "checkpoints", sanitizeEndpoint(endpoint)+".json")
}

// sanitizeEndpoint turns an endpoint URL into a file-name-safe token.
func sanitizeEndpoint(endpoint string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-':
			return r
		default:
			return '_'
		}
	}, endpoint)
}

// createPipelineForEndpoint assembles the crawl pipeline for one listing:
// drift verification, the crawl itself, optional boundary probing,
// optional manifest export, and archiving to the database.
func createPipelineForEndpoint(endpoint string, cfg *config.Config, db *database.CrawlDB, startPage, endPage int64, logger *slog.Logger) (*pipeline.Pipeline, error) {
	profile := getEndpointProfile(cfg, endpoint)

	// Build the HTTP fetcher with profile overrides
	pageParam := cfg.PageParam
	if profile.PageParam != "" {
		pageParam = profile.PageParam
	}

	fetchOpts := []fetch.Option{
		fetch.WithTimeout(cfg.Timeout),
		fetch.WithDelay(cfg.Delay),
		fetch.WithMaxAttempts(cfg.MaxAttempts),
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
		return nil, fmt.Errorf("failed to create fetch client: %w", err)
	}

	extractor := extract.New(patternForEndpoint(cfg, profile))
	store := checkpoint.NewStore(checkpointPathFor(cfg, endpoint))

	p := pipeline.New(
		pipeline.WithLogger(logger),
	)

	// Drift verification runs before the crawl resumes. A fresh crawl
	// has no checkpoint to verify against.
	if !cfg.SkipVerify && !cfg.Fresh {
		detector := drift.New(client, extractor,
			drift.WithSampleSize(cfg.SampleSize),
			drift.WithLogger(logger),
		)
		verifyOpts := []pipeline.VerifyStepOption{
			pipeline.WithVerifyLogger(logger),
		}
		if db != nil {
			verifyOpts = append(verifyOpts, pipeline.WithVerifyDatabase(db))
		}
		p.AddStep(pipeline.NewVerifyStep(store, detector, verifyOpts...))
	}

	crawlOpts := []pipeline.CrawlStepOption{
		pipeline.WithCrawlCheckpointStore(store),
		pipeline.WithCrawlCheckpointEvery(cfg.CheckpointEvery),
		pipeline.WithCrawlStopAfter(cfg.StopAfter),
		pipeline.WithCrawlForce(cfg.Force),
		pipeline.WithCrawlFresh(cfg.Fresh),
		pipeline.WithCrawlRetryRounds(cfg.RetryRounds),
		pipeline.WithCrawlLogger(logger),
	}
	if cfg.Prefetch > 0 {
		crawlOpts = append(crawlOpts, pipeline.WithCrawlPrefetch(cfg.Prefetch))
	}
	if db != nil {
		crawlOpts = append(crawlOpts, pipeline.WithCrawlDatabase(db))
	}
	p.AddStep(pipeline.NewCrawlStep(client, extractor, startPage, endPage, crawlOpts...))

	if cfg.Probe {
		p.AddStep(pipeline.NewProbeStep(client, extractor,
			pipeline.WithProbeCheckpointStore(store),
			pipeline.WithProbeLogger(logger),
		))
	}

	if cfg.ManifestPath != "" {
		p.AddStep(pipeline.NewManifestStep(store, cfg.ManifestPath,
			pipeline.WithManifestLogger(logger),
		))
	}

	if db != nil {
		p.AddStep(pipeline.NewArchiveStep(db,
			pipeline.WithArchiveLogger(logger),
		))
	}

	return p, nil
}

// outputReport outputs the crawl report in the requested format.
func outputReport(cfg *config.Config, crawlReport *model.CrawlReport) error {
	// Determine output destination
	var output *os.File
	if cfg.ReportFile != "" {
		// Create directories if they don't exist
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Create/overwrite the output file with secure permissions (0600)
		// Reports may reference listings behind authentication
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	} else {
		output = os.Stdout
	}

	// JSON output (full report with all sections)
	if cfg.JSONReport {
		writer := report.NewFullJSONWriter(output, getVersion(), report.WithPrettyPrint())
		_, err := writer.Write(crawlReport)
		return err
	}

	// Markdown output
	if cfg.MarkdownReport {
		writer := report.NewMarkdownWriter(output)
		_, err := writer.Write(crawlReport)
		return err
	}

	// Human-readable report (default)
	writer := report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	_, err := writer.Write(crawlReport)
	return err
}
