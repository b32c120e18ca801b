package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/driftscan/internal/checkpoint"
	"github.com/nao1215/driftscan/internal/crawler"
	"github.com/nao1215/driftscan/internal/database"
	"github.com/nao1215/driftscan/internal/drift"
	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/index"
	"github.com/nao1215/driftscan/internal/model"
	"github.com/nao1215/driftscan/internal/probe"
)

// VerifyStep re-checks an existing checkpoint against the live endpoint
// before any crawling happens. If the sample drifted, the report's epoch
// advances and the crawl step starts classification from a clean
// baseline.
//
// Design decision: Verification runs as its own step rather than inside
// the crawl because:
// 1. The epoch decision must land before the index is restored
// 2. A standalone verify command reuses the step unchanged
// 3. Skipping it (no checkpoint, fresh run) keeps the pipeline linear
type VerifyStep struct {
	// store reads the checkpoint being verified.
	store *checkpoint.Store

	// detector performs the sampled re-fetch.
	detector *drift.Detector

	// db optionally archives per-page verdicts.
	db *database.CrawlDB

	// logger for structured logging.
	logger *slog.Logger
}

// VerifyStepOption configures a VerifyStep.
type VerifyStepOption func(*VerifyStep)

// WithVerifyDatabase archives drift verdicts to the given database.
func WithVerifyDatabase(db *database.CrawlDB) VerifyStepOption {
	return func(s *VerifyStep) {
		s.db = db
	}
}

// WithVerifyLogger sets a custom logger for the verify step.
func WithVerifyLogger(logger *slog.Logger) VerifyStepOption {
	return func(s *VerifyStep) {
		s.logger = logger
	}
}

// NewVerifyStep creates a drift verification step.
func NewVerifyStep(store *checkpoint.Store, detector *drift.Detector, opts ...VerifyStepOption) *VerifyStep {
	s := &VerifyStep{
		store:    store,
		detector: detector,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *VerifyStep) Name() string {
	return "verify"
}

// Do executes the drift verification step. A missing checkpoint is not an
// error: there is nothing to verify on a first run.
func (s *VerifyStep) Do(ctx context.Context, report *model.CrawlReport) error {
	cp, err := s.store.Load()
	if errors.Is(err, checkpoint.ErrNotFound) {
		s.logger.Info("no checkpoint to verify, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint for verification: %w", err)
	}

	sum, err := s.detector.Check(ctx, cp)
	if err != nil {
		return fmt.Errorf("drift verification: %w", err)
	}

	report.Drift = sum
	report.Epoch = sum.NextEpoch()

	if s.db != nil {
		if err := s.db.SaveDriftSummary(ctx, report.Endpoint, sum); err != nil {
			s.logger.Warn("failed to archive drift verdicts", "error", err)
		}
	}
	return nil
}

// CrawlStep runs the crawl itself: restore or create the index, drive the
// page loop, and record the outcome on the report.
type CrawlStep struct {
	// fetcher retrieves listing pages.
	fetcher fetch.Fetcher

	// extractor pulls identifiers out of page bodies.
	extractor *extract.Extractor

	// store persists checkpoints. Nil disables checkpointing.
	store *checkpoint.Store

	// db optionally archives per-page observations.
	db *database.CrawlDB

	// start and end bound the page range.
	start, end int64

	// fresh discards any existing checkpoint instead of resuming.
	fresh bool

	// Driver tuning, passed through to the crawler.
	checkpointEvery int64
	stopAfter       int
	force           bool
	prefetch        int
	retryRounds     int

	// logger for structured logging.
	logger *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithCrawlCheckpointStore enables checkpointing through the given store.
func WithCrawlCheckpointStore(store *checkpoint.Store) CrawlStepOption {
	return func(s *CrawlStep) {
		s.store = store
	}
}

// WithCrawlDatabase archives per-page observations to the given database.
func WithCrawlDatabase(db *database.CrawlDB) CrawlStepOption {
	return func(s *CrawlStep) {
		s.db = db
	}
}

// WithCrawlFresh discards any existing checkpoint instead of resuming.
func WithCrawlFresh(fresh bool) CrawlStepOption {
	return func(s *CrawlStep) {
		s.fresh = fresh
	}
}

// WithCrawlCheckpointEvery sets the checkpoint interval in pages.
func WithCrawlCheckpointEvery(n int64) CrawlStepOption {
	return func(s *CrawlStep) {
		if n > 0 {
			s.checkpointEvery = n
		}
	}
}

// WithCrawlStopAfter enables the advisory stop rule after n consecutive
// non-contributing pages.
func WithCrawlStopAfter(n int) CrawlStepOption {
	return func(s *CrawlStep) {
		s.stopAfter = n
	}
}

// WithCrawlForce overrides the advisory stop rule.
func WithCrawlForce(force bool) CrawlStepOption {
	return func(s *CrawlStep) {
		s.force = force
	}
}

// WithCrawlPrefetch sets the number of pages fetched concurrently.
func WithCrawlPrefetch(n int) CrawlStepOption {
	return func(s *CrawlStep) {
		if n > 0 {
			s.prefetch = n
		}
	}
}

// WithCrawlRetryRounds sets how many sweeps over failed pages run after
// the main range.
func WithCrawlRetryRounds(n int) CrawlStepOption {
	return func(s *CrawlStep) {
		if n >= 0 {
			s.retryRounds = n
		}
	}
}

// WithCrawlLogger sets a custom logger for the crawl step.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		s.logger = logger
	}
}

// NewCrawlStep creates the crawl step for pages [start, end].
func NewCrawlStep(fetcher fetch.Fetcher, extractor *extract.Extractor, start, end int64, opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		fetcher:         fetcher,
		extractor:       extractor,
		start:           start,
		end:             end,
		checkpointEvery: crawler.DefaultCheckpointEvery,
		prefetch:        1,
		retryRounds:     crawler.DefaultRetryRounds,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do executes the crawl step.
func (s *CrawlStep) Do(ctx context.Context, report *model.CrawlReport) error {
	ix, resume, err := s.buildIndex(report)
	if err != nil {
		return err
	}
	report.Resumed = resume != nil
	report.Epoch = ix.Epoch()

	// A same-epoch resume continues exactly where the checkpoint left
	// off: everything at or below LastPage is already merged and counted,
	// so refetching it would inflate the counters and misclassify stable
	// pages as wraps. After an epoch advance the fingerprint baseline is
	// clean and the full range must be re-classified.
	start := s.start
	fastForwarded := false
	if resume != nil && ix.Epoch() == resume.Epoch {
		if last, ok := resume.LastPage.Int64(); ok && last+1 > start {
			start = last + 1
			fastForwarded = true
			s.logger.Info("resuming past checkpoint",
				"checkpoint_last_page", resume.LastPage,
				"start", start,
			)
		}
	}
	report.StartPage = model.PageFromInt(start)
	report.EndPage = model.PageFromInt(s.end)

	if fastForwarded && start > s.end {
		// The checkpoint already covers the requested range.
		report.LastPage = resume.LastPage
		report.FailedPages = resume.FailedPages
		report.StopRule = resume.StopRule
		report.Counts = ix.Counts()
		report.ManifestSize = ix.Size()
		s.logger.Info("checkpoint already covers requested range",
			"last_page", resume.LastPage,
			"end", s.end,
		)
		return nil
	}

	driverOpts := []crawler.Option{
		crawler.WithLogger(s.logger),
		crawler.WithCheckpointEvery(s.checkpointEvery),
		crawler.WithStopAfter(s.stopAfter),
		crawler.WithForce(s.force),
		crawler.WithPrefetch(s.prefetch),
		crawler.WithRetryRounds(s.retryRounds),
	}
	if s.store != nil {
		driverOpts = append(driverOpts, crawler.WithCheckpointStore(s.store))
	}
	if resume != nil {
		driverOpts = append(driverOpts, crawler.WithResume(resume))
	}
	if s.db != nil {
		driverOpts = append(driverOpts, crawler.WithObserver(s.archiveObservation(report)))
	}

	driver := crawler.New(report.Endpoint, s.fetcher, s.extractor, ix, driverOpts...)

	sum, err := driver.Run(ctx, start, s.end)
	if sum != nil {
		report.LastPage = sum.LastPage
		report.PagesProcessed = sum.PagesProcessed
		report.NewIdentifiers = sum.NewIdentifiers
		report.FailedPages = sum.FailedPages
		report.StopRule = sum.StopRule
		report.Cancelled = sum.Cancelled
		report.Counts = ix.Counts()
		report.ManifestSize = ix.Size()
	}
	return err
}

// buildIndex restores from the checkpoint when resuming, otherwise starts
// empty at the report's epoch.
func (s *CrawlStep) buildIndex(report *model.CrawlReport) (*index.Index, *model.Checkpoint, error) {
	if s.fresh || s.store == nil || !s.store.Exists() {
		return index.New(report.Epoch), nil, nil
	}

	cp, err := s.store.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Endpoint != "" && cp.Endpoint != report.Endpoint {
		return nil, nil, fmt.Errorf("checkpoint belongs to %s, not %s", cp.Endpoint, report.Endpoint)
	}

	// The verify step may have advanced the epoch past the checkpoint's.
	epoch := report.Epoch
	if epoch < cp.Epoch {
		epoch = cp.Epoch
	}
	return index.RestoreAtEpoch(cp, epoch), cp, nil
}

// archiveObservation returns a crawl observer that mirrors each merged
// page into the database.
func (s *CrawlStep) archiveObservation(report *model.CrawlReport) crawler.Observer {
	return func(obs model.PageObservation, c model.Classification) {
		record := &database.ObservationRecord{
			Endpoint:    report.Endpoint,
			Epoch:       obs.Epoch,
			Page:        obs.Page,
			Fingerprint: obs.Fingerprint,
			Class:       c.Class,
			Count:       len(obs.Identifiers),
			New:         len(c.Contributed),
			Failure:     obs.Failure,
		}
		if _, err := s.db.InsertObservation(context.Background(), record); err != nil {
			s.logger.Warn("failed to archive observation", "page", obs.Page, "error", err)
		}
	}
}

// ProbeStep explores the endpoint's page-space boundaries after the crawl.
type ProbeStep struct {
	// fetcher retrieves probe pages.
	fetcher fetch.Fetcher

	// extractor fingerprints probe responses.
	extractor *extract.Extractor

	// referencePage anchors clamp detection.
	referencePage model.PageNumber

	// store restores the crawl's index so in-range probes classify and
	// merge like crawl pages, and persists the growth. Nil disables both.
	store *checkpoint.Store

	// logger for structured logging.
	logger *slog.Logger
}

// ProbeStepOption configures a ProbeStep.
type ProbeStepOption func(*ProbeStep)

// WithProbeReferencePage sets the clamp-detection reference page.
// Defaults to page 0.
func WithProbeReferencePage(page model.PageNumber) ProbeStepOption {
	return func(s *ProbeStep) {
		if page != "" {
			s.referencePage = page
		}
	}
}

// WithProbeCheckpointStore lets the probe classify responses against the
// crawled manifest and write probe-discovered identifiers back to the
// checkpoint.
func WithProbeCheckpointStore(store *checkpoint.Store) ProbeStepOption {
	return func(s *ProbeStep) {
		s.store = store
	}
}

// WithProbeLogger sets a custom logger for the probe step.
func WithProbeLogger(logger *slog.Logger) ProbeStepOption {
	return func(s *ProbeStep) {
		s.logger = logger
	}
}

// NewProbeStep creates a boundary probing step.
func NewProbeStep(fetcher fetch.Fetcher, extractor *extract.Extractor, opts ...ProbeStepOption) *ProbeStep {
	s := &ProbeStep{
		fetcher:       fetcher,
		extractor:     extractor,
		referencePage: "0",
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *ProbeStep) Name() string {
	return "probe"
}

// Do executes the boundary probe step. When a checkpoint store is
// attached, in-range probes merge into the crawl's index and the merged
// state is flushed back, so identifiers found past the crawled range
// survive into the manifest and the next resume.
func (s *ProbeStep) Do(ctx context.Context, report *model.CrawlReport) error {
	probeOpts := []probe.Option{probe.WithLogger(s.logger)}

	var cp *model.Checkpoint
	var ix *index.Index
	if s.store != nil && s.store.Exists() {
		loaded, err := s.store.Load()
		if err != nil {
			return fmt.Errorf("load checkpoint for probing: %w", err)
		}
		cp = loaded
		ix = index.Restore(cp)
		probeOpts = append(probeOpts, probe.WithIndex(ix))
	}

	prober := probe.New(s.fetcher, s.extractor, probeOpts...)

	boundary, err := prober.Run(ctx, s.referencePage)
	if boundary != nil {
		report.Boundary = boundary
	}
	if err != nil {
		return fmt.Errorf("boundary probe: %w", err)
	}

	if ix != nil {
		cp.Manifest = ix.SnapshotManifest().Entries()
		cp.Fingerprints = ix.SnapshotFingerprints()
		cp.Counts = ix.Counts()
		if err := s.store.Save(cp); err != nil {
			return fmt.Errorf("save checkpoint after probing: %w", err)
		}
		report.Counts = ix.Counts()
		report.ManifestSize = ix.Size()
	}
	return nil
}

// ManifestStep exports the checkpoint's manifest as a sorted, newline
// separated identifier file. The export reads the checkpoint rather than
// an in-memory index so it works standalone: any completed or interrupted
// crawl can be exported later.
type ManifestStep struct {
	// store reads the checkpoint to export.
	store *checkpoint.Store

	// path is the output file path.
	path string

	// logger for structured logging.
	logger *slog.Logger
}

// ManifestStepOption configures a ManifestStep.
type ManifestStepOption func(*ManifestStep)

// WithManifestLogger sets a custom logger for the manifest step.
func WithManifestLogger(logger *slog.Logger) ManifestStepOption {
	return func(s *ManifestStep) {
		s.logger = logger
	}
}

// NewManifestStep creates a manifest export step writing to path.
func NewManifestStep(store *checkpoint.Store, path string, opts ...ManifestStepOption) *ManifestStep {
	s := &ManifestStep{
		store:  store,
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *ManifestStep) Name() string {
	return "manifest"
}

// Do executes the manifest export step.
func (s *ManifestStep) Do(_ context.Context, report *model.CrawlReport) error {
	cp, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load checkpoint for manifest export: %w", err)
	}

	manifest := model.ManifestFromEntries(cp.Manifest)

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create manifest file: %w", err)
	}

	if _, err := manifest.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest file: %w", err)
	}

	report.ManifestSize = manifest.Size()
	s.logger.Info("manifest exported", "path", s.path, "identifiers", manifest.Size())
	return nil
}

// ArchiveStep stores the finished report in the history database.
type ArchiveStep struct {
	// db is the history database.
	db *database.CrawlDB

	// logger for structured logging.
	logger *slog.Logger
}

// ArchiveStepOption configures an ArchiveStep.
type ArchiveStepOption func(*ArchiveStep)

// WithArchiveLogger sets a custom logger for the archive step.
func WithArchiveLogger(logger *slog.Logger) ArchiveStepOption {
	return func(s *ArchiveStep) {
		s.logger = logger
	}
}

// NewArchiveStep creates a report archival step.
func NewArchiveStep(db *database.CrawlDB, opts ...ArchiveStepOption) *ArchiveStep {
	s := &ArchiveStep{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *ArchiveStep) Name() string {
	return "archive"
}

// Do executes the archive step.
func (s *ArchiveStep) Do(ctx context.Context, report *model.CrawlReport) error {
	if report.FinishedAt.IsZero() {
		report.FinishedAt = time.Now()
	}
	if err := s.db.SaveCrawlReport(ctx, report); err != nil {
		return fmt.Errorf("archive crawl report: %w", err)
	}
	s.logger.Info("run archived", "endpoint", report.Endpoint, "epoch", report.Epoch)
	return nil
}
