package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/driftscan/internal/checkpoint"
	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/index"
	"github.com/nao1215/driftscan/internal/model"
)

// Driver defaults.
const (
	// DefaultCheckpointEvery is how many merged pages separate
	// checkpoint writes.
	DefaultCheckpointEvery int64 = 50

	// DefaultRetryRounds is how many sweeps over failed pages run after
	// the main range.
	DefaultRetryRounds = 2
)

// PageState is the per-page progression through the driver loop.
type PageState int

// Page states. A page that exhausts its retries lands in StateFailed and
// the crawl continues; failed pages get another chance in the retry
// sweep after the main range.
const (
	StatePending PageState = iota
	StateFetched
	StateClassified
	StateMerged
	StateFailed
)

// String returns the state name for logging.
func (s PageState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetched:
		return "fetched"
	case StateClassified:
		return "classified"
	case StateMerged:
		return "merged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer receives every classified observation. The database archiver
// hooks in here; observers run on the merging goroutine, so they must
// not block on the fetch path.
type Observer func(obs model.PageObservation, c model.Classification)

// Driver orchestrates one crawl segment over a page range.
type Driver struct {
	fetcher   fetch.Fetcher
	extractor *extract.Extractor
	index     *index.Index
	store     *checkpoint.Store
	logger    *slog.Logger

	endpoint        string
	checkpointEvery int64
	stopAfter       int
	force           bool
	prefetch        int
	retryRounds     int
	observers       []Observer

	// pages accumulates per-page records for the checkpoint, including
	// records carried over from a resumed checkpoint.
	pages  map[model.PageNumber]model.PageRecord
	failed []model.PageNumber
}

// Option configures a Driver.
type Option func(*Driver)

// WithCheckpointStore enables periodic checkpointing to the given store.
// Without a store the crawl runs checkpoint-free (useful in tests).
func WithCheckpointStore(s *checkpoint.Store) Option {
	return func(d *Driver) {
		d.store = s
	}
}

// WithCheckpointEvery sets how many merged pages separate checkpoint
// writes.
func WithCheckpointEvery(n int64) Option {
	return func(d *Driver) {
		if n > 0 {
			d.checkpointEvery = n
		}
	}
}

// WithStopAfter enables the advisory stopping rule: halt after n
// consecutive pages that classified TRUE_WRAP or REDUNDANT without a
// single new identifier. Zero disables the rule.
//
// The rule stays advisory: redundant streaks hundreds of pages long have
// been observed right before a fresh band of content, so any value here
// can be overridden by WithForce.
func WithStopAfter(n int) Option {
	return func(d *Driver) {
		d.stopAfter = n
	}
}

// WithForce disables early stopping for this run, forcing the full
// requested range.
func WithForce(force bool) Option {
	return func(d *Driver) {
		d.force = force
	}
}

// WithPrefetch sets the number of concurrent fetch workers. Merges stay
// strictly sequential regardless; workers only overlap network waits.
func WithPrefetch(n int) Option {
	return func(d *Driver) {
		if n > 1 {
			d.prefetch = n
		}
	}
}

// WithRetryRounds sets how many sweeps over failed pages run after the
// main range.
func WithRetryRounds(n int) Option {
	return func(d *Driver) {
		if n >= 0 {
			d.retryRounds = n
		}
	}
}

// WithObserver registers an observation callback.
func WithObserver(fn Observer) Option {
	return func(d *Driver) {
		d.observers = append(d.observers, fn)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithResume carries per-page records and still-failed pages over from a
// previous checkpoint, so the final checkpoint of this segment keeps the
// full crawl history. The index itself is restored separately via
// index.Restore.
func WithResume(cp *model.Checkpoint) Option {
	return func(d *Driver) {
		for page, rec := range cp.Pages {
			d.pages[page] = rec
		}
		d.failed = append(d.failed, cp.FailedPages...)
	}
}

// New creates a Driver crawling the given endpoint into the given index.
func New(endpoint string, fetcher fetch.Fetcher, extractor *extract.Extractor, ix *index.Index, opts ...Option) *Driver {
	d := &Driver{
		fetcher:         fetcher,
		extractor:       extractor,
		index:           ix,
		endpoint:        endpoint,
		checkpointEvery: DefaultCheckpointEvery,
		prefetch:        1,
		retryRounds:     DefaultRetryRounds,
		pages:           make(map[model.PageNumber]model.PageRecord),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Summary is what one crawl segment produced.
type Summary struct {
	// LastPage is the last page processed.
	LastPage model.PageNumber

	// PagesProcessed counts pages fetched and classified this segment.
	PagesProcessed int

	// NewIdentifiers counts identifiers first discovered this segment.
	NewIdentifiers int

	// StopRule records the advisory rule that fired, empty for a full
	// range.
	StopRule string

	// FailedPages lists pages still FAILED after the retry sweep.
	FailedPages []model.PageNumber

	// Cancelled reports the segment was interrupted; progress up to
	// LastPage is checkpointed.
	Cancelled bool
}

// Run crawls pages [start, end] in order. It returns a summary even on
// cancellation: everything merged before the interruption is valid and
// checkpointed, and the crawl resumes from the last checkpoint with no
// double counting because merges are idempotent.
func (d *Driver) Run(ctx context.Context, start, end int64) (*Summary, error) {
	if start > end {
		return nil, fmt.Errorf("invalid page range: %d > %d", start, end)
	}

	d.logger.Info("crawl segment starting",
		"endpoint", d.endpoint,
		"start", start,
		"end", end,
		"epoch", d.index.Epoch(),
		"prefetch", d.prefetch,
	)

	sum := &Summary{}
	var (
		streak       int // consecutive wrap/redundant pages
		sinceFlush   int64
		lastMerged   = start - 1
		stopEarly    bool
	)

	for page := start; page <= end && !stopEarly; {
		chunkEnd := page + int64(d.prefetch) - 1
		if chunkEnd > end {
			chunkEnd = end
		}

		results, err := d.fetchChunk(ctx, page, chunkEnd)
		if err != nil {
			// Cancellation: checkpoint what was merged and bail.
			sum.Cancelled = true
			break
		}

		for i, res := range results {
			pageNum := page + int64(i)
			obs := d.observe(model.PageFromInt(pageNum), res)

			c, err := d.index.Merge(obs)
			if err != nil {
				// Index invariant violations are bugs, not weather.
				return sum, err
			}
			d.record(obs, c)
			for _, fn := range d.observers {
				fn(obs, c)
			}

			sum.PagesProcessed++
			sum.NewIdentifiers += len(c.Contributed)
			lastMerged = pageNum
			sinceFlush++

			switch c.Class {
			case model.ClassNew:
				streak = 0
				d.logger.Info("page merged",
					"page", pageNum,
					"class", c.Class,
					"identifiers", len(obs.Identifiers),
					"new", len(c.Contributed),
					"total", d.index.Size(),
				)
			case model.ClassTrueWrap, model.ClassRedundant:
				streak++
				d.logger.Debug("page merged", "page", pageNum, "class", c.Class, "streak", streak)
			case model.ClassError:
				d.failed = append(d.failed, obs.Page)
				d.logger.Warn("page failed", "page", pageNum, "failure", obs.Failure)
			default:
				d.logger.Debug("page merged", "page", pageNum, "class", c.Class)
			}

			if sinceFlush >= d.checkpointEvery {
				if err := d.flush(model.PageFromInt(lastMerged), sum.StopRule); err != nil {
					return sum, err
				}
				sinceFlush = 0
			}

			if d.stopAfter > 0 && !d.force && streak >= d.stopAfter {
				sum.StopRule = fmt.Sprintf("no new identifiers for %d consecutive pages, stopped at page %d", streak, pageNum)
				d.logger.Info("advisory stop rule fired", "rule", sum.StopRule)
				stopEarly = true
				break
			}
		}

		page = chunkEnd + 1
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}
	}

	// Retry sweep over failed pages, unless we were cancelled.
	if !sum.Cancelled {
		d.retryFailed(ctx, sum)
	}

	sum.LastPage = model.PageFromInt(lastMerged)
	sum.FailedPages = slices.Clone(d.failed)

	if err := d.flush(sum.LastPage, sum.StopRule); err != nil {
		return sum, err
	}

	d.logger.Info("crawl segment finished",
		"last_page", sum.LastPage,
		"pages", sum.PagesProcessed,
		"new_identifiers", sum.NewIdentifiers,
		"manifest", d.index.Size(),
		"failed", len(sum.FailedPages),
		"cancelled", sum.Cancelled,
	)

	if sum.Cancelled {
		return sum, ctx.Err()
	}
	return sum, nil
}

// fetchChunk fetches pages [from, to] and returns results in page order.
// With prefetch == 1 this is a plain sequential fetch; otherwise a
// bounded worker pool overlaps the network waits while the caller still
// merges strictly in order.
func (d *Driver) fetchChunk(ctx context.Context, from, to int64) ([]*fetch.Result, error) {
	n := int(to - from + 1)
	results := make([]*fetch.Result, n)

	if d.prefetch <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			results[i], _ = d.fetchPage(ctx, from+int64(i))
		}
		return results, ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.prefetch)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i], _ = d.fetchPage(gctx, from+int64(i))
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchPage fetches one page; a nil result means the transport failed
// after retries.
func (d *Driver) fetchPage(ctx context.Context, page int64) (*fetch.Result, error) {
	res, err := d.fetcher.Fetch(ctx, model.PageFromInt(page))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// observe turns a fetch result (or its absence) into an observation.
func (d *Driver) observe(page model.PageNumber, res *fetch.Result) model.PageObservation {
	now := time.Now()
	epoch := d.index.Epoch()

	if res == nil {
		return model.FailedObservation(page, epoch, now, "transport error")
	}
	if !res.OK() {
		return model.FailedObservation(page, epoch, now, fetch.StatusFailure(res.StatusCode))
	}
	return model.NewObservation(page, d.extractor.Extract(res.Body), epoch, now)
}

// record stores the page's checkpoint record.
func (d *Driver) record(obs model.PageObservation, c model.Classification) {
	d.pages[obs.Page] = model.PageRecord{
		Fingerprint: obs.Fingerprint,
		Class:       c.Class,
		Count:       len(obs.Identifiers),
		New:         len(c.Contributed),
		Failure:     obs.Failure,
	}
}

// retryFailed sweeps still-failed pages in bounded rounds. Recovered
// pages merge exactly like first-pass pages.
func (d *Driver) retryFailed(ctx context.Context, sum *Summary) {
	for round := 1; round <= d.retryRounds && len(d.failed) > 0; round++ {
		if ctx.Err() != nil {
			sum.Cancelled = true
			return
		}
		d.logger.Info("retrying failed pages", "round", round, "remaining", len(d.failed))

		var still []model.PageNumber
		for _, page := range d.failed {
			if ctx.Err() != nil {
				sum.Cancelled = true
				d.failed = append(still, page)
				return
			}

			res, err := d.fetcher.Fetch(ctx, page)
			if err != nil || !res.OK() {
				still = append(still, page)
				continue
			}

			obs := d.observe(page, res)
			c, err := d.index.Merge(obs)
			if err != nil {
				still = append(still, page)
				continue
			}
			d.record(obs, c)
			for _, fn := range d.observers {
				fn(obs, c)
			}
			sum.NewIdentifiers += len(c.Contributed)
			d.logger.Info("failed page recovered", "page", page, "class", c.Class, "round", round)
		}
		d.failed = still
	}
}

// flush persists the current crawl state if a checkpoint store is
// configured. The checkpoint only ever reflects a point where every
// page at or below lastPage has been merged.
func (d *Driver) flush(lastPage model.PageNumber, stopRule string) error {
	if d.store == nil {
		return nil
	}

	cp := &model.Checkpoint{
		Endpoint:     d.endpoint,
		Epoch:        d.index.Epoch(),
		LastPage:     lastPage,
		Manifest:     d.index.SnapshotManifest().Entries(),
		Fingerprints: d.index.SnapshotFingerprints(),
		Counts:       d.index.Counts(),
		Pages:        d.snapshotPages(),
		FailedPages:  slices.Clone(d.failed),
		StopRule:     stopRule,
	}
	if err := d.store.Save(cp); err != nil {
		return fmt.Errorf("checkpoint at page %s: %w", lastPage, err)
	}
	d.logger.Debug("checkpoint saved", "last_page", lastPage, "manifest", len(cp.Manifest))
	return nil
}

// snapshotPages copies the per-page records for checkpointing.
func (d *Driver) snapshotPages() map[model.PageNumber]model.PageRecord {
	out := make(map[model.PageNumber]model.PageRecord, len(d.pages))
	for page, rec := range d.pages {
		out[page] = rec
	}
	return out
}
