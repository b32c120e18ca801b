// Package drift re-verifies previously crawled pages against a checkpoint
// to detect endpoint drift.
//
// The listing endpoint shifts content across page numbers between runs, so
// a checkpoint's page→fingerprint map goes stale without notice. Before
// trusting stale state, a detector re-fetches a small sample of visited
// pages and compares live fingerprints with the recorded ones. The index
// is never touched: one CHANGED verdict means the next crawl segment must
// run under a fresh epoch, not that old observations get rewritten.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/model"
)

// DefaultSampleSize is how many visited pages a verification pass
// re-fetches when the caller does not say otherwise.
const DefaultSampleSize = 20

// Detector re-verifies a sample of checkpointed pages.
type Detector struct {
	fetcher    fetch.Fetcher
	extractor  *extract.Extractor
	sampleSize int
	logger     *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithSampleSize sets how many pages are re-fetched per pass. Values
// below 1 keep the default.
func WithSampleSize(n int) Option {
	return func(d *Detector) {
		if n >= 1 {
			d.sampleSize = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a drift Detector.
func New(fetcher fetch.Fetcher, extractor *extract.Extractor, opts ...Option) *Detector {
	d := &Detector{
		fetcher:    fetcher,
		extractor:  extractor,
		sampleSize: DefaultSampleSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check re-fetches a sample of the checkpoint's visited pages and
// compares fingerprints. It returns an error only when the checkpoint
// itself is unusable; individual fetch failures become SKIPPED verdicts
// so one flaky page cannot abort the pass.
func (d *Detector) Check(ctx context.Context, cp *model.Checkpoint) (*model.DriftSummary, error) {
	pages := d.samplePages(cp)
	if len(pages) == 0 {
		return nil, fmt.Errorf("checkpoint holds no verifiable pages")
	}

	sum := &model.DriftSummary{
		Epoch:     cp.Epoch,
		SampledAt: time.Now(),
	}

	d.logger.Info("drift verification starting",
		"endpoint", cp.Endpoint,
		"epoch", cp.Epoch,
		"sample", len(pages),
	)

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		report := d.verify(ctx, cp, page)
		sum.Reports = append(sum.Reports, report)

		switch report.Verdict {
		case model.VerdictMatch:
			sum.Matched++
		case model.VerdictChanged:
			sum.Changed++
			d.logger.Warn("page drifted",
				"page", page,
				"checkpoint_fingerprint", report.CheckpointFingerprint,
				"live_fingerprint", report.LiveFingerprint,
			)
		case model.VerdictSkipped:
			sum.Skipped++
			d.logger.Debug("page skipped", "page", page, "note", report.Note)
		}
	}

	d.logger.Info("drift verification finished",
		"matched", sum.Matched,
		"changed", sum.Changed,
		"skipped", sum.Skipped,
		"drifted", sum.Drifted(),
		"next_epoch", sum.NextEpoch(),
	)
	return sum, nil
}

// verify re-fetches one page and produces its verdict.
func (d *Detector) verify(ctx context.Context, cp *model.Checkpoint, page model.PageNumber) model.DriftReport {
	report := model.DriftReport{
		Page:      page,
		CheckedAt: time.Now(),
	}

	recorded, ok := cp.FingerprintForPage(page)
	if !ok {
		report.Verdict = model.VerdictSkipped
		report.Note = "no fingerprint in checkpoint"
		return report
	}
	report.CheckpointFingerprint = recorded

	res, err := d.fetcher.Fetch(ctx, page)
	if err != nil {
		report.Verdict = model.VerdictSkipped
		report.Note = fmt.Sprintf("fetch failed: %v", err)
		return report
	}
	if !res.OK() {
		report.Verdict = model.VerdictSkipped
		report.Note = fetch.StatusFailure(res.StatusCode)
		return report
	}

	ids := d.extractor.Extract(res.Body)
	report.LiveFingerprint = model.FingerprintOf(ids)

	if report.LiveFingerprint == recorded {
		report.Verdict = model.VerdictMatch
	} else {
		report.Verdict = model.VerdictChanged
	}
	return report
}

// samplePages picks up to sampleSize pages spread evenly across the
// checkpoint's visited pages. The lowest and highest visited pages are
// always included: the low end anchors clamp detection and the high end
// is where drift shows up first.
func (d *Detector) samplePages(cp *model.Checkpoint) []model.PageNumber {
	visited := cp.VisitedPages()
	if len(visited) <= d.sampleSize {
		return visited
	}
	if d.sampleSize == 1 {
		return visited[:1]
	}

	picked := make([]model.PageNumber, 0, d.sampleSize)
	seen := make(map[model.PageNumber]bool, d.sampleSize)

	// Even stride over the sorted visited list, pinning both ends.
	step := float64(len(visited)-1) / float64(d.sampleSize-1)
	for i := 0; i < d.sampleSize; i++ {
		page := visited[int(float64(i)*step+0.5)]
		if seen[page] {
			continue
		}
		seen[page] = true
		picked = append(picked, page)
	}
	return picked
}
