// Package probe explores the edges of a paginated listing endpoint.
//
// Servers rarely document how far their pagination goes. Some return an
// error past the last page, some serve an empty listing, and some clamp:
// any out-of-range page, including negative ones, silently answers with
// the same content as a default page. The prober finds the boundary in
// both directions with an exponential sweep followed by a binary search,
// and tells clamping apart from real content by comparing fingerprints
// against a reference page.
//
// Page numbers are carried as arbitrary-precision integers throughout:
// the upper sweep deliberately runs past int64 range, because a clamping
// server accepts any number you throw at it.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/nao1215/driftscan/internal/extract"
	"github.com/nao1215/driftscan/internal/fetch"
	"github.com/nao1215/driftscan/internal/index"
	"github.com/nao1215/driftscan/internal/model"
)

// Probe statuses for ClampProbe.Status.
const (
	statusOK    = "ok"
	statusEmpty = "empty"
)

// DefaultSearchCap bounds the exponential sweep. A server that still
// answers distinct content at this magnitude is reported as unbounded
// rather than searched further.
var DefaultSearchCap = new(big.Int).SetUint64(184467440737095516) // 2^64 / 100

// Prober probes the boundary of one listing endpoint.
type Prober struct {
	fetcher   fetch.Fetcher
	extractor *extract.Extractor
	index     *index.Index
	searchCap *big.Int
	logger    *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithIndex attaches a crawl index. Probes that reach real listing
// content are then classified against it, and fresh identifiers merge in
// so a probe that lands on an uncrawled band still contributes to the
// manifest.
func WithIndex(ix *index.Index) Option {
	return func(p *Prober) {
		p.index = ix
	}
}

// WithSearchCap overrides the sweep cap. Mostly for tests.
func WithSearchCap(limit *big.Int) Option {
	return func(p *Prober) {
		if limit != nil && limit.Sign() > 0 {
			p.searchCap = limit
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Prober.
func New(fetcher fetch.Fetcher, extractor *extract.Extractor, opts ...Option) *Prober {
	p := &Prober{
		fetcher:   fetcher,
		extractor: extractor,
		searchCap: DefaultSearchCap,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run probes both directions and returns the combined report. The
// reference page is fetched first; without it clamp detection cannot
// work, so a failing reference aborts the run.
func (p *Prober) Run(ctx context.Context, referencePage model.PageNumber) (*model.BoundaryReport, error) {
	ref, err := p.fingerprint(ctx, referencePage)
	if err != nil {
		return nil, fmt.Errorf("fetch reference page %s: %w", referencePage, err)
	}

	report := &model.BoundaryReport{
		ReferencePage:        referencePage,
		ReferenceFingerprint: ref,
	}

	p.logger.Info("boundary probe starting",
		"reference_page", referencePage,
		"reference_fingerprint", ref,
	)

	upper, err := p.searchUpper(ctx, report)
	if err != nil {
		return report, err
	}
	report.Upper = upper

	lower, err := p.searchLower(ctx, report)
	if err != nil {
		return report, err
	}
	report.Lower = lower

	p.logger.Info("boundary probe finished",
		"upper_last_good", report.Upper.LastGood,
		"upper_unbounded", report.Upper.Unbounded,
		"lower_last_good", report.Lower.LastGood,
		"probes", len(report.Probes),
	)
	return report, nil
}

// fingerprint fetches one page and returns its content fingerprint.
func (p *Prober) fingerprint(ctx context.Context, page model.PageNumber) (string, error) {
	res, err := p.fetcher.Fetch(ctx, page)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("reference page returned %s", fetch.StatusFailure(res.StatusCode))
	}
	return model.FingerprintOf(p.extractor.Extract(res.Body)), nil
}

// searchUpper finds the positive-direction boundary: double outward from
// page 1 until a probe degenerates, then binary-search the gap.
func (p *Prober) searchUpper(ctx context.Context, report *model.BoundaryReport) (*model.BoundarySearch, error) {
	search := &model.BoundarySearch{}
	lastGood := big.NewInt(0) // the reference page counts as good
	candidate := big.NewInt(1)

	for {
		if err := ctx.Err(); err != nil {
			return search, err
		}
		if candidate.Cmp(p.searchCap) > 0 {
			search.LastGood = model.PageFromBig(lastGood)
			search.Unbounded = true
			p.logger.Warn("no upper boundary below the search cap", "cap", p.searchCap.String())
			return search, nil
		}

		probe := p.probe(ctx, model.PageFromBig(candidate), report)
		search.Probes++
		if p.good(probe) {
			lastGood.Set(candidate)
			candidate.Lsh(candidate, 1) // double
			continue
		}
		return p.bisect(ctx, report, search, lastGood, candidate)
	}
}

// searchLower finds the negative-direction boundary, sweeping -1, -2,
// -4, ... the same way searchUpper sweeps upward.
func (p *Prober) searchLower(ctx context.Context, report *model.BoundaryReport) (*model.BoundarySearch, error) {
	search := &model.BoundarySearch{}
	lastGood := big.NewInt(0)
	candidate := big.NewInt(-1)
	limit := new(big.Int).Neg(p.searchCap)

	for {
		if err := ctx.Err(); err != nil {
			return search, err
		}
		if candidate.Cmp(limit) < 0 {
			search.LastGood = model.PageFromBig(lastGood)
			search.Unbounded = true
			p.logger.Warn("no lower boundary above the search cap", "cap", limit.String())
			return search, nil
		}

		probe := p.probe(ctx, model.PageFromBig(candidate), report)
		search.Probes++
		if p.good(probe) {
			lastGood.Set(candidate)
			candidate.Mul(candidate, big.NewInt(2))
			continue
		}
		return p.bisect(ctx, report, search, lastGood, candidate)
	}
}

// bisect narrows (good, bad) to adjacent pages. good and bad may be on
// either side of zero; the invariant is only that good probed fine and
// bad did not.
func (p *Prober) bisect(ctx context.Context, report *model.BoundaryReport, search *model.BoundarySearch, good, bad *big.Int) (*model.BoundarySearch, error) {
	good = new(big.Int).Set(good)
	bad = new(big.Int).Set(bad)
	diff := new(big.Int)
	mid := new(big.Int)

	for {
		if err := ctx.Err(); err != nil {
			return search, err
		}
		diff.Sub(bad, good)
		if diff.CmpAbs(big.NewInt(1)) <= 0 {
			search.LastGood = model.PageFromBig(good)
			search.FirstBad = model.PageFromBig(bad)
			return search, nil
		}

		mid.Add(good, bad)
		mid.Rsh(mid.Abs(mid), 1)
		if good.Sign() < 0 || bad.Sign() < 0 {
			mid.Neg(mid)
		}

		probe := p.probe(ctx, model.PageFromBig(mid), report)
		search.Probes++
		if p.good(probe) {
			good.Set(mid)
		} else {
			bad.Set(mid)
		}
	}
}

// probe fetches one page, records the result on the report, and merges
// genuinely new content into the index when one is attached.
func (p *Prober) probe(ctx context.Context, page model.PageNumber, report *model.BoundaryReport) model.ClampProbe {
	probe := model.ClampProbe{Page: page}

	res, err := p.fetcher.Fetch(ctx, page)
	switch {
	case err != nil:
		probe.Status = "transport error"
	case !res.OK():
		probe.Status = fetch.StatusFailure(res.StatusCode)
	default:
		ids := p.extractor.Extract(res.Body)
		probe.Fingerprint = model.FingerprintOf(ids)
		if len(ids) == 0 {
			probe.Status = statusEmpty
		} else {
			probe.Status = statusOK
		}
		probe.Clamped = probe.Fingerprint != "" &&
			probe.Fingerprint == report.ReferenceFingerprint &&
			page != report.ReferencePage

		if p.index != nil && probe.Status == statusOK && !probe.Clamped {
			obs := model.NewObservation(page, ids, p.index.Epoch(), time.Now())
			if c, err := p.index.Merge(obs); err == nil {
				probe.Class = c.Class
				probe.NewIdentifiers = len(c.Contributed)
			}
		}
	}

	p.logger.Debug("probed page",
		"page", page,
		"status", probe.Status,
		"clamped", probe.Clamped,
	)
	report.Probes = append(report.Probes, probe)
	return probe
}

// good reports whether a probe landed on genuine in-range content.
// Clamped responses look healthy at the HTTP layer but are the server's
// way of refusing the page, so they count as out of range.
func (p *Prober) good(probe model.ClampProbe) bool {
	return probe.Status == statusOK && !probe.Clamped
}
