package model

import "time"

// CrawlReport accumulates everything a scan run learned. Pipeline steps
// fill their sections in turn; report writers render it.
type CrawlReport struct {
	// Endpoint is the listing endpoint that was crawled.
	Endpoint string `json:"endpoint"`

	// Epoch is the drift generation the crawl ran under.
	Epoch int `json:"epoch"`

	// StartPage and EndPage bound the requested range.
	StartPage PageNumber `json:"start_page"`
	EndPage   PageNumber `json:"end_page"`

	// LastPage is the last page actually processed.
	LastPage PageNumber `json:"last_page,omitempty"`

	// PagesProcessed counts pages fetched and classified this run.
	PagesProcessed int `json:"pages_processed"`

	// Counts tallies classifications for the whole crawl, including
	// pages merged from a resumed checkpoint.
	Counts map[Class]int `json:"counts"`

	// ManifestSize is the number of distinct identifiers after the run.
	ManifestSize int `json:"manifest_size"`

	// NewIdentifiers counts identifiers first discovered this run.
	NewIdentifiers int `json:"new_identifiers"`

	// FailedPages lists pages still FAILED after the retry sweep.
	FailedPages []PageNumber `json:"failed_pages,omitempty"`

	// StopRule records the advisory rule that halted the crawl early.
	// Empty when the crawl covered the full requested range. Stop rules
	// are advisory because hidden fresh bands have been observed after
	// redundant streaks hundreds of pages long; a forced full-range scan
	// overrides them.
	StopRule string `json:"stop_rule,omitempty"`

	// Resumed reports whether the crawl continued from a checkpoint.
	Resumed bool `json:"resumed"`

	// Drift holds the stability verification results, if run.
	Drift *DriftSummary `json:"drift,omitempty"`

	// Boundary holds the page-space probing results, if run.
	Boundary *BoundaryReport `json:"boundary,omitempty"`

	// StartedAt and FinishedAt bound the run wall-clock time.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Cancelled reports whether the run was interrupted. An interrupted
	// run is resumable from its last checkpoint.
	Cancelled bool `json:"cancelled,omitempty"`

	// PerformedSteps lists the pipeline steps that ran, in order.
	PerformedSteps []string `json:"performed_steps,omitempty"`

	// Error holds a fatal pipeline error, if any. Excluded from JSON;
	// ErrorMessage carries the text.
	Error        error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// NewCrawlReport creates a report for the given endpoint and epoch.
func NewCrawlReport(endpoint string, epoch int) *CrawlReport {
	return &CrawlReport{
		Endpoint:  endpoint,
		Epoch:     epoch,
		Counts:    make(map[Class]int),
		StartedAt: time.Now(),
	}
}

// Duration returns the run wall-clock time.
func (r *CrawlReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// BoundarySearch is the outcome of one directed edge search over the
// page-number space.
type BoundarySearch struct {
	// LastGood is the outermost page that still returned a successful,
	// distinct-looking response.
	LastGood PageNumber `json:"last_good"`

	// FirstBad is the innermost page that failed or degenerated. Empty
	// when the search hit its cap without finding a failure.
	FirstBad PageNumber `json:"first_bad,omitempty"`

	// Unbounded reports that no failing page was found below the search
	// cap.
	Unbounded bool `json:"unbounded,omitempty"`

	// Probes counts fetches spent on the search.
	Probes int `json:"probes"`
}

// ClampProbe records how the server answered one out-of-range page.
type ClampProbe struct {
	// Page is the probed page number, possibly negative or beyond
	// int64.
	Page PageNumber `json:"page"`

	// Status is the transport outcome ("ok", "empty", or the failure).
	Status string `json:"status"`

	// Fingerprint is the content fingerprint of the response, if any.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Clamped reports that the fingerprint equals the reference page's
	// fingerprint: the server served a default page rather than erroring.
	Clamped bool `json:"clamped,omitempty"`

	// Class is the probe's classification against the crawl index.
	Class Class `json:"class,omitempty"`

	// NewIdentifiers counts identifiers this probe contributed.
	NewIdentifiers int `json:"new_identifiers,omitempty"`
}

// BoundaryReport aggregates the prober's findings. The clamp target is
// recorded as a fingerprint, never as an assumption of which page it
// equals.
type BoundaryReport struct {
	// Upper is the positive-direction edge search.
	Upper *BoundarySearch `json:"upper,omitempty"`

	// Lower is the negative-direction edge search.
	Lower *BoundarySearch `json:"lower,omitempty"`

	// ReferencePage is the page whose fingerprint out-of-range responses
	// are compared against, normally page 0.
	ReferencePage PageNumber `json:"reference_page"`

	// ReferenceFingerprint is that page's fingerprint at probe time.
	ReferenceFingerprint string `json:"reference_fingerprint,omitempty"`

	// Probes holds the out-of-range probe results.
	Probes []ClampProbe `json:"probes,omitempty"`
}
