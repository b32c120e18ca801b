package model

import (
	"slices"
	"time"
)

// CheckpointSchemaVersion identifies the checkpoint layout. Loading a
// checkpoint with a different version fails as corrupt rather than
// guessing at field meanings.
const CheckpointSchemaVersion = 1

// PageRecord is the per-page summary stored in a checkpoint: enough to
// re-verify a page later (drift detection) and to report on the crawl
// without holding full observations in memory.
type PageRecord struct {
	// Fingerprint is the content fingerprint of the page at crawl time.
	// Empty for EMPTY and failed pages.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Class is the classification the page received.
	Class Class `json:"class"`

	// Count is how many identifiers the page listed.
	Count int `json:"count"`

	// New is how many of those identifiers were first seen on this page.
	New int `json:"new"`

	// Failure records the transport failure for ERROR pages.
	Failure string `json:"failure,omitempty"`
}

// Checkpoint is a durable snapshot of crawl progress. It is owned
// exclusively by the crawl driver and persisted atomically: a reader
// either sees the previous complete checkpoint or the new one, never a
// partial write.
//
// All page numbers below LastPage have been fetched, classified, and
// merged (or conclusively failed) at the moment the checkpoint was taken.
type Checkpoint struct {
	// SchemaVersion is CheckpointSchemaVersion at write time.
	SchemaVersion int `json:"schema_version"`

	// Endpoint is the listing endpoint the crawl targets. Resuming
	// against a different endpoint is refused.
	Endpoint string `json:"endpoint"`

	// Epoch is the drift-detection generation of this crawl segment.
	Epoch int `json:"epoch"`

	// LastPage is the highest page number such that every page at or
	// below it has been processed.
	LastPage PageNumber `json:"last_page"`

	// Manifest maps each discovered identifier to the lowest page number
	// that introduced it.
	Manifest map[Identifier]PageNumber `json:"manifest"`

	// Fingerprints maps each content fingerprint to the earliest page
	// number that produced it. The earliest page wins ties and is never
	// overwritten.
	Fingerprints map[string]PageNumber `json:"fingerprints"`

	// Counts tallies pages per classification.
	Counts map[Class]int `json:"counts"`

	// Pages records the per-page summary for every processed page.
	Pages map[PageNumber]PageRecord `json:"pages"`

	// FailedPages lists pages still marked FAILED after the retry sweep.
	FailedPages []PageNumber `json:"failed_pages,omitempty"`

	// StopRule records the advisory stopping rule that ended the crawl
	// early, empty if the crawl ran its full range.
	StopRule string `json:"stop_rule,omitempty"`

	// SavedAt is when the checkpoint was written.
	SavedAt time.Time `json:"saved_at"`
}

// FingerprintForPage returns the crawl-time fingerprint recorded for a
// page, preferring the per-page record and falling back to inverting the
// fingerprint history for checkpoints predating per-page records.
func (cp *Checkpoint) FingerprintForPage(page PageNumber) (string, bool) {
	if rec, ok := cp.Pages[page]; ok && rec.Fingerprint != "" {
		return rec.Fingerprint, true
	}
	for fp, p := range cp.Fingerprints {
		if p == page {
			return fp, true
		}
	}
	return "", false
}

// VisitedPages returns all page numbers with a usable fingerprint,
// sorted numerically. These are the candidates for drift sampling.
func (cp *Checkpoint) VisitedPages() []PageNumber {
	pages := make([]PageNumber, 0, len(cp.Pages))
	for page, rec := range cp.Pages {
		if rec.Fingerprint != "" {
			pages = append(pages, page)
		}
	}
	slices.SortFunc(pages, func(a, b PageNumber) int { return a.Cmp(b) })
	return pages
}
