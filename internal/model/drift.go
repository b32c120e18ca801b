package model

import "time"

// Verdict is the outcome of re-verifying one previously visited page.
type Verdict string

// Drift verdicts.
const (
	// VerdictMatch means the live fingerprint equals the checkpoint
	// fingerprint: the page still maps to the same content.
	VerdictMatch Verdict = "MATCH"

	// VerdictChanged means the fingerprints differ: the page↔content
	// mapping drifted since the checkpoint was taken.
	VerdictChanged Verdict = "CHANGED"

	// VerdictSkipped means the page could not be verified (fetch failed
	// or the checkpoint holds no fingerprint for it).
	VerdictSkipped Verdict = "SKIPPED"
)

// DriftReport is the verdict for one sampled page. Reports are ephemeral:
// they inform the operator and the epoch decision, never the epoch-N
// index.
type DriftReport struct {
	// Page is the sampled page number.
	Page PageNumber `json:"page"`

	// CheckpointFingerprint is the fingerprint recorded at crawl time.
	CheckpointFingerprint string `json:"checkpoint_fingerprint,omitempty"`

	// LiveFingerprint is the fingerprint of the re-fetched page.
	LiveFingerprint string `json:"live_fingerprint,omitempty"`

	// Verdict compares the two.
	Verdict Verdict `json:"verdict"`

	// Note carries the skip reason for SKIPPED pages.
	Note string `json:"note,omitempty"`

	// CheckedAt is when the re-fetch happened.
	CheckedAt time.Time `json:"checked_at"`
}

// DriftSummary aggregates a verification pass over a sample of pages.
type DriftSummary struct {
	// Reports holds one entry per sampled page.
	Reports []DriftReport `json:"reports"`

	// Matched, Changed, and Skipped count verdicts.
	Matched int `json:"matched"`
	Changed int `json:"changed"`
	Skipped int `json:"skipped"`

	// Epoch is the epoch the sample was verified against.
	Epoch int `json:"epoch"`

	// SampledAt is when the pass started.
	SampledAt time.Time `json:"sampled_at"`
}

// Drifted reports whether any sampled page changed. When true, the
// assumption that classification is a pure function of page number no
// longer holds for the affected range: any subsequent crawl segment must
// run under NextEpoch instead of silently reconciling.
func (s *DriftSummary) Drifted() bool {
	return s.Changed > 0
}

// NextEpoch returns the epoch for crawl segments after this verification:
// the same epoch when the sample matched, the next one when it drifted.
func (s *DriftSummary) NextEpoch() int {
	if s.Drifted() {
		return s.Epoch + 1
	}
	return s.Epoch
}
