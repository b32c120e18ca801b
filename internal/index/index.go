package index

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nao1215/driftscan/internal/model"
)

// ErrInvariantViolation is returned when the index detects a state that a
// correct classifier can never produce, such as a NEW page whose
// contribution did not land in the manifest. It indicates a bug, not an
// operational condition, and is fatal to the crawl.
var ErrInvariantViolation = errors.New("index invariant violation")

// Index is the running crawl state: the deduplicated manifest of every
// identifier ever observed and the fingerprint history used for wrap
// detection. It is the single shared mutable resource of a crawl; all
// mutation happens under one lock, so concurrent fetch workers can hand
// observations to a single merging goroutine without races.
type Index struct {
	mu           sync.Mutex
	manifest     *model.Manifest
	fingerprints map[string]model.PageNumber
	counts       map[model.Class]int
	epoch        int
}

// New creates an empty index for the given epoch.
func New(epoch int) *Index {
	return &Index{
		manifest:     model.NewManifest(),
		fingerprints: make(map[string]model.PageNumber),
		counts:       make(map[model.Class]int),
		epoch:        epoch,
	}
}

// Restore rebuilds an index from a checkpoint. Merging a page that the
// checkpoint already covered is a no-op by construction: its fingerprint
// and identifiers are already present.
func Restore(cp *model.Checkpoint) *Index {
	ix := New(cp.Epoch)
	ix.manifest = model.ManifestFromEntries(cp.Manifest)
	for fp, page := range cp.Fingerprints {
		ix.fingerprints[fp] = page
	}
	for class, n := range cp.Counts {
		ix.counts[class] = n
	}
	return ix
}

// RestoreAtEpoch rebuilds an index from a checkpoint under a possibly
// newer epoch. The manifest always carries over: an identifier once seen
// is permanent no matter how the endpoint shuffles its pages. Fingerprint
// history and classification counts carry over only within the same
// epoch; after drift they describe a page ordering that no longer exists,
// so classification starts from a clean baseline.
func RestoreAtEpoch(cp *model.Checkpoint, epoch int) *Index {
	if epoch == cp.Epoch {
		return Restore(cp)
	}
	ix := New(epoch)
	ix.manifest = model.ManifestFromEntries(cp.Manifest)
	return ix
}

// Epoch returns the drift generation this index belongs to.
func (ix *Index) Epoch() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.epoch
}

// Contains reports whether the identifier has been observed.
func (ix *Index) Contains(id model.Identifier) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.manifest.Contains(id)
}

// Size returns the number of distinct identifiers observed.
func (ix *Index) Size() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.manifest.Size()
}

// Classify evaluates an observation against current state without
// mutating anything. The decision table, in order:
//
//  1. Fetch failed                         → ERROR
//  2. No identifiers                       → EMPTY
//  3. Fingerprint seen before              → TRUE_WRAP(earliest page)
//  4. Every identifier already in manifest → REDUNDANT
//  5. Otherwise                            → NEW with the contribution
func (ix *Index) Classify(obs model.PageObservation) model.Classification {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.classifyLocked(obs)
}

func (ix *Index) classifyLocked(obs model.PageObservation) model.Classification {
	if obs.Failure != "" {
		return model.Classification{Class: model.ClassError}
	}
	if len(obs.Identifiers) == 0 {
		return model.Classification{Class: model.ClassEmpty}
	}
	if earliest, ok := ix.fingerprints[obs.Fingerprint]; ok {
		return model.Classification{Class: model.ClassTrueWrap, WrapOf: earliest}
	}

	var contributed []model.Identifier
	for _, id := range obs.Identifiers {
		if !ix.manifest.Contains(id) {
			contributed = append(contributed, id)
		}
	}
	if len(contributed) == 0 {
		return model.Classification{Class: model.ClassRedundant}
	}
	return model.Classification{Class: model.ClassNew, Contributed: contributed}
}

// Merge classifies an observation and applies its side effects: new
// identifiers join the manifest with this page as provenance, first-time
// fingerprints are registered, and the classification counter advances.
// ERROR and EMPTY observations touch only the counters.
//
// Merge is idempotent with respect to content: merging a page whose
// fingerprint and identifiers are already indexed adds nothing.
func (ix *Index) Merge(obs model.PageObservation) (model.Classification, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	c := ix.classifyLocked(obs)
	ix.counts[c.Class]++

	switch c.Class {
	case model.ClassError, model.ClassEmpty:
		return c, nil
	case model.ClassTrueWrap:
		// The earliest page for this fingerprint is already recorded;
		// probes can merge out of page order, so a lower page number
		// still claims the earliest slot.
		if obs.Page.Cmp(c.WrapOf) < 0 {
			ix.fingerprints[obs.Fingerprint] = obs.Page
		}
		return c, nil
	}

	// REDUNDANT and NEW both carry a first-time fingerprint.
	if _, ok := ix.fingerprints[obs.Fingerprint]; !ok {
		ix.fingerprints[obs.Fingerprint] = obs.Page
	}
	for _, id := range c.Contributed {
		ix.manifest.Add(id, obs.Page)
	}

	// A correct classifier always lands its contribution; anything else
	// means the manifest and classifier disagree about membership.
	for _, id := range c.Contributed {
		if !ix.manifest.Contains(id) {
			return c, fmt.Errorf("%w: contributed identifier %s missing after merge of page %s",
				ErrInvariantViolation, id, obs.Page)
		}
	}
	return c, nil
}

// SnapshotManifest returns a deep, read-only copy of the manifest for
// checkpointing.
func (ix *Index) SnapshotManifest() *model.Manifest {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.manifest.Clone()
}

// SnapshotFingerprints returns a copy of the fingerprint history.
func (ix *Index) SnapshotFingerprints() map[string]model.PageNumber {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make(map[string]model.PageNumber, len(ix.fingerprints))
	for fp, page := range ix.fingerprints {
		out[fp] = page
	}
	return out
}

// Counts returns a copy of the per-classification tallies.
func (ix *Index) Counts() map[model.Class]int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make(map[model.Class]int, len(ix.counts))
	for class, n := range ix.counts {
		out[class] = n
	}
	return out
}
