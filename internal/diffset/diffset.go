// Package diffset compares two identifier manifests and partitions their
// union into shared and exclusive sets.
package diffset

import (
	"fmt"
	"io"

	"github.com/nao1215/driftscan/internal/model"
)

// Result holds the comparison of two manifests. The three slices form an
// exact partition of the union: every identifier from either manifest
// appears in exactly one of them, and each slice is sorted.
type Result struct {
	// Common contains identifiers present in both manifests.
	Common []model.Identifier `json:"common"`

	// OnlyA contains identifiers present only in the first manifest.
	OnlyA []model.Identifier `json:"only_a"`

	// OnlyB contains identifiers present only in the second manifest.
	OnlyB []model.Identifier `json:"only_b"`

	// SizeA is the total number of identifiers in the first manifest.
	SizeA int `json:"size_a"`

	// SizeB is the total number of identifiers in the second manifest.
	SizeB int `json:"size_b"`
}

// Diff compares two manifests. Neither input is modified; comparing a
// manifest against itself yields an all-common result with empty
// exclusive sets.
func Diff(a, b *model.Manifest) *Result {
	result := &Result{
		SizeA: a.Size(),
		SizeB: b.Size(),
	}

	// Manifest.Identifiers returns sorted slices, so appending in
	// iteration order keeps every output slice sorted too.
	for _, id := range a.Identifiers() {
		if b.Contains(id) {
			result.Common = append(result.Common, id)
		} else {
			result.OnlyA = append(result.OnlyA, id)
		}
	}
	for _, id := range b.Identifiers() {
		if !a.Contains(id) {
			result.OnlyB = append(result.OnlyB, id)
		}
	}
	return result
}

// Identical reports whether the two manifests held exactly the same
// identifiers.
func (r *Result) Identical() bool {
	return len(r.OnlyA) == 0 && len(r.OnlyB) == 0
}

// UnionSize returns the number of distinct identifiers across both
// manifests.
func (r *Result) UnionSize() int {
	return len(r.Common) + len(r.OnlyA) + len(r.OnlyB)
}

// WriteSection writes one partition slice as newline-terminated
// identifiers, the same layout manifest files use.
func WriteSection(w io.Writer, ids []model.Identifier) error {
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return fmt.Errorf("write identifier: %w", err)
		}
	}
	return nil
}
