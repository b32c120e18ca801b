package model

// Class is the classification of a page observation relative to crawl
// history. It is always derived from an observation against index state,
// never stored independently.
type Class string

// Page classifications.
//
// Design decision: We use string constants rather than iota integers
// because classifications appear verbatim in checkpoints, the database,
// and reports. A renumbered iota would silently corrupt old checkpoints;
// a renamed string fails loudly.
const (
	// ClassNew marks a page contributing at least one identifier not yet
	// in the manifest.
	ClassNew Class = "NEW"

	// ClassTrueWrap marks a page whose fingerprint exactly matches an
	// earlier page's fingerprint.
	ClassTrueWrap Class = "TRUE_WRAP"

	// ClassRedundant marks a page with a novel fingerprint but no
	// identifier absent from the manifest: known content in a new
	// arrangement.
	ClassRedundant Class = "REDUNDANT"

	// ClassEmpty marks a successful fetch that yielded no identifiers.
	ClassEmpty Class = "EMPTY"

	// ClassError marks a page whose fetch failed after retries.
	ClassError Class = "ERROR"
)

// Classes lists all classifications in reporting order.
func Classes() []Class {
	return []Class{ClassNew, ClassTrueWrap, ClassRedundant, ClassEmpty, ClassError}
}

// Classification is the result of classifying one observation. WrapOf and
// Contributed are populated only for the classes they belong to.
type Classification struct {
	// Class is the page classification.
	Class Class `json:"class"`

	// WrapOf is the earliest page number that produced the same
	// fingerprint. Only set for TRUE_WRAP.
	WrapOf PageNumber `json:"wrap_of,omitempty"`

	// Contributed holds the identifiers this page added to the manifest.
	// Only set for NEW.
	Contributed []Identifier `json:"contributed,omitempty"`
}

// IsNew reports whether the classification contributed identifiers.
func (c Classification) IsNew() bool {
	return c.Class == ClassNew
}
