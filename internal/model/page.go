package model

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"
)

// PageNumber is a page index encoded as a decimal string. The probed page
// space is not bounded by machine integers: the listing server has been
// observed accepting negative page numbers and values near 2^64, so the
// boundary layer must carry arbitrary-precision values. A string keeps the
// type comparable (usable as a map key) and JSON-friendly while numeric
// comparison goes through math/big.
//
// Design decision: We use a string rather than *big.Int because:
//  1. Strings are comparable and can key maps (fingerprint history,
//     manifest provenance)
//  2. The fetch primitive forwards the page number as a URL parameter,
//     which is a string anyway
//  3. *big.Int in struct fields invites aliasing bugs in snapshots
type PageNumber string

// PageFromInt converts a machine integer page index to a PageNumber.
func PageFromInt(n int64) PageNumber {
	return PageNumber(strconv.FormatInt(n, 10))
}

// PageFromBig converts an arbitrary-precision page index to a PageNumber.
func PageFromBig(n *big.Int) PageNumber {
	return PageNumber(n.String())
}

// Big returns the page number as a big.Int. Invalid page numbers return
// false; they never enter the system through normal parsing.
func (p PageNumber) Big() (*big.Int, bool) {
	n, ok := new(big.Int).SetString(string(p), 10)
	return n, ok
}

// Int64 narrows the page number to int64 where the value fits.
func (p PageNumber) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(p), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Cmp compares two page numbers numerically: -1 if p < q, 0 if equal,
// +1 if p > q. Non-numeric values compare as strings so the order stays
// total.
func (p PageNumber) Cmp(q PageNumber) int {
	a, okA := p.Big()
	b, okB := q.Big()
	if okA && okB {
		return a.Cmp(b)
	}
	return strings.Compare(string(p), string(q))
}

// Valid reports whether the page number is a well-formed decimal integer.
func (p PageNumber) Valid() bool {
	_, ok := p.Big()
	return ok
}

// PageObservation is one fetch of one page: the page number, the ordered
// identifiers extracted from the response, the fingerprint of the sorted
// identifier set, and the epoch the observation belongs to. Observations
// are immutable once created; fetching the same page twice produces two
// observations compared by fingerprint.
type PageObservation struct {
	// Page is the page number that was requested.
	Page PageNumber `json:"page"`

	// Identifiers holds the tokens in the order they appeared on the
	// page. Order is kept for diagnostics only; classification works on
	// the sorted set.
	Identifiers []Identifier `json:"identifiers,omitempty"`

	// Fingerprint is the content hash of the sorted identifier set.
	// Empty for EMPTY and failed pages.
	Fingerprint string `json:"fingerprint,omitempty"`

	// FetchedAt is when the page was fetched.
	FetchedAt time.Time `json:"fetched_at"`

	// Epoch tags which drift-detection generation produced the
	// observation. Observations from different epochs are never merged
	// into the same fingerprint history.
	Epoch int `json:"epoch"`

	// Failure is the transport-level failure, if any. A non-empty
	// Failure means the fetch itself failed after retries and the page
	// classifies as ERROR without touching the index.
	Failure string `json:"failure,omitempty"`
}

// NewObservation builds an observation for a successful fetch, computing
// the fingerprint from the extracted identifiers.
func NewObservation(page PageNumber, ids []Identifier, epoch int, at time.Time) PageObservation {
	return PageObservation{
		Page:        page,
		Identifiers: ids,
		Fingerprint: FingerprintOf(ids),
		FetchedAt:   at,
		Epoch:       epoch,
	}
}

// FailedObservation builds an observation for a page whose fetch failed
// after all retries.
func FailedObservation(page PageNumber, epoch int, at time.Time, failure string) PageObservation {
	return PageObservation{
		Page:      page,
		FetchedAt: at,
		Epoch:     epoch,
		Failure:   failure,
	}
}

// FingerprintOf computes the content fingerprint of an identifier set:
// SHA-256 over the sorted, deduplicated tokens joined with "|", truncated
// to 32 hex characters. Page-internal order never influences the result,
// so two pages with the same identifiers in any arrangement fingerprint
// identically. An empty set returns "" and must be classified EMPTY
// before fingerprinting matters.
//
// 128 bits of SHA-256 keep accidental collisions across distinct
// identifier sets negligible while staying short enough to log and store
// per page.
func FingerprintOf(ids []Identifier) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := make([]string, 0, len(ids))
	for _, id := range ids {
		sorted = append(sorted, string(id))
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:16])
}
