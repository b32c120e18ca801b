package model

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Manifest is the deduplicated set of all identifiers discovered by a
// crawl, each carrying provenance: the lowest page number that introduced
// it. The manifest grows monotonically within one crawl; uniqueness is
// the only invariant, insertion order is irrelevant.
type Manifest struct {
	entries map[Identifier]PageNumber
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{entries: make(map[Identifier]PageNumber)}
}

// Contains reports whether the identifier is already in the manifest.
// Membership is exact; the crawl's correctness depends on no false
// negatives here, which a Go map guarantees.
func (m *Manifest) Contains(id Identifier) bool {
	_, ok := m.entries[id]
	return ok
}

// Add inserts an identifier with its provenance page. It returns true if
// the identifier was newly inserted and false if it was already present,
// in which case the existing provenance is kept when it is the lower page
// number. Re-adding is a no-op, which makes merges idempotent across
// checkpoint resumes.
func (m *Manifest) Add(id Identifier, page PageNumber) bool {
	if prev, ok := m.entries[id]; ok {
		if page.Cmp(prev) < 0 {
			m.entries[id] = page
		}
		return false
	}
	m.entries[id] = page
	return true
}

// Provenance returns the lowest page number that introduced the
// identifier.
func (m *Manifest) Provenance(id Identifier) (PageNumber, bool) {
	p, ok := m.entries[id]
	return p, ok
}

// Size returns the number of distinct identifiers.
func (m *Manifest) Size() int {
	return len(m.entries)
}

// Identifiers returns all identifiers sorted by numeric body.
func (m *Manifest) Identifiers() []Identifier {
	ids := make([]Identifier, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b Identifier) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return ids
}

// Clone returns a deep, independent copy. Checkpoint snapshots clone the
// manifest so concurrent fetch workers can never mutate a snapshot being
// persisted.
func (m *Manifest) Clone() *Manifest {
	cp := &Manifest{entries: make(map[Identifier]PageNumber, len(m.entries))}
	for id, page := range m.entries {
		cp.entries[id] = page
	}
	return cp
}

// Entries returns a copy of the identifier→provenance map for
// serialization.
func (m *Manifest) Entries() map[Identifier]PageNumber {
	out := make(map[Identifier]PageNumber, len(m.entries))
	for id, page := range m.entries {
		out[id] = page
	}
	return out
}

// ManifestFromEntries rebuilds a manifest from a serialized
// identifier→provenance map.
func ManifestFromEntries(entries map[Identifier]PageNumber) *Manifest {
	m := NewManifest()
	for id, page := range entries {
		m.entries[id] = page
	}
	return m
}

// WriteTo writes the manifest in its interchange form: one identifier per
// line, sorted, no duplicates.
func (m *Manifest) WriteTo(w io.Writer) (int64, error) {
	var total int64
	bw := bufio.NewWriter(w)
	for _, id := range m.Identifiers() {
		n, err := bw.WriteString(string(id) + "\n")
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("write manifest entry: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return total, fmt.Errorf("flush manifest: %w", err)
	}
	return total, nil
}

// ReadManifest parses a newline-delimited identifier list, tolerating the
// link suffix, mixed case, comment lines, and blank lines. Lines that do
// not conform to the pattern after canonicalization are skipped rather
// than treated as errors: reference manifests from third-party archives
// routinely carry headers and annotations.
//
// Loaded entries have no crawl provenance; their provenance page is the
// empty PageNumber.
func ReadManifest(r io.Reader, pattern Pattern) (*Manifest, error) {
	m := NewManifest()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id := pattern.Canonicalize(line)
		if !pattern.Matches(id) {
			continue
		}
		m.Add(id, "")
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return m, nil
}
