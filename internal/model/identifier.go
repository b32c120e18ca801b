package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Identifier is a document reference token extracted from a listing page,
// such as "EFTA00039025". Identifiers are opaque strings with a fixed
// lexical shape: a constant prefix followed by a fixed-width zero-padded
// decimal body. They are compared by their numeric body and used as map
// keys, never as pointers to anything.
type Identifier string

// Num returns the numeric body of the identifier. The second return value
// is false if the identifier does not end in a parseable decimal body,
// which only happens for tokens that bypassed pattern validation.
func (id Identifier) Num() (int64, bool) {
	s := string(id)
	// Find the trailing run of digits.
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return 0, false
	}
	n, err := strconv.ParseInt(s[i:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Less reports whether id orders before other. Identifiers with the same
// prefix order by numeric body; otherwise they fall back to string order
// so sorting is still total across mixed inputs.
func (id Identifier) Less(other Identifier) bool {
	a, okA := id.Num()
	b, okB := other.Num()
	if okA && okB && a != b {
		return a < b
	}
	return id < other
}

// Pattern describes the lexical format of identifiers on a listing
// endpoint: a constant prefix, a fixed-width zero-padded decimal body,
// and a suffix that appears in document links but not in the stored token.
//
// The default pattern matches the DOJ disclosure listing this tool was
// built against: EFTA + 8 digits + ".pdf" in hrefs.
type Pattern struct {
	// Prefix is the constant, case-sensitive token prefix (e.g. "EFTA").
	Prefix string

	// Digits is the width of the zero-padded decimal body.
	Digits int

	// Suffix is the link suffix that follows the token in page hrefs
	// (e.g. ".pdf"). The suffix is matched but never stored.
	Suffix string
}

// DefaultPattern returns the identifier pattern for the DOJ disclosure
// listing: EFTA followed by eight digits, linked as a .pdf.
func DefaultPattern() Pattern {
	return Pattern{Prefix: "EFTA", Digits: 8, Suffix: ".pdf"}
}

// Validate checks that the pattern is usable.
func (p Pattern) Validate() error {
	if p.Prefix == "" {
		return fmt.Errorf("identifier pattern: prefix must not be empty")
	}
	if p.Digits <= 0 {
		return fmt.Errorf("identifier pattern: digit width must be positive")
	}
	if strings.ContainsAny(p.Prefix, " \t\n") {
		return fmt.Errorf("identifier pattern: prefix must not contain whitespace")
	}
	return nil
}

// HrefRegexp returns a regexp matching document links on a listing page,
// i.e. token plus suffix. Matching is case-insensitive because the server
// has been observed emitting both cases; stored tokens are canonicalized
// to upper case by Canonicalize.
func (p Pattern) HrefRegexp() *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p.Prefix) + `\d{` + strconv.Itoa(p.Digits) + `}` + regexp.QuoteMeta(p.Suffix))
}

// TokenRegexp returns a regexp capturing the bare identifier token.
func (p Pattern) TokenRegexp() *regexp.Regexp {
	return regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(p.Prefix) + `\d{` + strconv.Itoa(p.Digits) + `})`)
}

// Canonicalize normalizes a matched token to its stored form: upper case,
// no suffix, no surrounding whitespace.
func (p Pattern) Canonicalize(raw string) Identifier {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(strings.ToUpper(s), strings.ToUpper(p.Suffix))
	return Identifier(s)
}

// Matches reports whether a bare token conforms to the pattern after
// canonicalization.
func (p Pattern) Matches(id Identifier) bool {
	s := string(id)
	if !strings.HasPrefix(s, strings.ToUpper(p.Prefix)) {
		return false
	}
	body := s[len(p.Prefix):]
	if len(body) != p.Digits {
		return false
	}
	for i := 0; i < len(body); i++ {
		if body[i] < '0' || body[i] > '9' {
			return false
		}
	}
	return true
}
