package extract

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/driftscan/internal/model"
)

// Extractor parses raw listing-page text into an ordered sequence of
// document identifiers.
//
// Design decision: We walk the HTML with golang.org/x/net/html and match
// identifiers inside anchor hrefs rather than running the regexp over the
// whole body because:
//  1. The tokenizer tolerates the malformed HTML these listing pages
//     actually serve
//  2. Matching only hrefs skips identifiers quoted in surrounding prose
//     or error text
//  3. Bodies with no markup at all (plain-text listings, API error
//     bodies) are scanned directly so they still yield their tokens
type Extractor struct {
	pattern model.Pattern
}

// New creates an Extractor for the given identifier pattern.
func New(pattern model.Pattern) *Extractor {
	return &Extractor{pattern: pattern}
}

// Extract returns the identifiers found in the page, in document order,
// deduplicated to first occurrence. Malformed or empty input yields an
// empty sequence, never an error: a page with no matches is an EMPTY
// observation, not a failure.
func (e *Extractor) Extract(body []byte) []model.Identifier {
	if len(body) == 0 {
		return nil
	}

	// Non-HTML input (plain text manifests, API error bodies) is scanned
	// directly. HTML goes through the anchor walk so tokens quoted in
	// prose or error text never count as listings.
	if !strings.Contains(string(body), "<") {
		return e.fromText(string(body))
	}
	return e.fromAnchors(body)
}

// fromAnchors walks anchor elements and collects identifier tokens from
// their href attributes.
func (e *Extractor) fromAnchors(body []byte) []model.Identifier {
	hrefRe := e.pattern.HrefRegexp()
	tokenRe := e.pattern.TokenRegexp()

	var (
		ids  []model.Identifier
		seen = make(map[model.Identifier]bool)
	)

	z := html.NewTokenizer(strings.NewReader(string(body)))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF is the normal end; any other tokenizer error also
			// ends the walk with whatever was collected so far.
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if len(name) != 1 || name[0] != 'a' || !hasAttr {
			continue
		}
		for {
			key, val, more := z.TagAttr()
			if string(key) == "href" && hrefRe.Match(val) {
				if m := tokenRe.FindSubmatch(val); m != nil {
					id := e.pattern.Canonicalize(string(m[1]))
					if !seen[id] {
						seen[id] = true
						ids = append(ids, id)
					}
				}
			}
			if !more {
				break
			}
		}
	}
	return ids
}

// fromText scans plain text for identifier tokens, keeping document order
// and first occurrences.
func (e *Extractor) fromText(body string) []model.Identifier {
	tokenRe := e.pattern.TokenRegexp()

	var (
		ids  []model.Identifier
		seen = make(map[model.Identifier]bool)
	)
	for _, m := range tokenRe.FindAllString(body, -1) {
		id := e.pattern.Canonicalize(m)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
