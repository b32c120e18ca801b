// Package crawler drives the fetch → extract → classify → merge →
// checkpoint loop over a page range. The driver is the single writer of
// the crawl index and the sole owner of the checkpoint; optional
// concurrent prefetch workers only ever fetch, never merge.
package crawler
