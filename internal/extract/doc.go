// Package extract turns raw listing-page text into ordered identifier
// sequences. It never fails on malformed input: absence of matches is an
// empty sequence, not an error.
package extract
