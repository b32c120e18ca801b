// Package index holds the running crawl state: the deduplicated
// identifier manifest with provenance and the fingerprint history that
// drives wrap detection. Classification is a pure function of an
// observation against this state.
package index
