// Package database provides SQLite-based storage for driftscan.
//
// This package implements the CrawlDB, which stores:
//   - Crawl run reports for historical analysis
//   - Per-page observations with fingerprints and classifications
//   - Drift verification results across epochs
//
// Design decision: We use SQLite (via modernc.org/sqlite) because:
// 1. No external dependencies - the database is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. Sufficient performance for our use case
// 4. WAL mode provides good concurrent read performance
//
// The database is history, not state: a crawl resumes from its JSON
// checkpoint, never from here. Losing the database loses the ability to
// compare runs, not the ability to finish one.
package database
