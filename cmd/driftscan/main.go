// Package main provides the entry point for the driftscan CLI.
//
// Driftscan crawls unstable paginated listing endpoints and maintains a
// deduplicated manifest of the identifiers they expose. It detects when
// the page-to-content mapping drifts between runs and probes the edges
// of the page-number space.
//
// Usage:
//
//	driftscan scan <endpoint-url>
//	driftscan verify <endpoint-url>
//
// See --help for all available options.
package main

// main is the entry point for driftscan.
func main() {
	Execute()
}
