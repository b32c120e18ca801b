// Package config provides configuration structures and utilities for
// driftscan. It defines the main configuration options for crawling listing
// endpoints, checkpointing, drift verification, and report generation
// preferences.
package config
