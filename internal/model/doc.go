// Package model defines the core data types shared across driftscan:
// identifiers, page observations, classifications, manifests, checkpoints,
// and drift reports.
//
// Types in this package are plain data with no I/O. Persistence lives in
// the checkpoint and database packages; orchestration lives in crawler.
package model
