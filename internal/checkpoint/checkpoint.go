// Package checkpoint persists crawl progress durably. Writes are atomic
// (write-new-then-rename), so a crash mid-write never corrupts the
// previous checkpoint; a checkpoint that fails to parse is reported as
// corrupt and requires an explicit fresh start rather than a silent
// re-crawl.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/driftscan/internal/model"
)

// ErrCorrupt is returned when a checkpoint file exists but cannot be
// decoded or fails its invariants. Resuming from a corrupt checkpoint is
// refused: the operator must either repair the file or start fresh
// explicitly, because silently restarting would double-count a crawl
// that may have run for days.
var ErrCorrupt = errors.New("checkpoint corrupt")

// ErrNotFound is returned when no checkpoint exists at the store's path.
var ErrNotFound = errors.New("checkpoint not found")

// Store reads and writes checkpoints at a fixed path.
type Store struct {
	path string
}

// NewStore creates a Store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a checkpoint file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save persists the checkpoint atomically: the JSON is written to a
// temporary file in the same directory, synced, and renamed over the
// previous checkpoint. Readers see either the old complete file or the
// new complete file, never a partial write.
func (s *Store) Save(cp *model.Checkpoint) error {
	cp.SchemaVersion = model.CheckpointSchemaVersion
	cp.SavedAt = time.Now()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	// The temp file must live in the target directory: rename is only
	// atomic within a filesystem.
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename.

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// Load reads and validates the checkpoint. It returns ErrNotFound if no
// checkpoint exists and ErrCorrupt (wrapped with detail) if the file
// cannot be decoded or fails basic invariants.
func (s *Store) Load() (*model.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := validate(&cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &cp, nil
}

// validate checks the invariants a well-formed checkpoint satisfies.
func validate(cp *model.Checkpoint) error {
	if cp.SchemaVersion != model.CheckpointSchemaVersion {
		return fmt.Errorf("schema version %d, expected %d", cp.SchemaVersion, model.CheckpointSchemaVersion)
	}
	if cp.LastPage != "" && !cp.LastPage.Valid() {
		return fmt.Errorf("last page %q is not a number", cp.LastPage)
	}
	if cp.Manifest == nil {
		return errors.New("manifest missing")
	}
	if cp.Fingerprints == nil {
		return errors.New("fingerprint history missing")
	}
	// Every identifier must carry a parseable provenance page; an empty
	// provenance is allowed for entries imported from reference lists.
	for id, page := range cp.Manifest {
		if page != "" && !page.Valid() {
			return fmt.Errorf("identifier %s has non-numeric provenance %q", id, page)
		}
	}
	return nil
}
