// Package ledger tracks trained artifact versions, judges artifact
// staleness against per-cadence age thresholds, and recommends which
// workflow a run should execute.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Status is the lifecycle state of one artifact version.
type Status string

const (
	// StatusTraining marks a version that was claimed but whose files are
	// not yet durably committed. A version stuck here after a crash is
	// picked up again by the next trainer run.
	StatusTraining Status = "training"

	// StatusCompleted marks a version whose files are committed. Only
	// completed versions may become active.
	StatusCompleted Status = "completed"

	// StatusFailed marks a version whose training raised an error.
	StatusFailed Status = "failed"
)

// Version is one recorded training attempt for an artifact.
type Version struct {
	Version   int                `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	Status    Status             `json:"status"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Files     []string           `json:"files,omitempty"`
}

// Entry is the full version history for one artifact.
type Entry struct {
	Artifact string    `json:"artifact"`
	Versions []Version `json:"versions"`

	// ActiveVersion references the version consumers should load. Zero
	// means no active version. It only ever points at a completed version.
	ActiveVersion int `json:"active_version,omitempty"`
}

// Active returns the active version record, if one exists.
func (e *Entry) Active() (Version, bool) {
	if e.ActiveVersion == 0 {
		return Version{}, false
	}
	for _, v := range e.Versions {
		if v.Version == e.ActiveVersion {
			return v, true
		}
	}
	return Version{}, false
}

// Find returns the record for a specific version number.
func (e *Entry) Find(version int) (Version, bool) {
	for _, v := range e.Versions {
		if v.Version == version {
			return v, true
		}
	}
	return Version{}, false
}

// Ledger stores one JSON file per artifact under a directory,
// <dir>/<artifact>_versions.json. Writes go through a temp file and
// rename so a crash never leaves a half-written history behind.
type Ledger struct {
	dir string
}

// Open returns a ledger rooted at dir, creating the directory if needed.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &Ledger{dir: dir}, nil
}

// Dir returns the directory holding the ledger files.
func (l *Ledger) Dir() string { return l.dir }

// MetadataPath returns the path of the artifact's version file, whether or
// not it exists yet. Committers use it to persist ledger metadata alongside
// artifact files.
func (l *Ledger) MetadataPath(artifact string) string {
	return filepath.Join(l.dir, artifact+"_versions.json")
}

// Entry loads the version history for an artifact. A missing file yields an
// empty history, not an error: an artifact that was never trained simply has
// no versions yet.
func (l *Ledger) Entry(artifact string) (*Entry, error) {
	data, err := os.ReadFile(l.MetadataPath(artifact))
	if errors.Is(err, os.ErrNotExist) {
		return &Entry{Artifact: artifact}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read version file for %q: %w", artifact, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse version file for %q: %w", artifact, err)
	}
	if e.Artifact == "" {
		e.Artifact = artifact
	}
	return &e, nil
}

// NextVersion allocates the next version number for an artifact: one more
// than the highest ever recorded, regardless of status. Failed and abandoned
// versions still consume their numbers, so a version number is never reused.
func (l *Ledger) NextVersion(artifact string) (int, error) {
	e, err := l.Entry(artifact)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, v := range e.Versions {
		if v.Version > max {
			max = v.Version
		}
	}
	return max + 1, nil
}

// Mark records a version's status, inserting the record if the version is
// new and replacing it otherwise. Marking a version completed also promotes
// it to active; no other transition touches the active pointer, so the
// active version always references a completed one.
func (l *Ledger) Mark(artifact string, v Version) error {
	e, err := l.Entry(artifact)
	if err != nil {
		return err
	}

	replaced := false
	for i := range e.Versions {
		if e.Versions[i].Version == v.Version {
			e.Versions[i] = v
			replaced = true
			break
		}
	}
	if !replaced {
		e.Versions = append(e.Versions, v)
		sort.Slice(e.Versions, func(i, j int) bool {
			return e.Versions[i].Version < e.Versions[j].Version
		})
	}

	if v.Status == StatusCompleted {
		e.ActiveVersion = v.Version
	}

	return l.write(e)
}

func (l *Ledger) write(e *Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal version file for %q: %w", e.Artifact, err)
	}

	path := l.MetadataPath(e.Artifact)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write version file for %q: %w", e.Artifact, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish version file for %q: %w", e.Artifact, err)
	}
	return nil
}
