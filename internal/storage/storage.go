// Package storage owns the on-disk layout of the orchestrator's state
// directory: per-run folders with an atomically-replaced state file and an
// append-only event log, the repository-wide sector state file, and the
// session lock. All full-file writes go through write-to-temp-then-rename so
// a crash never leaves a partial file behind.
package storage

import (
	"path/filepath"
)

const (
	// StateDirName is the state directory created under the repository root.
	StateDirName = ".state"

	// RunsDirName holds one folder per run under the state directory.
	RunsDirName = "runs"

	// StateFileName is the atomically-replaced full run state.
	StateFileName = "state.json"

	// EventsFileName is the append-only event log, one JSON object per line.
	EventsFileName = "events.ndjson"

	// DiffsDirName holds per-step patch files.
	DiffsDirName = "diffs"

	// ArtifactsDirName holds QA logs, scout dumps, and other per-step files.
	ArtifactsDirName = "artifacts"

	// SectorsFileName is the repository-wide sector state, outside any run.
	SectorsFileName = "sectors.json"

	// LockFileName is the session lock; contents are a bare process id.
	LockFileName = "session.lock"
)

// StateDir returns the state directory for a repository root.
func StateDir(root string) string {
	return filepath.Join(root, StateDirName)
}

// SectorsPath returns the sector state file path for a repository root.
func SectorsPath(root string) string {
	return filepath.Join(StateDir(root), SectorsFileName)
}

// LockPath returns the session lock path for a repository root.
func LockPath(root string) string {
	return filepath.Join(StateDir(root), LockFileName)
}
