package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// RunPaths locates every file and directory belonging to one run.
type RunPaths struct {
	Root         string
	StateFile    string
	EventsFile   string
	DiffsDir     string
	ArtifactsDir string
}

// BuildRunPaths computes the run folder layout for a repository root and run
// id without touching the filesystem.
func BuildRunPaths(root, runID string) RunPaths {
	runRoot := filepath.Join(StateDir(root), RunsDirName, runID)
	return RunPaths{
		Root:         runRoot,
		StateFile:    filepath.Join(runRoot, StateFileName),
		EventsFile:   filepath.Join(runRoot, EventsFileName),
		DiffsDir:     filepath.Join(runRoot, DiffsDirName),
		ArtifactsDir: filepath.Join(runRoot, ArtifactsDirName),
	}
}

// Init creates the run folder structure.
func (p RunPaths) Init() error {
	for _, dir := range []string{p.Root, p.DiffsDir, p.ArtifactsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteDiff stores a patch for one step of one work item.
func (p RunPaths) WriteDiff(step int, itemID, patch string) error {
	name := fmt.Sprintf("%d-%s.patch", step, itemID)
	return WriteFileAtomic(filepath.Join(p.DiffsDir, name), []byte(patch))
}

// WriteArtifact stores a free-form per-step file (QA log, scout dump).
func (p RunPaths) WriteArtifact(name string, data []byte) error {
	return WriteFileAtomic(filepath.Join(p.ArtifactsDir, name), data)
}

// ListRuns returns the run ids present under a repository root, oldest
// directory-order first. A missing runs directory yields an empty list.
func ListRuns(root string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(StateDir(root), RunsDirName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
