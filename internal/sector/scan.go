package sector

import (
	"os"
	"path/filepath"
	"strings"
)

// Directory names that never form sectors or count toward file totals.
var skippedDirNames = map[string]struct{}{
	".git": {}, "node_modules": {}, "vendor": {}, ".state": {},
	"dist": {}, "build": {}, "target": {}, "__pycache__": {}, ".venv": {},
}

// nonProductionDirNames classify regions whose code does not ship.
var nonProductionDirNames = map[string]string{
	"test": "tests", "tests": "tests", "testdata": "tests", "spec": "tests",
	"docs": "docs", "doc": "docs", "documentation": "docs",
	"examples": "examples", "example": "examples", "samples": "examples",
	"scripts": "tooling", "tools": "tooling", "hack": "tooling",
	".github": "ci", ".circleci": "ci", "ci": "ci",
	"assets": "assets", "static": "assets", "public": "assets",
}

// purposeHints map common production directory names to a purpose label.
var purposeHints = map[string]string{
	"api": "api", "server": "api", "handlers": "api", "routes": "api",
	"cmd": "entrypoints", "bin": "entrypoints", "main": "entrypoints",
	"internal": "core", "lib": "core", "pkg": "core", "src": "core", "core": "core",
	"store": "storage", "storage": "storage", "db": "storage", "models": "storage",
	"config": "config", "conf": "config",
	"ui": "frontend", "web": "frontend", "frontend": "frontend", "components": "frontend",
	"util": "support", "utils": "support", "common": "support", "shared": "support",
}

// Scan walks the repository and emits one module per top-level directory,
// descending one extra level into structural containers (src, internal, pkg,
// lib, cmd, apps, packages) whose children are the real regions. Hidden and
// dependency directories are skipped. Files directly at the repository root
// form a synthetic "." module so root-level manifests still have a home.
func Scan(root string) ([]Module, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var modules []Module
	rootFiles := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			rootFiles++
			continue
		}
		if _, skip := skippedDirNames[name]; skip {
			continue
		}
		if strings.HasPrefix(name, ".") && !isClassifiedHidden(name) {
			continue
		}

		if isStructuralContainer(name) {
			children, err := scanChildren(root, name)
			if err != nil {
				return nil, err
			}
			if len(children) > 0 {
				modules = append(modules, children...)
				continue
			}
		}
		modules = append(modules, classifyDir(root, name, name))
	}

	if rootFiles > 0 {
		modules = append(modules, Module{
			Path:       ".",
			Purpose:    "repo-root",
			Production: false,
			Confidence: ConfidenceHigh,
			FileCount:  rootFiles,
		})
	}
	return modules, nil
}

// structuralContainers hold regions rather than being one.
var structuralContainers = map[string]struct{}{
	"src": {}, "internal": {}, "pkg": {}, "lib": {}, "cmd": {},
	"apps": {}, "packages": {},
}

func isStructuralContainer(name string) bool {
	_, ok := structuralContainers[name]
	return ok
}

func isClassifiedHidden(name string) bool {
	_, ok := nonProductionDirNames[name]
	return ok
}

func scanChildren(root, parent string) ([]Module, error) {
	entries, err := os.ReadDir(filepath.Join(root, parent))
	if err != nil {
		return nil, err
	}
	var modules []Module
	looseFiles := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			looseFiles++
			continue
		}
		name := entry.Name()
		if _, skip := skippedDirNames[name]; skip {
			continue
		}
		modules = append(modules, classifyDir(root, filepath.Join(parent, name), name))
	}
	// Loose files under the container attach to a module for the container
	// itself so they stay countable.
	if looseFiles > 0 {
		modules = append(modules, Module{
			Path:       parent,
			Purpose:    purposeFor(parent),
			Production: true,
			Confidence: ConfidenceLow,
			FileCount:  looseFiles,
		})
	}
	return modules, nil
}

func classifyDir(root, relPath, name string) Module {
	fileCount := countFiles(filepath.Join(root, relPath))

	if purpose, ok := nonProductionDirNames[strings.ToLower(name)]; ok {
		return Module{
			Path:       relPath,
			Purpose:    purpose,
			Production: false,
			Confidence: ConfidenceHigh,
			FileCount:  fileCount,
		}
	}

	purpose := purposeFor(name)
	confidence := ConfidenceLow
	if purpose != "" {
		confidence = ConfidenceMedium
	}
	return Module{
		Path:       relPath,
		Purpose:    purpose,
		Production: true,
		Confidence: confidence,
		FileCount:  fileCount,
	}
}

func purposeFor(name string) string {
	return purposeHints[strings.ToLower(name)]
}

// countFiles counts regular files under dir, skipping dependency and VCS
// subtrees. Walk errors under a subtree are treated as zero files there —
// an unreadable directory should not fail the whole structural scan.
func countFiles(dir string) int {
	count := 0
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := skippedDirNames[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		return nil
	})
	return count
}
