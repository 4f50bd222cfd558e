package scope

import (
	"fmt"
	"path"
	"strings"
)

// relatedFileNames are exact base names that conventionally travel with code
// already in scope: module roots, build manifests, and ecosystem entry points.
var relatedFileNames = map[string]struct{}{
	// JavaScript / TypeScript
	"index.js": {}, "index.ts": {}, "index.tsx": {}, "index.mjs": {},
	"package.json": {}, "tsconfig.json": {},
	// Go
	"go.mod": {}, "doc.go": {}, "main.go": {},
	// Rust
	"mod.rs": {}, "lib.rs": {}, "main.rs": {}, "Cargo.toml": {},
	// Python
	"__init__.py": {}, "conftest.py": {}, "setup.py": {}, "pyproject.toml": {},
	// Ruby
	"Gemfile": {}, "Rakefile": {},
	// JVM
	"build.gradle": {}, "build.gradle.kts": {}, "pom.xml": {},
	// .NET
	"Directory.Build.props": {},
	// Elixir
	"mix.exs": {},
	// PHP
	"composer.json": {},
	// C / C++
	"CMakeLists.txt": {}, "Makefile": {}, "meson.build": {},
	// Swift
	"Package.swift": {},
	// Generic
	"Dockerfile": {}, ".gitignore": {},
}

// relatedFileSuffixes are suffixes that mark tests and type definitions
// conventionally edited alongside in-scope sources.
var relatedFileSuffixes = []string{
	"_test.go",
	".test.ts", ".test.tsx", ".test.js", ".test.jsx",
	".spec.ts", ".spec.tsx", ".spec.js", ".spec.jsx",
	".d.ts",
	"_test.py", "_spec.rb", "_test.rb",
	"Test.java", "Tests.java", "Test.kt",
	"Tests.cs", "Test.cs",
	"_test.exs",
	"_test.rs",
}

// ExpandResult describes an approved scope expansion.
type ExpandResult struct {
	// AddedGlobs are the globs to append to the policy's allow-list.
	AddedGlobs []string

	// Reasons maps each violating path to why its addition was approved.
	Reasons map[string]string
}

// ProposeExpansion decides whether the paths that violated scope mid-execution
// can be auto-added to the allow-list. A path qualifies if it is a sibling of
// an allowed directory, a conventional related file (test, type definition,
// module index, build manifest), or sits under an allowed top-level or
// second-level directory. Denied and hallucinated paths never qualify, and an
// expansion larger than maxAdded is rejected outright.
func ProposeExpansion(violations []string, p Policy, maxAdded int) (ExpandResult, error) {
	if maxAdded <= 0 {
		maxAdded = 3
	}
	if len(violations) > maxAdded {
		return ExpandResult{}, fmt.Errorf("%w: %d paths exceed cap of %d", ErrTooManyExpansions, len(violations), maxAdded)
	}

	result := ExpandResult{Reasons: map[string]string{}}
	for _, raw := range violations {
		candidate := normalizePath(raw)

		if isHallucinatedPath(candidate) {
			return ExpandResult{}, fmt.Errorf("%w: %s looks hallucinated", ErrExpansionRejected, raw)
		}
		if matchingDeniedGlob(candidate, p) != "" || sensitiveFragment(candidate) != "" {
			return ExpandResult{}, fmt.Errorf("%w: %s is forbidden", ErrExpansionRejected, raw)
		}

		reason, ok := expansionReason(candidate, p)
		if !ok {
			return ExpandResult{}, fmt.Errorf("%w: %s has no allowed relative", ErrExpansionRejected, raw)
		}
		result.AddedGlobs = append(result.AddedGlobs, candidate)
		result.Reasons[raw] = reason
	}
	return result, nil
}

func expansionReason(candidate string, p Policy) (string, bool) {
	if isSiblingOfAllowed(candidate, p) {
		return "sibling of allowed directory", true
	}
	if isRelatedFile(candidate) {
		return "conventional related file", true
	}
	if underAllowedPrefix(candidate, p) {
		return "under allowed directory", true
	}
	return "", false
}

// isSiblingOfAllowed reports whether the candidate's directory is the parent
// or a sibling of a directory already covered by the allow-list.
func isSiblingOfAllowed(candidate string, p Policy) bool {
	candidateDir := path.Dir(candidate)
	for _, g := range p.AllowedGlobs {
		allowedDir := globStaticDir(g)
		if allowedDir == "" || allowedDir == "." {
			continue
		}
		if path.Dir(allowedDir) == candidateDir || path.Dir(allowedDir) == path.Dir(candidateDir) {
			return true
		}
	}
	return false
}

// isRelatedFile matches cross-ecosystem companion-file conventions.
func isRelatedFile(candidate string) bool {
	base := path.Base(candidate)
	if _, ok := relatedFileNames[base]; ok {
		return true
	}
	for _, suffix := range relatedFileSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

// underAllowedPrefix reports whether the candidate lies under the top-level
// or second-level directory of any allowed glob.
func underAllowedPrefix(candidate string, p Policy) bool {
	for _, g := range p.AllowedGlobs {
		dir := globStaticDir(g)
		if dir == "" || dir == "." {
			continue
		}
		segments := strings.Split(dir, "/")
		for depth := 1; depth <= 2 && depth <= len(segments); depth++ {
			prefix := strings.Join(segments[:depth], "/")
			if strings.HasPrefix(candidate, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// globStaticDir returns the longest leading portion of a glob with no
// metacharacters, interpreted as a directory.
func globStaticDir(g string) string {
	segments := strings.Split(normalizePath(g), "/")
	var static []string
	for _, seg := range segments {
		if strings.ContainsAny(seg, "*?") {
			break
		}
		static = append(static, seg)
	}
	if len(static) == 0 {
		return ""
	}
	dir := strings.Join(static, "/")
	// A trailing file name is not a directory.
	if strings.Contains(path.Base(dir), ".") && len(static) > 1 {
		dir = path.Dir(dir)
	}
	return dir
}

// isHallucinatedPath flags paths that agents invent: double slashes or the
// same segment repeated consecutively ("src/api/api/handler.go").
func isHallucinatedPath(candidate string) bool {
	if strings.Contains(candidate, "//") {
		return true
	}
	segments := strings.Split(candidate, "/")
	for i := 1; i < len(segments); i++ {
		if segments[i] != "" && segments[i] == segments[i-1] {
			return true
		}
	}
	return false
}
