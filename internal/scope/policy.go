// Package scope gates which files a work item may touch. A Policy is derived
// per item from its category and allowed-path list, optionally tightened by
// historical learnings, and every submitted plan (and every streamed file
// event during execution) is validated against it. Evaluation is always
// deny-before-allow.
package scope

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Categories with non-default presets.
const (
	CategoryDocs = "docs"
	CategoryTest = "test"
)

// Default caps applied when the category has no preset.
const (
	DefaultMaxFiles = 10
	DefaultMaxLines = 400

	docsMaxLines = 800
	testMaxLines = 1000
)

// alwaysDeniedGlobs are infrastructure paths no plan may touch regardless of
// category or allow-list: dependency trees, build output, VCS internals, and
// generated lockfiles.
var alwaysDeniedGlobs = []string{
	"**/node_modules/**",
	"node_modules/**",
	"**/.git/**",
	".git/**",
	"**/vendor/**",
	"vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/__pycache__/**",
	"**/*.lock",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
	"**/Cargo.lock",
	"**/Gemfile.lock",
	"**/poetry.lock",
	"**/composer.lock",
}

// sensitiveNameFragments are filename fragments that mark credential or
// secret material. Matched case-insensitively against the base name.
var sensitiveNameFragments = []string{
	".env",
	".pem",
	".key",
	"credentials",
	"secret",
}

// Policy is the derived edit-permission set for one work item. It is
// ephemeral: recomputed per item, never persisted standalone.
type Policy struct {
	// AllowedGlobs is the item's allow-list. Empty means anything not
	// denied is allowed.
	AllowedGlobs []string

	// DeniedGlobs are item-specific denials checked before the allow-list.
	DeniedGlobs []string

	// Category is the work item category the policy was derived from.
	Category string

	// MaxFiles and MaxLines cap the plan size.
	MaxFiles int
	MaxLines int

	// PlanRequired demands a validated plan before any edit.
	PlanRequired bool

	// WorktreeRoot, when set, additionally requires every touched path to
	// resolve strictly inside it.
	WorktreeRoot string

	// RiskTier records the adaptive-risk tier applied during derivation.
	RiskTier RiskTier
}

// Learning is a historical observation about paths the item overlaps with.
// Supplied by the caller's learnings store; only the shape matters here.
type Learning struct {
	Paths    []string
	Severity string // "low", "medium", "high"
}

// RiskTier is the adaptive tightening level computed from learnings.
type RiskTier string

const (
	RiskTierDefault  RiskTier = "default"
	RiskTierLow      RiskTier = "low"
	RiskTierElevated RiskTier = "elevated"
	RiskTierHigh     RiskTier = "high"
)

// Derive builds the policy for a work item. Category presets apply first
// (docs skips the plan gate and raises the line cap, test raises the line cap
// to 1000), then learnings about the same paths may override them: enough
// matching history demands a plan even for plan-exempt categories and
// tightens the caps proportionally to the risk tier.
func Derive(allowedPaths []string, category string, maxLinesPerItem int, learnings []Learning, worktreeRoot string) Policy {
	p := Policy{
		AllowedGlobs: normalizeGlobs(allowedPaths),
		Category:     category,
		MaxFiles:     DefaultMaxFiles,
		MaxLines:     maxLinesPerItem,
		PlanRequired: true,
		WorktreeRoot: worktreeRoot,
		RiskTier:     RiskTierDefault,
	}
	if p.MaxLines <= 0 {
		p.MaxLines = DefaultMaxLines
	}

	switch category {
	case CategoryDocs:
		p.PlanRequired = false
		if p.MaxLines < docsMaxLines {
			p.MaxLines = docsMaxLines
		}
	case CategoryTest:
		if p.MaxLines < testMaxLines {
			p.MaxLines = testMaxLines
		}
	}

	if tier := adaptiveRiskTier(allowedPaths, learnings); tier != RiskTierDefault && tier != RiskTierLow {
		p.RiskTier = tier
		p.PlanRequired = true
		switch tier {
		case RiskTierElevated:
			p.MaxFiles = scaleCap(p.MaxFiles, 0.7)
			p.MaxLines = scaleCap(p.MaxLines, 0.7)
		case RiskTierHigh:
			p.MaxFiles = scaleCap(p.MaxFiles, 0.5)
			p.MaxLines = scaleCap(p.MaxLines, 0.5)
		}
	} else if tier == RiskTierLow {
		p.RiskTier = tier
	}

	return p
}

// adaptiveRiskTier scores learnings that overlap the item's paths, weighting
// by severity, and maps the density-normalized score to a tier.
func adaptiveRiskTier(allowedPaths []string, learnings []Learning) RiskTier {
	if len(learnings) == 0 {
		return RiskTierDefault
	}
	matching := 0
	score := 0.0
	for _, l := range learnings {
		if !learningMatches(l, allowedPaths) {
			continue
		}
		matching++
		switch l.Severity {
		case "high":
			score += 3
		case "medium":
			score += 2
		default:
			score += 1
		}
	}
	if matching == 0 {
		return RiskTierDefault
	}
	// Density: matched learnings relative to a handful of observations.
	density := float64(matching) / 5.0
	if density > 1 {
		density = 1
	}
	weighted := score * density
	switch {
	case weighted >= 6:
		return RiskTierHigh
	case weighted >= 3:
		return RiskTierElevated
	default:
		return RiskTierLow
	}
}

func learningMatches(l Learning, allowedPaths []string) bool {
	for _, lp := range l.Paths {
		lp = normalizePath(lp)
		for _, ap := range allowedPaths {
			ap = normalizePath(ap)
			if lp == ap || strings.HasPrefix(lp, strings.TrimSuffix(ap, "/**")) || strings.HasPrefix(ap, lp) {
				return true
			}
		}
	}
	return false
}

func scaleCap(v int, factor float64) int {
	scaled := int(float64(v) * factor)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// normalizeGlobs cleans each entry and promotes bare directory paths to
// recursive globs ("src/api" becomes "src/api/**").
func normalizeGlobs(paths []string) []string {
	var out []string
	for _, raw := range paths {
		p := normalizePath(strings.TrimSpace(raw))
		if p == "" {
			continue
		}
		if !strings.ContainsAny(p, "*?") && !strings.Contains(filepath.Base(p), ".") {
			p = strings.TrimSuffix(p, "/") + "/**"
		}
		out = append(out, p)
	}
	return out
}

// ValidRiskLevels for a submitted plan.
var ValidRiskLevels = map[string]struct{}{"low": {}, "medium": {}, "high": {}}

// ValidatePlan checks a plan's file list against the policy. Checks run in a
// fixed order and the first failure short-circuits, so callers always get the
// most fundamental violation first.
func ValidatePlan(files []string, estimatedLines int, riskLevel string, p Policy) error {
	if len(files) == 0 {
		return ErrNoFiles
	}
	if len(files) > p.MaxFiles {
		return fmt.Errorf("%w: %d files exceeds cap of %d", ErrTooManyFiles, len(files), p.MaxFiles)
	}
	if estimatedLines > p.MaxLines {
		return fmt.Errorf("%w: %d lines exceeds cap of %d", ErrTooManyLines, estimatedLines, p.MaxLines)
	}
	if _, ok := ValidRiskLevels[riskLevel]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRiskLevel, riskLevel)
	}
	for _, f := range files {
		path := normalizePath(f)
		if g := matchingDeniedGlob(path, p); g != "" {
			return fmt.Errorf("%w: %s (matches %s)", ErrDeniedPath, f, g)
		}
		if frag := sensitiveFragment(path); frag != "" {
			return fmt.Errorf("%w: %s (matches %q)", ErrSensitivePath, f, frag)
		}
		if !allowedByGlobs(path, p) {
			return fmt.Errorf("%w: %s", ErrOutsideScope, f)
		}
		if p.WorktreeRoot != "" && !insideRoot(path, p.WorktreeRoot) {
			return fmt.Errorf("%w: %s escapes %s", ErrOutsideWorktree, f, p.WorktreeRoot)
		}
	}
	return nil
}

// IsFileAllowed applies the same deny-then-allow logic to a single path, for
// streaming execution monitors that see file events one at a time.
func IsFileAllowed(path string, p Policy) bool {
	path = normalizePath(path)
	if matchingDeniedGlob(path, p) != "" {
		return false
	}
	if sensitiveFragment(path) != "" {
		return false
	}
	if !allowedByGlobs(path, p) {
		return false
	}
	if p.WorktreeRoot != "" && !insideRoot(path, p.WorktreeRoot) {
		return false
	}
	return true
}

func matchingDeniedGlob(path string, p Policy) string {
	for _, g := range alwaysDeniedGlobs {
		if matchGlob(g, path) {
			return g
		}
	}
	for _, g := range p.DeniedGlobs {
		if matchGlob(g, path) {
			return g
		}
	}
	return ""
}

func sensitiveFragment(path string) string {
	base := strings.ToLower(filepath.Base(path))
	for _, frag := range sensitiveNameFragments {
		if strings.Contains(base, frag) {
			return frag
		}
	}
	return ""
}

// allowedByGlobs applies the allow-list. An empty allow-list means anything
// not denied is allowed.
func allowedByGlobs(path string, p Policy) bool {
	if len(p.AllowedGlobs) == 0 {
		return true
	}
	for _, g := range p.AllowedGlobs {
		if matchGlob(g, path) {
			return true
		}
	}
	return false
}

// insideRoot reports whether path resolves strictly inside root, rejecting
// ".."-based escapes.
func insideRoot(path, root string) bool {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return false
		}
		return rel != ".." && !strings.HasPrefix(rel, "../")
	}
	cleaned := filepath.ToSlash(filepath.Clean(path))
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}
