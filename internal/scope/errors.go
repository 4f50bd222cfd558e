package scope

import "errors"

// Sentinel errors for plan validation, matchable with errors.Is. Each wrapped
// instance carries the offending path or value in its message.
var (
	// ErrNoFiles is returned when a plan lists no files.
	ErrNoFiles = errors.New("plan lists no files")

	// ErrTooManyFiles is returned when the plan exceeds the file cap.
	ErrTooManyFiles = errors.New("plan exceeds file cap")

	// ErrTooManyLines is returned when the estimated change exceeds the line cap.
	ErrTooManyLines = errors.New("plan exceeds line cap")

	// ErrInvalidRiskLevel is returned for a risk level outside low/medium/high.
	ErrInvalidRiskLevel = errors.New("invalid risk level")

	// ErrDeniedPath is returned for infrastructure or lockfile paths.
	ErrDeniedPath = errors.New("path is always denied")

	// ErrSensitivePath is returned for credential or secret file names.
	ErrSensitivePath = errors.New("path matches sensitive file pattern")

	// ErrOutsideScope is returned when a path matches no allow-list glob.
	ErrOutsideScope = errors.New("path outside allowed scope")

	// ErrOutsideWorktree is returned when a path escapes the worktree root.
	ErrOutsideWorktree = errors.New("path outside worktree root")

	// ErrExpansionRejected is returned when a scope expansion is not safe.
	ErrExpansionRejected = errors.New("scope expansion rejected")

	// ErrTooManyExpansions is returned when a violation would require adding
	// more paths than the configured expansion cap.
	ErrTooManyExpansions = errors.New("too many files need expansion")
)
