package storage

import "errors"

// Sentinel errors for the storage package, matchable with errors.Is.
var (
	// ErrSessionActive is returned when the session lock is held by a
	// live process.
	ErrSessionActive = errors.New("session already active")
)
