package run

import "errors"

// Sentinel errors, matchable with errors.Is.
var (
	// ErrRunEnded is returned when a mutation is attempted on an ended run.
	ErrRunEnded = errors.New("run has ended")

	// ErrNoActiveTicket is returned when a ticket-scoped event arrives with
	// no ticket assigned.
	ErrNoActiveTicket = errors.New("no active ticket")

	// ErrInvalidPhase is returned for an override targeting an unknown phase.
	ErrInvalidPhase = errors.New("invalid phase")
)
