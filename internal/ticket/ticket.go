// Package ticket persists work items. The engine treats the store as an
// opaque keyed collection — it never depends on the storage engine behind
// it. Two implementations ship: a SQLite store for real sessions and an
// in-memory store for tests and ephemeral runs.
package ticket

import (
	"context"
	"errors"
	"time"
)

// Ticket statuses.
const (
	StatusProposed   = "proposed"
	StatusPlanned    = "planned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusBlocked    = "blocked"
)

// validStatuses gates UpdateStatus.
var validStatuses = map[string]struct{}{
	StatusProposed: {}, StatusPlanned: {}, StatusInProgress: {},
	StatusCompleted: {}, StatusFailed: {}, StatusBlocked: {},
}

// Ticket is one unit of proposed work with an allowed-path scope.
type Ticket struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	Title      string    `json:"title"`
	Category   string    `json:"category"`
	Complexity string    `json:"complexity"`
	Status     string    `json:"status"`
	Paths      []string  `json:"paths,omitempty"`
	SectorPath string    `json:"sector_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the persistence collaborator the engine consumes.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id string) (Ticket, error)
	UpdateStatus(ctx context.Context, id, status string) error
	ListByProject(ctx context.Context, project string) ([]Ticket, error)
	Close() error
}

// Sentinel errors, matchable with errors.Is.
var (
	// ErrNotFound is returned when no ticket has the requested id.
	ErrNotFound = errors.New("ticket not found")

	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("invalid ticket status")

	// ErrIDRequired is returned when a ticket is created without an id.
	ErrIDRequired = errors.New("ticket id is required")
)

// ValidateStatus checks a status value against the known set.
func ValidateStatus(status string) error {
	if _, ok := validStatuses[status]; !ok {
		return ErrInvalidStatus
	}
	return nil
}
