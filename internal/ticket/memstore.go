package ticket

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store for tests and sessions that do not
// configure a database path.
type MemStore struct {
	mu      sync.RWMutex
	tickets map[string]Ticket
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{tickets: map[string]Ticket{}}
}

// Create inserts a ticket, stamping timestamps and defaulting the status.
func (m *MemStore) Create(_ context.Context, t *Ticket) error {
	if t.ID == "" {
		return ErrIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tickets[t.ID]; exists {
		return fmt.Errorf("ticket %s already exists", t.ID)
	}
	now := time.Now().UTC()
	if t.Status == "" {
		t.Status = StatusProposed
	}
	if err := ValidateStatus(t.Status); err != nil {
		return fmt.Errorf("%w: %q", err, t.Status)
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	m.tickets[t.ID] = cloneTicket(*t)
	return nil
}

// GetByID fetches a ticket by id.
func (m *MemStore) GetByID(_ context.Context, id string) (Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return Ticket{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneTicket(t), nil
}

// UpdateStatus transitions a ticket's status and bumps its update time.
func (m *MemStore) UpdateStatus(_ context.Context, id, status string) error {
	if err := ValidateStatus(status); err != nil {
		return fmt.Errorf("%w: %q", err, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	m.tickets[id] = t
	return nil
}

// ListByProject returns the project's tickets ordered by creation time.
func (m *MemStore) ListByProject(_ context.Context, project string) ([]Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Ticket
	for _, t := range m.tickets {
		if t.Project == project {
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }

func cloneTicket(t Ticket) Ticket {
	if t.Paths != nil {
		paths := make([]string, len(t.Paths))
		copy(paths, t.Paths)
		t.Paths = paths
	}
	return t
}
