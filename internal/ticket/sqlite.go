package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tickets (
		id         TEXT PRIMARY KEY,
		project    TEXT NOT NULL,
		title      TEXT NOT NULL,
		category   TEXT NOT NULL,
		complexity TEXT NOT NULL,
		status     TEXT NOT NULL,
		paths_json TEXT,
		sector     TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_project ON tickets(project, created_at);
	CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
`

// SQLiteStore persists tickets in a local SQLite database. Connections
// come from a fixed pool; each call takes one and returns it when done.
type SQLiteStore struct {
	pool *sqlitex.Pool
}

// OpenSQLite opens (creating if needed) the ticket database at path.
// Use ":memory:" with pool size 1 for tests.
func OpenSQLite(path string, poolSize int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ticket: database path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("ticket: %s: %w", pragma, err)
				}
			}
			if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
				return fmt.Errorf("ticket: creating schema: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ticket: opening %s: %w", path, err)
	}
	return &SQLiteStore{pool: pool}, nil
}

// Create inserts a ticket, stamping timestamps and defaulting the status.
func (s *SQLiteStore) Create(ctx context.Context, t *Ticket) error {
	if t.ID == "" {
		return ErrIDRequired
	}
	if t.Status == "" {
		t.Status = StatusProposed
	}
	if err := ValidateStatus(t.Status); err != nil {
		return fmt.Errorf("%w: %q", err, t.Status)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	var pathsJSON any
	if len(t.Paths) > 0 {
		data, err := json.Marshal(t.Paths)
		if err != nil {
			return fmt.Errorf("ticket: marshal paths: %w", err)
		}
		pathsJSON = string(data)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("ticket: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `INSERT INTO tickets
		(id, project, title, category, complexity, status, paths_json,
		 sector, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			t.ID, t.Project, t.Title, t.Category, t.Complexity,
			t.Status, pathsJSON, t.SectorPath,
			t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
		},
	})
}

// GetByID fetches a ticket by id.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (Ticket, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var found bool
	var t Ticket
	err = sqlitex.Execute(conn, `SELECT id, project, title, category,
		complexity, status, paths_json, sector, created_at, updated_at
		FROM tickets WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			return scanTicket(stmt, &t)
		},
	})
	if err != nil {
		return Ticket{}, err
	}
	if !found {
		return Ticket{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// UpdateStatus transitions a ticket's status and bumps its update time.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id, status string) error {
	if err := ValidateStatus(status); err != nil {
		return fmt.Errorf("%w: %q", err, status)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("ticket: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{status, time.Now().UTC().UnixMilli(), id},
		})
	if err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ListByProject returns the project's tickets ordered by creation time.
func (s *SQLiteStore) ListByProject(ctx context.Context, project string) ([]Ticket, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticket: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var out []Ticket
	err = sqlitex.Execute(conn, `SELECT id, project, title, category,
		complexity, status, paths_json, sector, created_at, updated_at
		FROM tickets WHERE project = ? ORDER BY created_at, id`,
		&sqlitex.ExecOptions{
			Args: []any{project},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var t Ticket
				if err := scanTicket(stmt, &t); err != nil {
					return err
				}
				out = append(out, t)
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the connection pool.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func scanTicket(stmt *sqlite.Stmt, t *Ticket) error {
	t.ID = stmt.ColumnText(0)
	t.Project = stmt.ColumnText(1)
	t.Title = stmt.ColumnText(2)
	t.Category = stmt.ColumnText(3)
	t.Complexity = stmt.ColumnText(4)
	t.Status = stmt.ColumnText(5)
	if raw := stmt.ColumnText(6); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Paths); err != nil {
			return fmt.Errorf("ticket %s: decode paths: %w", t.ID, err)
		}
	}
	t.SectorPath = stmt.ColumnText(7)
	t.CreatedAt = time.UnixMilli(stmt.ColumnInt64(8)).UTC()
	t.UpdatedAt = time.UnixMilli(stmt.ColumnInt64(9)).UTC()
	return nil
}
