package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// SessionLock is the per-repository session lock. The lock file's contents
// are the holder's process id; a lock whose pid is no longer alive is stale
// and silently reclaimed.
type SessionLock struct {
	path string
	pid  int
}

// AcquireSessionLock takes the session lock for a repository root. Returns
// ErrSessionActive when another live process holds it.
func AcquireSessionLock(root string) (*SessionLock, error) {
	path := LockPath(root)
	if err := os.MkdirAll(StateDir(root), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		holder, parsed := readLockHolder(path)
		if parsed && processAlive(holder) {
			return nil, fmt.Errorf("%w: held by pid %d", ErrSessionActive, holder)
		}
		// Dead holder or unparseable contents: the lock is stale, reclaim.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reclaim stale lock: %w", err)
		}
	}

	pid := os.Getpid()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: lock file reappeared", ErrSessionActive)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d", pid); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close lock file: %w", err)
	}
	return &SessionLock{path: path, pid: pid}, nil
}

// Release removes the lock if this process still owns it.
func (l *SessionLock) Release() error {
	if l == nil {
		return nil
	}
	if holder, ok := readLockHolder(l.path); ok && holder != l.pid {
		return fmt.Errorf("lock at %s held by pid %d, not %d", l.path, holder, l.pid)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func readLockHolder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
