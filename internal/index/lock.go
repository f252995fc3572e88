package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// LockFileName is the refresh lock inside the data directory.
const LockFileName = "refresh.lock"

// RefreshLock serializes refreshes of one folder across processes.
type RefreshLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRefreshLock creates the lock for dataDir.
func NewRefreshLock(dataDir string) *RefreshLock {
	path := filepath.Join(dataDir, LockFileName)
	return &RefreshLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. It returns an error matching
// ErrRefreshLocked when another process holds it.
func (l *RefreshLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return amerrors.New(amerrors.ErrCodeRefreshLocked,
			"another refresh is running on this folder", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Wait for it to finish, or remove " + l.path + " if no amanrag process is running")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Calling it when not held is a no-op.
func (l *RefreshLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *RefreshLock) Path() string {
	return l.path
}
