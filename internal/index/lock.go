package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// RepoLock is a per-repository advisory lock combining an in-process
// sync.Mutex (fast-path contention within one server process) with a
// cross-process github.com/gofrs/flock file lock (contention across
// separate server instances sharing the same data directory), generalized
// from the single-purpose embedder-download lock in internal/embed/lock.go.
type RepoLock struct {
	path   string
	mu     sync.Mutex
	flock  *flock.Flock
	locked bool
}

// lockRegistry deduplicates RepoLock instances by canonical repo path so
// that concurrent indexing requests for the same repository within one
// process contend on the same sync.Mutex rather than racing through
// independent locks that would each succeed.
var lockRegistry = struct {
	mu    sync.Mutex
	locks map[string]*RepoLock
}{locks: make(map[string]*RepoLock)}

// AcquireRepoLock returns the shared RepoLock for dataDir, creating it if
// this is the first acquisition for that path. The lock file itself lives
// at <dataDir>/.index.lock.
func AcquireRepoLock(dataDir string) *RepoLock {
	canonical := filepath.Clean(dataDir)

	lockRegistry.mu.Lock()
	defer lockRegistry.mu.Unlock()

	if l, ok := lockRegistry.locks[canonical]; ok {
		return l
	}

	lockPath := filepath.Join(canonical, ".index.lock")
	l := &RepoLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
	lockRegistry.locks[canonical] = l
	return l
}

// TryLock attempts to acquire both the in-process and cross-process locks
// without blocking. It returns false (not an error) if either is already
// held, since lock contention on a repository already being indexed is an
// expected, non-fatal condition (spec.md §4.9: "AlreadyIndexing").
func (l *RepoLock) TryLock() (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.mu.Unlock()
		return false, fmt.Errorf("create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		l.mu.Unlock()
		return false, fmt.Errorf("acquire file lock: %w", err)
	}
	if !acquired {
		l.mu.Unlock()
		return false, nil
	}

	l.locked = true
	return true, nil
}

// Unlock releases both locks. Safe to call at most once per successful
// TryLock; calling it without a held lock is a no-op.
func (l *RepoLock) Unlock() error {
	if !l.locked {
		return nil
	}
	err := l.flock.Unlock()
	l.locked = false
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("release file lock: %w", err)
	}
	return nil
}
