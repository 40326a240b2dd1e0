package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/distill/pkg/types"
)

// FileLock serializes read-modify-write cycles on a project's manifest
// across process boundaries. The lock is a sidecar file holding holder
// metadata; a holder older than the stale timeout is force-released so a
// crashed process cannot deadlock the project forever.
type FileLock struct {
	dir        string
	staleAfter time.Duration
	retries    int
	backoff    time.Duration
	now        func() time.Time
}

// LockHandle identifies one successful acquisition.
type LockHandle struct {
	projectID string
	holder    string
}

type lockFile struct {
	Holder     string    `json:"holder"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// NewFileLock creates a lock manager for manifest files under dir.
// Acquisition retries up to retries times with exponential backoff
// starting at backoff.
func NewFileLock(dir string, staleAfter time.Duration, retries int, backoff time.Duration) *FileLock {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &FileLock{
		dir:        dir,
		staleAfter: staleAfter,
		retries:    retries,
		backoff:    backoff,
		now:        time.Now,
	}
}

func (l *FileLock) pathFor(projectID string) string {
	return filepath.Join(l.dir, projectID+".manifest.lock")
}

// Acquire takes the manifest lock for a project, retrying with bounded
// exponential backoff on contention. Stale lock files are force-released.
func (l *FileLock) Acquire(projectID string) (*LockHandle, error) {
	delay := l.backoff
	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		handle, err := l.tryAcquire(projectID)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if types.KindOf(err) != types.KindConflict {
			return nil, err
		}
	}
	return nil, types.Conflict("manifest lock for %s still held after %d attempts: %v", projectID, l.retries+1, lastErr)
}

func (l *FileLock) tryAcquire(projectID string) (*LockHandle, error) {
	path := l.pathFor(projectID)

	if existing, err := l.readLock(path); err == nil {
		if l.now().Sub(existing.AcquiredAt) < l.staleAfter {
			return nil, types.Conflict("manifest for %s locked by pid %d", projectID, existing.PID)
		}
		// Stale: force-release the crashed holder's lock.
		_ = os.Remove(path)
	}

	lf := lockFile{Holder: uuid.New().String(), PID: os.Getpid(), AcquiredAt: l.now()}
	data, err := json.Marshal(lf)
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal lock file: %w", err)
	}

	// O_EXCL makes creation the atomic acquisition point.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, types.Conflict("manifest for %s locked concurrently", projectID)
		}
		return nil, fmt.Errorf("manifest: create lock file %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("manifest: write lock file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("manifest: close lock file %s: %w", path, err)
	}
	return &LockHandle{projectID: projectID, holder: lf.Holder}, nil
}

// Release frees the lock if the handle still owns it. Releasing a lock
// that was reclaimed by another process is a no-op.
func (l *FileLock) Release(handle *LockHandle) error {
	if handle == nil {
		return nil
	}
	path := l.pathFor(handle.projectID)
	existing, err := l.readLock(path)
	if err != nil {
		return nil
	}
	if existing.Holder != handle.holder {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("manifest: release lock %s: %w", path, err)
	}
	return nil
}

func (l *FileLock) readLock(path string) (*lockFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lf lockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		// A corrupt lock file is treated as stale.
		return &lockFile{AcquiredAt: time.Time{}}, nil
	}
	return &lf, nil
}

// WithLock runs fn while holding the project's manifest lock.
func (l *FileLock) WithLock(projectID string, fn func() error) error {
	handle, err := l.Acquire(projectID)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release(handle) }()
	return fn()
}
