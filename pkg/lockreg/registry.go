// Package lockreg provides in-process, per-key mutual exclusion for
// session and project operations. A second acquisition of a held key fails
// fast; callers are expected to retry later, not queue. Entries left
// behind by a crashed or wedged holder are reclaimed after a staleness
// threshold.
//
// The registry is injectable rather than a package-level singleton so
// tests can substitute a fake.
package lockreg

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/distill/pkg/types"
)

// DefaultStaleAfter is how long a lock may be held before a competing
// acquirer may reclaim it.
const DefaultStaleAfter = 10 * time.Minute

// Locker is the registry interface components depend on.
type Locker interface {
	// Acquire takes the lock for key on behalf of operation. It returns a
	// holder token to pass to Release, or a Conflict error if the key is
	// already held and not stale.
	Acquire(key, operation string) (string, error)

	// Release frees the lock if holder still owns it. Releasing a lock that
	// was already reclaimed or released is a no-op.
	Release(key, holder string)

	// Holder returns the operation currently holding key, if any.
	Holder(key string) (operation string, held bool)
}

// SessionKey builds the lock key for a per-session operation.
func SessionKey(sessionID, operation string) string {
	return fmt.Sprintf("session:%s:%s", sessionID, operation)
}

// ProjectKey builds the lock key guarding a project's manifest.
func ProjectKey(projectID string) string {
	return fmt.Sprintf("project:%s", projectID)
}

type entry struct {
	holder     string
	operation  string
	acquiredAt time.Time
}

// Registry is the standard Locker implementation: a keyed map guarded by a
// mutex, with bounded-lifetime entries.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]entry
	staleAfter time.Duration
	now        func() time.Time // injected for testability
}

// New creates a registry with the given staleness threshold. A zero or
// negative threshold falls back to DefaultStaleAfter.
func New(staleAfter time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Registry{
		entries:    make(map[string]entry),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Acquire implements Locker.
func (r *Registry) Acquire(key, operation string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, held := r.entries[key]; held {
		if r.now().Sub(e.acquiredAt) < r.staleAfter {
			return "", types.Conflict("operation %q already in progress on %s", e.operation, key)
		}
		// Stale holder: reclaim rather than deadlock on a crashed operation.
	}

	holder := uuid.New().String()
	r.entries[key] = entry{holder: holder, operation: operation, acquiredAt: r.now()}
	return holder, nil
}

// Release implements Locker.
func (r *Registry) Release(key, holder string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, held := r.entries[key]; held && e.holder == holder {
		delete(r.entries, key)
	}
}

// Holder implements Locker.
func (r *Registry) Holder(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, held := r.entries[key]
	if !held {
		return "", false
	}
	if r.now().Sub(e.acquiredAt) >= r.staleAfter {
		return "", false
	}
	return e.operation, true
}
