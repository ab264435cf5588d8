// Package gitlock implements the per-repository mutual exclusion
// guarantee: at most one mutating Git operation runs against a given
// repositoryId at any instant, acquired in FIFO order, with a bounded wait.
package gitlock

import (
	"context"
	"fmt"
	"sync"

	"github.com/corvidwave/foreman/internal/errs"
)

// Locker serialises mutating Git operations per repositoryId. The zero
// value is not usable; construct with New.
type Locker struct {
	mu    sync.Mutex
	repos map[string]chan struct{}
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{repos: make(map[string]chan struct{})}
}

func (l *Locker) tokenFor(repoID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.repos[repoID]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		l.repos[repoID] = ch
	}
	return ch
}

// WithLock acquires the lock for repoID, runs fn, and releases the lock
// regardless of whether fn panics or returns an error. action is carried
// only for logging/error context (clone, worktree, pull, push); it does not
// affect locking granularity; the lock is per-repository, not per-action.
// Acquisition respects ctx's deadline and returns a LOCK_TIMEOUT-wrapped
// error if the lock isn't free in time.
func (l *Locker) WithLock(ctx context.Context, repoID, action string, fn func() error) error {
	token := l.tokenFor(repoID)

	select {
	case <-token:
	case <-ctx.Done():
		return fmt.Errorf("acquire git lock for %s (%s): %w: %w", repoID, action, errs.ErrLockTimeout, ctx.Err())
	}

	defer func() { token <- struct{}{} }()

	return fn()
}
