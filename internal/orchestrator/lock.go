package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/flowdesk/syncd/internal/syncerrors"
)

// crossProcessLockRetryInterval is how often TryLockContext polls while
// waiting for a sibling process to release the base-directory lock.
const crossProcessLockRetryInterval = 50 * time.Millisecond

// crossProcessLock coordinates this process with any other local process
// writing into the same base directory, via a sibling .lock file. Absence
// of OS-level file locking (e.g. some network filesystems) degrades to
// best-effort behavior: flock.TryLockContext simply always succeeds there.
type crossProcessLock struct {
	fl *flock.Flock
}

// newCrossProcessLock creates a lock bound to "<baseDir>/.lock". The file is
// created on first acquisition if it does not exist.
func newCrossProcessLock(baseDir string) *crossProcessLock {
	return &crossProcessLock{fl: flock.New(lockPath(baseDir))}
}

func lockPath(baseDir string) string {
	return baseDir + "/.lock"
}

// acquire blocks until the lock is held or ctx is done, returning
// syncerrors.ErrLockTimeout on cancellation/deadline.
func (l *crossProcessLock) acquire(ctx context.Context) error {
	locked, err := l.fl.TryLockContext(ctx, crossProcessLockRetryInterval)
	if err != nil {
		return fmt.Errorf("%w: %v", syncerrors.ErrLockTimeout, err)
	}
	if !locked {
		return fmt.Errorf("%w: base directory lock held by another process", syncerrors.ErrLockTimeout)
	}
	return nil
}

// release unlocks the cross-process lock. It is safe to call even if
// acquire was never called or already failed.
func (l *crossProcessLock) release() error {
	return l.fl.Unlock()
}
