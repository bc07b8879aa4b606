package executor

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrPlanLocked means another run holds the exclusive lock on this
// plan's storage. Concurrent runs against the same plan are rejected.
var ErrPlanLocked = errors.New("plan is locked by another run")

// planLock is an exclusive advisory lock on a plan artifact, held for
// the duration of an execution run (single-writer discipline).
type planLock struct {
	file *os.File
	path string
}

// acquirePlanLock takes a non-blocking exclusive flock on the plan's
// companion lock file.
func acquirePlanLock(planPath string) (*planLock, error) {
	lockPath := planPath + ".lock"

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening plan lock: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrPlanLocked, planPath)
		}
		return nil, fmt.Errorf("locking plan: %w", err)
	}

	return &planLock{file: file, path: lockPath}, nil
}

// release drops the lock and removes the lock file.
func (l *planLock) release() {
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	_ = os.Remove(l.path)
}
