package store

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is a directory-scoped advisory lock held for the duration of a store
// transaction. It is exclusive, blocking, and non-reentrant; both ingestion
// and retention pruning take it so no torn reads or writes of the rows file
// or index are observable.
type Lock struct {
	file *os.File
}

// AcquireLock blocks until the exclusive lock for storeDir is held. The
// store directory is created if needed.
func AcquireLock(storeDir string) (*Lock, error) {
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(storeDir, ".lock"), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()

		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}

	return &Lock{file: f}, nil
}

// Release drops the lock. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()

		return fmt.Errorf("releasing store lock: %w", err)
	}

	return l.file.Close()
}
