package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// LockFileName is the store-wide lock file's name at the store root.
const LockFileName = ".kegpm.lock"

// ErrLocked is returned by Lock when another process already holds the
// store's exclusive lock.
var ErrLocked = fmt.Errorf("store is locked by another kegpm process")

// Lock is an exclusive, store-wide advisory lock held for the duration of
// one mutating command. A command requires exclusive control of the store
// root; the lock turns that requirement into a fail-fast check instead of
// a silent corruption risk.
type Lock struct {
	file *os.File
}

// Lock acquires the exclusive, non-blocking flock on R/.kegpm.lock.
// Acquisition fails immediately (ErrLocked) rather than waiting; commands
// do not queue behind one another.
func (s *Store) Lock() (*Lock, error) {
	if err := os.MkdirAll(s.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}

	path := s.lockPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}

	return &Lock{file: f}, nil
}

func (s *Store) lockPath() string {
	return s.Root + string(os.PathSeparator) + LockFileName
}

// Release unlocks and closes the underlying lock file. The lock file
// itself is left in place (removing it would race a concurrent Lock
// racing to open the same path); only the flock held on its descriptor is
// released.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("releasing store lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing store lock file: %w", closeErr)
	}
	return nil
}
