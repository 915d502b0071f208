// Package lockedfile wraps os.File with BSD advisory locks (flock).
//
// Locks belong to the open file description, so two Opens of the same path
// contend with each other even inside one process. flock has no atomic
// upgrade: converting a shared lock to an exclusive one may release the
// shared lock before the exclusive one is granted, and callers must
// re-validate whatever they read under the shared lock.
package lockedfile

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryLock when another holder has the lock.
var ErrWouldBlock = errors.New("file is locked by another process")

// File is an open file that can be locked.
type File struct {
	*os.File
}

// OpenFile opens name like os.OpenFile. The file is not locked.
func OpenFile(name string, flag int, perm os.FileMode) (*File, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &File{File: f}, nil
}

// RLock blocks until a shared lock is held.
func (f *File) RLock() error {
	return f.flock(unix.LOCK_SH)
}

// Lock blocks until an exclusive lock is held.
func (f *File) Lock() error {
	return f.flock(unix.LOCK_EX)
}

// TryLock takes an exclusive lock without waiting.
func (f *File) TryLock() error {
	err := f.flock(unix.LOCK_EX | unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrWouldBlock
	}
	return err
}

// Unlock releases any lock held on f.
func (f *File) Unlock() error {
	return f.flock(unix.LOCK_UN)
}

func (f *File) flock(how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			if err != nil {
				return &os.PathError{Op: "flock", Path: f.Name(), Err: err}
			}
			return nil
		}
	}
}
