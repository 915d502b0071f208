// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"

	"github.com/goplus/crossdeps/internal/lockedfile"
)

// Store is an open, locked state record.
type Store struct {
	f      *lockedfile.File
	state  State
	closed bool
}

// Open locks and loads the record of root, creating it if root has none.
// root must exist. It fails with ErrLocked if another process holds the
// record and with ErrLocationMismatch if the record belongs to another path;
// in both cases nothing is written.
func Open(root string) (*Store, error) {
	loc, err := Canonical(root)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(loc, FileName)
	f, err := lockedfile.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.TryLock(); err != nil {
		f.Close()
		if errors.Is(err, lockedfile.ErrWouldBlock) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, err
	}
	s, err := load(f, loc)
	if err != nil {
		f.Unlock()
		f.Close()
		return nil, err
	}
	return s, nil
}

func load(f *lockedfile.File, loc string) (*Store, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	s := &Store{f: f}
	if len(bytes.TrimSpace(data)) == 0 {
		s.state = State{Location: loc, Packages: make(map[string]string)}
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	}
	st, err := parse(data)
	if err != nil {
		return nil, err
	}
	if st.Location != loc {
		return nil, fmt.Errorf("%w: recorded %s, now %s", ErrLocationMismatch, st.Location, loc)
	}
	s.state = *st
	return s, nil
}

// Location returns the canonical path of the build root.
func (s *Store) Location() string {
	return s.state.Location
}

// Query returns the recorded version of name. ok is false if name was never
// built or its last build did not complete.
func (s *Store) Query(name string) (version string, ok bool) {
	return s.state.Built(name)
}

// Record stores version as the last successful build of name and rewrites
// the record durably before returning.
func (s *Store) Record(name, version string) error {
	if version == "" {
		return fmt.Errorf("record %s: empty version", name)
	}
	s.state.Packages[name] = version
	return s.persist()
}

// Invalidate marks name as not built and rewrites the record. It is called
// before a package's install area is wiped, so a crash mid-build never
// leaves an empty install area recorded as complete.
func (s *Store) Invalidate(name string) error {
	if v, ok := s.state.Packages[name]; ok && v == "" {
		return nil
	}
	s.state.Packages[name] = ""
	return s.persist()
}

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() State {
	return State{Location: s.state.Location, Packages: maps.Clone(s.state.Packages)}
}

// Close rewrites the record and releases the lock. Calling Close again is a
// no-op.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.persist()
	return errors.Join(err, s.f.Unlock(), s.f.Close())
}

// persist replaces the whole file in place. The file cannot be swapped with
// a rename: the flock belongs to this open file.
func (s *Store) persist() error {
	data, err := Encode(&s.state)
	if err != nil {
		return err
	}
	// Overwrite before truncating: a crash in between leaves the old or new
	// record followed by stale bytes, never an empty file read as a new root.
	if _, err := s.f.WriteAt(data, 0); err != nil {
		return err
	}
	if err := s.f.Truncate(int64(len(data))); err != nil {
		return err
	}
	return s.f.Sync()
}
