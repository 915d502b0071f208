// Package state persists which packages of a build root have been built.
//
// The record lives in <root>/state.json:
//
//	{
//	  "location": "/abs/path/of/root",
//	  "packages": {
//	    "zlib": "1.2.5",   // built at this version
//	    "fltk": false      // never built, or its last build did not finish
//	  }
//	}
//
// Older roots store the packages at the top level next to "location"; such
// records are read transparently and rewritten in the nested form.
//
// One process owns the record at a time. Open takes an exclusive flock
// without waiting and fails with ErrLocked if another run holds it.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileName is the name of the state record inside a build root.
const FileName = "state.json"

var (
	// ErrLocked means another process is running against the build root.
	ErrLocked = errors.New("build root is locked by another run")

	// ErrLocationMismatch means the build root was moved or copied since
	// the record was created. Install areas embed absolute paths, so the
	// root cannot be reused.
	ErrLocationMismatch = errors.New("build root has moved")
)

// State is the persisted record of one build root.
type State struct {
	Location string
	// Packages maps a package name to the version of its last successful
	// build. An empty version means the package is not built.
	Packages map[string]string
}

// Built returns the recorded version of name and whether name is built.
func (s *State) Built(name string) (string, bool) {
	v := s.Packages[name]
	return v, v != ""
}

// Names returns the recorded package names in sorted order.
func (s *State) Names() []string {
	names := make([]string, 0, len(s.Packages))
	for name := range s.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s State) MarshalJSON() ([]byte, error) {
	pkgs := make(map[string]any, len(s.Packages))
	for name, v := range s.Packages {
		if v == "" {
			pkgs[name] = false
		} else {
			pkgs[name] = v
		}
	}
	return json.Marshal(struct {
		Location string         `json:"location"`
		Packages map[string]any `json:"packages"`
	}{s.Location, pkgs})
}

func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	loc, ok := raw["location"]
	if !ok {
		return errors.New("state record has no location")
	}
	if err := json.Unmarshal(loc, &s.Location); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	s.Packages = make(map[string]string)

	// Legacy records keep packages at the top level. The nested object wins
	// when both name the same package.
	for name, v := range raw {
		if name == "location" || name == "packages" {
			continue
		}
		if err := setVersion(s.Packages, name, v); err != nil {
			return err
		}
	}
	if nested, ok := raw["packages"]; ok {
		var pkgs map[string]json.RawMessage
		if err := json.Unmarshal(nested, &pkgs); err != nil {
			return fmt.Errorf("packages: %w", err)
		}
		for name, v := range pkgs {
			if err := setVersion(s.Packages, name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func setVersion(pkgs map[string]string, name string, v json.RawMessage) error {
	var version any
	if err := json.Unmarshal(v, &version); err != nil {
		return fmt.Errorf("package %s: %w", name, err)
	}
	switch version := version.(type) {
	case string:
		pkgs[name] = version
	case bool, nil:
		// false (or a stray true/null) means not built.
		pkgs[name] = ""
	default:
		return fmt.Errorf("package %s: unexpected version %s", name, v)
	}
	return nil
}

// Canonical returns the absolute, symlink-free form of root. root must exist.
func Canonical(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// Read parses the record of root without locking it. It is meant for
// inspection; a concurrent run may be rewriting the file.
func Read(root string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}
	return &s, nil
}

// Encode returns the persisted form of s.
func Encode(s *State) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
