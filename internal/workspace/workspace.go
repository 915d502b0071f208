// Package workspace owns the directory layout of a build root.
//
//	root/
//	  state.json        # build state record (package state)
//	  exports/          # links to linkage metadata of built packages
//	  items/<name>/     # install area of one package
//	  temp/             # scratch area, wiped around every package build
//	    src/            # extracted or cloned sources of the current package
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio"

	"github.com/goplus/crossdeps/internal/logfields"
)

const (
	exportsDir = "exports"
	itemsDir   = "items"
	tempDir    = "temp"
	srcDir     = "src"
)

// Several autotools builds break on paths with spaces, dots and other
// shell-sensitive characters, so the build root is restricted to these.
var rootPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-/]+$`)

// Workspace is the layout of one build root.
type Workspace struct {
	root string
}

// New returns the workspace rooted at root. Nothing is created until
// PrepareRoot.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Workspace{root: abs}, nil
}

// Root returns the root directory. After PrepareRoot it is canonical.
func (w *Workspace) Root() string {
	return w.root
}

// PrepareRoot creates the root with its exports and items directories. It is
// idempotent. The root is resolved to its canonical path, which must only
// contain characters from [a-zA-Z0-9_-/].
func (w *Workspace) PrepareRoot() error {
	if !rootPattern.MatchString(w.root) {
		return fmt.Errorf("build root %q: only a-z, A-Z, 0-9, '_', '-' and '/' are allowed", w.root)
	}
	if fi, err := os.Stat(w.root); err == nil && !fi.IsDir() {
		return fmt.Errorf("build root %s is not a directory", w.root)
	}
	for _, dir := range []string{w.root, w.ExportDir(), filepath.Join(w.root, itemsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("prepare build root: %w", err)
		}
	}
	canon, err := filepath.EvalSymlinks(w.root)
	if err != nil {
		return err
	}
	if !rootPattern.MatchString(canon) {
		return fmt.Errorf("build root %q resolves to %q: only a-z, A-Z, 0-9, '_', '-' and '/' are allowed", w.root, canon)
	}
	w.root = canon
	return nil
}

// Path joins segments onto the root.
func (w *Workspace) Path(segments ...string) string {
	return filepath.Join(append([]string{w.root}, segments...)...)
}

// ExportDir is the shared directory of exported linkage metadata.
func (w *Workspace) ExportDir() string {
	return filepath.Join(w.root, exportsDir)
}

// ItemDir is the install area of a package.
func (w *Workspace) ItemDir(name string) string {
	return filepath.Join(w.root, itemsDir, name)
}

// TempDir is the scratch area.
func (w *Workspace) TempDir() string {
	return filepath.Join(w.root, tempDir)
}

// SrcDir is where the current package's sources are unpacked.
func (w *Workspace) SrcDir() string {
	return filepath.Join(w.root, tempDir, srcDir)
}

// Clean removes the directory named by segments, if present, and recreates
// it empty. The directory must lie strictly inside the root.
func (w *Workspace) Clean(segments ...string) error {
	dir := w.Path(segments...)
	rel, err := filepath.Rel(w.root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("clean %q: not inside the build root", segments)
	}
	if _, err := os.Lstat(dir); err == nil {
		slog.Debug("Cleaning", logfields.Path(dir))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clean %s: %w", rel, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("clean %s: %w", rel, err)
	}
	return nil
}

// CleanTemp empties the scratch area.
func (w *Workspace) CleanTemp() error {
	return w.Clean(tempDir)
}

// CleanItem empties the install area of a package.
func (w *Workspace) CleanItem(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	return w.Clean(itemsDir, name)
}

// ExportLink publishes items/<pkg>/<target> as exports/<name>, atomically
// replacing an earlier link of the same name. The target need not exist yet.
func (w *Workspace) ExportLink(pkg, name, target string) error {
	if err := validName(pkg); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	if filepath.IsAbs(target) || !filepath.IsLocal(target) {
		return fmt.Errorf("export %s: target %q must be relative to the install area of %s", name, target, pkg)
	}
	oldname := filepath.Join(w.ItemDir(pkg), target)
	newname := filepath.Join(w.ExportDir(), name)
	if err := renameio.Symlink(oldname, newname); err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}
	slog.Debug("Exported", logfields.Package(pkg), logfields.Path(newname))
	return nil
}

// RemoveExports drops every link in exports/ that points into the install
// area of pkg. Used when the package is rebuilt or its build fails, so
// later packages never pick up metadata of a discarded install.
func (w *Workspace) RemoveExports(pkg string) error {
	entries, err := os.ReadDir(w.ExportDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	prefix := w.ItemDir(pkg) + string(filepath.Separator)
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		link := filepath.Join(w.ExportDir(), e.Name())
		dest, err := os.Readlink(link)
		if err != nil {
			return err
		}
		if strings.HasPrefix(dest, prefix) {
			if err := os.Remove(link); err != nil {
				return err
			}
		}
	}
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}
