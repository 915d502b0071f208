// Package archive unpacks source archives.
//
// The format is detected from the content, not the file name: cache keys
// are arbitrary and upstream download URLs often lie about what they serve.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Format is an archive container or compression format.
type Format string

const (
	Tar     Format = "tar"
	TarGzip Format = "tar.gz"
	TarXz   Format = "tar.xz"
	TarZstd Format = "tar.zst"
	TarBz2  Format = "tar.bz2"
	Zip     Format = "zip"
)

// ErrUnknownFormat is returned for content that is not a supported archive.
var ErrUnknownFormat = errors.New("unknown archive format")

// File is what Extract reads from. *os.File satisfies it.
type File interface {
	io.ReaderAt
	Stat() (fs.FileInfo, error)
}

var magics = []struct {
	off    int64
	magic  []byte
	format Format
}{
	{0, []byte{0x1f, 0x8b}, TarGzip},
	{0, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, TarXz},
	{0, []byte{0x28, 0xb5, 0x2f, 0xfd}, TarZstd},
	{0, []byte("BZh"), TarBz2},
	{0, []byte("PK\x03\x04"), Zip},
	{0, []byte("PK\x05\x06"), Zip},
	{257, []byte("ustar"), Tar},
}

// Detect sniffs the format of r.
func Detect(r io.ReaderAt) (Format, error) {
	var head [512]byte
	n, err := r.ReadAt(head[:], 0)
	if err != nil && err != io.EOF {
		return "", err
	}
	for _, m := range magics {
		end := m.off + int64(len(m.magic))
		if end <= int64(n) && bytes.Equal(head[m.off:end], m.magic) {
			return m.format, nil
		}
	}
	return "", ErrUnknownFormat
}

// Extract unpacks src into dest, dropping the first strip components of
// every entry name. Entries with no more than strip components are skipped.
// Entries that would land outside dest are an error.
func Extract(src File, dest string, strip int) error {
	fi, err := src.Stat()
	if err != nil {
		return err
	}
	format, err := Detect(src)
	if err != nil {
		return err
	}
	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	root, err := resolve(dest)
	if err != nil {
		return err
	}
	x := &extractor{dest: dest, root: root, strip: strip}
	if format == Zip {
		err = x.zip(src, fi.Size())
	} else {
		err = x.tarball(io.NewSectionReader(src, 0, fi.Size()), format)
	}
	if err == nil {
		err = x.checkLinks()
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", format, err)
	}
	return x.fixDirTimes()
}

type extractor struct {
	dest  string
	root  string // dest with symlinks resolved
	strip int
	dirs  []dirTime
	links []string
}

type dirTime struct {
	path  string
	mtime time.Time
}

func (x *extractor) tarball(r io.Reader, format Format) error {
	switch format {
	case TarGzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	case TarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return err
		}
		r = xr
	case TarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	case TarBz2:
		r = bzip2.NewReader(r)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		target, ok, err := x.target(hdr.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		mode := hdr.FileInfo().Mode()
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := x.mkdir(target, mode.Perm(), hdr.ModTime); err != nil {
				return err
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := x.writeFile(target, tr, mode.Perm(), hdr.ModTime); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := x.symlink(target, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			old, ok, err := x.target(hdr.Linkname)
			if err != nil || !ok {
				return fmt.Errorf("hard link %s -> %s: outside the archive root", hdr.Name, hdr.Linkname)
			}
			if err := x.within(old, filepath.Dir(target)); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(old, target); err != nil {
				return err
			}
		}
	}
}

func (x *extractor) zip(r io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		target, ok, err := x.target(f.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := x.mkdir(target, mode.Perm(), f.Modified); err != nil {
				return err
			}
		case mode&fs.ModeSymlink != 0:
			rc, err := f.Open()
			if err != nil {
				return err
			}
			link, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return err
			}
			if err := x.symlink(target, string(link)); err != nil {
				return err
			}
		default:
			rc, err := f.Open()
			if err != nil {
				return err
			}
			perm := mode.Perm()
			if perm == 0 {
				perm = 0o644
			}
			err = x.writeFile(target, rc, perm, f.Modified)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// target maps an entry name to its path under dest. ok is false for entries
// consumed entirely by stripping.
func (x *extractor) target(name string) (string, bool, error) {
	name = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, `\`, "/")), "/")
	if name == "" {
		return "", false, nil
	}
	parts := strings.Split(name, "/")
	if len(parts) <= x.strip {
		return "", false, nil
	}
	rel := filepath.FromSlash(strings.Join(parts[x.strip:], "/"))
	if !filepath.IsLocal(rel) {
		return "", false, fmt.Errorf("entry %q escapes the destination", name)
	}
	return filepath.Join(x.dest, rel), true, nil
}

func (x *extractor) mkdir(dir string, perm fs.FileMode, mtime time.Time) error {
	if err := x.within(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, perm|0o700); err != nil {
		return err
	}
	x.dirs = append(x.dirs, dirTime{dir, mtime})
	return nil
}

func (x *extractor) writeFile(name string, r io.Reader, perm fs.FileMode, mtime time.Time) error {
	if err := x.within(filepath.Dir(name)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	// A symlink left by an earlier entry must not be written through.
	os.Remove(name)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// make compares timestamps: configure must stay newer than configure.ac.
	return os.Chtimes(name, mtime, mtime)
}

func (x *extractor) symlink(name, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("symlink %s -> %s: absolute target", name, linkname)
	}
	dir, err := resolve(filepath.Dir(name))
	if err != nil {
		return err
	}
	// Not filepath.Join: cleaning would fold ".." before earlier links in
	// linkname are followed.
	ok, err := x.inside(dir + string(filepath.Separator) + linkname)
	if err != nil {
		return err
	}
	if !ok || !x.contains(dir) {
		return fmt.Errorf("symlink %s -> %s: escapes the destination", name, linkname)
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	os.Remove(name)
	if err := os.Symlink(linkname, name); err != nil {
		return err
	}
	x.links = append(x.links, name)
	return nil
}

// checkLinks verifies every symlink created still resolves inside dest.
// A later entry can repoint a directory an earlier link passes through.
func (x *extractor) checkLinks() error {
	for _, l := range x.links {
		ok, err := x.inside(l)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("symlink %s: escapes the destination", l)
		}
	}
	return nil
}

// within fails unless every path resolves inside dest.
func (x *extractor) within(paths ...string) error {
	for _, p := range paths {
		ok, err := x.inside(p)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: escapes the destination through a symlink", p)
		}
	}
	return nil
}

func (x *extractor) inside(p string) (bool, error) {
	r, err := resolve(p)
	if err != nil {
		return false, err
	}
	return x.contains(r), nil
}

func (x *extractor) contains(resolved string) bool {
	rel, err := filepath.Rel(x.root, resolved)
	return err == nil && filepath.IsLocal(rel)
}

const maxLinkHops = 255

// resolve follows the symlinks in the absolute path p the way the kernel
// would. Components that do not exist yet are taken literally.
func resolve(p string) (string, error) {
	sep := string(filepath.Separator)
	cur := sep
	todo := strings.Split(p, sep)
	for hops := 0; len(todo) > 0; {
		c := todo[0]
		todo = todo[1:]
		switch c {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
			continue
		}
		next := filepath.Join(cur, c)
		fi, err := os.Lstat(next)
		if errors.Is(err, fs.ErrNotExist) {
			cur = next
			continue
		}
		if err != nil {
			return "", err
		}
		if fi.Mode()&fs.ModeSymlink == 0 {
			cur = next
			continue
		}
		if hops++; hops > maxLinkHops {
			return "", fmt.Errorf("%s: too many levels of symbolic links", p)
		}
		link, err := os.Readlink(next)
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(link) {
			cur = sep
		}
		todo = append(strings.Split(link, sep), todo...)
	}
	return cur, nil
}

// fixDirTimes restores directory mtimes, which extracting their children
// has bumped. Deepest directories go first.
func (x *extractor) fixDirTimes() error {
	for i := len(x.dirs) - 1; i >= 0; i-- {
		d := x.dirs[i]
		if d.mtime.IsZero() {
			continue
		}
		if err := os.Chtimes(d.path, d.mtime, d.mtime); err != nil {
			return err
		}
	}
	return nil
}
