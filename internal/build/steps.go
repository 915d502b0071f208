package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goplus/crossdeps/internal/archive"
	"github.com/goplus/crossdeps/internal/cache"
	"github.com/goplus/crossdeps/internal/logfields"
	"github.com/goplus/crossdeps/internal/recipe"
	"github.com/goplus/crossdeps/pkgs/buildsys"
	"github.com/goplus/crossdeps/pkgs/buildsys/autotools"
	"github.com/goplus/crossdeps/pkgs/buildsys/cmake"
)

// run is the state of one Execute call.
type run struct {
	x       *Executor
	recipe  *recipe.Recipe
	entries map[string]*cache.Entry
	prefix  string
	env     []string
	vars    *recipe.Vars
	log     *slog.Logger
}

func (r *run) step(ctx context.Context, st *recipe.Step) error {
	workdir, err := r.workdir(st.Dir)
	if err != nil {
		return err
	}
	env := buildsys.MergeEnv(r.env, st.Env)

	switch st.Kind {
	case recipe.Extract:
		e, ok := r.entries[st.Source]
		if !ok {
			return fmt.Errorf("source %q is not declared", st.Source)
		}
		return archive.Extract(e.File, workdir, st.StripOr(1))

	case recipe.Clone:
		if err := os.MkdirAll(workdir, 0o755); err != nil {
			return err
		}
		commit, err := r.x.vcs.Clone(ctx, st.URL, st.Ref, workdir)
		if err != nil {
			return err
		}
		r.log.Info("Checked out", logfields.URL(st.URL), slog.String("commit", commit))
		return nil

	case recipe.Patch:
		return r.patch(ctx, st, workdir, env)

	case recipe.Configure:
		a := autotools.New(r.x.runner).BaseEnv(env).Jobs(r.x.cfg.Jobs)
		a.Source(workdir)
		if !st.NoPrefix {
			a.InstallDir(r.prefix)
		}
		if st.Script != "" {
			a.Script(st.Script)
		}
		r.use(a)
		args := st.Args
		if st.Std {
			args = append(args, r.x.cfg.Toolchain.StdConfigure()...)
		}
		return a.Configure(ctx, args...)

	case recipe.CMake:
		c := cmake.New(r.x.runner).BaseEnv(env).Jobs(r.x.cfg.Jobs).
			BuildDir(filepath.Join(r.x.ws.TempDir(), "cmake-build"))
		c.Source(workdir)
		c.InstallDir(r.prefix)
		if tc := r.x.cfg.Toolchain.CMakeFile; tc != "" {
			c.Toolchain(tc)
		}
		r.use(c)
		if err := c.Configure(ctx, st.Args...); err != nil {
			return err
		}
		if err := c.Build(ctx); err != nil {
			return err
		}
		return c.Install(ctx)

	case recipe.Make:
		a := autotools.New(r.x.runner).BaseEnv(env).Jobs(r.x.cfg.Jobs)
		a.Source(workdir)
		return a.Build(ctx, st.Args...)

	case recipe.Run:
		return r.x.runner.Run(ctx, buildsys.Command{Tool: st.Tool, Args: st.Args, Dir: workdir, Env: env})

	case recipe.Mkdir:
		for _, p := range st.Paths {
			dir, err := r.writable(p)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		return nil

	case recipe.Copy:
		dest, err := r.writable(st.To)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		for _, p := range st.Paths {
			if !filepath.IsAbs(p) {
				p = filepath.Join(workdir, p)
			}
			if err := copyInto(dest, p); err != nil {
				return err
			}
		}
		return nil

	case recipe.Symlink:
		link, err := r.writable(st.Link)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
			return err
		}
		return os.Symlink(st.Target, link)

	case recipe.Remove:
		for _, p := range st.Paths {
			path, err := r.writable(p)
			if err != nil {
				return err
			}
			if path == r.prefix {
				return fmt.Errorf("remove %q: refusing to remove the install area", p)
			}
			if err := os.RemoveAll(path); err != nil {
				return err
			}
		}
		return nil

	case recipe.Export:
		name := st.Name
		if name == "" {
			name = st.File
		}
		return r.x.ws.ExportLink(r.recipe.Name, name, filepath.Join("lib", "pkgconfig", st.File))

	case recipe.LinkTools:
		return r.linkTools(st, env)

	case recipe.Collect:
		return r.collect(st, workdir)
	}
	return fmt.Errorf("unknown step kind %q", st.Kind)
}

// use injects the install areas of the recipe's deps into b.
func (r *run) use(b buildsys.BuildSystem) {
	for _, dep := range r.recipe.Deps {
		b.Use(buildsys.Dep{Name: dep, Dir: r.x.ws.ItemDir(dep)})
	}
}

func (r *run) patch(ctx context.Context, st *recipe.Step, workdir string, env []string) error {
	var in io.Reader
	if st.Source != "" {
		e, ok := r.entries[st.Source]
		if !ok {
			return fmt.Errorf("source %q is not declared", st.Source)
		}
		fi, err := e.Stat()
		if err != nil {
			return err
		}
		in = io.NewSectionReader(e.File, 0, fi.Size())
	} else {
		f, err := os.Open(st.File)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	args := append([]string{"-p" + strconv.Itoa(st.StripOr(1))}, st.Args...)
	return r.x.runner.Run(ctx, buildsys.Command{Tool: "patch", Args: args, Dir: workdir, Env: env, Stdin: in})
}

// linkTools links <host>-<tool> from PATH as <tool>, so builds that call
// plain gcc pick up the cross compiler.
func (r *run) linkTools(st *recipe.Step, env []string) error {
	dest, err := r.writable(st.To)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	path := buildsys.Lookup(env, "PATH")
	for _, tool := range st.Tools {
		name := tool
		if host := r.x.cfg.Toolchain.Host; host != "" {
			name = host + "-" + tool
		}
		target, err := FindTool(name, path)
		if err != nil {
			return err
		}
		if err := os.Symlink(target, filepath.Join(dest, tool)); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) collect(st *recipe.Step, workdir string) error {
	if r.x.cfg.Output == "" {
		return fmt.Errorf("collect %s: no output directory", st.Glob)
	}
	matches, err := filepath.Glob(filepath.Join(workdir, st.Glob))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("collect: nothing matches %s", st.Glob)
	}
	if err := os.MkdirAll(r.x.cfg.Output, 0o755); err != nil {
		return err
	}
	for _, m := range matches {
		if err := copyInto(r.x.cfg.Output, m); err != nil {
			return err
		}
		r.log.Info("Saved", logfields.Path(filepath.Join(r.x.cfg.Output, filepath.Base(m))))
	}
	return nil
}

// workdir resolves a step's dir against the source tree.
func (r *run) workdir(dir string) (string, error) {
	src := r.x.ws.SrcDir()
	if dir == "" {
		return src, nil
	}
	if filepath.IsAbs(dir) {
		if !within(src, dir) {
			return "", fmt.Errorf("dir %q is outside the source tree", dir)
		}
		return filepath.Clean(dir), nil
	}
	if !filepath.IsLocal(dir) {
		return "", fmt.Errorf("dir %q is outside the source tree", dir)
	}
	return filepath.Join(src, dir), nil
}

// writable resolves p against the install area and checks that it lies in
// the install area or the scratch area.
func (r *run) writable(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.prefix, p)
	}
	p = filepath.Clean(p)
	if p == r.prefix || within(r.prefix, p) || within(r.x.ws.TempDir(), p) {
		return p, nil
	}
	return "", fmt.Errorf("%s is outside the install and scratch areas", p)
}

// within reports whether p lies strictly inside dir.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != "." && filepath.IsLocal(rel)
}

// FindTool looks name up in a PATH list and resolves symlinks.
func FindTool(name, path string) (string, error) {
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, name)
		fi, err := os.Stat(p)
		if err != nil || fi.IsDir() || fi.Mode()&0o111 == 0 {
			continue
		}
		return filepath.EvalSymlinks(p)
	}
	return "", fmt.Errorf("could not find %s in PATH", name)
}

// copyInto copies file or directory src into dir, keeping its base name
// and permissions.
func copyInto(dir, src string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	dest := filepath.Join(dir, filepath.Base(src))
	if fi.IsDir() {
		return os.CopyFS(dest, os.DirFS(src))
	}
	return copyFile(dest, src, fi.Mode().Perm())
}

func copyFile(dest, src string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
