package autotools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/goplus/crossdeps/pkgs/buildsys"
)

// AutoTools wraps common Autotools build steps with chainable configuration.
// Builds run in the source tree unless BuildDir is set.
type AutoTools struct {
	runner     buildsys.Runner
	SourceDir  string
	buildDir   string
	installDir string
	script     string
	jobs       int
	base       []string
	env        map[string]string

	// Flags gathered from Use, handed to configure as arguments.
	cppflags string
	ldflags  string
}

var _ buildsys.BuildSystem = (*AutoTools)(nil)

// New creates a new AutoTools helper that starts its commands with r.
func New(r buildsys.Runner) *AutoTools {
	return &AutoTools{
		runner: r,
		script: "./configure",
		base:   os.Environ(),
		env:    map[string]string{},
	}
}

func (a *AutoTools) Source(dir string) {
	a.SourceDir = dir
}

// InstallDir sets the --prefix. An empty dir omits the flag.
func (a *AutoTools) InstallDir(dir string) {
	a.installDir = dir
}

// BuildDir selects an out-of-tree build directory.
func (a *AutoTools) BuildDir(dir string) *AutoTools {
	a.buildDir = dir
	return a
}

// Script replaces ./configure, e.g. with OpenSSL's ./Configure.
func (a *AutoTools) Script(path string) *AutoTools {
	a.script = path
	return a
}

// Jobs sets make's -j. Zero or one runs serially.
func (a *AutoTools) Jobs(n int) *AutoTools {
	a.jobs = n
	return a
}

// BaseEnv replaces the environment the overlay is applied to.
func (a *AutoTools) BaseEnv(env []string) *AutoTools {
	a.base = env
	return a
}

func (a *AutoTools) Env(key, value string) {
	a.env[key] = value
}

// Environ returns the environment commands run with.
func (a *AutoTools) Environ() []string {
	return buildsys.MergeEnv(a.base, a.env)
}

// Use configures the build environment to use the specified dependency.
func (a *AutoTools) Use(dep buildsys.Dep) {
	includeDir := filepath.Join(dep.Dir, "include")
	libDir := filepath.Join(dep.Dir, "lib")
	pkgconfigDir := filepath.Join(dep.Dir, "lib", "pkgconfig")

	// PKG_CONFIG_PATH - pkg-config path (all platforms)
	if _, err := os.Stat(pkgconfigDir); err == nil {
		buildsys.PrependEnv(a.env, a.base, "PKG_CONFIG_PATH", pkgconfigDir)
	}

	// CMAKE paths (all platforms)
	if _, err := os.Stat(dep.Dir); err == nil {
		buildsys.PrependEnv(a.env, a.base, "CMAKE_PREFIX_PATH", dep.Dir)
	}
	if _, err := os.Stat(includeDir); err == nil {
		buildsys.PrependEnv(a.env, a.base, "CMAKE_INCLUDE_PATH", includeDir)
	}
	if _, err := os.Stat(libDir); err == nil {
		buildsys.PrependEnv(a.env, a.base, "CMAKE_LIBRARY_PATH", libDir)
	}

	if runtime.GOOS == "windows" {
		if _, err := os.Stat(includeDir); err == nil {
			buildsys.PrependEnv(a.env, a.base, "INCLUDE", includeDir)
		}
		if _, err := os.Stat(libDir); err == nil {
			buildsys.PrependEnv(a.env, a.base, "LIB", libDir)
		}
		return
	}
	if _, err := os.Stat(includeDir); err == nil {
		a.cppflags = buildsys.AppendFlag(a.cppflags, "-I"+includeDir)
	}
	if _, err := os.Stat(libDir); err == nil {
		a.ldflags = buildsys.AppendFlag(a.ldflags, "-L"+libDir)
	}
}

// ConfigureArgs returns the arguments Configure passes to the script.
// Dependency flags are given as CPPFLAGS=/LDFLAGS= arguments, on top of
// any value already in the environment, so configure records them.
func (a *AutoTools) ConfigureArgs(args ...string) []string {
	var out []string
	if a.installDir != "" {
		out = append(out, "--prefix="+a.installDir)
	}
	out = append(out, args...)
	env := a.Environ()
	if a.cppflags != "" {
		out = append(out, "CPPFLAGS="+buildsys.AppendFlag(buildsys.Lookup(env, "CPPFLAGS"), a.cppflags))
	}
	if a.ldflags != "" {
		out = append(out, "LDFLAGS="+buildsys.AppendFlag(buildsys.Lookup(env, "LDFLAGS"), a.ldflags))
	}
	return out
}

// Configure runs the configure script with standard flags.
func (a *AutoTools) Configure(ctx context.Context, args ...string) error {
	workdir := a.workdir()
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return err
	}
	exe := a.script
	if a.buildDir != "" && !filepath.IsAbs(exe) {
		exe = filepath.Join(a.SourceDir, exe)
	}
	return a.run(ctx, exe, a.ConfigureArgs(args...))
}

// Build runs make with args in the build directory.
func (a *AutoTools) Build(ctx context.Context, args ...string) error {
	return a.run(ctx, "make", a.makeArgs(args))
}

// Install runs make install (or make with the provided args).
func (a *AutoTools) Install(ctx context.Context, args ...string) error {
	if len(args) == 0 {
		args = []string{"install"}
	}
	return a.run(ctx, "make", a.makeArgs(args))
}

// OutputDir returns the install dir if set, otherwise the build dir.
func (a *AutoTools) OutputDir() string {
	if a.installDir != "" {
		return a.installDir
	}
	return a.workdir()
}

func (a *AutoTools) makeArgs(args []string) []string {
	if a.jobs > 1 {
		args = append(args, "-j"+strconv.Itoa(a.jobs))
	}
	return args
}

func (a *AutoTools) workdir() string {
	if a.buildDir != "" {
		return a.buildDir
	}
	return a.SourceDir
}

func (a *AutoTools) run(ctx context.Context, bin string, args []string) error {
	return a.runner.Run(ctx, buildsys.Command{
		Tool: bin,
		Args: args,
		Dir:  a.workdir(),
		Env:  a.Environ(),
	})
}
