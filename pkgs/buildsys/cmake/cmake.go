package cmake

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/goplus/crossdeps/pkgs/buildsys"
)

type defineValue struct {
	value    string
	typeName string
}

// CMake wraps common CMake build steps with chainable configuration.
type CMake struct {
	runner     buildsys.Runner
	SourceDir  string
	buildDir   string
	installDir string
	generator  string
	buildType  string
	toolchain  string
	jobs       int
	Defines    map[string]defineValue
	base       []string
	env        map[string]string
}

var _ buildsys.BuildSystem = (*CMake)(nil)

// New creates a new CMake helper that starts its commands with r.
func New(r buildsys.Runner) *CMake {
	return &CMake{
		runner:  r,
		Defines: map[string]defineValue{},
		base:    os.Environ(),
		env:     map[string]string{},
	}
}

func (c *CMake) Source(dir string) {
	c.SourceDir = dir
}

func (c *CMake) InstallDir(dir string) {
	c.installDir = dir
}

// BuildDir sets the binary directory. It defaults to <source>/build.
func (c *CMake) BuildDir(dir string) *CMake {
	c.buildDir = dir
	return c
}

func (c *CMake) Generator(name string) *CMake {
	c.generator = name
	return c
}

func (c *CMake) BuildType(name string) *CMake {
	c.buildType = name
	return c
}

func (c *CMake) Toolchain(path string) *CMake {
	c.toolchain = path
	return c
}

// Jobs sets --parallel for the build.
func (c *CMake) Jobs(n int) *CMake {
	c.jobs = n
	return c
}

// BaseEnv replaces the environment the overlay is applied to.
func (c *CMake) BaseEnv(env []string) *CMake {
	c.base = env
	return c
}

func (c *CMake) Define(key, value string) *CMake {
	c.Defines[key] = defineValue{value: value, typeName: "STRING"}
	return c
}

func (c *CMake) DefineBool(key string, value bool) *CMake {
	if value {
		c.Defines[key] = defineValue{value: "ON", typeName: "BOOL"}
		return c
	}
	c.Defines[key] = defineValue{value: "OFF", typeName: "BOOL"}
	return c
}

func (c *CMake) Env(key, value string) {
	c.env[key] = value
}

// Environ returns the environment commands run with.
func (c *CMake) Environ() []string {
	return buildsys.MergeEnv(c.base, c.env)
}

// Use configures the build environment to use the specified dependency.
func (c *CMake) Use(dep buildsys.Dep) {
	includeDir := filepath.Join(dep.Dir, "include")
	libDir := filepath.Join(dep.Dir, "lib")
	pkgconfigDir := filepath.Join(dep.Dir, "lib", "pkgconfig")

	prepend := func(key, dir string) {
		if _, err := os.Stat(dir); err == nil {
			buildsys.PrependEnv(c.env, c.base, key, dir)
		}
	}
	prepend("PKG_CONFIG_PATH", pkgconfigDir)
	prepend("CMAKE_PREFIX_PATH", dep.Dir)
	prepend("CMAKE_INCLUDE_PATH", includeDir)
	prepend("CMAKE_LIBRARY_PATH", libDir)
	if runtime.GOOS == "windows" {
		prepend("INCLUDE", includeDir)
		prepend("LIB", libDir)
	}
}

func (c *CMake) Configure(ctx context.Context, args ...string) error {
	buildDir := c.binaryDir()
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return err
	}
	cmakeArgs := []string{"-S", c.SourceDir, "-B", buildDir}
	if c.generator != "" {
		cmakeArgs = append(cmakeArgs, "-G", c.generator)
	}
	if c.installDir != "" {
		c.Define("CMAKE_INSTALL_PREFIX", c.installDir)
	}
	if c.toolchain != "" {
		c.Define("CMAKE_TOOLCHAIN_FILE", c.toolchain)
	}
	if c.buildType != "" {
		c.Define("CMAKE_BUILD_TYPE", c.buildType)
	}
	cmakeArgs = append(cmakeArgs, c.definesArgs()...)
	cmakeArgs = append(cmakeArgs, args...)

	return c.run(ctx, cmakeArgs)
}

func (c *CMake) Build(ctx context.Context, args ...string) error {
	cmdArgs := []string{"--build", c.binaryDir()}
	if c.buildType != "" {
		cmdArgs = append(cmdArgs, "--config", c.buildType)
	}
	if c.jobs > 1 {
		cmdArgs = append(cmdArgs, "--parallel", strconv.Itoa(c.jobs))
	}
	cmdArgs = append(cmdArgs, args...)
	return c.run(ctx, cmdArgs)
}

func (c *CMake) Install(ctx context.Context, args ...string) error {
	cmdArgs := []string{"--install", c.binaryDir()}
	if c.installDir != "" {
		cmdArgs = append(cmdArgs, "--prefix", c.installDir)
	}
	cmdArgs = append(cmdArgs, args...)
	return c.run(ctx, cmdArgs)
}

// OutputDir returns the install dir if set, otherwise the build dir.
func (c *CMake) OutputDir() string {
	if c.installDir != "" {
		return c.installDir
	}
	return c.binaryDir()
}

func (c *CMake) binaryDir() string {
	if c.buildDir != "" {
		return c.buildDir
	}
	return filepath.Join(c.SourceDir, "build")
}

func (c *CMake) definesArgs() []string {
	if len(c.Defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Defines))
	for k := range c.Defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		def := c.Defines[k]
		if def.typeName != "" {
			args = append(args, "-D"+k+":"+def.typeName+"="+def.value)
			continue
		}
		args = append(args, "-D"+k+"="+def.value)
	}
	return args
}

func (c *CMake) run(ctx context.Context, args []string) error {
	return c.runner.Run(ctx, buildsys.Command{
		Tool: "cmake",
		Args: args,
		Dir:  c.SourceDir,
		Env:  c.Environ(),
	})
}
