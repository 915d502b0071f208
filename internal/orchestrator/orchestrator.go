// Package orchestrator drives a plan through a build root.
//
// A run locks the state record of the root, then walks the recipes in
// order. A recipe whose declared version is already recorded is skipped.
// Any other recipe gets a fresh install area and is built; its version is
// recorded only once every step has succeeded. The first failure discards
// the failed install area and ends the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goplus/crossdeps/internal/build"
	"github.com/goplus/crossdeps/internal/cache"
	"github.com/goplus/crossdeps/internal/errs"
	"github.com/goplus/crossdeps/internal/logfields"
	"github.com/goplus/crossdeps/internal/metrics"
	"github.com/goplus/crossdeps/internal/recipe"
	"github.com/goplus/crossdeps/internal/state"
	"github.com/goplus/crossdeps/internal/vcs"
	"github.com/goplus/crossdeps/internal/workspace"
	"github.com/goplus/crossdeps/pkgs/buildsys"
)

// Outcome is what happened to one package.
type Outcome string

const (
	Skipped Outcome = "skipped"
	Built   Outcome = "built"
	Failed  Outcome = "failed"
)

// PackageResult is the outcome of one package.
type PackageResult struct {
	Package  string
	Version  string // as recorded, "latest" for unversioned packages
	Outcome  Outcome
	Duration time.Duration
}

// Result is the outcome of a run.
type Result struct {
	// Packages lists the packages that were reached, in plan order. A failed
	// run ends with the Failed package.
	Packages []PackageResult
	// Err is nil on success, a *PackageError if a package failed, or a setup
	// error (see errs.KindSetup) if no package was attempted. A package that
	// failed while building carries an errs.KindStep error.
	Err error
	// Cleanup collects failures of the final cleanup. They never replace
	// Err.
	Cleanup error
}

// Count returns the number of packages with outcome o.
func (r *Result) Count(o Outcome) int {
	n := 0
	for _, p := range r.Packages {
		if p.Outcome == o {
			n++
		}
	}
	return n
}

// PackageError is the failure of one package.
type PackageError struct {
	Package string
	Cause   error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("build %s: %v", e.Package, e.Cause)
}

func (e *PackageError) Unwrap() error {
	return e.Cause
}

// Options configures a run.
type Options struct {
	Root     string
	CacheDir string
	Plan     *recipe.Plan

	// FullRebuild builds every package even if its version is recorded.
	FullRebuild bool
	// Jobs is passed to make as -jN.
	Jobs int
	// Verbose shows subprocess output on Stdout and Stderr.
	Verbose        bool
	Stdout, Stderr io.Writer
	// KeepTempOnError leaves the scratch area of a failed package in place.
	KeepTempOnError bool

	Output string            // destination of collect steps
	Extra  string            // local patches and headers, ${extra}
	Vars   map[string]string // override plan variables
	Env    map[string]string // added to every step's environment

	Metrics      metrics.Recorder
	Logger       *slog.Logger
	VCS          vcs.VCS
	Runner       buildsys.Runner
	CacheOptions []cache.Option
}

// Run builds opts.Plan in opts.Root.
func Run(ctx context.Context, opts Options) (res Result) {
	start := time.Now()
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	rec := metrics.OrNoop(opts.Metrics)
	defer func() {
		rec.ObserveRunDuration(time.Since(start))
	}()

	ws, c, err := setup(&opts, log, rec)
	if err != nil {
		res.Err = err
		return res
	}
	store, err := state.Open(ws.Root())
	if err != nil {
		res.Err = errs.Setup("open state", err)
		return res
	}
	log.Debug("Opened build root", logfields.Path(store.Location()))

	defer func() {
		var cleanup []error
		if res.Err == nil || !opts.KeepTempOnError {
			cleanup = append(cleanup, errs.Cleanup("clean temp", ws.CleanTemp()))
		} else {
			log.Info("Keeping scratch area", logfields.Path(ws.TempDir()))
		}
		cleanup = append(cleanup, errs.Cleanup("close state", store.Close()))
		res.Cleanup = errors.Join(cleanup...)
		if res.Cleanup != nil {
			log.Warn("Cleanup failed", logfields.Error(res.Cleanup))
		}
	}()

	vars := make(map[string]string, len(opts.Plan.Vars)+len(opts.Vars))
	for k, v := range opts.Plan.Vars {
		vars[k] = v
	}
	for k, v := range opts.Vars {
		vars[k] = v
	}
	xopts := []build.Option{build.WithMetrics(rec), build.WithLogger(log)}
	if opts.VCS != nil {
		xopts = append(xopts, build.WithVCS(opts.VCS))
	}
	if opts.Runner != nil {
		xopts = append(xopts, build.WithRunner(opts.Runner))
	}
	x := build.New(build.Config{
		Toolchain: opts.Plan.Toolchain,
		Vars:      vars,
		Jobs:      opts.Jobs,
		Verbose:   opts.Verbose,
		Stdout:    opts.Stdout,
		Stderr:    opts.Stderr,
		Output:    opts.Output,
		Extra:     opts.Extra,
		Env:       opts.Env,
	}, ws, c, xopts...)

	p := &packager{ws: ws, store: store, x: x, fullRebuild: opts.FullRebuild, log: log}
	for i := range opts.Plan.Recipes {
		r := &opts.Plan.Recipes[i]
		pr, err := p.run(ctx, r)
		res.Packages = append(res.Packages, pr)
		rec.IncPackageOutcome(string(pr.Outcome))
		if err != nil {
			res.Err = &PackageError{Package: r.Name, Cause: err}
			log.Error("Build failed", logfields.Package(r.Name), logfields.Error(err))
			return res
		}
	}
	log.Info("Run complete",
		slog.Int("built", res.Count(Built)),
		slog.Int("skipped", res.Count(Skipped)),
		logfields.DurationMS(time.Since(start).Milliseconds()))
	return res
}

// setup checks everything that can be checked before the state lock is
// taken. Nothing in the build root is modified except creating its
// directories.
func setup(opts *Options, log *slog.Logger, rec metrics.Recorder) (*workspace.Workspace, *cache.Cache, error) {
	if opts.Plan == nil {
		return nil, nil, errs.Setup("load plan", errors.New("no plan"))
	}
	if issues := recipe.Validate(opts.Plan); len(issues) > 0 {
		return nil, nil, errs.Setup("validate plan", errors.New(strings.Join(issues, "; ")))
	}
	if opts.Plan.References("extra") {
		if opts.Extra == "" {
			return nil, nil, errs.Setup("check extra", errors.New("the plan uses ${extra} but no extra directory is set"))
		}
		fi, err := os.Stat(opts.Extra)
		if err != nil {
			return nil, nil, errs.Setup("check extra", err)
		}
		if !fi.IsDir() {
			return nil, nil, errs.Setup("check extra", fmt.Errorf("%s is not a directory", opts.Extra))
		}
	}
	if err := checkTools(opts); err != nil {
		return nil, nil, errs.Setup("check tools", err)
	}

	ws, err := workspace.New(opts.Root)
	if err != nil {
		return nil, nil, errs.Setup("build root", err)
	}
	if err := ws.PrepareRoot(); err != nil {
		return nil, nil, errs.Setup("build root", err)
	}
	copts := append([]cache.Option{cache.WithMetrics(rec), cache.WithLogger(log)}, opts.CacheOptions...)
	c, err := cache.New(opts.CacheDir, copts...)
	if err != nil {
		return nil, nil, errs.Setup("open cache", err)
	}
	return ws, c, nil
}

// checkTools looks up the plan's tools on the PATH the steps will see.
func checkTools(opts *Options) error {
	tools, err := opts.Plan.ToolNames()
	if err != nil {
		return err
	}
	path, ok := opts.Env["PATH"]
	if !ok {
		path = os.Getenv("PATH")
	}
	var missing []string
	for _, t := range tools {
		if _, err := build.FindTool(t, path); err != nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

// packager builds single packages of a run.
type packager struct {
	ws          *workspace.Workspace
	store       *state.Store
	x           *build.Executor
	fullRebuild bool
	log         *slog.Logger
}

func (p *packager) run(ctx context.Context, r *recipe.Recipe) (PackageResult, error) {
	version := r.RecordedVersion()
	res := PackageResult{Package: r.Name, Version: version, Outcome: Failed}
	log := p.log.With(logfields.Package(r.Name), logfields.Version(version))

	if r.Version != "" && !p.fullRebuild {
		if v, ok := p.store.Query(r.Name); ok && v == r.Version {
			log.Info("Up to date", logfields.Outcome(string(Skipped)))
			res.Outcome = Skipped
			return res, nil
		}
	}
	for _, dep := range r.Requires() {
		if _, ok := p.store.Query(dep); !ok {
			return res, fmt.Errorf("dependency %s is not built", dep)
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	start := time.Now()
	log.Info("Building")
	err := p.build(ctx, r)
	res.Duration = time.Since(start)
	if err != nil {
		if cerr := p.discard(r.Name); cerr != nil {
			log.Warn("Discarding install area failed", logfields.Error(cerr))
		}
		return res, errs.Step("", err)
	}
	if err := p.store.Record(r.Name, version); err != nil {
		return res, fmt.Errorf("record: %w", err)
	}
	log.Info("Built", logfields.DurationMS(res.Duration.Milliseconds()))
	res.Outcome = Built
	return res, nil
}

// build gives r a fresh install area and runs it. The recorded version is
// dropped first, so an interrupted build is never mistaken for a complete
// one.
func (p *packager) build(ctx context.Context, r *recipe.Recipe) error {
	if err := p.store.Invalidate(r.Name); err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	if err := p.ws.CleanTemp(); err != nil {
		return err
	}
	if err := p.discard(r.Name); err != nil {
		return err
	}
	if err := p.x.Execute(ctx, r); err != nil {
		return err
	}
	return p.ws.CleanTemp()
}

// discard empties the install area of name and drops its export links.
func (p *packager) discard(name string) error {
	if err := p.ws.RemoveExports(name); err != nil {
		return err
	}
	return p.ws.CleanItem(name)
}
