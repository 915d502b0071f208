// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goplus/crossdeps/internal/build"
	"github.com/goplus/crossdeps/internal/digest"
	"github.com/goplus/crossdeps/internal/errs"
	"github.com/goplus/crossdeps/internal/recipe"
	"github.com/goplus/crossdeps/internal/state"
	"github.com/goplus/crossdeps/internal/workspace"
	"github.com/goplus/crossdeps/pkgs/buildsys"
)

// fakeRunner records the package of every make call, taken from its PKG=
// argument, and fails packages listed in fail.
type fakeRunner struct {
	mu    sync.Mutex
	built []string
	fail  map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, c buildsys.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pkg string
	for _, a := range c.Args {
		if v, ok := strings.CutPrefix(a, "PKG="); ok {
			pkg = v
		}
	}
	f.built = append(f.built, pkg)
	if f.fail[pkg] {
		return &buildsys.CommandError{Command: c, Err: errors.New("exit status 2")}
	}
	return nil
}

func (f *fakeRunner) reset() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	built := f.built
	f.built = nil
	return built
}

type countingRecorder struct {
	outcomes map[string]int
}

func (c *countingRecorder) IncPackageOutcome(o string)                { c.outcomes[o]++ }
func (c *countingRecorder) ObserveStepDuration(string, time.Duration) {}
func (c *countingRecorder) IncCacheResult(string)                     {}
func (c *countingRecorder) ObserveRunDuration(time.Duration)          {}

func tarSource(t *testing.T, key string) recipe.Source {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := "all:\n"
	tw.WriteHeader(&tar.Header{Name: "a-1.0/Makefile", Mode: 0o644, Size: int64(len(body)), ModTime: time.Now()})
	tw.Write([]byte(body))
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), key)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := digest.Of(digest.SHA256, buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return recipe.Source{Key: key, URL: "file://" + path, Digest: d}
}

func pkg(name, version string, deps ...string) recipe.Recipe {
	return recipe.Recipe{
		Name:    name,
		Version: version,
		Deps:    deps,
		Steps: []recipe.Step{
			{Kind: recipe.Mkdir, Paths: []string{"lib"}},
			{Kind: recipe.Make, Args: []string{"PKG=${name}"}},
		},
	}
}

// abPlan is A(1.0) and B(2.0) depending on A.
func abPlan(t *testing.T) *recipe.Plan {
	a := pkg("A", "1.0")
	a.Sources = []recipe.Source{tarSource(t, "a-1.0.tar")}
	a.Steps = append([]recipe.Step{{Kind: recipe.Extract, Source: "a-1.0.tar"}}, a.Steps...)
	b := pkg("B", "2.0", "A")
	b.Steps[1].Args = append(b.Steps[1].Args, "A=${item:A}")
	return &recipe.Plan{
		Name:      "ab",
		Toolchain: recipe.Toolchain{Host: "i586-mingw32msvc"},
		Recipes:   []recipe.Recipe{a, b},
	}
}

type env struct {
	root, cache string
	runner      *fakeRunner
}

func newEnv(t *testing.T) *env {
	dir := t.TempDir()
	return &env{
		root:   filepath.Join(dir, "root"),
		cache:  filepath.Join(dir, "cache"),
		runner: &fakeRunner{fail: map[string]bool{}},
	}
}

func (e *env) run(plan *recipe.Plan, fullRebuild bool) Result {
	return Run(context.Background(), Options{
		Root:        e.root,
		CacheDir:    e.cache,
		Plan:        plan,
		FullRebuild: fullRebuild,
		Runner:      e.runner,
	})
}

func outcomes(res Result) []Outcome {
	var out []Outcome
	for _, p := range res.Packages {
		out = append(out, p.Outcome)
	}
	return out
}

func recorded(t *testing.T, root string) map[string]string {
	t.Helper()
	st, err := state.Read(root)
	if err != nil {
		t.Fatal(err)
	}
	return st.Packages
}

func TestRunIdempotent(t *testing.T) {
	e := newEnv(t)
	plan := abPlan(t)

	res := e.run(plan, false)
	if res.Err != nil || res.Cleanup != nil {
		t.Fatalf("first run: %v, cleanup %v", res.Err, res.Cleanup)
	}
	if got := outcomes(res); !slices.Equal(got, []Outcome{Built, Built}) {
		t.Errorf("first run outcomes = %v", got)
	}
	if got := e.runner.reset(); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("first run built %v", got)
	}
	if got := recorded(t, e.root); got["A"] != "1.0" || got["B"] != "2.0" {
		t.Errorf("recorded = %v", got)
	}
	if _, err := os.Stat(filepath.Join(e.root, "items", "A", "lib")); err != nil {
		t.Errorf("install area of A: %v", err)
	}

	res = e.run(plan, false)
	if res.Err != nil {
		t.Fatalf("second run: %v", res.Err)
	}
	if got := outcomes(res); !slices.Equal(got, []Outcome{Skipped, Skipped}) {
		t.Errorf("second run outcomes = %v", got)
	}
	if got := e.runner.reset(); len(got) != 0 {
		t.Errorf("second run built %v", got)
	}
}

func TestRunFullRebuild(t *testing.T) {
	e := newEnv(t)
	plan := abPlan(t)
	if res := e.run(plan, false); res.Err != nil {
		t.Fatal(res.Err)
	}
	e.runner.reset()

	res := e.run(plan, true)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if got := outcomes(res); !slices.Equal(got, []Outcome{Built, Built}) {
		t.Errorf("outcomes = %v", got)
	}
	if got := e.runner.reset(); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("built %v", got)
	}
}

func TestRunVersionChange(t *testing.T) {
	e := newEnv(t)
	plan := abPlan(t)
	if res := e.run(plan, false); res.Err != nil {
		t.Fatal(res.Err)
	}
	e.runner.reset()

	plan.Recipes[1].Version = "2.1"
	res := e.run(plan, false)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if got := outcomes(res); !slices.Equal(got, []Outcome{Skipped, Built}) {
		t.Errorf("outcomes = %v", got)
	}
	if got := recorded(t, e.root)["B"]; got != "2.1" {
		t.Errorf("B recorded as %q", got)
	}
}

func TestRunResumes(t *testing.T) {
	e := newEnv(t)
	plan := abPlan(t)
	rec := &countingRecorder{outcomes: map[string]int{}}
	e.runner.fail["B"] = true

	res := Run(context.Background(), Options{Root: e.root, CacheDir: e.cache, Plan: plan, Runner: e.runner, Metrics: rec})
	var pe *PackageError
	if !errors.As(res.Err, &pe) || pe.Package != "B" {
		t.Fatalf("Err = %v, want PackageError for B", res.Err)
	}
	var se *build.StepError
	if !errors.As(res.Err, &se) || se.Tool != "make" {
		t.Errorf("Err = %v, want a make StepError", res.Err)
	}
	if k := errs.KindOf(res.Err); k != errs.KindStep {
		t.Errorf("KindOf(Err) = %q, want step", k)
	}
	if got := outcomes(res); !slices.Equal(got, []Outcome{Built, Failed}) {
		t.Errorf("outcomes = %v", got)
	}
	if rec.outcomes["built"] != 1 || rec.outcomes["failed"] != 1 {
		t.Errorf("metrics = %v", rec.outcomes)
	}
	got := recorded(t, e.root)
	if got["A"] != "1.0" {
		t.Errorf("A recorded as %q", got["A"])
	}
	if v, ok := got["B"]; ok && v != "" {
		t.Errorf("failed B recorded as %q", v)
	}
	entries, err := os.ReadDir(filepath.Join(e.root, "items", "B"))
	if err != nil || len(entries) != 0 {
		t.Errorf("install area of B not discarded: %v, %v", entries, err)
	}
	entries, _ = os.ReadDir(filepath.Join(e.root, "temp"))
	if len(entries) != 0 {
		t.Errorf("scratch area not cleaned: %v", entries)
	}

	e.runner.fail["B"] = false
	e.runner.reset()
	res = e.run(plan, false)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if got := outcomes(res); !slices.Equal(got, []Outcome{Skipped, Built}) {
		t.Errorf("resumed outcomes = %v", got)
	}
	if got := e.runner.reset(); !slices.Equal(got, []string{"B"}) {
		t.Errorf("resumed run built %v", got)
	}
}

func TestRunKeepsTempOnError(t *testing.T) {
	e := newEnv(t)
	plan := abPlan(t)
	e.runner.fail["A"] = true
	res := Run(context.Background(), Options{Root: e.root, CacheDir: e.cache, Plan: plan, Runner: e.runner, KeepTempOnError: true})
	if res.Err == nil {
		t.Fatal("Run succeeded")
	}
	if got := outcomes(res); !slices.Equal(got, []Outcome{Failed}) {
		t.Errorf("outcomes = %v", got)
	}
	if _, err := os.Stat(filepath.Join(e.root, "temp", "src", "Makefile")); err != nil {
		t.Errorf("scratch area not kept: %v", err)
	}
}

func TestRunAlwaysRebuildsUnversioned(t *testing.T) {
	e := newEnv(t)
	plan := &recipe.Plan{
		Toolchain: recipe.Toolchain{Host: "i586-mingw32msvc"},
		Recipes:   []recipe.Recipe{pkg("A", "1.0"), pkg("tip", "", "A")},
	}
	for i := range 2 {
		res := e.run(plan, false)
		if res.Err != nil {
			t.Fatal(res.Err)
		}
		if got := res.Packages[1]; got.Outcome != Built || got.Version != recipe.LatestVersion {
			t.Errorf("run %d: tip = %+v", i, got)
		}
	}
	if got := recorded(t, e.root)["tip"]; got != recipe.LatestVersion {
		t.Errorf("tip recorded as %q", got)
	}
}

func TestRunLocked(t *testing.T) {
	e := newEnv(t)
	if err := os.MkdirAll(e.root, 0o755); err != nil {
		t.Fatal(err)
	}
	held, err := state.Open(e.root)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	res := e.run(abPlan(t), false)
	if !errors.Is(res.Err, state.ErrLocked) || !errs.Is(res.Err, errs.KindSetup) {
		t.Fatalf("Err = %v, want setup error wrapping ErrLocked", res.Err)
	}
	if len(res.Packages) != 0 || len(e.runner.reset()) != 0 {
		t.Errorf("packages were attempted: %v", res.Packages)
	}
}

func TestRunMovedRoot(t *testing.T) {
	e := newEnv(t)
	plan := abPlan(t)
	if res := e.run(plan, false); res.Err != nil {
		t.Fatal(res.Err)
	}
	before, err := os.ReadFile(filepath.Join(e.root, state.FileName))
	if err != nil {
		t.Fatal(err)
	}
	moved := filepath.Join(filepath.Dir(e.root), "moved")
	if err := os.Rename(e.root, moved); err != nil {
		t.Fatal(err)
	}
	e.root = moved

	res := e.run(plan, false)
	if !errors.Is(res.Err, state.ErrLocationMismatch) {
		t.Fatalf("Err = %v, want ErrLocationMismatch", res.Err)
	}
	after, err := os.ReadFile(filepath.Join(moved, state.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("state rewritten after mismatch:\n%s\n%s", before, after)
	}
}

func TestRunSetupErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(e *env, o *Options)
		want   string
	}{
		{"root", func(e *env, o *Options) { o.Root = filepath.Join(e.root, "has.dot") }, "only a-z"},
		{"tool", func(_ *env, o *Options) { o.Plan.Tools = []string{"${host}-no-such-tool"} }, "i586-mingw32msvc-no-such-tool"},
		{"plan", func(_ *env, o *Options) { o.Plan.Recipes[1].Deps = []string{"C"} }, "does not name an earlier recipe"},
		{"extra", func(_ *env, o *Options) {
			o.Plan.Recipes[0].Steps[2].Args = []string{"P=${extra}/p.patch"}
		}, "no extra directory"},
		{"cache", func(e *env, o *Options) {
			os.WriteFile(e.cache, nil, 0o644)
		}, "not a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			o := Options{Root: e.root, CacheDir: e.cache, Plan: abPlan(t), Runner: e.runner}
			tt.modify(e, &o)
			res := Run(context.Background(), o)
			if !errs.Is(res.Err, errs.KindSetup) {
				t.Fatalf("Err = %v, want a setup error", res.Err)
			}
			if !strings.Contains(res.Err.Error(), tt.want) {
				t.Errorf("Err = %v, want mention of %q", res.Err, tt.want)
			}
			if len(e.runner.reset()) != 0 {
				t.Error("packages were built")
			}
		})
	}
}

// rootClobber replaces the build root with a regular file, then fails.
type rootClobber struct{}

func (rootClobber) Run(_ context.Context, c buildsys.Command) error {
	root := filepath.Dir(filepath.Dir(c.Dir)) // c.Dir is <root>/temp/src
	if err := os.RemoveAll(root); err != nil {
		return err
	}
	if err := os.WriteFile(root, nil, 0o644); err != nil {
		return err
	}
	return errors.New("exit status 2")
}

func TestRunReportsCleanupAlongsideFailure(t *testing.T) {
	e := newEnv(t)
	plan := &recipe.Plan{
		Toolchain: recipe.Toolchain{Host: "i586-mingw32msvc"},
		Recipes:   []recipe.Recipe{pkg("A", "1.0")},
	}
	res := Run(context.Background(), Options{Root: e.root, CacheDir: e.cache, Plan: plan, Runner: rootClobber{}})
	var pe *PackageError
	if !errors.As(res.Err, &pe) || pe.Package != "A" {
		t.Fatalf("Err = %v, want PackageError for A", res.Err)
	}
	if errs.Is(res.Err, errs.KindCleanup) {
		t.Errorf("cleanup failure leaked into Err: %v", res.Err)
	}
	if !errs.Is(res.Cleanup, errs.KindCleanup) {
		t.Fatalf("Cleanup = %v, want a cleanup error", res.Cleanup)
	}
	if !strings.Contains(res.Cleanup.Error(), "clean temp") {
		t.Errorf("Cleanup = %v, want the scratch area cleanup", res.Cleanup)
	}
}

// Run rebuilds every unbuilt dependency before its dependents, so only a
// record edited behind the store's back reaches this check.
func TestPackagerRequiresBuiltDeps(t *testing.T) {
	ws, err := workspace.New(newEnv(t).root)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.PrepareRoot(); err != nil {
		t.Fatal(err)
	}
	store, err := state.Open(ws.Root())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Record("A", "1.0"); err != nil {
		t.Fatal(err)
	}
	if err := store.Invalidate("A"); err != nil {
		t.Fatal(err)
	}

	p := &packager{ws: ws, store: store, log: slog.Default()}
	b := pkg("B", "2.0", "A")
	pr, err := p.run(context.Background(), &b)
	if err == nil || !strings.Contains(err.Error(), "dependency A is not built") {
		t.Fatalf("run(B) error = %v", err)
	}
	if pr.Outcome != Failed {
		t.Errorf("outcome = %s, want failed", pr.Outcome)
	}
	if _, ok := store.Query("B"); ok {
		t.Error("B recorded")
	}
}

func TestRunCanceled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Run(ctx, Options{Root: e.root, CacheDir: e.cache, Plan: abPlan(t), Runner: e.runner})
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("Err = %v, want context.Canceled", res.Err)
	}
	if st := recorded(t, e.root); st["A"] != "" {
		t.Errorf("A recorded after cancel: %v", st)
	}
}
