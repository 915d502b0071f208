// Package build runs the steps of one recipe inside a workspace.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goplus/crossdeps/internal/cache"
	"github.com/goplus/crossdeps/internal/logfields"
	"github.com/goplus/crossdeps/internal/metrics"
	"github.com/goplus/crossdeps/internal/recipe"
	"github.com/goplus/crossdeps/internal/vcs"
	"github.com/goplus/crossdeps/internal/workspace"
	"github.com/goplus/crossdeps/pkgs/buildsys"
)

// Config holds what stays the same for every recipe of a run.
type Config struct {
	Toolchain recipe.Toolchain
	Vars      map[string]string // plan variables
	Jobs      int               // make -j; zero or one builds serially
	Verbose   bool              // show subprocess output
	Stdout    io.Writer         // where verbose output goes; default os.Stdout
	Stderr    io.Writer         // default os.Stderr
	Output    string            // destination of collect steps
	Extra     string            // directory with local patches and headers
	Env       map[string]string // added to the environment of every step
}

// StepError is a failed build step.
type StepError struct {
	Package string
	Index   int    // position in the recipe; -1 for fetching sources
	Step    string // e.g. "make", "run autoconf"
	Tool    string // external tool, if one ran
	Args    []string
	Err     error
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", e.Package)
	if e.Index >= 0 {
		fmt.Fprintf(&b, "step %d ", e.Index+1)
	}
	fmt.Fprintf(&b, "(%s)", e.Step)
	if e.Tool != "" {
		fmt.Fprintf(&b, ": %s", strings.Join(append([]string{e.Tool}, e.Args...), " "))
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Executor builds recipes.
type Executor struct {
	cfg     Config
	ws      *workspace.Workspace
	cache   *cache.Cache
	vcs     vcs.VCS
	runner  buildsys.Runner
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithVCS sets the implementation of clone steps.
func WithVCS(v vcs.VCS) Option {
	return func(x *Executor) {
		x.vcs = v
	}
}

// WithRunner replaces the subprocess runner.
func WithRunner(r buildsys.Runner) Option {
	return func(x *Executor) {
		x.runner = r
	}
}

// WithMetrics reports step durations to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(x *Executor) {
		x.metrics = metrics.OrNoop(r)
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) {
		x.logger = l
	}
}

// New returns an Executor building into ws with sources from c.
func New(cfg Config, ws *workspace.Workspace, c *cache.Cache, opts ...Option) *Executor {
	x := &Executor{
		cfg:     cfg,
		ws:      ws,
		cache:   c,
		metrics: metrics.NoopRecorder{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.vcs == nil {
		x.vcs = vcs.New()
	}
	if x.runner == nil {
		var run buildsys.Exec
		if cfg.Verbose {
			run.Stdout, run.Stderr = cfg.Stdout, cfg.Stderr
			if run.Stdout == nil {
				run.Stdout = os.Stdout
			}
			if run.Stderr == nil {
				run.Stderr = os.Stderr
			}
		}
		x.runner = run
	}
	x.runner = &loggingRunner{next: x.runner, logger: x.logger}
	return x
}

// Execute builds r. The scratch area and the install area of r must be
// empty; Execute writes only to them and to exports/ links of r.
// Failures are returned as *StepError.
func (x *Executor) Execute(ctx context.Context, r *recipe.Recipe) error {
	log := x.logger.With(logfields.Package(r.Name))

	entries := make(map[string]*cache.Entry, len(r.Sources))
	defer func() {
		for _, e := range entries {
			e.Close()
		}
	}()
	for _, src := range r.Sources {
		e, err := x.cache.Fetch(ctx, cache.Source{URL: src.URL, Key: src.Key, Digest: src.Digest})
		if err != nil {
			return &StepError{Package: r.Name, Index: -1, Step: "fetch " + src.Key, Err: err}
		}
		entries[src.Key] = e
	}

	if err := os.MkdirAll(x.ws.SrcDir(), 0o755); err != nil {
		return &StepError{Package: r.Name, Index: -1, Step: "prepare", Err: err}
	}

	env := buildsys.MergeEnv(os.Environ(), x.cfg.Env)
	run := &run{
		x:       x,
		recipe:  r,
		entries: entries,
		prefix:  x.ws.ItemDir(r.Name),
		env:     env,
		vars:    x.vars(r, env),
		log:     log,
	}
	for i := range r.Steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Package: r.Name, Index: i, Step: r.Steps[i].Describe(), Err: err}
		}
		st, err := run.vars.ExpandStep(r.Steps[i])
		if err != nil {
			return &StepError{Package: r.Name, Index: i, Step: r.Steps[i].Describe(), Err: err}
		}
		start := time.Now()
		log.Debug("Running step", logfields.Step(st.Describe()))
		err = run.step(ctx, &st)
		x.metrics.ObserveStepDuration(string(st.Kind), time.Since(start))
		if err != nil {
			return stepError(r.Name, i, &st, err)
		}
	}
	return nil
}

func stepError(pkg string, i int, st *recipe.Step, err error) *StepError {
	se := &StepError{Package: pkg, Index: i, Step: st.Describe(), Err: err}
	var ce *buildsys.CommandError
	if errors.As(err, &ce) {
		se.Tool, se.Args = ce.Command.Tool, ce.Command.Args
		// the command is already in Tool and Args
		se.Err = ce.Err
		if ce.Output != "" {
			se.Err = fmt.Errorf("%w: %s", ce.Err, ce.Output)
		}
	}
	return se
}

func (x *Executor) vars(r *recipe.Recipe, env []string) *recipe.Vars {
	values := map[string]string{
		"name":    r.Name,
		"version": r.RecordedVersion(),
		"prefix":  x.ws.ItemDir(r.Name),
		"src":     x.ws.SrcDir(),
		"temp":    x.ws.TempDir(),
		"exports": x.ws.ExportDir(),
		"output":  x.cfg.Output,
		"extra":   x.cfg.Extra,
		"host":    x.cfg.Toolchain.Host,
		"build":   x.cfg.Toolchain.Build,
	}
	for k, v := range x.cfg.Vars {
		values[k] = v
	}
	return &recipe.Vars{
		Values: values,
		Item: func(pkg string) (string, bool) {
			return x.ws.ItemDir(pkg), pkg != "" && !strings.ContainsAny(pkg, `/\`)
		},
		Cache: func(key string) (string, bool) {
			if _, ok := r.Source(key); !ok {
				return "", false
			}
			return x.cache.Path(key), true
		},
		Env: func(name string) (string, bool) {
			for i := len(env) - 1; i >= 0; i-- {
				if k, v, ok := strings.Cut(env[i], "="); ok && k == name {
					return v, true
				}
			}
			return "", false
		},
	}
}

// loggingRunner logs every command before running it.
type loggingRunner struct {
	next   buildsys.Runner
	logger *slog.Logger
}

func (l *loggingRunner) Run(ctx context.Context, c buildsys.Command) error {
	l.logger.Debug("Executing", slog.String("tool", c.Tool), logfields.Args(c.Args), logfields.Path(c.Dir))
	return l.next.Run(ctx, c)
}
