package internal

import (
	"maps"
	"os"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/goplus/crossdeps/internal/errs"
	"github.com/goplus/crossdeps/internal/logfields"
	"github.com/goplus/crossdeps/internal/metrics"
	"github.com/goplus/crossdeps/internal/orchestrator"
)

var buildFlags struct {
	plan        string
	root        string
	cache       string
	fullRebuild bool
	jobs        int
	debug       bool
	output      string
	extra       string
	commit      string
	vars        map[string]string
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every package of a plan",
	Long: `Build walks the plan in order. Packages whose declared version is already
recorded in the build root are skipped; all others are rebuilt from scratch.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.StringVar(&buildFlags.plan, "plan", "mingw", "Built-in plan name or plan file")
	f.StringVarP(&buildFlags.root, "root", "d", "", "Build root")
	f.StringVarP(&buildFlags.cache, "cache", "c", "", "Source cache directory")
	f.BoolVarP(&buildFlags.fullRebuild, "all", "a", false, "Rebuild every package")
	f.IntVarP(&buildFlags.jobs, "jobs", "j", 1, "Parallel make jobs")
	f.BoolVarP(&buildFlags.debug, "debug", "b", false, "Keep the scratch area after a failure")
	f.StringVarP(&buildFlags.output, "output", "o", "", "Destination of collected build products (a directory or .zip file)")
	f.StringVar(&buildFlags.extra, "extra", "", "Directory with local patches and headers")
	f.StringVar(&buildFlags.commit, "commit", "", "Ref of the always-rebuilt git package")
	f.StringToStringVar(&buildFlags.vars, "var", nil, "Set a plan variable (name=value)")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	plan, err := loadPlan(cmd, buildFlags.plan)
	if err != nil {
		return err
	}
	root, err := buildRoot(cmd, buildFlags.root)
	if err != nil {
		return err
	}
	dir, err := cacheDir(cmd, buildFlags.cache)
	if err != nil {
		return err
	}
	copts, err := cacheOptions(ctx, plan)
	if err != nil {
		return err
	}
	stepEnv, err := cfg.Env()
	if err != nil {
		return err
	}

	vars := maps.Clone(cfg.Vars)
	if vars == nil {
		vars = map[string]string{}
	}
	maps.Copy(vars, buildFlags.vars)
	if buildFlags.commit != "" {
		vars["commit"] = buildFlags.commit
	}
	jobs := buildFlags.jobs
	if !cmd.Flags().Changed("jobs") && cfg.Jobs > 0 {
		jobs = cfg.Jobs
	}

	output, finish, err := outputDir(stringFlag(cmd, "output", buildFlags.output, cfg.Output))
	if err != nil {
		return err
	}

	rec := metrics.NewPrometheusRecorder(nil)
	res := orchestrator.Run(ctx, orchestrator.Options{
		Root:            root,
		CacheDir:        dir,
		Plan:            plan,
		FullRebuild:     buildFlags.fullRebuild,
		Jobs:            jobs,
		Verbose:         verbose,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		KeepTempOnError: buildFlags.debug || cfg.KeepTempOnError,
		Output:          output,
		Extra:           stringFlag(cmd, "extra", buildFlags.extra, cfg.Extra),
		Vars:            vars,
		Env:             stepEnv,
		Metrics:         rec,
		Logger:          logger,
		CacheOptions:    copts,
	})

	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("Writing metrics failed", logfields.Path(cfg.MetricsFile), logfields.Error(err))
		}
	}

	if err := finish(res.Err == nil); err != nil {
		return err
	}
	if res.Err != nil {
		if errs.KindOf(res.Err) == errs.KindSetup {
			color.Error.Println("build did not start")
		} else {
			color.Error.Printf("build failed after %d built, %d skipped\n",
				res.Count(orchestrator.Built), res.Count(orchestrator.Skipped))
		}
		return res.Err
	}
	color.Success.Printf("%d built, %d up to date\n", res.Count(orchestrator.Built), res.Count(orchestrator.Skipped))
	return nil
}
