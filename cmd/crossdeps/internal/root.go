package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/goplus/crossdeps/internal/cache"
	"github.com/goplus/crossdeps/internal/config"
	"github.com/goplus/crossdeps/internal/env"
	"github.com/goplus/crossdeps/internal/logfields"
	"github.com/goplus/crossdeps/internal/recipe"
	"github.com/goplus/crossdeps/plans"
)

var (
	configFlag string
	verbose    bool
	quiet      bool

	// cfg is loaded before any subcommand runs.
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crossdeps",
	Short: "crossdeps cross-compiles a chain of third-party libraries",
	Long: `crossdeps builds an ordered plan of source packages into a build root,
recording what was built so that later runs only rebuild what changed.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Configuration file (default $"+config.EnvVar+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging and tool output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		color.Error.Println("error:", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With(logfields.RunID(uuid.NewString()))
	slog.SetDefault(logger)

	var err error
	cfg, err = config.Load(config.Path(configFlag))
	return err
}

// stringFlag returns the flag value if it was given, otherwise fallback.
func stringFlag(cmd *cobra.Command, name, value, fallback string) string {
	if cmd.Flags().Changed(name) || fallback == "" {
		return value
	}
	return fallback
}

func loadPlan(cmd *cobra.Command, name string) (*recipe.Plan, error) {
	name = stringFlag(cmd, "plan", name, cfg.Plan)
	return plans.Resolve(name)
}

func cacheDir(cmd *cobra.Command, flag string) (string, error) {
	if dir := stringFlag(cmd, "cache", flag, cfg.Cache); dir != "" {
		return dir, nil
	}
	return env.SourcesDir()
}

func buildRoot(cmd *cobra.Command, flag string) (string, error) {
	if root := stringFlag(cmd, "root", flag, cfg.Root); root != "" {
		return root, nil
	}
	return "", fmt.Errorf("no build root: use --root or set root in the configuration file")
}

// cacheOptions sets up progress bars on a terminal and s3:// sources when
// the plan or the configuration asks for them.
func cacheOptions(ctx context.Context, plan *recipe.Plan) ([]cache.Option, error) {
	opts := []cache.Option{cache.WithLogger(logger)}
	if !quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		httpd := cache.NewHTTPDownloader(os.Stderr)
		opts = append(opts, cache.WithDownloader("http", httpd), cache.WithDownloader("https", httpd))
	}
	if cfg.S3 != (config.S3{}) || usesScheme(plan, "s3") {
		s3d, err := cache.NewS3Downloader(ctx, cache.S3Config{Region: cfg.S3.Region, Endpoint: cfg.S3.Endpoint})
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithDownloader("s3", s3d))
	}
	return opts, nil
}

func usesScheme(plan *recipe.Plan, scheme string) bool {
	for _, r := range plan.Recipes {
		for _, s := range r.Sources {
			if strings.HasPrefix(s.URL, scheme+"://") {
				return true
			}
		}
	}
	return false
}
