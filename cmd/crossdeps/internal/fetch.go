// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

import (
	"fmt"
	"sync/atomic"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goplus/crossdeps/internal/cache"
	"github.com/goplus/crossdeps/internal/logfields"
)

var fetchFlags struct {
	plan  string
	cache string
	jobs  int
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download every source of a plan into the cache",
	Long: `Fetch verifies every source of the plan against the cache and downloads
the missing or stale ones. Several processes may fetch into the same cache.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchFlags.plan, "plan", "mingw", "Built-in plan name or plan file")
	fetchCmd.Flags().StringVarP(&fetchFlags.cache, "cache", "c", "", "Source cache directory")
	fetchCmd.Flags().IntVarP(&fetchFlags.jobs, "jobs", "j", 4, "Parallel downloads")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	plan, err := loadPlan(cmd, fetchFlags.plan)
	if err != nil {
		return err
	}
	dir, err := cacheDir(cmd, fetchFlags.cache)
	if err != nil {
		return err
	}
	opts, err := cacheOptions(ctx, plan)
	if err != nil {
		return err
	}
	c, err := cache.New(dir, opts...)
	if err != nil {
		return err
	}

	var downloaded, total atomic.Int32
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(fetchFlags.jobs, 1))
	for _, r := range plan.Recipes {
		for _, src := range r.Sources {
			total.Add(1)
			g.Go(func() error {
				e, err := c.Fetch(ctx, cache.Source{URL: src.URL, Key: src.Key, Digest: src.Digest})
				if err != nil {
					return fmt.Errorf("%s: %w", r.Name, err)
				}
				if e.Downloaded {
					downloaded.Add(1)
					logger.Info("Downloaded", logfields.Package(r.Name), logfields.Key(src.Key))
				}
				return e.Close()
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	color.Success.Printf("%d sources in %s, %d downloaded\n", total.Load(), c.Dir(), downloaded.Load())
	return nil
}
