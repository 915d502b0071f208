package vcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// VCS checks out sources that are built from a live repository rather than
// a release tarball.
type VCS interface {
	// Clone clones remote into dir, which must not exist or be empty,
	// checks out ref and updates all submodules recursively.
	// ref can be a branch, tag or commit hash; empty means the remote's
	// default branch. Clone returns the commit hash that was checked out.
	Clone(ctx context.Context, remote, ref, dir string) (string, error)
}

// Option configures the VCS returned by New.
type Option func(*options)

type options struct {
	git      string
	progress io.Writer
}

// WithGitPath makes New shell out to the git executable at path instead of
// using the built-in implementation.
func WithGitPath(path string) Option {
	return func(o *options) {
		o.git = path
	}
}

// WithProgress sends clone progress messages to w.
func WithProgress(w io.Writer) Option {
	return func(o *options) {
		o.progress = w
	}
}

// New returns a VCS. Without WithGitPath no git binary is required.
func New(opts ...Option) VCS {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.git != "" {
		return &gitCLI{git: o.git, progress: o.progress}
	}
	return &goGit{progress: o.progress}
}

// gitCLI implements VCS by running git.
type gitCLI struct {
	git      string
	progress io.Writer
}

func (g *gitCLI) Clone(ctx context.Context, remote, ref, dir string) (string, error) {
	if err := g.run(ctx, "", "clone", remote, dir); err != nil {
		return "", fmt.Errorf("clone %s: %w", remote, err)
	}
	if ref != "" {
		if err := g.run(ctx, dir, "checkout", ref); err != nil {
			return "", fmt.Errorf("checkout %s: %w", ref, err)
		}
	}
	if err := g.run(ctx, dir, "submodule", "update", "--init", "--recursive"); err != nil {
		return "", fmt.Errorf("submodule update: %w", err)
	}
	out, err := g.output(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (g *gitCLI) run(ctx context.Context, dir string, args ...string) error {
	_, err := g.output(ctx, dir, args...)
	return err
}

func (g *gitCLI) output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.git, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if g.progress != nil {
		cmd.Stderr = io.MultiWriter(&stderr, g.progress)
	}

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s", msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
