package vcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/goplus/crossdeps/internal/logfields"
)

// goGit implements VCS with go-git.
type goGit struct {
	progress io.Writer
}

func (g *goGit) Clone(ctx context.Context, remote, ref, dir string) (string, error) {
	slog.Debug("Cloning repository", logfields.URL(remote), slog.String("ref", ref), logfields.Path(dir))

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:      remote,
		Progress: g.progress,
	})
	if err != nil {
		return "", fmt.Errorf("clone %s: %w", remote, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}

	if ref != "" {
		hash, err := resolve(repo, ref)
		if err != nil {
			return "", err
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
			return "", fmt.Errorf("checkout %s: %w", ref, err)
		}
	}

	subs, err := wt.Submodules()
	if err != nil {
		return "", fmt.Errorf("submodules: %w", err)
	}
	if len(subs) > 0 {
		if err := subs.UpdateContext(ctx, &git.SubmoduleUpdateOptions{
			Init:              true,
			RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
		}); err != nil {
			return "", fmt.Errorf("submodule update: %w", err)
		}
	}

	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

// resolve finds ref among tags, local branches and, since a fresh clone only
// has the default branch locally, the remote-tracking branches of origin.
func resolve(repo *git.Repository, ref string) (plumbing.Hash, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err == nil {
		return *hash, nil
	}
	if h, err2 := repo.ResolveRevision(plumbing.Revision("refs/remotes/origin/" + ref)); err2 == nil {
		return *h, nil
	}
	return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", ref, err)
}
