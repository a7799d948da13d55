// Package localgit implements gitcollab.GitOps directly on top of go-git,
// grounded on gitjob's use of go-git wrapped by wrangler's git package
// (gitjob/pkg/git/git.go). It is the default, in-process Git collaborator:
// no separate process, no unix socket, one *git.Repository per work_dir.
package localgit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/nopea-io/nopea/internal/gitcollab"
)

// Client is an in-process, single-caller-at-a-time Git collaborator.
// Concurrency note: per Design Note §9 ("Git collaborator — serialized: one
// request in flight at a time"), callers are expected to serialize access
// (the Worker's sync pipeline already does this per repo); Client itself
// does not add a lock because two distinct work_dirs never contend.
type Client struct{}

// New returns a ready-to-use in-process Git collaborator.
func New() *Client {
	return &Client{}
}

var _ gitcollab.GitOps = (*Client)(nil)

// Sync implements gitcollab.GitOps.
func (c *Client) Sync(ctx context.Context, url, branch, path string, depth int) (string, error) {
	ref := plumbing.NewBranchReferenceName(branch)

	if _, err := os.Stat(filepath.Join(path, ".git")); os.IsNotExist(err) {
		repo, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
			URL:           url,
			ReferenceName: ref,
			SingleBranch:  true,
			Depth:         depth,
		})
		if err != nil {
			return "", fmt.Errorf("clone %s: %w", url, err)
		}
		head, err := repo.Head()
		if err != nil {
			return "", err
		}
		return head.Hash().String(), nil
	}

	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("get origin remote: %w", err)
	}

	fetchSpec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch))
	err = remote.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []config.RefSpec{fetchSpec},
		Force:    true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return "", fmt.Errorf("fetch: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return "", fmt.Errorf("resolve origin/%s: %w", branch, err)
	}

	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return "", fmt.Errorf("hard reset to origin/%s: %w", branch, err)
	}

	return remoteRef.Hash().String(), nil
}

// Files implements gitcollab.GitOps.
func (c *Client) Files(ctx context.Context, path, subpath string) ([]string, error) {
	root := filepath.Join(path, subpath)
	var out []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		base := filepath.Base(p)
		if strings.HasPrefix(base, ".") {
			return nil
		}
		ext := filepath.Ext(base)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files under %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// Read implements gitcollab.GitOps.
func (c *Client) Read(ctx context.Context, path, file string) ([]byte, error) {
	return os.ReadFile(filepath.Join(path, file))
}

// Head implements gitcollab.GitOps.
func (c *Client) Head(ctx context.Context, path string) (gitcollab.HeadInfo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return gitcollab.HeadInfo{}, err
	}
	ref, err := repo.Head()
	if err != nil {
		return gitcollab.HeadInfo{}, err
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return gitcollab.HeadInfo{}, err
	}
	return gitcollab.HeadInfo{
		SHA:       commit.Hash.String(),
		Author:    commit.Author.Name,
		Email:     commit.Author.Email,
		Message:   commit.Message,
		Timestamp: commit.Author.When,
	}, nil
}

// Checkout implements gitcollab.GitOps.
func (c *Client) Checkout(ctx context.Context, path, sha string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	hash := plumbing.NewHash(sha)
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash}); err != nil {
		return "", fmt.Errorf("checkout %s: %w", sha, err)
	}
	return hash.String(), nil
}

// LsRemote implements gitcollab.GitOps.
func (c *Client) LsRemote(ctx context.Context, url, branch string) (string, error) {
	remote := git.NewRemote(nil, &config.RemoteConfig{Name: "origin", URLs: []string{url}})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("ls-remote %s: %w", url, err)
	}
	want := plumbing.NewBranchReferenceName(branch)
	for _, ref := range refs {
		if ref.Name() == want {
			return ref.Hash().String(), nil
		}
	}
	return "", fmt.Errorf("branch %s not found on %s", branch, url)
}
