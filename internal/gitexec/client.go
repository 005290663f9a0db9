// Package gitexec wraps go-git for the clone, checkout and fetch plumbing
// executed on the controller's machine.
package gitexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// ancestryWalkLimit bounds the commit walks used for ahead/behind counting
const ancestryWalkLimit = 1000

// AuthConfig carries optional HTTP basic credentials for remote operations
type AuthConfig struct {
	Username string
	Password string
}

// CloneConfig describes a clone operation
type CloneConfig struct {
	// URL is the remote repository URL
	URL string

	// Dir is the destination directory; an existing directory is replaced
	Dir string

	// Auth is optional HTTP basic auth
	Auth *AuthConfig
}

// CloneInfo is the result of a completed clone
type CloneInfo struct {
	Path          string
	DefaultBranch string
}

// FetchInfo is the result of refreshing remote tracking state
type FetchInfo struct {
	Ahead  int
	Behind int
}

// Client defines the git operations the local backend decorator needs
type Client interface {
	// Clone shallow-clones a repository into the configured directory
	Clone(ctx context.Context, cfg *CloneConfig) (*CloneInfo, error)

	// Checkout switches the repository at dir to the branch, fetching it on
	// demand when it is not available locally
	Checkout(ctx context.Context, dir, branch string, auth *AuthConfig) error

	// Fetch refreshes remote tracking refs and reports how far the checked
	// out branch is ahead of and behind its remote counterpart
	Fetch(ctx context.Context, dir string, auth *AuthConfig) (*FetchInfo, error)

	// Cleanup removes the local repository directory
	Cleanup(dir string) error
}

// defaultClient implements Client using go-git
type defaultClient struct{}

// NewDefaultClient creates a new defaultClient
func NewDefaultClient() Client {
	return &defaultClient{}
}

func basicAuth(auth *AuthConfig) *githttp.BasicAuth {
	if auth == nil || auth.Password == "" {
		return nil
	}
	username := auth.Username
	if username == "" {
		username = "x-access-token"
	}
	return &githttp.BasicAuth{Username: username, Password: auth.Password}
}

// Clone shallow-clones a repository into the configured directory
func (*defaultClient) Clone(ctx context.Context, cfg *CloneConfig) (*CloneInfo, error) {
	// Replace any partial clone left behind by an earlier failure
	if _, err := os.Stat(cfg.Dir); err == nil {
		slog.Debug("Removing existing clone directory", "dir", cfg.Dir)
		if err := os.RemoveAll(cfg.Dir); err != nil {
			return nil, fmt.Errorf("failed to remove existing clone directory: %w", err)
		}
	}

	// Shallow clone of the default branch only; other branches are fetched
	// on demand at checkout time
	repo, err := git.PlainCloneContext(ctx, cfg.Dir, false, &git.CloneOptions{
		URL:          cfg.URL,
		Depth:        1,
		SingleBranch: true,
		Auth:         basicAuth(cfg.Auth),
	})
	if err != nil {
		_ = os.RemoveAll(cfg.Dir)
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		_ = os.RemoveAll(cfg.Dir)
		return nil, fmt.Errorf("failed to resolve HEAD after clone: %w", err)
	}

	return &CloneInfo{
		Path:          cfg.Dir,
		DefaultBranch: head.Name().Short(),
	}, nil
}

// Checkout switches the repository at dir to the branch, fetching it on
// demand when it is not available locally
func (*defaultClient) Checkout(ctx context.Context, dir, branch string, auth *AuthConfig) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(branchRef, true); err != nil {
		// Branch is not local; fetch it from origin (shallow clone flow)
		slog.Debug("Branch not available locally, fetching from origin", "branch", branch)
		refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
		err := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   []config.RefSpec{refSpec},
			Auth:       basicAuth(auth),
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("branch %q does not exist on remote or fetch failed: %w", branch, err)
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout branch %q: %w", branch, err)
	}
	return nil
}

// Fetch refreshes remote tracking refs and reports how far the checked out
// branch is ahead of and behind its remote counterpart
func (*defaultClient) Fetch(ctx context.Context, dir string, auth *AuthConfig) (*FetchInfo, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Auth:       basicAuth(auth),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to fetch from origin: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", head.Name().Short()), true)
	if err != nil {
		// No remote counterpart; nothing to compare against
		slog.Debug("Remote tracking branch not found", "branch", head.Name().Short())
		return &FetchInfo{}, nil
	}

	ahead, behind, err := aheadBehind(repo, head.Hash(), remoteRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to compare with remote branch: %w", err)
	}
	return &FetchInfo{Ahead: ahead, Behind: behind}, nil
}

// Cleanup removes the local repository directory
func (*defaultClient) Cleanup(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove repository directory: %w", err)
	}
	return nil
}

// aheadBehind counts commits reachable from only one of the two tips. The
// walks are bounded, so counts saturate on very long divergent histories.
func aheadBehind(repo *git.Repository, local, remote plumbing.Hash) (int, int, error) {
	localSet, err := ancestors(repo, local)
	if err != nil {
		return 0, 0, err
	}
	remoteSet, err := ancestors(repo, remote)
	if err != nil {
		return 0, 0, err
	}

	ahead := 0
	for hash := range localSet {
		if _, ok := remoteSet[hash]; !ok {
			ahead++
		}
	}
	behind := 0
	for hash := range remoteSet {
		if _, ok := localSet[hash]; !ok {
			behind++
		}
	}
	return ahead, behind, nil
}

// ancestors collects the bounded ancestry of a commit, the tip included
func ancestors(repo *git.Repository, tip plumbing.Hash) (map[plumbing.Hash]struct{}, error) {
	seen := make(map[plumbing.Hash]struct{})
	queue := []plumbing.Hash{tip}

	for len(queue) > 0 && len(seen) < ancestryWalkLimit {
		hash := queue[0]
		queue = queue[1:]
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}

		commit, err := repo.CommitObject(hash)
		if err != nil {
			if errors.Is(err, plumbing.ErrObjectNotFound) {
				// Shallow clone boundary
				continue
			}
			return nil, err
		}
		queue = append(queue, commit.ParentHashes...)
	}
	return seen, nil
}
