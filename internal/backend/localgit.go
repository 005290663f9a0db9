package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/semfind/semfind/internal/gitexec"
)

// TokenSource supplies the credential used for remote git operations.
// Returning an empty token is valid for public repositories.
type TokenSource func(ctx context.Context) (string, error)

// localGitClient executes the pure git-plumbing operations (clone, cancel,
// checkout, fetch) in-process via go-git and delegates every semantic
// operation (auth, catalog, diff, indexing, sync) to the wrapped client.
// This mirrors the original deployment, where git runs on the same machine
// as the controller while embedding stays behind the backend API.
type localGitClient struct {
	Client

	git       gitexec.Client
	reposDir  string
	remoteURL func(fullName string) string
	tokens    TokenSource
}

// LocalGitOption configures the local-git decorator
type LocalGitOption func(*localGitClient)

// WithRemoteURLFunc overrides how repository full names map to remote URLs
func WithRemoteURLFunc(fn func(fullName string) string) LocalGitOption {
	return func(c *localGitClient) {
		c.remoteURL = fn
	}
}

// NewLocalGitClient wraps a backend client so git plumbing runs locally
func NewLocalGitClient(
	remote Client, git gitexec.Client, reposDir string, tokens TokenSource, opts ...LocalGitOption,
) Client {
	c := &localGitClient{
		Client:   remote,
		git:      git,
		reposDir: reposDir,
		remoteURL: func(fullName string) string {
			return fmt.Sprintf("https://github.com/%s.git", fullName)
		},
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LocalClonePath returns the clone directory for a repository full name
func LocalClonePath(reposDir, fullName string) string {
	return filepath.Join(reposDir, strings.ReplaceAll(fullName, "/", "_"))
}

func (c *localGitClient) auth(ctx context.Context) (*gitexec.AuthConfig, error) {
	if c.tokens == nil {
		return nil, nil
	}
	token, err := c.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve git credential: %w", err)
	}
	if token == "" {
		return nil, nil
	}
	return &gitexec.AuthConfig{Password: token}, nil
}

// Clone clones the repository into local storage
func (c *localGitClient) Clone(ctx context.Context, fullName string) (*CloneResult, error) {
	auth, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}

	info, err := c.git.Clone(ctx, &gitexec.CloneConfig{
		URL:  c.remoteURL(fullName),
		Dir:  LocalClonePath(c.reposDir, fullName),
		Auth: auth,
	})
	if err != nil {
		return nil, err
	}
	return &CloneResult{LocalPath: info.Path, DefaultBranch: info.DefaultBranch}, nil
}

// CancelClone removes the partial clone. The clone coordinator has already
// cancelled the clone's context by the time this runs.
func (c *localGitClient) CancelClone(_ context.Context, fullName string) error {
	return c.git.Cleanup(LocalClonePath(c.reposDir, fullName))
}

// Checkout switches the local clone to the branch
func (c *localGitClient) Checkout(ctx context.Context, fullName, branch string) error {
	auth, err := c.auth(ctx)
	if err != nil {
		return err
	}
	return c.git.Checkout(ctx, LocalClonePath(c.reposDir, fullName), branch, auth)
}

// Fetch refreshes remote tracking info for the repository
func (c *localGitClient) Fetch(ctx context.Context, fullName string) (*FetchResult, error) {
	auth, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}
	info, err := c.git.Fetch(ctx, LocalClonePath(c.reposDir, fullName), auth)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Ahead: info.Ahead, Behind: info.Behind, Timestamp: time.Now()}, nil
}
