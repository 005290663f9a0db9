// Package clone drives cancellable clone operations and owns the
// cloning -> cloned / clone_failed transitions.
package clone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/registry"
)

// DefaultExcludes is the stock exclusion list applied to new connections
var DefaultExcludes = []string{
	"node_modules/", ".git/", ".DS_Store", "*.log", "dist/", "build/", "target/", ".next/",
}

// DefaultMaxSizeMB is the per-file size cap applied to new connections
const DefaultMaxSizeMB = 10

// DefaultMode is the chunking mode applied to new connections
const DefaultMode = "gist"

// ErrNotCloning is returned when cancelling a repository with no clone in
// flight
var ErrNotCloning = fmt.Errorf("no clone in progress for repository")

// Operation is a handle on one in-flight clone
type Operation struct {
	FullName string

	// Done receives exactly one value: nil on success, the failure
	// otherwise. A cancelled clone delivers context.Canceled.
	Done <-chan error
}

// Coordinator runs clone operations. Clones for different repositories are
// independent; an optional semaphore caps how many run at once.
type Coordinator struct {
	backend  backend.Client
	registry *registry.Registry
	busy     *registry.BusyTracker
	sem      *semaphore.Weighted

	mu        sync.Mutex
	inflight  map[string]context.CancelFunc
	cancelled map[string]time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithMaxConcurrent caps simultaneous clones; zero leaves them unlimited
func WithMaxConcurrent(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewCoordinator creates a clone Coordinator
func NewCoordinator(client backend.Client, reg *registry.Registry, busy *registry.BusyTracker, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:   client,
		registry:  reg,
		busy:      busy,
		inflight:  make(map[string]context.CancelFunc),
		cancelled: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect registers a catalog entry as a new connection and starts its
// clone. The connection enters cloning with the default indexing settings.
func (c *Coordinator) Connect(ctx context.Context, entry backend.CatalogEntry) (*Operation, error) {
	conn := &registry.Connection{
		FullName:     entry.FullName,
		ActiveBranch: entry.DefaultBranch,
		Modes:        []string{DefaultMode},
		Excludes:     append([]string(nil), DefaultExcludes...),
		MaxSizeMB:    DefaultMaxSizeMB,
	}
	if err := c.registry.Register(ctx, conn); err != nil {
		return nil, err
	}
	return c.start(ctx, entry.FullName)
}

// Retry re-enters cloning for a clone_failed connection
func (c *Coordinator) Retry(ctx context.Context, fullName string) (*Operation, error) {
	if err := c.registry.SetStatus(ctx, fullName, registry.StatusCloning, ""); err != nil {
		return nil, err
	}
	return c.start(ctx, fullName)
}

// Cancel aborts the in-flight clone. The connection record is removed: a
// cancelled clone leaves no trace, as opposed to clone_failed.
func (c *Coordinator) Cancel(ctx context.Context, fullName string) error {
	c.mu.Lock()
	cancel, ok := c.inflight[fullName]
	if ok {
		delete(c.inflight, fullName)
		c.cancelled[fullName] = time.Now()
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotCloning, fullName)
	}

	cancel()
	if err := c.backend.CancelClone(ctx, fullName); err != nil {
		slog.Warn("Backend clone abort failed", "repo", fullName, "error", err)
	}
	if err := c.registry.Remove(ctx, fullName); err != nil && !errors.Is(err, registry.ErrNotFound) {
		return err
	}
	slog.Info("Clone cancelled", "repo", fullName)
	return nil
}

// Cloning returns the repositories with a clone currently in flight
func (c *Coordinator) Cloning() []string {
	return c.busy.BusyRepos(registry.OpClone)
}

// WasCancelled reports whether the repository's last clone was cancelled by
// the user rather than completed
func (c *Coordinator) WasCancelled(fullName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cancelled[fullName]
	return ok
}

// start acquires the per-repository busy flag and launches the clone
// goroutine
func (c *Coordinator) start(ctx context.Context, fullName string) (*Operation, error) {
	release, err := c.busy.Acquire(registry.OpClone, fullName)
	if err != nil {
		return nil, err
	}

	cloneCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.inflight[fullName] = cancel
	delete(c.cancelled, fullName)
	c.mu.Unlock()

	done := make(chan error, 1)
	go c.run(cloneCtx, fullName, release, done)

	return &Operation{FullName: fullName, Done: done}, nil
}

func (c *Coordinator) run(ctx context.Context, fullName string, release func(), done chan<- error) {
	defer release()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, fullName)
		c.mu.Unlock()
	}()

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			done <- err
			return
		}
		defer c.sem.Release(1)
	}

	slog.Info("Clone started", "repo", fullName)
	result, err := c.backend.Clone(ctx, fullName)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled; the record was already removed by Cancel
			done <- context.Canceled
			return
		}
		slog.Error("Clone failed", "repo", fullName, "error", err)
		if stErr := c.registry.SetStatus(context.WithoutCancel(ctx), fullName, registry.StatusCloneFailed, err.Error()); stErr != nil {
			slog.Error("Failed to record clone failure", "repo", fullName, "error", stErr)
		}
		done <- err
		return
	}

	err = c.registry.Update(ctx, fullName, func(conn *registry.Connection) error {
		if !conn.Status.CanTransition(registry.StatusCloned) {
			return &registry.InvalidTransitionError{FullName: fullName, From: conn.Status, To: registry.StatusCloned}
		}
		conn.Status = registry.StatusCloned
		conn.LocalPath = result.LocalPath
		if result.DefaultBranch != "" {
			conn.ActiveBranch = result.DefaultBranch
		}
		conn.ErrorMessage = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			// Cancelled between clone completion and the status write
			done <- context.Canceled
			return
		}
		done <- err
		return
	}

	slog.Info("Clone completed", "repo", fullName, "path", result.LocalPath)
	done <- nil
}
