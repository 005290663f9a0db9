// Package changes periodically compares indexed repositories against their
// branch heads and annotates connections whose index has fallen behind.
package changes

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/registry"
)

const (
	// defaultInterval is the steady scan cadence
	defaultInterval = 5 * time.Minute

	// defaultConcurrency bounds the per-scan fan-out across repositories
	defaultConcurrency = 4
)

// Scheduler runs change-detection scans: one on every cadence tick and one
// immediately whenever the set of indexed repositories changes. Scans are
// idempotent; an unchanged backend answer produces zero registry writes.
type Scheduler struct {
	backend  backend.Client
	registry *registry.Registry

	interval    time.Duration
	concurrency int

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	stopped chan struct{}
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithInterval overrides the scan cadence, used by tests
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithConcurrency overrides the per-scan fan-out bound
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewScheduler creates a Scheduler
func NewScheduler(client backend.Client, reg *registry.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		backend:     client,
		registry:    reg,
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scan loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.stop = cancel
	s.stopped = make(chan struct{})

	go s.loop(loopCtx)
	slog.Info("Change detection started", "interval", s.interval)
}

// Stop halts the scan loop and waits for the in-flight scan to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.stop
	stopped := s.stopped
	s.mu.Unlock()

	cancel()
	<-stopped
	slog.Info("Change detection stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		case <-s.registry.IndexedSetChanges():
			// The indexed set changed; do not make the user wait a full
			// cadence for fresh annotations
			s.Scan(ctx)
			ticker.Reset(s.interval)
		}
	}
}

// Scan diffs every indexed repository against its branch head. Failures are
// isolated per repository and never abort the rest of the scan.
func (s *Scheduler) Scan(ctx context.Context) {
	conns := s.registry.ListByStatus(ctx, registry.StatusIndexed)
	if len(conns) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, conn := range conns {
		g.Go(func() error {
			if err := s.scanOne(gctx, conn); err != nil {
				slog.Warn("Change detection failed for repository", "repo", conn.FullName, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// scanOne diffs one repository and applies the result as a compare-and-set
func (s *Scheduler) scanOne(ctx context.Context, conn *registry.Connection) error {
	diff, err := s.backend.Diff(ctx, conn.FullName, conn.ActiveBranch)
	if err != nil {
		return err
	}

	changed, err := s.registry.UpdateIfChanged(ctx, conn.FullName, func(c *registry.Connection) bool {
		if c.Status != registry.StatusIndexed || c.ActiveBranch != conn.ActiveBranch {
			// The connection moved on while the diff was in flight
			return false
		}
		if diff.TotalChanges == 0 {
			if c.PendingChanges == nil {
				return false
			}
			c.PendingChanges = nil
			return true
		}
		if c.PendingChanges != nil && c.PendingChanges.Count == diff.TotalChanges {
			return false
		}
		if c.PendingChanges == nil {
			c.PendingChanges = &registry.PendingChanges{}
		}
		c.PendingChanges.Count = diff.TotalChanges
		return true
	})
	if err != nil {
		return err
	}
	if changed {
		slog.Info("Pending changes updated", "repo", conn.FullName, "branch", conn.ActiveBranch, "count", diff.TotalChanges)
	}
	return nil
}
