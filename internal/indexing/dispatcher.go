// Package indexing dispatches indexing jobs to the backend and tracks their
// progress. The backend indexes one thing at a time, so the dispatcher owns a
// single process-wide job slot.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/registry"
)

const (
	// defaultPollInterval is the cadence of progress polls against the backend
	defaultPollInterval = 1 * time.Second

	// defaultTimeout bounds how long a job may run before it is declared failed
	defaultTimeout = 5 * time.Minute
)

// ErrAlreadyIndexing is returned when a job is started while the slot is held
var ErrAlreadyIndexing = fmt.Errorf("an indexing job is already running")

// JobKind distinguishes repository jobs from local-folder jobs
type JobKind string

const (
	// KindRepository indexes a connected repository
	KindRepository JobKind = "repository"

	// KindLocal indexes ad-hoc local folders
	KindLocal JobKind = "local"
)

// Progress is a snapshot of the running job, if any
type Progress struct {
	JobID    string
	Kind     JobKind
	FullName string
	Branch   string

	// Report is the latest backend status, nil before the first poll
	Report *backend.IndexStatusReport

	StartedAt time.Time
}

// Job is a handle on one dispatched indexing job
type Job struct {
	ID string

	// Done receives exactly one value: nil on success, the failure otherwise
	Done <-chan error
}

// Dispatcher starts indexing jobs and polls them to completion. Exactly one
// job runs at a time; contention surfaces as ErrAlreadyIndexing, never as
// silent queueing.
type Dispatcher struct {
	backend  backend.Client
	registry *registry.Registry

	pollInterval time.Duration
	timeout      time.Duration
	nowFn        func() time.Time

	mu      sync.Mutex
	current *Progress
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithPollInterval overrides the progress poll cadence, used by tests
func WithPollInterval(d time.Duration) Option {
	return func(dp *Dispatcher) {
		dp.pollInterval = d
	}
}

// WithTimeout overrides the job timeout, used by tests
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		dp.timeout = d
	}
}

// WithNowFunc overrides the clock, used by tests
func WithNowFunc(fn func() time.Time) Option {
	return func(dp *Dispatcher) {
		dp.nowFn = fn
	}
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(client backend.Client, reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:      client,
		registry:     reg,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
		nowFn:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Progress returns a copy of the running job's progress, or nil when idle
func (d *Dispatcher) Progress() *Progress {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return nil
	}
	out := *d.current
	if d.current.Report != nil {
		rep := *d.current.Report
		out.Report = &rep
	}
	return &out
}

// Start dispatches an indexing job for a connected repository. The connection
// enters indexing; completion moves it to indexed or index_failed.
func (d *Dispatcher) Start(ctx context.Context, fullName string) (*Job, error) {
	conn, err := d.registry.Get(ctx, fullName)
	if err != nil {
		return nil, err
	}

	prog, err := d.acquire(KindRepository, fullName, conn.ActiveBranch)
	if err != nil {
		return nil, err
	}

	if err := d.registry.SetStatus(ctx, fullName, registry.StatusIndexing, ""); err != nil {
		d.release(prog)
		return nil, err
	}

	req := &backend.IndexRequest{
		FullName:  fullName,
		Branch:    conn.ActiveBranch,
		Mode:      firstMode(conn.Modes),
		Excludes:  conn.Excludes,
		MaxSizeMB: conn.MaxSizeMB,
	}
	if err := d.backend.StartIndex(ctx, req); err != nil {
		d.release(prog)
		if stErr := d.registry.SetStatus(ctx, fullName, registry.StatusIndexFailed, err.Error()); stErr != nil {
			slog.Error("Failed to record indexing failure", "repo", fullName, "error", stErr)
		}
		return nil, fmt.Errorf("failed to start indexing for %s: %w", fullName, err)
	}

	done := make(chan error, 1)
	go d.watch(context.WithoutCancel(ctx), prog, done)

	slog.Info("Indexing started", "repo", fullName, "branch", conn.ActiveBranch, "job_id", prog.JobID)
	return &Job{ID: prog.JobID, Done: done}, nil
}

// StartLocal dispatches an indexing job for ad-hoc local folders. It holds
// the same slot as repository jobs but touches no connection record.
func (d *Dispatcher) StartLocal(ctx context.Context, req *backend.LocalIndexRequest) (*Job, error) {
	prog, err := d.acquire(KindLocal, "", "")
	if err != nil {
		return nil, err
	}

	if err := d.backend.StartLocalIndex(ctx, req); err != nil {
		d.release(prog)
		return nil, fmt.Errorf("failed to start local indexing: %w", err)
	}

	done := make(chan error, 1)
	go d.watch(context.WithoutCancel(ctx), prog, done)

	slog.Info("Local indexing started", "folders", len(req.Folders), "job_id", prog.JobID)
	return &Job{ID: prog.JobID, Done: done}, nil
}

// acquire takes the single job slot or fails with ErrAlreadyIndexing
func (d *Dispatcher) acquire(kind JobKind, fullName, branch string) (*Progress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil {
		return nil, fmt.Errorf("%w (job %s)", ErrAlreadyIndexing, d.current.JobID)
	}
	prog := &Progress{
		JobID:     uuid.NewString(),
		Kind:      kind,
		FullName:  fullName,
		Branch:    branch,
		StartedAt: d.nowFn(),
	}
	d.current = prog
	return prog, nil
}

// release frees the job slot. Safe to call regardless of outcome; the slot is
// always returned, even after timeouts.
func (d *Dispatcher) release(prog *Progress) {
	d.mu.Lock()
	if d.current == prog {
		d.current = nil
	}
	d.mu.Unlock()
}

// watch polls the backend until the job stops running or times out
func (d *Dispatcher) watch(ctx context.Context, prog *Progress, done chan<- error) {
	defer d.release(prog)

	deadline := prog.StartedAt.Add(d.timeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.finish(ctx, prog, done, ctx.Err())
			return
		case <-ticker.C:
		}

		if d.nowFn().After(deadline) {
			d.finish(ctx, prog, done, fmt.Errorf("indexing timed out after %s", d.timeout))
			return
		}

		report, err := d.backend.IndexStatus(ctx)
		if err != nil {
			slog.Warn("Indexing status poll failed", "job_id", prog.JobID, "error", err)
			continue
		}

		d.mu.Lock()
		prog.Report = report
		d.mu.Unlock()

		if !report.IsRunning {
			d.finish(ctx, prog, done, failureFromReport(report))
			return
		}
	}
}

// finish records the terminal outcome on the connection, if any, and delivers
// it to the job handle
func (d *Dispatcher) finish(ctx context.Context, prog *Progress, done chan<- error, jobErr error) {
	if prog.Kind == KindRepository {
		target := registry.StatusIndexed
		errMsg := ""
		if jobErr != nil {
			target = registry.StatusIndexFailed
			errMsg = jobErr.Error()
		}
		if err := d.registry.SetStatus(ctx, prog.FullName, target, errMsg); err != nil {
			slog.Error("Failed to record indexing outcome", "repo", prog.FullName, "error", err)
			if jobErr == nil {
				jobErr = err
			}
		}
	}

	if jobErr != nil {
		slog.Error("Indexing failed", "job_id", prog.JobID, "error", jobErr)
	} else {
		slog.Info("Indexing completed", "job_id", prog.JobID, "repo", prog.FullName)
	}
	done <- jobErr
}

// failureFromReport interprets a final status report. The backend has no
// dedicated failure flag; a failed job stops with its failure message in the
// report.
func failureFromReport(report *backend.IndexStatusReport) error {
	if strings.HasPrefix(strings.ToLower(report.Message), "indexing failed") {
		return errors.New(report.Message)
	}
	return nil
}

func firstMode(modes []string) string {
	if len(modes) > 0 {
		return modes[0]
	}
	return "gist"
}
