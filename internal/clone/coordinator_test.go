package clone_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/backend/backendtest"
	"github.com/semfind/semfind/internal/clone"
	"github.com/semfind/semfind/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(context.Background(), registry.NewMemoryStore())
	require.NoError(t, err)
	return reg
}

func entry(fullName string) backend.CatalogEntry {
	return backend.CatalogEntry{FullName: fullName, DefaultBranch: "main"}
}

func waitOp(t *testing.T, op *clone.Operation) error {
	t.Helper()
	select {
	case err := <-op.Done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("clone did not finish")
		return nil
	}
}

func TestConnectClonesAndRecordsConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.CloneFn = func(_ context.Context, fullName string) (*backend.CloneResult, error) {
		return &backend.CloneResult{LocalPath: "/data/repos/octocat_hello", DefaultBranch: "main"}, nil
	}
	reg := newTestRegistry(t)
	coord := clone.NewCoordinator(fake, reg, registry.NewBusyTracker())

	op, err := coord.Connect(ctx, entry("octocat/hello"))
	require.NoError(t, err)
	require.NoError(t, waitOp(t, op))

	conn, err := reg.Get(ctx, "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCloned, conn.Status)
	assert.Equal(t, "/data/repos/octocat_hello", conn.LocalPath)
	assert.Equal(t, "main", conn.ActiveBranch)
	assert.Equal(t, []string{clone.DefaultMode}, conn.Modes)
	assert.Equal(t, clone.DefaultMaxSizeMB, conn.MaxSizeMB)
	assert.Contains(t, conn.Excludes, "node_modules/")
}

func TestConnectFailureEntersCloneFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.CloneFn = func(context.Context, string) (*backend.CloneResult, error) {
		return nil, fmt.Errorf("remote hung up")
	}
	reg := newTestRegistry(t)
	coord := clone.NewCoordinator(fake, reg, registry.NewBusyTracker())

	op, err := coord.Connect(ctx, entry("octocat/hello"))
	require.NoError(t, err)
	require.Error(t, waitOp(t, op))

	conn, err := reg.Get(ctx, "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCloneFailed, conn.Status)
	assert.Contains(t, conn.ErrorMessage, "remote hung up")
}

func TestConnectRejectsAlreadyConnected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	reg := newTestRegistry(t)
	coord := clone.NewCoordinator(fake, reg, registry.NewBusyTracker())

	op, err := coord.Connect(ctx, entry("octocat/hello"))
	require.NoError(t, err)
	require.NoError(t, waitOp(t, op))

	_, err = coord.Connect(ctx, entry("octocat/hello"))
	require.ErrorIs(t, err, registry.ErrAlreadyConnected)
}

func TestCancelRemovesConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	started := make(chan struct{}, 2)
	fake.CloneFn = func(cloneCtx context.Context, _ string) (*backend.CloneResult, error) {
		started <- struct{}{}
		<-cloneCtx.Done()
		return nil, cloneCtx.Err()
	}
	reg := newTestRegistry(t)
	coord := clone.NewCoordinator(fake, reg, registry.NewBusyTracker())

	op, err := coord.Connect(ctx, entry("octocat/hello"))
	require.NoError(t, err)
	<-started

	require.NoError(t, coord.Cancel(ctx, "octocat/hello"))
	require.ErrorIs(t, waitOp(t, op), context.Canceled)

	// Cancellation leaves no record, unlike a failure
	_, err = reg.Get(ctx, "octocat/hello")
	require.ErrorIs(t, err, registry.ErrNotFound)
	assert.Equal(t, 1, fake.Calls("repo.clone.cancel"))
	assert.True(t, coord.WasCancelled("octocat/hello"))

	// The repository can be connected again afterwards
	op, err = coord.Connect(ctx, entry("octocat/hello"))
	require.NoError(t, err)
	<-started
	require.NoError(t, coord.Cancel(ctx, "octocat/hello"))
	require.ErrorIs(t, waitOp(t, op), context.Canceled)
}

func TestCancelWithoutCloneInFlight(t *testing.T) {
	t.Parallel()
	coord := clone.NewCoordinator(backendtest.New(), newTestRegistry(t), registry.NewBusyTracker())

	err := coord.Cancel(context.Background(), "octocat/hello")
	require.ErrorIs(t, err, clone.ErrNotCloning)
}

func TestRetryReclonesFailedConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	attempts := 0
	fake.CloneFn = func(_ context.Context, fullName string) (*backend.CloneResult, error) {
		attempts++
		if attempts == 1 {
			return nil, fmt.Errorf("transient failure")
		}
		return &backend.CloneResult{LocalPath: "/data/repos/octocat_hello", DefaultBranch: "main"}, nil
	}
	reg := newTestRegistry(t)
	coord := clone.NewCoordinator(fake, reg, registry.NewBusyTracker())

	op, err := coord.Connect(ctx, entry("octocat/hello"))
	require.NoError(t, err)
	require.Error(t, waitOp(t, op))

	op, err = coord.Retry(ctx, "octocat/hello")
	require.NoError(t, err)
	require.NoError(t, waitOp(t, op))

	conn, err := reg.Get(ctx, "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCloned, conn.Status)
	assert.Empty(t, conn.ErrorMessage)
}

func TestConcurrentCloneOfSameRepositoryRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	started := make(chan struct{})
	release := make(chan struct{})
	fake.CloneFn = func(context.Context, string) (*backend.CloneResult, error) {
		close(started)
		<-release
		return &backend.CloneResult{LocalPath: "/tmp/x"}, nil
	}
	reg := newTestRegistry(t)
	coord := clone.NewCoordinator(fake, reg, registry.NewBusyTracker())

	op, err := coord.Connect(ctx, entry("octocat/hello"))
	require.NoError(t, err)
	<-started

	// The record exists in cloning, so a second connect is rejected before
	// the busy flag is even consulted
	_, err = coord.Connect(ctx, entry("octocat/hello"))
	require.ErrorIs(t, err, registry.ErrAlreadyConnected)

	assert.Equal(t, []string{"octocat/hello"}, coord.Cloning())

	close(release)
	require.NoError(t, waitOp(t, op))
}

func TestMaxConcurrentCapsParallelClones(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()

	running := make(chan string, 4)
	release := make(chan struct{})
	fake.CloneFn = func(_ context.Context, fullName string) (*backend.CloneResult, error) {
		running <- fullName
		<-release
		return &backend.CloneResult{LocalPath: "/tmp/" + fullName}, nil
	}
	reg := newTestRegistry(t)
	coord := clone.NewCoordinator(fake, reg, registry.NewBusyTracker(), clone.WithMaxConcurrent(1))

	opA, err := coord.Connect(ctx, entry("octocat/a"))
	require.NoError(t, err)
	opB, err := coord.Connect(ctx, entry("octocat/b"))
	require.NoError(t, err)

	// Only one clone reaches the backend while the cap is held
	first := <-running
	select {
	case second := <-running:
		t.Fatalf("second clone %s started despite cap", second)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, waitOp(t, opA))
	require.NoError(t, waitOp(t, opB))

	second := <-running
	assert.NotEqual(t, first, second)
}
