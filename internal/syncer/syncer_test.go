package syncer_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/backend/backendtest"
	"github.com/semfind/semfind/internal/registry"
	"github.com/semfind/semfind/internal/syncer"
)

func newIndexedRegistry(t *testing.T, fullName string) *registry.Registry {
	t.Helper()
	ctx := context.Background()
	reg, err := registry.New(ctx, registry.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, &registry.Connection{FullName: fullName, ActiveBranch: "main"}))
	require.NoError(t, reg.SetStatus(ctx, fullName, registry.StatusCloned, ""))
	require.NoError(t, reg.SetStatus(ctx, fullName, registry.StatusIndexing, ""))
	require.NoError(t, reg.SetStatus(ctx, fullName, registry.StatusIndexed, ""))
	return reg
}

func annotatePending(t *testing.T, reg *registry.Registry, fullName string, count int) {
	t.Helper()
	_, err := reg.UpdateIfChanged(context.Background(), fullName, func(c *registry.Connection) bool {
		c.PendingChanges = &registry.PendingChanges{Count: count}
		return true
	})
	require.NoError(t, err)
}

func TestSyncClearsPendingChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	var gotBranch string
	fake.SyncFn = func(_ context.Context, _, branch string) (*backend.SyncResult, error) {
		gotBranch = branch
		return &backend.SyncResult{FilesAdded: 1, FilesModified: 2, FilesRemoved: 0, TotalChanges: 3}, nil
	}
	reg := newIndexedRegistry(t, "octocat/hello")
	annotatePending(t, reg, "octocat/hello", 3)

	s := syncer.New(fake, reg, registry.NewBusyTracker())

	result, err := s.Sync(ctx, "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalChanges)
	assert.Equal(t, "main", gotBranch)

	conn, err := reg.Get(ctx, "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusIndexed, conn.Status)
	assert.Nil(t, conn.PendingChanges)
	require.NotNil(t, conn.LastFetchTS)
	assert.WithinDuration(t, time.Now(), *conn.LastFetchTS, time.Minute)
}

func TestSyncRequiresIndexedStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, err := registry.New(ctx, registry.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, &registry.Connection{FullName: "octocat/hello", ActiveBranch: "main"}))
	require.NoError(t, reg.SetStatus(ctx, "octocat/hello", registry.StatusCloned, ""))

	s := syncer.New(backendtest.New(), reg, registry.NewBusyTracker())

	_, err = s.Sync(ctx, "octocat/hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not indexed")
}

func TestSyncBackendFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.SyncFn = func(context.Context, string, string) (*backend.SyncResult, error) {
		return nil, fmt.Errorf("index write conflict")
	}
	reg := newIndexedRegistry(t, "octocat/hello")
	annotatePending(t, reg, "octocat/hello", 2)

	s := syncer.New(fake, reg, registry.NewBusyTracker())

	_, err := s.Sync(ctx, "octocat/hello")
	require.Error(t, err)

	conn, err := reg.Get(ctx, "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusIndexed, conn.Status)
	require.NotNil(t, conn.PendingChanges)
	assert.Equal(t, 2, conn.PendingChanges.Count)
}

func TestSyncRejectsConcurrentSyncOfSameRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	fake.SyncFn = func(context.Context, string, string) (*backend.SyncResult, error) {
		startedOnce.Do(func() { close(started) })
		<-release
		return &backend.SyncResult{}, nil
	}
	reg := newIndexedRegistry(t, "octocat/hello")
	busy := registry.NewBusyTracker()
	s := syncer.New(fake, reg, busy)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Sync(ctx, "octocat/hello")
		errCh <- err
	}()
	<-started

	_, err := s.Sync(ctx, "octocat/hello")
	require.ErrorIs(t, err, registry.ErrBusy)

	// A fetch is a different operation kind and is not blocked
	_, err = s.Fetch(ctx, "octocat/hello")
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-errCh)

	// The flag is released on completion
	_, err = s.Sync(ctx, "octocat/hello")
	require.NoError(t, err)
}

func TestFetchRecordsAheadBehind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	fake.FetchFn = func(context.Context, string) (*backend.FetchResult, error) {
		return &backend.FetchResult{Ahead: 1, Behind: 4, Timestamp: ts}, nil
	}
	reg := newIndexedRegistry(t, "octocat/hello")
	s := syncer.New(fake, reg, registry.NewBusyTracker())

	result, err := s.Fetch(ctx, "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Behind)

	conn, err := reg.Get(ctx, "octocat/hello")
	require.NoError(t, err)
	require.NotNil(t, conn.LastFetchTS)
	assert.True(t, conn.LastFetchTS.Equal(ts))
	require.NotNil(t, conn.PendingChanges)
	assert.Equal(t, 1, conn.PendingChanges.Ahead)
	assert.Equal(t, 4, conn.PendingChanges.Behind)
}

func TestFetchOnNonIndexedRepositoryOnlyStampsTimestamp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.FetchFn = func(context.Context, string) (*backend.FetchResult, error) {
		return &backend.FetchResult{Ahead: 0, Behind: 7, Timestamp: time.Now()}, nil
	}
	reg, err := registry.New(ctx, registry.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, &registry.Connection{FullName: "octocat/hello", ActiveBranch: "main"}))
	require.NoError(t, reg.SetStatus(ctx, "octocat/hello", registry.StatusCloned, ""))

	s := syncer.New(fake, reg, registry.NewBusyTracker())

	_, err = s.Fetch(ctx, "octocat/hello")
	require.NoError(t, err)

	conn, err := reg.Get(ctx, "octocat/hello")
	require.NoError(t, err)
	assert.NotNil(t, conn.LastFetchTS)
	// Pending-change annotations only exist while indexed
	assert.Nil(t, conn.PendingChanges)
}

func TestSyncUnknownRepository(t *testing.T) {
	t.Parallel()
	reg, err := registry.New(context.Background(), registry.NewMemoryStore())
	require.NoError(t, err)
	s := syncer.New(backendtest.New(), reg, registry.NewBusyTracker())

	_, err = s.Sync(context.Background(), "nobody/nothing")
	require.ErrorIs(t, err, registry.ErrNotFound)

	_, err = s.Fetch(context.Background(), "nobody/nothing")
	require.ErrorIs(t, err, registry.ErrNotFound)
}
