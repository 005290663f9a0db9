package catalog_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/backend/backendtest"
	"github.com/semfind/semfind/internal/catalog"
)

// pagedCatalog serves entries in pages of the given size
func pagedCatalog(total, pageSize int) func(ctx context.Context, page int) (*backend.CatalogPage, error) {
	return func(_ context.Context, page int) (*backend.CatalogPage, error) {
		start := (page - 1) * pageSize
		end := start + pageSize
		if end > total {
			end = total
		}
		if start >= total {
			return &backend.CatalogPage{TotalCount: total}, nil
		}
		entries := make([]backend.CatalogEntry, 0, end-start)
		for i := start; i < end; i++ {
			entries = append(entries, backend.CatalogEntry{
				ID:            int64(i + 1),
				FullName:      fmt.Sprintf("octocat/repo-%02d", i),
				DefaultBranch: "main",
			})
		}
		return &backend.CatalogPage{Entries: entries, HasMore: end < total, TotalCount: total}, nil
	}
}

func TestRefreshEnumeratesAllPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.ListCatalogFn = pagedCatalog(45, 30)

	cache := catalog.New(ctx, fake, nil)

	snap, err := cache.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Len(t, snap.Entries, 45)
	assert.Equal(t, 45, snap.TotalCount)
	assert.Equal(t, 2, fake.Calls("catalog.list"))
	assert.Equal(t, "octocat/repo-00", snap.Entries[0].FullName)
	assert.Equal(t, "octocat/repo-44", snap.Entries[44].FullName)
}

func TestGetHonorsTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.ListCatalogFn = pagedCatalog(3, 30)

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	cache := catalog.New(ctx, fake, nil,
		catalog.WithTTL(2*time.Hour),
		catalog.WithNowFunc(func() time.Time { return now }))

	_, err := cache.Refresh(ctx, false)
	require.NoError(t, err)

	snap, ok := cache.Get(ctx)
	require.True(t, ok)
	assert.Len(t, snap.Entries, 3)

	// One second short of the TTL the snapshot is still served
	now = now.Add(2*time.Hour - time.Second)
	_, ok = cache.Get(ctx)
	assert.True(t, ok)

	// At the TTL it expires
	now = now.Add(time.Second)
	_, ok = cache.Get(ctx)
	assert.False(t, ok)
}

func TestRefreshReturnsCachedSnapshotUnlessForced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.ListCatalogFn = pagedCatalog(3, 30)

	cache := catalog.New(ctx, fake, nil)

	_, err := cache.Refresh(ctx, false)
	require.NoError(t, err)
	_, err = cache.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("catalog.list"), "valid snapshot should not re-enumerate")

	_, err = cache.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("catalog.list"), "force should re-enumerate")
}

func TestGetReturnsDetachedCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.ListCatalogFn = pagedCatalog(3, 30)

	cache := catalog.New(ctx, fake, nil)
	_, err := cache.Refresh(ctx, false)
	require.NoError(t, err)

	snap, ok := cache.Get(ctx)
	require.True(t, ok)
	snap.Entries[0].FullName = "mutated/elsewhere"
	snap.TotalCount = 999

	fresh, ok := cache.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "octocat/repo-00", fresh.Entries[0].FullName)
	assert.Equal(t, 3, fresh.TotalCount)
}

func TestInvalidateDropsSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.ListCatalogFn = pagedCatalog(3, 30)

	cache := catalog.New(ctx, fake, nil)
	_, err := cache.Refresh(ctx, false)
	require.NoError(t, err)

	cache.Invalidate()

	_, ok := cache.Get(ctx)
	assert.False(t, ok)
}

func TestRefreshErrorLeavesNoSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := backendtest.New()
	fake.ListCatalogFn = func(context.Context, int) (*backend.CatalogPage, error) {
		return nil, fmt.Errorf("unauthorized")
	}

	cache := catalog.New(ctx, fake, nil)

	_, err := cache.Refresh(ctx, false)
	require.Error(t, err)

	_, ok := cache.Get(ctx)
	assert.False(t, ok)
}

func TestFileStoreLoadOnFreshInstall(t *testing.T) {
	t.Parallel()

	// The data dir does not exist yet on first run
	dir := filepath.Join(t.TempDir(), "semfind", "data")
	store := catalog.NewFileStore(dir)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSnapshotPersistsAcrossInstances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	fake := backendtest.New()
	fake.ListCatalogFn = pagedCatalog(5, 30)

	first := catalog.New(ctx, fake, catalog.NewFileStore(dir))
	_, err := first.Refresh(ctx, false)
	require.NoError(t, err)

	// A fresh instance with an erroring backend still serves the persisted
	// snapshot
	broken := backendtest.New()
	broken.ListCatalogFn = func(context.Context, int) (*backend.CatalogPage, error) {
		return nil, fmt.Errorf("backend down")
	}
	second := catalog.New(ctx, broken, catalog.NewFileStore(dir))

	snap, ok := second.Get(ctx)
	require.True(t, ok)
	assert.Len(t, snap.Entries, 5)
	assert.Equal(t, 0, broken.Calls("catalog.list"))
}
