// Package syncer applies pending change sets to the index and refreshes
// remote tracking info for connected repositories.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/registry"
)

// Syncer runs sync and fetch operations. Each is guarded by a per-repository
// busy flag, so concurrent requests for the same repository fail fast instead
// of piling up.
type Syncer struct {
	backend  backend.Client
	registry *registry.Registry
	busy     *registry.BusyTracker
}

// New creates a Syncer
func New(client backend.Client, reg *registry.Registry, busy *registry.BusyTracker) *Syncer {
	return &Syncer{backend: client, registry: reg, busy: busy}
}

// Sync applies the repository's pending changes to the index. On success the
// pending annotation is cleared and the fetch timestamp refreshed; the
// connection stays indexed throughout.
func (s *Syncer) Sync(ctx context.Context, fullName string) (*backend.SyncResult, error) {
	release, err := s.busy.Acquire(registry.OpSync, fullName)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := s.registry.Get(ctx, fullName)
	if err != nil {
		return nil, err
	}
	if conn.Status != registry.StatusIndexed {
		return nil, fmt.Errorf("repository %s is not indexed (status %s)", fullName, conn.Status)
	}

	result, err := s.backend.Sync(ctx, fullName, conn.ActiveBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to sync %s: %w", fullName, err)
	}

	// Re-entering indexed clears pending changes and stamps the fetch time
	if err := s.registry.SetStatus(ctx, fullName, registry.StatusIndexed, ""); err != nil {
		return nil, err
	}

	slog.Info("Sync completed", "repo", fullName, "branch", conn.ActiveBranch, "changes", result.TotalChanges)
	return result, nil
}

// Fetch refreshes remote tracking info for the repository and records the
// ahead/behind counts on its pending-change annotation.
func (s *Syncer) Fetch(ctx context.Context, fullName string) (*backend.FetchResult, error) {
	release, err := s.busy.Acquire(registry.OpFetch, fullName)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.registry.Get(ctx, fullName); err != nil {
		return nil, err
	}

	result, err := s.backend.Fetch(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", fullName, err)
	}

	err = s.registry.Update(ctx, fullName, func(conn *registry.Connection) error {
		ts := result.Timestamp
		conn.LastFetchTS = &ts
		if conn.Status != registry.StatusIndexed {
			return nil
		}
		if result.Ahead == 0 && result.Behind == 0 {
			if conn.PendingChanges != nil {
				conn.PendingChanges.Ahead = 0
				conn.PendingChanges.Behind = 0
			}
			return nil
		}
		if conn.PendingChanges == nil {
			conn.PendingChanges = &registry.PendingChanges{}
		}
		conn.PendingChanges.Ahead = result.Ahead
		conn.PendingChanges.Behind = result.Behind
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Fetch completed", "repo", fullName, "ahead", result.Ahead, "behind", result.Behind)
	return result, nil
}
