// Package branch switches the active branch of a connected repository and
// reconciles its index state afterwards.
package branch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/semfind/semfind/internal/backend"
	"github.com/semfind/semfind/internal/registry"
)

// CheckoutResult is the outcome of a completed branch switch
type CheckoutResult struct {
	// Branch is the branch now checked out
	Branch string

	// NeedsIndexing is true when the new branch has never been indexed
	NeedsIndexing bool

	// PendingChanges is set when the new branch has an index that lags the
	// branch head
	PendingChanges *registry.PendingChanges
}

// Switcher performs branch checkouts as a two-phase update: the new branch is
// staged optimistically, confirmed against the backend, and committed only on
// success. A failed checkout leaves the record untouched.
type Switcher struct {
	backend  backend.Client
	registry *registry.Registry
}

// NewSwitcher creates a branch Switcher
func NewSwitcher(client backend.Client, reg *registry.Registry) *Switcher {
	return &Switcher{backend: client, registry: reg}
}

// Checkout switches the repository to the branch and reports what the new
// branch needs: nothing, a fresh index, or a sync of pending changes.
func (s *Switcher) Checkout(ctx context.Context, fullName, branch string) (*CheckoutResult, error) {
	staged, err := s.registry.Stage(ctx, fullName)
	if err != nil {
		return nil, err
	}
	conn := staged.Connection()

	if conn.ActiveBranch == branch {
		staged.Rollback()
		return s.reconcile(ctx, fullName, branch)
	}

	conn.ActiveBranch = branch
	// The annotation described the old branch's divergence; reconcile below
	// re-derives it for the new branch
	conn.PendingChanges = nil
	if err := s.backend.Checkout(ctx, fullName, branch); err != nil {
		staged.Rollback()
		return nil, fmt.Errorf("failed to checkout %s on %s: %w", branch, fullName, err)
	}
	if err := staged.Commit(ctx); err != nil {
		return nil, err
	}

	slog.Info("Branch switched", "repo", fullName, "branch", branch)
	return s.reconcile(ctx, fullName, branch)
}

// Branches lists the remote branches of a connected repository
func (s *Switcher) Branches(ctx context.Context, fullName string) ([]backend.Branch, error) {
	if _, err := s.registry.Get(ctx, fullName); err != nil {
		return nil, err
	}
	return s.backend.ListBranches(ctx, fullName)
}

// IndexedBranches lists the branches of a connected repository that have
// index data
func (s *Switcher) IndexedBranches(ctx context.Context, fullName string) ([]backend.IndexedBranch, error) {
	if _, err := s.registry.Get(ctx, fullName); err != nil {
		return nil, err
	}
	return s.backend.ListIndexedBranches(ctx, fullName)
}

// reconcile inspects the index state of the branch now checked out. Failures
// here do not undo the checkout; they only limit what the result can report.
func (s *Switcher) reconcile(ctx context.Context, fullName, branch string) (*CheckoutResult, error) {
	result := &CheckoutResult{Branch: branch}

	status, err := s.backend.BranchIndexStatus(ctx, fullName, branch)
	if err != nil {
		slog.Warn("Failed to query branch index status after checkout", "repo", fullName, "branch", branch, "error", err)
		return result, nil
	}

	if !status.HasIndex {
		result.NeedsIndexing = true
		return result, nil
	}

	diff, err := s.backend.Diff(ctx, fullName, branch)
	if err != nil {
		slog.Warn("Failed to diff branch after checkout", "repo", fullName, "branch", branch, "error", err)
		return result, nil
	}
	if diff.TotalChanges == 0 {
		// The branch head matches the index; drop any stale annotation
		if _, err := s.registry.UpdateIfChanged(ctx, fullName, func(conn *registry.Connection) bool {
			if conn.PendingChanges == nil {
				return false
			}
			conn.PendingChanges = nil
			return true
		}); err != nil {
			return nil, err
		}
		return result, nil
	}

	pending := &registry.PendingChanges{Count: diff.TotalChanges}
	changed, err := s.registry.UpdateIfChanged(ctx, fullName, func(conn *registry.Connection) bool {
		if conn.Status != registry.StatusIndexed {
			return false
		}
		if conn.PendingChanges != nil && *conn.PendingChanges == *pending {
			return false
		}
		pc := *pending
		conn.PendingChanges = &pc
		return true
	})
	if err != nil {
		return nil, err
	}
	if changed {
		slog.Info("Pending changes recorded after checkout", "repo", fullName, "branch", branch, "count", pending.Count)
	}

	result.PendingChanges = pending
	return result, nil
}
