// Package backendtest provides a configurable fake backend client for
// coordinator tests.
package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/semfind/semfind/internal/backend"
)

// Fake implements backend.Client with overridable function fields. Methods
// without an override return zero values. Call counts are tracked per
// operation name.
type Fake struct {
	mu    sync.Mutex
	calls map[string]int

	StartAuthFn           func(ctx context.Context) (*backend.DeviceAuth, error)
	PollAuthFn            func(ctx context.Context, deviceCode string) (*backend.AuthPollResult, error)
	ListCatalogFn         func(ctx context.Context, page int) (*backend.CatalogPage, error)
	CloneFn               func(ctx context.Context, fullName string) (*backend.CloneResult, error)
	CancelCloneFn         func(ctx context.Context, fullName string) error
	CheckoutFn            func(ctx context.Context, fullName, branch string) error
	BranchIndexStatusFn   func(ctx context.Context, fullName, branch string) (*backend.BranchIndexStatus, error)
	DiffFn                func(ctx context.Context, fullName, branch string) (*backend.ChangeSet, error)
	StartIndexFn          func(ctx context.Context, req *backend.IndexRequest) error
	StartLocalIndexFn     func(ctx context.Context, req *backend.LocalIndexRequest) error
	IndexStatusFn         func(ctx context.Context) (*backend.IndexStatusReport, error)
	SyncFn                func(ctx context.Context, fullName, branch string) (*backend.SyncResult, error)
	FetchFn               func(ctx context.Context, fullName string) (*backend.FetchResult, error)
	RetryFn               func(ctx context.Context, fullName string) (*backend.RetryResult, error)
	ListBranchesFn        func(ctx context.Context, fullName string) ([]backend.Branch, error)
	ListIndexedBranchesFn func(ctx context.Context, fullName string) ([]backend.IndexedBranch, error)
}

// New creates an empty Fake
func New() *Fake {
	return &Fake{calls: make(map[string]int)}
}

// Calls returns how many times the named operation was invoked
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

// StartAuth begins the device-flow authorization
func (f *Fake) StartAuth(ctx context.Context) (*backend.DeviceAuth, error) {
	f.record("auth.start")
	if f.StartAuthFn != nil {
		return f.StartAuthFn(ctx)
	}
	return &backend.DeviceAuth{DeviceCode: "device", UserCode: "USER-CODE", VerificationURI: "https://example.com/device"}, nil
}

// PollAuth checks the device-flow status
func (f *Fake) PollAuth(ctx context.Context, deviceCode string) (*backend.AuthPollResult, error) {
	f.record("auth.poll")
	if f.PollAuthFn != nil {
		return f.PollAuthFn(ctx, deviceCode)
	}
	return &backend.AuthPollResult{Status: backend.AuthPending}, nil
}

// ListCatalog enumerates one page of the remote repository listing
func (f *Fake) ListCatalog(ctx context.Context, page int) (*backend.CatalogPage, error) {
	f.record("catalog.list")
	if f.ListCatalogFn != nil {
		return f.ListCatalogFn(ctx, page)
	}
	return &backend.CatalogPage{}, nil
}

// Clone clones the repository into local storage
func (f *Fake) Clone(ctx context.Context, fullName string) (*backend.CloneResult, error) {
	f.record("repo.clone")
	if f.CloneFn != nil {
		return f.CloneFn(ctx, fullName)
	}
	return &backend.CloneResult{LocalPath: "/tmp/" + fullName, DefaultBranch: "main"}, nil
}

// CancelClone aborts the in-flight clone for the repository
func (f *Fake) CancelClone(ctx context.Context, fullName string) error {
	f.record("repo.clone.cancel")
	if f.CancelCloneFn != nil {
		return f.CancelCloneFn(ctx, fullName)
	}
	return nil
}

// Checkout switches the local clone to the branch
func (f *Fake) Checkout(ctx context.Context, fullName, branch string) error {
	f.record("repo.checkout")
	if f.CheckoutFn != nil {
		return f.CheckoutFn(ctx, fullName, branch)
	}
	return nil
}

// BranchIndexStatus reports whether the branch has ever been indexed
func (f *Fake) BranchIndexStatus(ctx context.Context, fullName, branch string) (*backend.BranchIndexStatus, error) {
	f.record("repo.branch.index_status")
	if f.BranchIndexStatusFn != nil {
		return f.BranchIndexStatusFn(ctx, fullName, branch)
	}
	return &backend.BranchIndexStatus{}, nil
}

// Diff computes the changes since the last indexed commit
func (f *Fake) Diff(ctx context.Context, fullName, branch string) (*backend.ChangeSet, error) {
	f.record("repo.diff")
	if f.DiffFn != nil {
		return f.DiffFn(ctx, fullName, branch)
	}
	return &backend.ChangeSet{}, nil
}

// StartIndex begins a repository indexing job
func (f *Fake) StartIndex(ctx context.Context, req *backend.IndexRequest) error {
	f.record("repo.index.start")
	if f.StartIndexFn != nil {
		return f.StartIndexFn(ctx, req)
	}
	return nil
}

// StartLocalIndex begins a local-folder indexing job
func (f *Fake) StartLocalIndex(ctx context.Context, req *backend.LocalIndexRequest) error {
	f.record("index.local.start")
	if f.StartLocalIndexFn != nil {
		return f.StartLocalIndexFn(ctx, req)
	}
	return nil
}

// IndexStatus polls the progress of the running indexing job
func (f *Fake) IndexStatus(ctx context.Context) (*backend.IndexStatusReport, error) {
	f.record("repo.index.status")
	if f.IndexStatusFn != nil {
		return f.IndexStatusFn(ctx)
	}
	return &backend.IndexStatusReport{IsRunning: false, Progress: 100}, nil
}

// Sync applies pending changes to the index
func (f *Fake) Sync(ctx context.Context, fullName, branch string) (*backend.SyncResult, error) {
	f.record("repo.sync")
	if f.SyncFn != nil {
		return f.SyncFn(ctx, fullName, branch)
	}
	return &backend.SyncResult{}, nil
}

// Fetch refreshes remote tracking info for the repository
func (f *Fake) Fetch(ctx context.Context, fullName string) (*backend.FetchResult, error) {
	f.record("repo.fetch")
	if f.FetchFn != nil {
		return f.FetchFn(ctx, fullName)
	}
	return &backend.FetchResult{}, nil
}

// Retry re-evaluates a failed repository
func (f *Fake) Retry(ctx context.Context, fullName string) (*backend.RetryResult, error) {
	f.record("repo.retry")
	if f.RetryFn != nil {
		return f.RetryFn(ctx, fullName)
	}
	return nil, fmt.Errorf("retry not configured for %s", fullName)
}

// ListBranches lists the remote branches of the repository
func (f *Fake) ListBranches(ctx context.Context, fullName string) ([]backend.Branch, error) {
	f.record("repo.branches")
	if f.ListBranchesFn != nil {
		return f.ListBranchesFn(ctx, fullName)
	}
	return nil, nil
}

// ListIndexedBranches lists branches with index data present
func (f *Fake) ListIndexedBranches(ctx context.Context, fullName string) ([]backend.IndexedBranch, error) {
	f.record("repo.branches.indexed")
	if f.ListIndexedBranchesFn != nil {
		return f.ListIndexedBranchesFn(ctx, fullName)
	}
	return nil, nil
}
