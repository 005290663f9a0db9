// Package backend is the client of the semantic-index backend API. The
// subsystem never serves requests itself; every long-running operation is
// driven through this interface plus the coordinators' polling loops.
package backend

import (
	"context"
	"time"
)

// AuthPollStatus is the outcome of one device-flow poll
type AuthPollStatus string

const (
	// AuthAuthorized means the user completed authorization and a durable
	// credential was stored
	AuthAuthorized AuthPollStatus = "authorized"

	// AuthPending means the user has not completed authorization yet
	AuthPending AuthPollStatus = "pending"

	// AuthSlowDown means the provider asked for a slower poll cadence
	AuthSlowDown AuthPollStatus = "slow_down"

	// AuthExpiredOrDenied means the flow is over without a credential
	AuthExpiredOrDenied AuthPollStatus = "expired_or_denied"
)

// DeviceAuth is the device-flow challenge returned by auth.start
type DeviceAuth struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// AuthPollResult is the answer to one auth.poll call. Token is set only
// when Status is AuthAuthorized.
type AuthPollResult struct {
	Status  AuthPollStatus
	Token   string
	Message string
}

// CatalogEntry is one enumerable remote repository
type CatalogEntry struct {
	ID            int64     `json:"id"`
	FullName      string    `json:"full_name"`
	Name          string    `json:"name"`
	Owner         string    `json:"owner_login"`
	Private       bool      `json:"private"`
	Archived      bool      `json:"archived"`
	DefaultBranch string    `json:"default_branch"`
	UpdatedAt     time.Time `json:"updated_at"`
	Description   string    `json:"description,omitempty"`
}

// CatalogPage is one page of the remote repository listing
type CatalogPage struct {
	Entries    []CatalogEntry `json:"repos"`
	HasMore    bool           `json:"has_more"`
	TotalCount int            `json:"total_count"`
}

// CloneResult is the outcome of a successful clone
type CloneResult struct {
	LocalPath     string `json:"local_path"`
	DefaultBranch string `json:"default_branch"`
}

// BranchIndexStatus answers whether a branch was ever indexed
type BranchIndexStatus struct {
	HasIndex          bool           `json:"has_index"`
	ChunkCounts       map[string]int `json:"chunk_counts"`
	TotalChunks       int            `json:"total_chunks"`
	LastIndexedCommit string         `json:"last_indexed_commit,omitempty"`
}

// ChangeSet is the diff between the last indexed commit and the branch head.
// Derived on demand; never persisted by this subsystem.
type ChangeSet struct {
	Added        []string `json:"added"`
	Modified     []string `json:"modified"`
	Removed      []string `json:"removed"`
	TotalChanges int      `json:"total_changes"`
}

// IndexRequest starts a repository indexing job
type IndexRequest struct {
	FullName  string   `json:"full_name"`
	Branch    string   `json:"branch"`
	Mode      string   `json:"mode"`
	Excludes  []string `json:"excludes"`
	MaxSizeMB int      `json:"max_size_mb"`
}

// LocalIndexRequest starts a local-folder indexing job
type LocalIndexRequest struct {
	Folders   []string `json:"folders"`
	Mode      string   `json:"mode"`
	Excludes  []string `json:"excludes"`
	MaxSizeMB int      `json:"max_size_mb"`
}

// IndexStatusReport is one snapshot of the backend indexing job
type IndexStatusReport struct {
	IsRunning   bool    `json:"is_running"`
	Progress    float64 `json:"progress"`
	TotalFiles  int     `json:"total_files"`
	CurrentFile string  `json:"current_file"`
	Message     string  `json:"message"`
}

// SyncResult is the outcome of applying a pending change set to the index
type SyncResult struct {
	FilesAdded    int `json:"files_added"`
	FilesModified int `json:"files_modified"`
	FilesRemoved  int `json:"files_removed"`
	TotalChanges  int `json:"total_changes"`
}

// FetchResult is the outcome of refreshing remote tracking info
type FetchResult struct {
	Ahead     int       `json:"ahead"`
	Behind    int       `json:"behind"`
	Timestamp time.Time `json:"timestamp"`
}

// RepoSnapshot is the backend's view of a connected repository, returned by
// the retry re-evaluation
type RepoSnapshot struct {
	FullName     string `json:"full_name"`
	Status       string `json:"status"`
	ActiveBranch string `json:"active_branch"`
	LocalPath    string `json:"local_path"`
}

// RetryResult is the authoritative answer to whether a failed repository
// still needs indexing
type RetryResult struct {
	NeedsIndexing bool          `json:"needs_indexing"`
	Repo          *RepoSnapshot `json:"repo,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// Branch is one remote branch of a repository
type Branch struct {
	Name             string `json:"name"`
	CommitSHA        string `json:"commit_sha"`
	Protected        bool   `json:"protected"`
	AvailableLocally bool   `json:"available_locally"`
}

// IndexedBranch is one branch with index data present
type IndexedBranch struct {
	Name        string `json:"name"`
	TotalChunks int    `json:"total_chunks"`
	FileCount   int    `json:"file_count"`
	LastIndexed int64  `json:"last_indexed"`
}

// Client is the backend request/response API consumed by the coordinators
type Client interface {
	// StartAuth begins the device-flow authorization
	StartAuth(ctx context.Context) (*DeviceAuth, error)

	// PollAuth checks the device-flow status
	PollAuth(ctx context.Context, deviceCode string) (*AuthPollResult, error)

	// ListCatalog enumerates one page of the remote repository listing
	ListCatalog(ctx context.Context, page int) (*CatalogPage, error)

	// Clone clones the repository into local storage
	Clone(ctx context.Context, fullName string) (*CloneResult, error)

	// CancelClone aborts the in-flight clone for the repository
	CancelClone(ctx context.Context, fullName string) error

	// Checkout switches the local clone to the branch
	Checkout(ctx context.Context, fullName, branch string) error

	// BranchIndexStatus reports whether the branch has ever been indexed
	BranchIndexStatus(ctx context.Context, fullName, branch string) (*BranchIndexStatus, error)

	// Diff computes the changes since the last indexed commit
	Diff(ctx context.Context, fullName, branch string) (*ChangeSet, error)

	// StartIndex begins a repository indexing job
	StartIndex(ctx context.Context, req *IndexRequest) error

	// StartLocalIndex begins a local-folder indexing job
	StartLocalIndex(ctx context.Context, req *LocalIndexRequest) error

	// IndexStatus polls the progress of the running indexing job
	IndexStatus(ctx context.Context) (*IndexStatusReport, error)

	// Sync applies pending changes to the index
	Sync(ctx context.Context, fullName, branch string) (*SyncResult, error)

	// Fetch refreshes remote tracking info for the repository
	Fetch(ctx context.Context, fullName string) (*FetchResult, error)

	// Retry re-evaluates a failed repository
	Retry(ctx context.Context, fullName string) (*RetryResult, error)

	// ListBranches lists the remote branches of the repository
	ListBranches(ctx context.Context, fullName string) ([]Branch, error)

	// ListIndexedBranches lists branches with index data present
	ListIndexedBranches(ctx context.Context, fullName string) ([]IndexedBranch, error)
}
