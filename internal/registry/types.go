package registry

import "time"

// Status represents the lifecycle state of a connected repository
type Status string

const (
	// StatusCloning means a clone operation is in flight
	StatusCloning Status = "cloning"

	// StatusCloned means the repository is cloned but not yet indexed
	StatusCloned Status = "cloned"

	// StatusIndexing means an indexing job is in flight for this repository
	StatusIndexing Status = "indexing"

	// StatusIndexed means the repository is fully indexed
	StatusIndexed Status = "indexed"

	// StatusCloneFailed means the clone operation failed
	StatusCloneFailed Status = "clone_failed"

	// StatusIndexFailed means the indexing job failed
	StatusIndexFailed Status = "index_failed"
)

// Retryable reports whether the status is a failed state the user can retry out of
func (s Status) Retryable() bool {
	return s == StatusCloneFailed || s == StatusIndexFailed
}

// validTransitions defines the status state machine. Entry into the machine
// (absent -> cloning) is handled by Register; removal is handled by Remove.
var validTransitions = map[Status][]Status{
	StatusCloning:     {StatusCloned, StatusCloneFailed},
	StatusCloned:      {StatusIndexing},
	StatusIndexing:    {StatusIndexed, StatusIndexFailed},
	StatusIndexed:     {StatusIndexing, StatusIndexed},
	StatusCloneFailed: {StatusCloning},
	StatusIndexFailed: {StatusIndexing},
}

// CanTransition reports whether moving from s to target is a legal transition
func (s Status) CanTransition(target Status) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// PendingChanges annotates an indexed repository whose branch head has
// diverged from the last indexed commit
type PendingChanges struct {
	// Count is the total number of changed files
	Count int `json:"count"`

	// Ahead is the number of local commits not on the remote tracking branch
	Ahead int `json:"ahead"`

	// Behind is the number of remote commits not yet pulled
	Behind int `json:"behind"`
}

// Connection is one connected repository record. There is exactly one per
// unique full name, and it is owned by the Registry; coordinators mutate it
// only through Registry methods.
type Connection struct {
	// FullName is the unique repository identifier (owner/name)
	FullName string `json:"full_name"`

	// LocalPath is the clone location on disk
	LocalPath string `json:"local_path"`

	// ActiveBranch is the currently checked out branch
	ActiveBranch string `json:"active_branch"`

	// Modes is the set of chunking modes the repository is indexed in
	Modes []string `json:"modes"`

	// Excludes is the ordered list of glob patterns excluded from indexing
	Excludes []string `json:"excludes"`

	// MaxSizeMB is the per-file size cap applied during indexing
	MaxSizeMB int `json:"max_size_mb"`

	// Status is the current lifecycle state
	Status Status `json:"status"`

	// LastFetchTS is the time remote tracking info was last refreshed
	LastFetchTS *time.Time `json:"last_fetch_ts,omitempty"`

	// PendingChanges is present only while Status is indexed
	PendingChanges *PendingChanges `json:"pending_changes,omitempty"`

	// ErrorMessage carries the failure reason for the failed statuses
	ErrorMessage string `json:"error_message,omitempty"`
}

// Copy returns a deep copy of the connection
func (c *Connection) Copy() *Connection {
	if c == nil {
		return nil
	}
	out := *c
	out.Modes = append([]string(nil), c.Modes...)
	out.Excludes = append([]string(nil), c.Excludes...)
	if c.LastFetchTS != nil {
		ts := *c.LastFetchTS
		out.LastFetchTS = &ts
	}
	if c.PendingChanges != nil {
		pc := *c.PendingChanges
		out.PendingChanges = &pc
	}
	return &out
}
