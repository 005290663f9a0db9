package registry

import (
	"fmt"
	"sync"
)

// OpKind identifies an operation kind guarded by a per-repository busy flag
type OpKind string

const (
	// OpClone guards clone operations
	OpClone OpKind = "clone"

	// OpSync guards sync operations
	OpSync OpKind = "sync"

	// OpFetch guards fetch operations
	OpFetch OpKind = "fetch"
)

// ErrBusy is returned when an operation of the same kind is already in
// flight for the repository
var ErrBusy = fmt.Errorf("operation already in progress for repository")

type opKey struct {
	kind     OpKind
	fullName string
}

// BusyTracker is a set of per-repository busy flags. A flag is acquired at
// operation start and released through the returned func on every exit path,
// so a second call of the same kind for the same repository is rejected
// rather than queued.
type BusyTracker struct {
	mu  sync.Mutex
	ops map[opKey]struct{}
}

// NewBusyTracker creates an empty BusyTracker
func NewBusyTracker() *BusyTracker {
	return &BusyTracker{ops: make(map[opKey]struct{})}
}

// Acquire marks the (kind, repository) pair busy and returns the release
// func. Returns ErrBusy if the pair is already marked.
func (b *BusyTracker) Acquire(kind OpKind, fullName string) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := opKey{kind: kind, fullName: fullName}
	if _, ok := b.ops[key]; ok {
		return nil, fmt.Errorf("%w: %s %s", ErrBusy, kind, fullName)
	}
	b.ops[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.ops, key)
		})
	}, nil
}

// IsBusy reports whether the (kind, repository) pair is marked busy
func (b *BusyTracker) IsBusy(kind OpKind, fullName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.ops[opKey{kind: kind, fullName: fullName}]
	return ok
}

// BusyRepos returns the repositories currently busy with the given kind
func (b *BusyTracker) BusyRepos(kind OpKind) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string
	for key := range b.ops {
		if key.kind == kind {
			out = append(out, key.fullName)
		}
	}
	return out
}
