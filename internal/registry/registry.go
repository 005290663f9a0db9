// Package registry is the source of truth for repository connections. It
// owns the status state machine and enforces its invariants; coordinators
// read and mutate records exclusively through it.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no connection exists for a full name
var ErrNotFound = fmt.Errorf("repository connection not found")

// ErrAlreadyConnected is returned when registering a full name that already
// has a connection in a non-retryable state
var ErrAlreadyConnected = fmt.Errorf("repository already connected")

// InvalidTransitionError is returned for status changes the state machine
// does not allow
type InvalidTransitionError struct {
	FullName string
	From     Status
	To       Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for %s: %s -> %s", e.FullName, e.From, e.To)
}

// Registry holds one Connection per connected repository, persisting every
// mutation through its Store.
type Registry struct {
	store Store

	mu    sync.RWMutex
	conns map[string]*Connection

	// indexedChanges is a coalesced notification that the set of indexed
	// repositories changed
	indexedChanges chan struct{}

	nowFn func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithNowFunc overrides the clock, used by tests
func WithNowFunc(fn func() time.Time) Option {
	return func(r *Registry) {
		r.nowFn = fn
	}
}

// New creates a Registry backed by the given store and loads the persisted
// connections. Records left in an in-flight state by an interrupted process
// are reset to the corresponding failed state so the user can retry.
func New(ctx context.Context, store Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:          store,
		conns:          make(map[string]*Connection),
		indexedChanges: make(chan struct{}, 1),
		nowFn:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	conns, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection registry: %w", err)
	}

	recovered := false
	for _, conn := range conns {
		switch conn.Status {
		case StatusCloning:
			slog.Warn("Previous clone was interrupted, resetting to clone_failed", "repo", conn.FullName)
			conn.Status = StatusCloneFailed
			conn.ErrorMessage = "clone interrupted by shutdown"
			recovered = true
		case StatusIndexing:
			slog.Warn("Previous indexing was interrupted, resetting to index_failed", "repo", conn.FullName)
			conn.Status = StatusIndexFailed
			conn.ErrorMessage = "indexing interrupted by shutdown"
			recovered = true
		}
		r.conns[conn.FullName] = conn
	}

	if recovered {
		if err := r.persist(ctx); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Get returns a copy of the connection for the full name
func (r *Registry) Get(_ context.Context, fullName string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[fullName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fullName)
	}
	return conn.Copy(), nil
}

// List returns copies of all connections, sorted by full name
func (r *Registry) List(_ context.Context) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out
}

// ListByStatus returns copies of all connections in the given status
func (r *Registry) ListByStatus(ctx context.Context, status Status) []*Connection {
	all := r.List(ctx)
	out := all[:0]
	for _, conn := range all {
		if conn.Status == status {
			out = append(out, conn)
		}
	}
	return out
}

// Register creates the connection record for a repository entering the
// cloning state. Re-registering a clone_failed repository re-enters cloning;
// any other existing record is rejected.
func (r *Registry) Register(ctx context.Context, conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.conns[conn.FullName]
	if ok && existing.Status != StatusCloneFailed {
		return fmt.Errorf("%w: %s (status %s)", ErrAlreadyConnected, conn.FullName, existing.Status)
	}

	stored := conn.Copy()
	stored.Status = StatusCloning
	stored.ErrorMessage = ""
	stored.PendingChanges = nil
	r.conns[stored.FullName] = stored

	return r.persist(ctx)
}

// Remove deletes the connection record. Used when a clone is cancelled,
// which must leave no record behind.
func (r *Registry) Remove(ctx context.Context, fullName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[fullName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, fullName)
	}
	wasIndexed := conn.Status == StatusIndexed
	delete(r.conns, fullName)

	if err := r.persist(ctx); err != nil {
		return err
	}
	if wasIndexed {
		r.notifyIndexedChanged()
	}
	return nil
}

// SetStatus applies a status transition, validating it against the state
// machine. Entering indexed clears pending changes, clears the error message
// and refreshes the last fetch timestamp; entering a failed state records
// the error message.
func (r *Registry) SetStatus(ctx context.Context, fullName string, target Status, errMsg string) error {
	return r.Update(ctx, fullName, func(conn *Connection) error {
		if !conn.Status.CanTransition(target) {
			return &InvalidTransitionError{FullName: fullName, From: conn.Status, To: target}
		}
		conn.Status = target
		switch target {
		case StatusCloneFailed, StatusIndexFailed:
			conn.ErrorMessage = errMsg
		case StatusIndexed:
			now := r.nowFn()
			conn.LastFetchTS = &now
			conn.PendingChanges = nil
			conn.ErrorMessage = ""
		default:
			conn.ErrorMessage = ""
		}
		return nil
	})
}

// Update applies fn to the connection under the registry lock and persists
// the result. fn receives the live record; returning an error aborts the
// update without persisting.
func (r *Registry) Update(ctx context.Context, fullName string, fn func(conn *Connection) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[fullName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, fullName)
	}

	wasIndexed := conn.Status == StatusIndexed
	staged := conn.Copy()
	if err := fn(staged); err != nil {
		return err
	}
	normalize(staged)
	r.conns[fullName] = staged

	if err := r.persist(ctx); err != nil {
		return err
	}
	if wasIndexed != (staged.Status == StatusIndexed) {
		r.notifyIndexedChanged()
	}
	return nil
}

// UpdateIfChanged applies fn to a copy of the connection and persists it only
// when fn reports a change. This is the compare-and-set used by idempotent
// polling: unchanged backend answers produce zero writes.
func (r *Registry) UpdateIfChanged(ctx context.Context, fullName string, fn func(conn *Connection) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[fullName]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, fullName)
	}

	wasIndexed := conn.Status == StatusIndexed
	staged := conn.Copy()
	if !fn(staged) {
		return false, nil
	}
	normalize(staged)
	r.conns[fullName] = staged

	if err := r.persist(ctx); err != nil {
		return false, err
	}
	if wasIndexed != (staged.Status == StatusIndexed) {
		r.notifyIndexedChanged()
	}
	return true, nil
}

// IndexedSetChanges returns a coalesced notification channel that receives
// whenever the set of indexed repositories changes. The change-detection
// scheduler drains it to trigger an immediate scan.
func (r *Registry) IndexedSetChanges() <-chan struct{} {
	return r.indexedChanges
}

// normalize enforces record invariants after any mutation: pending changes
// exist only on indexed connections.
func normalize(conn *Connection) {
	if conn.Status != StatusIndexed {
		conn.PendingChanges = nil
	}
}

// persist writes the full connection list through the store. Callers hold
// the write lock.
func (r *Registry) persist(ctx context.Context) error {
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].FullName < conns[j].FullName })
	if err := r.store.Save(ctx, conns); err != nil {
		return fmt.Errorf("failed to persist connection registry: %w", err)
	}
	return nil
}

func (r *Registry) notifyIndexedChanged() {
	select {
	case r.indexedChanges <- struct{}{}:
	default:
	}
}
