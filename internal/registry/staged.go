package registry

import (
	"context"
	"fmt"
)

// Staged is a two-phase update on a connection: the coordinator mutates a
// staged copy as a tentative write, then either commits it after the backend
// confirms or rolls it back by dropping the copy. Nothing is visible to
// readers until Commit.
type Staged struct {
	registry *Registry
	fullName string
	conn     *Connection
	done     bool
}

// Stage begins a two-phase update for the connection
func (r *Registry) Stage(_ context.Context, fullName string) (*Staged, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[fullName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fullName)
	}
	return &Staged{
		registry: r,
		fullName: fullName,
		conn:     conn.Copy(),
	}, nil
}

// Connection returns the staged copy for mutation
func (s *Staged) Connection() *Connection {
	return s.conn
}

// Commit writes the staged copy back to the registry
func (s *Staged) Commit(ctx context.Context) error {
	if s.done {
		return fmt.Errorf("staged update for %s already finished", s.fullName)
	}
	s.done = true
	return s.registry.Update(ctx, s.fullName, func(conn *Connection) error {
		*conn = *s.conn
		return nil
	})
}

// Rollback abandons the staged copy, leaving the registry untouched
func (s *Staged) Rollback() {
	s.done = true
}
