package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ConnectionsFileName is the name of the persisted registry file
const ConnectionsFileName = "connected_repos.json"

// lockRetryDelay is the retry cadence while waiting for the file lock
const lockRetryDelay = 50 * time.Millisecond

// Store persists the registry's connection list
//
// The registry saves the complete list on every mutation and loads it once
// at startup, so implementations only need whole-list operations.
type Store interface {
	// Save writes the full connection list
	Save(ctx context.Context, conns []*Connection) error

	// Load reads the persisted connection list. A missing file is not an
	// error and yields an empty list (first run).
	Load(ctx context.Context) ([]*Connection, error)
}

// fileStore implements Store as a JSON file with atomic replace, guarded by
// an advisory file lock against concurrent processes.
type fileStore struct {
	basePath string
	lock     *flock.Flock
}

// NewFileStore creates a file-backed Store rooted at basePath
func NewFileStore(basePath string) Store {
	return &fileStore{
		basePath: basePath,
		lock:     flock.New(filepath.Join(basePath, ConnectionsFileName+".lock")),
	}
}

func (f *fileStore) filePath() string {
	return filepath.Join(f.basePath, ConnectionsFileName)
}

// Save writes the full connection list
func (f *fileStore) Save(ctx context.Context, conns []*Connection) error {
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return fmt.Errorf("failed to lock registry file: %w", err)
	}
	defer f.lock.Unlock()

	data, err := json.MarshalIndent(conns, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal connections: %w", err)
	}

	// Write to a temporary file first for atomic replacement
	tempPath := f.filePath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary registry file: %w", err)
	}
	if err := os.Rename(tempPath, f.filePath()); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to replace registry file: %w", err)
	}
	return nil
}

// Load reads the persisted connection list
func (f *fileStore) Load(ctx context.Context) ([]*Connection, error) {
	// The lock file lives in the data dir, which does not exist on a fresh
	// install
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, fmt.Errorf("failed to lock registry file: %w", err)
	}
	defer f.lock.Unlock()

	data, err := os.ReadFile(f.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var conns []*Connection
	if err := json.Unmarshal(data, &conns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry file: %w", err)
	}
	return conns, nil
}

// memoryStore implements Store in memory, used by tests and the orchestrator
// when no data dir is configured
type memoryStore struct {
	mu    sync.Mutex
	conns []*Connection
}

// NewMemoryStore creates an in-memory Store
func NewMemoryStore() Store {
	return &memoryStore{}
}

// Save writes the full connection list
func (m *memoryStore) Save(_ context.Context, conns []*Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = make([]*Connection, len(conns))
	for i, conn := range conns {
		m.conns[i] = conn.Copy()
	}
	return nil
}

// Load reads the persisted connection list
func (m *memoryStore) Load(_ context.Context) ([]*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, len(m.conns))
	for i, conn := range m.conns {
		out[i] = conn.Copy()
	}
	return out, nil
}
