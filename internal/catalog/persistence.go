package catalog

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

// SnapshotFileName is the name of the persisted catalog snapshot
const SnapshotFileName = "catalog_cache.json"

const lockRetryDelay = 50 * time.Millisecond

// Store persists the catalog snapshot across process restarts
type Store interface {
	// Save writes the snapshot
	Save(ctx context.Context, snap *Snapshot) error

	// Load reads the persisted snapshot; a missing file yields nil
	Load(ctx context.Context) (*Snapshot, error)
}

// fileStore implements Store as a JSON file with atomic replace
type fileStore struct {
	basePath string
	lock     *flock.Flock
}

// NewFileStore creates a file-backed Store rooted at basePath
func NewFileStore(basePath string) Store {
	return &fileStore{
		basePath: basePath,
		lock:     flock.New(filepath.Join(basePath, SnapshotFileName+".lock")),
	}
}

func (f *fileStore) filePath() string {
	return filepath.Join(f.basePath, SnapshotFileName)
}

// Save writes the snapshot
func (f *fileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return fmt.Errorf("failed to lock catalog snapshot file: %w", err)
	}
	defer f.lock.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog snapshot: %w", err)
	}

	tempPath := f.filePath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary catalog snapshot: %w", err)
	}
	if err := os.Rename(tempPath, f.filePath()); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to replace catalog snapshot: %w", err)
	}
	return nil
}

// memoryStore implements Store in memory, used by tests
type memoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewMemoryStore creates an in-memory Store
func NewMemoryStore() Store {
	return &memoryStore{}
}

// Save writes the snapshot
func (m *memoryStore) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap.Copy()
	return nil
}

// Load reads the persisted snapshot
func (m *memoryStore) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Copy(), nil
}

// Load reads the persisted snapshot
func (f *fileStore) Load(ctx context.Context) (*Snapshot, error) {
	// The lock file lives in the data dir, which does not exist on a fresh
	// install
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, fmt.Errorf("failed to lock catalog snapshot file: %w", err)
	}
	defer f.lock.Unlock()

	data, err := os.ReadFile(f.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read catalog snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog snapshot: %w", err)
	}
	return &snap, nil
}
