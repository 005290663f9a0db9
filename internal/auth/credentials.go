package auth

import (
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "semfind"
	keyringUser    = "github_token"
)

// ErrNoCredential is returned when no credential is stored
var ErrNoCredential = fmt.Errorf("no stored credential")

// CredentialStore persists the durable credential produced by a completed
// device-flow authorization
type CredentialStore interface {
	// Save stores the credential
	Save(token string) error

	// Load returns the stored credential, or ErrNoCredential
	Load() (string, error)

	// Delete removes the stored credential
	Delete() error
}

// keyringStore implements CredentialStore on the OS keyring
type keyringStore struct{}

// NewKeyringStore creates a CredentialStore backed by the OS keyring
func NewKeyringStore() CredentialStore {
	return &keyringStore{}
}

// Save stores the credential
func (*keyringStore) Save(token string) error {
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		return fmt.Errorf("failed to store credential in keyring: %w", err)
	}
	return nil
}

// Load returns the stored credential
func (*keyringStore) Load() (string, error) {
	token, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("failed to read credential from keyring: %w", err)
	}
	return token, nil
}

// Delete removes the stored credential
func (*keyringStore) Delete() error {
	if err := keyring.Delete(keyringService, keyringUser); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete credential from keyring: %w", err)
	}
	return nil
}

// memoryStore implements CredentialStore in memory, used by tests
type memoryStore struct {
	mu    sync.Mutex
	token string
	set   bool
}

// NewMemoryStore creates an in-memory CredentialStore
func NewMemoryStore() CredentialStore {
	return &memoryStore{}
}

// Save stores the credential
func (m *memoryStore) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.set = true
	return nil
}

// Load returns the stored credential
func (m *memoryStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return "", ErrNoCredential
	}
	return m.token, nil
}

// Delete removes the stored credential
func (m *memoryStore) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.set = false
	return nil
}
