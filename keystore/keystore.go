package keystore

import (
	"errors"
	"sync"
)

// ErrNotFound indicates no secret exists under the requested name.
var ErrNotFound = errors.New("secret not found")

// Store is the secret-store boundary. The protocol core treats it as opaque
// external storage; implementations decide where and how bytes live.
type Store interface {
	// Save persists data under key, replacing any existing value.
	Save(key string, data []byte) error
	// Get retrieves the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Delete removes the value for key. Deleting a missing key is not an
	// error.
	Delete(key string) error
}

// MemoryStore is a Store backed by a map, for tests and ephemeral nodes.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewMemoryStore creates an empty in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string][]byte)}
}

// Save stores a copy of data under key.
func (m *MemoryStore) Save(key string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = buf
	return nil
}

// Get returns a copy of the value for key.
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.secrets[key]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Delete removes the value for key.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}
