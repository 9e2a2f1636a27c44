// Package storage provides the blob store abstraction behind sink partitions
// and checkpoint files.
package storage

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/c360/citystreams/errors"
)

// Store is the pluggable backend interface for storage operations.
//
// Keys are "/"-separated paths. Put replaces any existing value at the key
// atomically: a concurrent or subsequent Get observes either the old value
// or the new one, never a partial write. All implementations must be safe
// for concurrent use.
//
// Implementations:
//   - filestore.Store: local directory tree
//   - objectstore.Store: NATS JetStream object store
//   - MemoryStore: in-process map, for tests
type Store interface {
	// Put stores data at key, overwriting any existing value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the data at key. A missing key returns an error matching
	// errors.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys starting with prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Join builds a store key from path elements.
func Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}

// ValidateKey rejects keys that cannot be mapped onto every backend.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return errors.WrapInvalid(errors.ErrInvalidData, "storage", "ValidateKey", "empty key")
	case strings.HasPrefix(key, "/"), strings.HasSuffix(key, "/"):
		return errors.WrapInvalid(errors.ErrInvalidData, "storage", "ValidateKey",
			"key must not start or end with '/': "+key)
	case path.Clean(key) != key, strings.Contains(key, ".."):
		return errors.WrapInvalid(errors.ErrInvalidData, "storage", "ValidateKey",
			"key is not a clean path: "+key)
	}
	return nil
}

// MemoryStore is a Store held in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.Wrap(errors.ErrKeyNotFound, "MemoryStore", "Get", key)
	}
	return append([]byte(nil), data...), nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
