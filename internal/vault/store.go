package vault

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrKeyNotFound is returned by Store.Get for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// Store is the flat key-value persistence boundary. Each call commits
// independently and immediately; there are no transactions across keys.
// Implementations can be in-memory or backed by an external database.
// The Repository uses Store for all reads and writes; callers of Repository
// do not need to know which Store is used.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// MemoryStore is an in-memory implementation of Store. It is the default
// binding when no database is configured and the backing store for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore returns a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	// Copy so callers cannot mutate stored bytes.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put implements Store.Put.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = v
	return nil
}

// Delete implements Store.Delete. Deleting a missing key is a no-op.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// List implements Store.List, returning keys with the given prefix in
// lexicographic order.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
