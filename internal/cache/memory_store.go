package cache

import (
	"context"
	"slices"
	"sync"

	"github.com/moznion/go-optional"
)

// MemoryStore keeps entries in a map. Used by tests and cache-less runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, key string) (optional.Option[Entry], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return optional.None[Entry](), nil
	}

	entry.Payload = slices.Clone(entry.Payload)

	return optional.Some(entry), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, entry Entry) error {
	entry.Payload = slices.Clone(entry.Payload)

	s.mu.Lock()
	s.entries[entry.Key] = entry
	s.mu.Unlock()

	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
