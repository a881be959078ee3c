package store

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps flags in process memory. Flags are lost on exit.
type MemoryStore struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{flags: make(map[string]bool)}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) GetProviderFlags(context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.flags), nil
}

func (m *MemoryStore) SetProviderFlags(_ context.Context, flags map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.flags, flags)
	return nil
}
