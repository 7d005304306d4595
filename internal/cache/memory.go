package cache

import (
	"context"
	"sync"

	"github.com/expoforge/scout-cli/internal/model"
)

// Memory is a map-backed Backend used when persistent caching is disabled.
// Entries live for the process lifetime only; claims still single-flight
// within a run.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]model.CacheEntry
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]model.CacheEntry)}
}

func (m *Memory) GetContent(_ context.Context, key string) (*model.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *Memory) PutContent(_ context.Context, entry model.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
	return nil
}

func (m *Memory) DeleteContent(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
