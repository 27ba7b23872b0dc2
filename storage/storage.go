package storage

import (
	"context"
	"sync"
)

// Keys of the persisted application state.
const (
	KeyTodos          = "todos"
	KeyCategories     = "categories"
	KeySelectedFilter = "selectedFilter"
	KeySelectedSort   = "selectedSort"
	KeyUsername       = "username"
	KeyDraftForm      = "addTaskFormData"
	KeyDraftEmoji     = "selectedEmoji"
	KeyDraftColor     = "selectedColor"
)

// KV is a string key-value store holding serialized application state.
type KV interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Memory is a KV kept in process memory.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
