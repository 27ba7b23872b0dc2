package offline

import (
	"context"
	"sort"
	"sync"
)

// MemoryCacheStorage keeps caches in process memory.
type MemoryCacheStorage struct {
	mu     sync.Mutex
	order  []string
	caches map[string]*memoryCache
}

func NewMemoryCacheStorage() *MemoryCacheStorage {
	return &MemoryCacheStorage{caches: map[string]*memoryCache{}}
}

func (s *MemoryCacheStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c, nil
	}
	c := &memoryCache{name: name, entries: map[string]StoredResponse{}}
	s.caches[name] = c
	s.order = append(s.order, name)
	return c, nil
}

func (s *MemoryCacheStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *MemoryCacheStorage) Keys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryCacheStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		return false, nil
	}
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	c.drop()
	return true, nil
}

type memoryCache struct {
	name    string
	mu      sync.RWMutex
	entries map[string]StoredResponse
	dropped bool
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) Match(_ context.Context, key string) (StoredResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	if !ok {
		return StoredResponse{}, ErrCacheMiss
	}
	return r, nil
}

// Put on a deleted cache is accepted and discarded.
func (c *memoryCache) Put(_ context.Context, key string, r StoredResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return nil
	}
	r.Body = append([]byte(nil), r.Body...)
	r.Header = r.Header.Clone()
	c.entries[key] = r
	return nil
}

func (c *memoryCache) Keys(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *memoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (c *memoryCache) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = true
	c.entries = map[string]StoredResponse{}
}
