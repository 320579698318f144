package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and local bring-up.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put writes data under its content address and returns the handle.
func (s *MemoryStore) Put(ctx context.Context, data []byte) (Handle, error) {
	handle := HandleFor(data)
	if err := s.PutAt(ctx, string(handle), data); err != nil {
		return "", err
	}
	return handle, nil
}

// PutAt writes data under a fixed key.
func (s *MemoryStore) PutAt(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = buf
	return nil
}

// Get returns the bytes behind handle.
func (s *MemoryStore) Get(ctx context.Context, handle Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[string(handle)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Iter lists every object under prefix in key order.
func (s *MemoryStore) Iter(ctx context.Context, prefix string) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	objects := make([]Object, 0, len(keys))
	for _, key := range keys {
		data := s.objects[key]
		buf := make([]byte, len(data))
		copy(buf, data)
		objects = append(objects, Object{Key: key, Data: buf})
	}
	return objects, nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ Store = (*MemoryStore)(nil)
