package memory

import (
	"context"
	"sync"
)

// InMemoryKV keeps values in a map. Contents are lost on restart.
type InMemoryKV struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewInMemoryKV() *InMemoryKV {
	return &InMemoryKV{items: make(map[string][]byte)}
}

func (s *InMemoryKV) Get(_ context.Context, namespace []string, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[compositeKey(namespace, key)]
	if !ok {
		return nil, false, nil
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, true, nil
}

func (s *InMemoryKV) Put(_ context.Context, namespace []string, key string, value []byte) error {
	copied := make([]byte, len(value))
	copy(copied, value)

	s.mu.Lock()
	s.items[compositeKey(namespace, key)] = copied
	s.mu.Unlock()
	return nil
}

func (s *InMemoryKV) Close() error { return nil }
