package memory

import (
	"context"
	"sync"

	"pitara-engine/internal/repository"
)

// KVStore is an in-memory repository.KVStore. Not durable; used in tests and when no
// persistent backend is configured.
type KVStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string][]byte)}
}

func (s *KVStore) Init(ctx context.Context) error { return nil }

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, repository.ErrClosed
	}
	val, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	// copy so callers cannot mutate stored bytes
	return append([]byte(nil), val...), true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrClosed
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrClosed
	}
	delete(s.data, key)
	return nil
}

func (s *KVStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.data = nil
	s.mu.Unlock()
	return nil
}

var _ repository.KVStore = (*KVStore)(nil)
