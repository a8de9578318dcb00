package file

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"pitara-engine/internal/repository"
)

// KVStore keeps one file per key under a directory. Writes are atomic and durable:
// renameio fsyncs the temp file before renaming it over the previous value.
type KVStore struct {
	dir string
	mu  sync.Mutex
}

func NewKVStore(dir string) *KVStore {
	return &KVStore{dir: dir}
}

func (s *KVStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create kv dir: %w", err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read kv file %s: %w", key, err)
	}
	return data, true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := renameio.WriteFile(s.path(key), value, 0o644); err != nil {
		return fmt.Errorf("write kv file %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove kv file %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Close() error { return nil }

// path hex-encodes the key so arbitrary keys ("@pitara/downloads") map to safe file names.
func (s *KVStore) path(key string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(key))+".json")
}

var _ repository.KVStore = (*KVStore)(nil)
