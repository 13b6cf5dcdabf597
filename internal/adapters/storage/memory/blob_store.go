package memory

import (
	"context"
	"sync"

	"github.com/calliope-ai/calliope/internal/domain"
)

// BlobStore is an in-memory implementation of domain.BlobStore.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

func (s *BlobStore) PutObject(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *BlobStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

// Keys returns all stored keys. Test helper.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
