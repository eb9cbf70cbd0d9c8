package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and single-instance dev runs.
// It is not shared across instances.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]Bucket
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]Bucket)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return Bucket{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) Put(_ context.Context, b Bucket) error {
	s.mu.Lock()
	s.buckets[b.Key] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, b := range s.buckets {
		if b.WindowEnd.Before(before) {
			delete(s.buckets, k)
			n++
		}
	}
	return n, nil
}
