package posttoken

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and database-less dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Insert(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.Nonce]; ok {
		return ErrInvalidInput
	}
	s.records[r.Nonce] = r
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, in ConsumeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[in.Nonce]
	if !ok {
		return ErrUnknownNonce
	}
	if err := checkConsumable(r, in); err != nil {
		return err
	}
	now := in.Now
	r.Used, r.UsedAt = true, &now
	s.records[in.Nonce] = r
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, r := range s.records {
		if r.ExpiresAt.Before(before) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
