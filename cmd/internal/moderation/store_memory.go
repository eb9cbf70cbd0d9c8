package moderation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and database-less dev runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) ActiveUserBans(_ context.Context, userID string) ([]Entry, error) {
	return s.active(KindUser, userID), nil
}

func (s *MemoryStore) ActiveIPEntries(_ context.Context, ip string) ([]Entry, error) {
	return s.active(KindIP, ip), nil
}

func (s *MemoryStore) active(kind Kind, subject string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.Kind == kind && e.Subject == subject && e.Active {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) Insert(_ context.Context, e Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Deactivate(_ context.Context, kind Kind, subject string, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.entries {
		e := &s.entries[i]
		if e.Kind == kind && e.Subject == subject && e.Active {
			e.Active = false
			n++
		}
	}
	return n, nil
}
