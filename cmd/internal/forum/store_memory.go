package forum

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	threads   map[string]*Thread
	replies   map[string][]Reply
	reactions map[string]map[reactionKey]time.Time
}

type reactionKey struct{ userID, kind string }

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:   make(map[string]*Thread),
		replies:   make(map[string][]Reply),
		reactions: make(map[string]map[reactionKey]time.Time),
	}
}

func (s *MemoryStore) CreateThread(_ context.Context, t Thread) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.threads[t.ID] = &cp
	return t, nil
}

func (s *MemoryStore) GetThread(_ context.Context, id string) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, ErrNotFound
	}
	return *t, nil
}

func (s *MemoryStore) ListThreads(_ context.Context, before string, limit int) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, len(s.threads))
	for _, t := range s.threads {
		if before == "" || t.ID < before {
			out = append(out, *t)
		}
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateReply(_ context.Context, r Reply) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[r.ThreadID]
	if !ok {
		return Reply{}, ErrNotFound
	}
	t.ReplyCount++
	t.UpdatedAt = r.CreatedAt
	s.replies[r.ThreadID] = append(s.replies[r.ThreadID], r)
	return r, nil
}

func (s *MemoryStore) ListReplies(_ context.Context, threadID string, limit int) ([]Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := s.replies[threadID]
	if len(rs) > limit {
		rs = rs[:limit]
	}
	return append([]Reply(nil), rs...), nil
}

func (s *MemoryStore) ToggleReaction(_ context.Context, r Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[r.ThreadID]; !ok {
		return false, ErrNotFound
	}
	set := s.reactions[r.ThreadID]
	if set == nil {
		set = make(map[reactionKey]time.Time)
		s.reactions[r.ThreadID] = set
	}
	k := reactionKey{userID: r.UserID, kind: r.Kind}
	if _, ok := set[k]; ok {
		delete(set, k)
		return false, nil
	}
	set[k] = r.CreatedAt
	return true, nil
}

func (s *MemoryStore) ReactionCounts(_ context.Context, threadID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for k := range s.reactions[threadID] {
		out[k.kind]++
	}
	return out, nil
}
