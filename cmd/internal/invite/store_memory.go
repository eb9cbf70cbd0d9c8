package invite

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and database-less dev runs.
type MemoryStore struct {
	mu          sync.Mutex
	byCode      map[string]*Invite
	redemptions []Redemption
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCode: make(map[string]*Invite)}
}

func (s *MemoryStore) Create(_ context.Context, inv Invite) (Invite, error) {
	if inv.ID == "" || inv.Code == "" {
		return Invite{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[inv.Code]; ok {
		return Invite{}, ErrCodeTaken
	}
	cp := inv
	s.byCode[inv.Code] = &cp
	return inv, nil
}

func (s *MemoryStore) GetByCode(_ context.Context, code string) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byCode[code]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return *inv, nil
}

func (s *MemoryStore) Redeem(_ context.Context, in RedeemRecord) (Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byCode[in.Code]
	if !ok {
		return Redemption{}, ErrNotFound
	}
	if err := inv.check(in.Now); err != nil {
		return Redemption{}, err
	}
	inv.Uses++

	red := Redemption{
		ID:         in.RedemptionID,
		InviteID:   inv.ID,
		Code:       inv.Code,
		UserID:     in.UserID,
		RedeemedAt: in.Now,
	}
	s.redemptions = append(s.redemptions, red)
	return red, nil
}

func (s *MemoryStore) Release(_ context.Context, code, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byCode[code]
	if !ok {
		return ErrNotFound
	}
	for i := len(s.redemptions) - 1; i >= 0; i-- {
		r := s.redemptions[i]
		if r.InviteID != inv.ID || r.UserID != userID {
			continue
		}
		s.redemptions = append(s.redemptions[:i], s.redemptions[i+1:]...)
		if inv.Uses > 0 {
			inv.Uses--
		}
		return nil
	}
	return ErrNotFound
}

// Redemptions returns a copy of the audit rows for code.
func (s *MemoryStore) Redemptions(code string) []Redemption {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Redemption
	for _, r := range s.redemptions {
		if r.Code == code {
			out = append(out, r)
		}
	}
	return out
}
