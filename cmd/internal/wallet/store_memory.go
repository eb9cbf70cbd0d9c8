package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"
)

// MemoryStore is an in-process Store. Unknown users start at zero coins.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	ledger   []LedgerEntry
	markets  map[string]*Market
	stakes   map[string][]Stake
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		markets:  make(map[string]*Market),
		stakes:   make(map[string][]Stake),
	}
}

func (s *MemoryStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *MemoryStore) Adjust(_ context.Context, a Adjustment) (LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustLocked(a)
}

func (s *MemoryStore) adjustLocked(a Adjustment) (LedgerEntry, error) {
	next := s.balances[a.UserID] + a.Delta
	if next < 0 {
		return LedgerEntry{}, ErrInsufficientFunds
	}
	s.balances[a.UserID] = next
	e := LedgerEntry{ID: a.ID, UserID: a.UserID, Delta: a.Delta, Balance: next, Reason: a.Reason, RefID: a.RefID, CreatedAt: a.Now}
	s.ledger = append(s.ledger, e)
	return e, nil
}

// Ledger returns a copy of userID's ledger rows, oldest first.
func (s *MemoryStore) Ledger(userID string) []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) CreateMarket(_ context.Context, m Market) (Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return Market{}, ErrInvalidInput
	}
	cp := m
	cp.Options = append([]string(nil), m.Options...)
	s.markets[m.ID] = &cp
	return cp, nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return Market{}, ErrNotFound
	}
	return *m, nil
}

func (s *MemoryStore) PlaceStake(_ context.Context, st Stake) (Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[st.MarketID]
	if !ok {
		return Stake{}, ErrNotFound
	}
	if m.Status != MarketOpen {
		return Stake{}, ErrMarketClosed
	}
	if !m.hasOption(st.Option) {
		return Stake{}, ErrUnknownOption
	}
	ref := st.MarketID
	lid, err := ids.NewULID(st.CreatedAt)
	if err != nil {
		return Stake{}, err
	}
	if _, err := s.adjustLocked(Adjustment{ID: lid, UserID: st.UserID, Delta: -st.Amount, Reason: "bet.stake", RefID: &ref, Now: st.CreatedAt}); err != nil {
		return Stake{}, err
	}
	m.Pot += st.Amount
	s.stakes[st.MarketID] = append(s.stakes[st.MarketID], st)
	return st, nil
}

func (s *MemoryStore) Settle(_ context.Context, marketID, winning string, now time.Time) (Market, Payouts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return Market{}, Payouts{}, ErrNotFound
	}
	if m.Status != MarketOpen {
		return Market{}, Payouts{}, ErrMarketClosed
	}
	if !m.hasOption(winning) {
		return Market{}, Payouts{}, ErrUnknownOption
	}

	stakes := s.stakes[marketID]
	p := ComputePayouts(stakes, winning)
	reason := "bet.payout"
	if p.Refunded {
		reason = "bet.refund"
	}
	for i := range stakes {
		amt := p.ByStake[stakes[i].ID]
		stakes[i].Payout = &amt
		if amt == 0 {
			continue
		}
		lid, err := ids.NewULID(now)
		if err != nil {
			return Market{}, Payouts{}, err
		}
		ref := marketID
		if _, err := s.adjustLocked(Adjustment{ID: lid, UserID: stakes[i].UserID, Delta: amt, Reason: reason, RefID: &ref, Now: now}); err != nil {
			return Market{}, Payouts{}, err
		}
	}

	w := winning
	m.Status = MarketSettled
	m.WinningOption = &w
	m.Dust = p.Dust
	m.SettledAt = &now
	return *m, p, nil
}
