package wallet

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"
)

const (
	maxTitleLen   = 200
	maxOptions    = 16
	maxOptionLen  = 64
	maxReasonLen  = 64
	maxSingleMove = int64(1_000_000_000)
)

// LedgerEntry records one balance change.
type LedgerEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Delta     int64     `json:"delta"`
	Balance   int64     `json:"balance"`
	Reason    string    `json:"reason"`
	RefID     *string   `json:"ref_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MarketStatus is a market lifecycle state.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "open"
	MarketSettled MarketStatus = "settled"
)

// Market is a bet market.
type Market struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Options       []string     `json:"options"`
	Status        MarketStatus `json:"status"`
	WinningOption *string      `json:"winning_option,omitempty"`
	Pot           int64        `json:"pot"`
	Dust          int64        `json:"dust"`
	CreatedBy     string       `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
	SettledAt     *time.Time   `json:"settled_at,omitempty"`
}

func (m Market) hasOption(opt string) bool {
	for _, o := range m.Options {
		if o == opt {
			return true
		}
	}
	return false
}

// Stake is coins placed on one option.
type Stake struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	UserID    string    `json:"user_id"`
	Option    string    `json:"option"`
	Amount    int64     `json:"amount"`
	Payout    *int64    `json:"payout,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Adjustment is a normalized balance change. Negative Delta deducts.
type Adjustment struct {
	ID     string
	UserID string
	Delta  int64
	Reason string
	RefID  *string
	Now    time.Time
}

// Store is the persistence boundary. Implementations make Adjust, PlaceStake
// and Settle atomic.
type Store interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Adjust(ctx context.Context, a Adjustment) (LedgerEntry, error)

	CreateMarket(ctx context.Context, m Market) (Market, error)
	GetMarket(ctx context.Context, id string) (Market, error)
	// PlaceStake deducts the stake from the user and adds it to the pot.
	PlaceStake(ctx context.Context, s Stake) (Stake, error)
	// Settle pays out an open market with ComputePayouts and closes it.
	Settle(ctx context.Context, marketID, winning string, now time.Time) (Market, Payouts, error)
}

// Service validates wallet requests before they reach the store.
type Service struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// Option configures the Service.
type Option func(*Service) error

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log == nil {
			return ErrInvalidInput
		}
		s.log = log
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, now: func() time.Time { return time.Now().UTC() }, log: slog.Default()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Balance returns a user's coins.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidInput
	}
	return s.store.Balance(ctx, userID)
}

// AddCoins credits amount to userID.
func (s *Service) AddCoins(ctx context.Context, userID string, amount int64, reason string, refID *string) (LedgerEntry, error) {
	return s.adjust(ctx, userID, amount, reason, refID)
}

// DeductCoins debits amount from userID, failing with ErrInsufficientFunds
// rather than going negative.
func (s *Service) DeductCoins(ctx context.Context, userID string, amount int64, reason string, refID *string) (LedgerEntry, error) {
	return s.adjust(ctx, userID, -amount, reason, refID)
}

func (s *Service) adjust(ctx context.Context, userID string, delta int64, reason string, refID *string) (LedgerEntry, error) {
	userID = strings.TrimSpace(userID)
	reason = strings.TrimSpace(reason)
	if userID == "" || reason == "" || len(reason) > maxReasonLen {
		return LedgerEntry{}, ErrInvalidInput
	}
	if delta == 0 || delta > maxSingleMove || delta < -maxSingleMove {
		return LedgerEntry{}, ErrInvalidInput
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return LedgerEntry{}, err
	}
	e, err := s.store.Adjust(ctx, Adjustment{ID: id, UserID: userID, Delta: delta, Reason: reason, RefID: refID, Now: now})
	if err != nil {
		s.log.Info("wallet.adjust.fail", "user_id", userID, "delta", delta, "err", err)
		return LedgerEntry{}, err
	}
	s.log.Info("wallet.adjust.ok", "user_id", userID, "delta", delta, "balance", e.Balance)
	return e, nil
}

// CreateMarketInput describes a new market.
type CreateMarketInput struct {
	Title     string
	Options   []string
	CreatedBy string
}

// CreateMarket opens a market with at least two distinct options.
func (s *Service) CreateMarket(ctx context.Context, in CreateMarketInput) (Market, error) {
	title := strings.TrimSpace(in.Title)
	createdBy := strings.TrimSpace(in.CreatedBy)
	if title == "" || len(title) > maxTitleLen || createdBy == "" {
		return Market{}, ErrInvalidInput
	}
	if len(in.Options) < 2 || len(in.Options) > maxOptions {
		return Market{}, ErrInvalidInput
	}
	seen := make(map[string]bool, len(in.Options))
	opts := make([]string, 0, len(in.Options))
	for _, o := range in.Options {
		o = strings.TrimSpace(o)
		if o == "" || len(o) > maxOptionLen || seen[o] {
			return Market{}, ErrInvalidInput
		}
		seen[o] = true
		opts = append(opts, o)
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Market{}, err
	}
	m, err := s.store.CreateMarket(ctx, Market{
		ID:        id,
		Title:     title,
		Options:   opts,
		Status:    MarketOpen,
		CreatedBy: createdBy,
		CreatedAt: now,
	})
	if err != nil {
		return Market{}, err
	}
	s.log.Info("wallet.market.create.ok", "market_id", m.ID)
	return m, nil
}

// GetMarket returns a market.
func (s *Service) GetMarket(ctx context.Context, id string) (Market, error) {
	return s.store.GetMarket(ctx, strings.TrimSpace(id))
}

// PlaceStake puts amount of userID's coins on option.
func (s *Service) PlaceStake(ctx context.Context, marketID, userID, option string, amount int64) (Stake, error) {
	marketID = strings.TrimSpace(marketID)
	userID = strings.TrimSpace(userID)
	option = strings.TrimSpace(option)
	if marketID == "" || userID == "" || option == "" || amount <= 0 || amount > maxSingleMove {
		return Stake{}, ErrInvalidInput
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Stake{}, err
	}
	st, err := s.store.PlaceStake(ctx, Stake{ID: id, MarketID: marketID, UserID: userID, Option: option, Amount: amount, CreatedAt: now})
	if err != nil {
		s.log.Info("wallet.stake.fail", "market_id", marketID, "user_id", userID, "err", err)
		return Stake{}, err
	}
	s.log.Info("wallet.stake.ok", "market_id", marketID, "user_id", userID, "amount", amount)
	return st, nil
}

// Settle closes a market and pays the winners.
func (s *Service) Settle(ctx context.Context, marketID, winning string) (Market, Payouts, error) {
	marketID = strings.TrimSpace(marketID)
	winning = strings.TrimSpace(winning)
	if marketID == "" || winning == "" {
		return Market{}, Payouts{}, ErrInvalidInput
	}
	m, p, err := s.store.Settle(ctx, marketID, winning, s.now())
	if err != nil {
		s.log.Warn("wallet.settle.fail", "market_id", marketID, "err", err)
		return Market{}, Payouts{}, err
	}
	s.log.Info("wallet.settle.ok", "market_id", marketID, "winning", winning, "pot", m.Pot, "dust", p.Dust, "refunded", p.Refunded)
	return m, p, nil
}
