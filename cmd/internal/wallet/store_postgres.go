package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps balances in profiles.coins with coin_ledger as history.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "bytehack").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "bytehack"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

func (s *PostgresStore) t(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := s.pool.QueryRow(ctx, `SELECT coins FROM `+s.t("profiles")+` WHERE user_id = $1`, userID).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return coins, err
}

func (s *PostgresStore) Adjust(ctx context.Context, a Adjustment) (LedgerEntry, error) {
	var out LedgerEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.adjustTx(ctx, tx, a)
		return err
	})
	return out, err
}

// adjustTx applies the guarded update. The balance check and the write are
// one statement, so no concurrent adjustment can slip between them.
func (s *PostgresStore) adjustTx(ctx context.Context, tx pgx.Tx, a Adjustment) (LedgerEntry, error) {
	var balance int64
	err := tx.QueryRow(ctx,
		`UPDATE `+s.t("profiles")+`
		    SET coins = coins + $2
		  WHERE user_id = $1 AND coins + $2 >= 0
		RETURNING coins`,
		a.UserID,
		a.Delta,
	).Scan(&balance)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return LedgerEntry{}, err
		}
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM `+s.t("profiles")+` WHERE user_id = $1)`, a.UserID,
		).Scan(&exists); err != nil {
			return LedgerEntry{}, err
		}
		if !exists {
			return LedgerEntry{}, ErrNotFound
		}
		return LedgerEntry{}, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t("coin_ledger")+` (id, user_id, delta, balance, reason, ref_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.Delta, balance, a.Reason, a.RefID, a.Now,
	); err != nil {
		return LedgerEntry{}, err
	}

	return LedgerEntry{
		ID:        a.ID,
		UserID:    a.UserID,
		Delta:     a.Delta,
		Balance:   balance,
		Reason:    a.Reason,
		RefID:     a.RefID,
		CreatedAt: a.Now,
	}, nil
}

const marketColumns = `id, title, options, status, winning_option, pot, dust, created_by, created_at, settled_at`

func scanMarket(row pgx.Row) (Market, error) {
	var m Market
	var status string
	err := row.Scan(&m.ID, &m.Title, &m.Options, &status, &m.WinningOption, &m.Pot, &m.Dust, &m.CreatedBy, &m.CreatedAt, &m.SettledAt)
	m.Status = MarketStatus(status)
	return m, err
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m Market) (Market, error) {
	return scanMarket(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.t("bet_markets")+` (id, title, options, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+marketColumns,
		m.ID, m.Title, m.Options, string(MarketOpen), m.CreatedBy, m.CreatedAt,
	))
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM `+s.t("bet_markets")+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Market{}, ErrNotFound
	}
	return m, err
}

// lockOpenMarket row-locks a market and checks it can still take stakes or settle.
func (s *PostgresStore) lockOpenMarket(ctx context.Context, tx pgx.Tx, id, option string) (Market, error) {
	m, err := scanMarket(tx.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM `+s.t("bet_markets")+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Market{}, ErrNotFound
		}
		return Market{}, err
	}
	if m.Status != MarketOpen {
		return Market{}, ErrMarketClosed
	}
	if !m.hasOption(option) {
		return Market{}, ErrUnknownOption
	}
	return m, nil
}

func (s *PostgresStore) PlaceStake(ctx context.Context, st Stake) (Stake, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.lockOpenMarket(ctx, tx, st.MarketID, st.Option); err != nil {
			return err
		}
		lid, err := ids.NewULID(st.CreatedAt)
		if err != nil {
			return err
		}
		ref := st.MarketID
		if _, err := s.adjustTx(ctx, tx, Adjustment{ID: lid, UserID: st.UserID, Delta: -st.Amount, Reason: "bet.stake", RefID: &ref, Now: st.CreatedAt}); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.t("bet_stakes")+` (id, market_id, user_id, option, amount, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			st.ID, st.MarketID, st.UserID, st.Option, st.Amount, st.CreatedAt,
		); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE `+s.t("bet_markets")+` SET pot = pot + $2 WHERE id = $1`, st.MarketID, st.Amount)
		return err
	})
	if err != nil {
		return Stake{}, err
	}
	return st, nil
}

func (s *PostgresStore) Settle(ctx context.Context, marketID, winning string, now time.Time) (Market, Payouts, error) {
	var out Market
	var payouts Payouts
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		m, err := s.lockOpenMarket(ctx, tx, marketID, winning)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`SELECT id, market_id, user_id, option, amount, created_at FROM `+s.t("bet_stakes")+` WHERE market_id = $1 ORDER BY id`,
			marketID)
		if err != nil {
			return err
		}
		stakes, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Stake, error) {
			var st Stake
			err := r.Scan(&st.ID, &st.MarketID, &st.UserID, &st.Option, &st.Amount, &st.CreatedAt)
			return st, err
		})
		if err != nil {
			return err
		}

		payouts = ComputePayouts(stakes, winning)
		reason := "bet.payout"
		if payouts.Refunded {
			reason = "bet.refund"
		}
		for _, st := range stakes {
			amt := payouts.ByStake[st.ID]
			if _, err := tx.Exec(ctx, `UPDATE `+s.t("bet_stakes")+` SET payout = $2 WHERE id = $1`, st.ID, amt); err != nil {
				return err
			}
			if amt == 0 {
				continue
			}
			lid, err := ids.NewULID(now)
			if err != nil {
				return err
			}
			ref := marketID
			if _, err := s.adjustTx(ctx, tx, Adjustment{ID: lid, UserID: st.UserID, Delta: amt, Reason: reason, RefID: &ref, Now: now}); err != nil {
				return err
			}
		}

		out, err = scanMarket(tx.QueryRow(ctx,
			`UPDATE `+s.t("bet_markets")+`
			    SET status = $2, winning_option = $3, dust = $4, settled_at = $5
			  WHERE id = $1
			RETURNING `+marketColumns,
			m.ID, string(MarketSettled), winning, payouts.Dust, now,
		))
		return err
	})
	if err != nil {
		return Market{}, Payouts{}, err
	}
	return out, payouts, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
