package posttoken

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps nonces in post_tokens.
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

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "post_tokens"}.Sanitize()
}

func (s *PostgresStore) Insert(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (nonce, user_id, ip_address, created_at, expires_at, used)
		 VALUES ($1, $2, $3, $4, $5, false)`,
		r.Nonce, r.UserID, r.IP, r.CreatedAt, r.ExpiresAt,
	)
	return err
}

// Consume locks the nonce row, applies the redemption rules and marks it used.
func (s *PostgresStore) Consume(ctx context.Context, in ConsumeInput) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var r Record
	err = tx.QueryRow(ctx,
		`SELECT nonce, user_id, ip_address, created_at, expires_at, used, used_at
		   FROM `+s.table()+`
		  WHERE nonce = $1
		  FOR UPDATE`,
		in.Nonce,
	).Scan(&r.Nonce, &r.UserID, &r.IP, &r.CreatedAt, &r.ExpiresAt, &r.Used, &r.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownNonce
		}
		return err
	}

	if err := checkConsumable(r, in); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.table()+` SET used = true, used_at = $2 WHERE nonce = $1`,
		in.Nonce, in.Now,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
