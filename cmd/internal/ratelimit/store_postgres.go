package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps buckets in the rate_limits table.
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

// NewPostgresStore constructs a PostgresStore. The pool is owned by the caller.
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
	return pgx.Identifier{s.schema, "rate_limits"}.Sanitize()
}

// Get loads the bucket for key.
func (s *PostgresStore) Get(ctx context.Context, key string) (Bucket, error) {
	var b Bucket
	err := s.pool.QueryRow(ctx,
		`SELECT key, count, window_end, last_refill FROM `+s.table()+` WHERE key = $1`,
		key,
	).Scan(&b.Key, &b.Count, &b.WindowEnd, &b.LastRefill)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bucket{}, ErrNotFound
		}
		return Bucket{}, err
	}
	return b, nil
}

// Put upserts the bucket.
func (s *PostgresStore) Put(ctx context.Context, b Bucket) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (key, count, window_end, last_refill)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		    SET count = EXCLUDED.count,
		        window_end = EXCLUDED.window_end,
		        last_refill = EXCLUDED.last_refill`,
		b.Key, b.Count, b.WindowEnd, b.LastRefill,
	)
	return err
}

// DeleteExpired drops buckets whose window ended before the given time.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE window_end < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
