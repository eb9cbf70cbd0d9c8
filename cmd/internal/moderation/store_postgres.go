package moderation

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists bans and IP blacklist entries.
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

// tableFor maps a kind to its table and subject column.
func (s *PostgresStore) tableFor(kind Kind) (table, column string, err error) {
	switch kind {
	case KindUser:
		return pgx.Identifier{s.schema, "bans"}.Sanitize(), "user_id", nil
	case KindIP:
		return pgx.Identifier{s.schema, "ip_blacklist"}.Sanitize(), "ip_address", nil
	default:
		return "", "", ErrInvalidInput
	}
}

func (s *PostgresStore) ActiveUserBans(ctx context.Context, userID string) ([]Entry, error) {
	return s.active(ctx, KindUser, userID)
}

func (s *PostgresStore) ActiveIPEntries(ctx context.Context, ip string) ([]Entry, error) {
	return s.active(ctx, KindIP, ip)
}

func (s *PostgresStore) active(ctx context.Context, kind Kind, subject string) ([]Entry, error) {
	table, col, err := s.tableFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, `+col+`, reason, issued_by, created_at, expires_at, active
		   FROM `+table+`
		  WHERE `+col+` = $1 AND active
		  ORDER BY created_at DESC`,
		subject,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{Kind: kind}
		if err := rows.Scan(&e.ID, &e.Subject, &e.Reason, &e.IssuedBy, &e.CreatedAt, &e.ExpiresAt, &e.Active); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, e Entry) error {
	table, col, err := s.tableFor(e.Kind)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, `+col+`, reason, issued_by, created_at, expires_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Subject, e.Reason, e.IssuedBy, e.CreatedAt, e.ExpiresAt, e.Active,
	)
	return err
}

func (s *PostgresStore) Deactivate(ctx context.Context, kind Kind, subject string, now time.Time) (int64, error) {
	table, col, err := s.tableFor(kind)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+` SET active = false, lifted_at = $2 WHERE `+col+` = $1 AND active`,
		subject, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
