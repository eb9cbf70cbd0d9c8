package invite

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the ledger in invite_codes and invite_code_redemptions.
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

const inviteColumns = `id, code, created_by, max_uses, uses, expires_at, description, created_at`

func scanInvite(row pgx.Row) (Invite, error) {
	var out Invite
	err := row.Scan(
		&out.ID,
		&out.Code,
		&out.CreatedBy,
		&out.MaxUses,
		&out.Uses,
		&out.ExpiresAt,
		&out.Description,
		&out.CreatedAt,
	)
	return out, err
}

func (s *PostgresStore) Create(ctx context.Context, inv Invite) (Invite, error) {
	if strings.TrimSpace(inv.ID) == "" || inv.Code == "" {
		return Invite{}, ErrInvalidInput
	}
	codes := pgIdent(s.schema, "invite_codes")

	out, err := scanInvite(s.pool.QueryRow(ctx,
		`INSERT INTO `+codes+` (id, code, created_by, max_uses, uses, expires_at, description, created_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6, $7)
		 RETURNING `+inviteColumns,
		inv.ID,
		inv.Code,
		inv.CreatedBy,
		inv.MaxUses,
		inv.ExpiresAt,
		inv.Description,
		inv.CreatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Invite{}, ErrCodeTaken
		}
		return Invite{}, err
	}
	return out, nil
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (Invite, error) {
	codes := pgIdent(s.schema, "invite_codes")
	out, err := scanInvite(s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM `+codes+` WHERE code = $1`,
		code,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, err
	}
	return out, nil
}

// Redeem increments uses behind a guard clause and appends the audit row in
// one transaction. Under READ COMMITTED a blocked UPDATE re-checks the guard
// against the committed row, so racing redeemers cannot overshoot max_uses.
func (s *PostgresStore) Redeem(ctx context.Context, in RedeemRecord) (Redemption, error) {
	if in.RedemptionID == "" || in.Code == "" || in.UserID == "" {
		return Redemption{}, ErrInvalidInput
	}
	codes := pgIdent(s.schema, "invite_codes")
	redemptions := pgIdent(s.schema, "invite_code_redemptions")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Redemption{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inviteID string
	err = tx.QueryRow(ctx,
		`UPDATE `+codes+`
		    SET uses = uses + 1
		  WHERE code = $1
		    AND (expires_at IS NULL OR expires_at > $2)
		    AND (max_uses IS NULL OR uses < max_uses)
		RETURNING id`,
		in.Code,
		in.Now,
	).Scan(&inviteID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Redemption{}, s.classify(ctx, tx, in)
		}
		return Redemption{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+redemptions+` (id, invite_code_id, user_id, redeemed_at) VALUES ($1, $2, $3, $4)`,
		in.RedemptionID,
		inviteID,
		in.UserID,
		in.Now,
	); err != nil {
		return Redemption{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Redemption{}, err
	}

	return Redemption{
		ID:         in.RedemptionID,
		InviteID:   inviteID,
		Code:       in.Code,
		UserID:     in.UserID,
		RedeemedAt: in.Now,
	}, nil
}

// classify explains why the guarded UPDATE matched nothing.
func (s *PostgresStore) classify(ctx context.Context, tx pgx.Tx, in RedeemRecord) error {
	codes := pgIdent(s.schema, "invite_codes")
	inv, err := scanInvite(tx.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM `+codes+` WHERE code = $1`,
		in.Code,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if err := inv.check(in.Now); err != nil {
		return err
	}
	// The row became redeemable between the UPDATE and this read; report
	// exhaustion rather than retrying.
	return ErrExhausted
}

func (s *PostgresStore) Release(ctx context.Context, code, userID string) error {
	codes := pgIdent(s.schema, "invite_codes")
	redemptions := pgIdent(s.schema, "invite_code_redemptions")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inviteID string
	err = tx.QueryRow(ctx,
		`DELETE FROM `+redemptions+`
		  WHERE id = (
		        SELECT r.id
		          FROM `+redemptions+` r
		          JOIN `+codes+` c ON c.id = r.invite_code_id
		         WHERE c.code = $1 AND r.user_id = $2
		         ORDER BY r.redeemed_at DESC, r.id DESC
		         LIMIT 1)
		RETURNING invite_code_id`,
		code,
		userID,
	).Scan(&inviteID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+codes+` SET uses = uses - 1 WHERE id = $1 AND uses > 0`,
		inviteID,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
