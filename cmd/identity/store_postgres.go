package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
// The pgx pool is owned by the caller; the store never closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "bytehack").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "bytehack",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) CreateAuthUser(ctx context.Context, in CreateAuthUserInput) (User, error) {
	const op = "identity.CreateAuthUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, emailNorm, err := normalizeCreateAuthUser(op, in)
	if err != nil {
		return User{}, err
	}

	userID, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, email, email_norm, password_hash, discord_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID,
		in.Email,
		emailNorm,
		in.PasswordHash,
		in.DiscordID,
		in.Now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return User{ID: userID, Email: in.Email, DiscordID: in.DiscordID, CreatedAt: in.Now}, nil
}

func (s *PostgresStore) DeleteAuthUser(ctx context.Context, userID string) error {
	const op = "identity.DeleteAuthUser"

	if strings.TrimSpace(userID) == "" {
		return invalid(op, "missing user_id")
	}
	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+users+` WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUser"
	ua, err := s.getUser(ctx, op, "id", userID)
	return ua.User, err
}

func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"
	return s.getUser(ctx, op, "email_norm", NormalizeEmail(email))
}

func (s *PostgresStore) GetUserByDiscordID(ctx context.Context, discordID string) (User, error) {
	const op = "identity.GetUserByDiscordID"
	ua, err := s.getUser(ctx, op, "discord_id", strings.TrimSpace(discordID))
	return ua.User, err
}

// getUser looks a user up by one of the fixed columns above; col is never user input.
func (s *PostgresStore) getUser(ctx context.Context, op, col, val string) (UserAuth, error) {
	if val == "" {
		return UserAuth{}, invalid(op, "missing "+col)
	}
	users := pgIdent(s.schema, "users")

	var out UserAuth
	var hash *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, discord_id, password_hash, created_at FROM `+users+` WHERE `+col+` = $1`,
		val,
	).Scan(&out.ID, &out.Email, &out.DiscordID, &hash, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
		}
		return UserAuth{}, err
	}
	if hash != nil {
		out.PasswordHash = *hash
	}
	return out, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, in CreateProfileInput) (Profile, error) {
	const op = "identity.CreateProfile"

	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	in, err := normalizeCreateProfile(op, in)
	if err != nil {
		return Profile{}, err
	}

	profiles := pgIdent(s.schema, "profiles")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+profiles+` (user_id, username, username_norm, role, coins, created_at)
		 VALUES ($1, $2, $3, $4, 0, $5)`,
		in.UserID,
		in.Username,
		NormalizeUsername(in.Username),
		string(in.Role),
		in.Now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Profile{}, ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return Profile{}, NotFoundError{Op: op, Resource: "user"}
		}
		return Profile{}, err
	}

	return Profile{UserID: in.UserID, Username: in.Username, Role: in.Role, CreatedAt: in.Now}, nil
}

func (s *PostgresStore) DeleteProfile(ctx context.Context, userID string) error {
	const op = "identity.DeleteProfile"

	profiles := pgIdent(s.schema, "profiles")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+profiles+` WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "profile"}
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	const op = "identity.GetProfile"

	profiles := pgIdent(s.schema, "profiles")
	var out Profile
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username, role, coins, created_at FROM `+profiles+` WHERE user_id = $1`,
		userID,
	).Scan(&out.UserID, &out.Username, &role, &out.Coins, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, NotFoundError{Op: op, Resource: "profile"}
		}
		return Profile{}, err
	}
	out.Role = Role(role)
	return out, nil
}

func (s *PostgresStore) SetRole(ctx context.Context, userID string, role Role) error {
	const op = "identity.SetRole"

	if !role.Valid() {
		return invalid(op, "invalid role")
	}
	profiles := pgIdent(s.schema, "profiles")
	tag, err := s.pool.Exec(ctx, `UPDATE `+profiles+` SET role = $2 WHERE user_id = $1`, userID, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "profile"}
	}
	return nil
}

func (s *PostgresStore) GetMFA(ctx context.Context, userID string) (MFA, error) {
	const op = "identity.GetMFA"

	var m MFA
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, secret, enabled_at, last_step, created_at FROM `+pgIdent(s.schema, "user_mfa")+` WHERE user_id = $1`,
		userID,
	).Scan(&m.UserID, &m.Secret, &m.EnabledAt, &m.LastStep, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MFA{}, NotFoundError{Op: op, Resource: "mfa"}
		}
		return MFA{}, err
	}
	return m, nil
}

func (s *PostgresStore) SaveMFASecret(ctx context.Context, userID, secret string, now time.Time) error {
	const op = "identity.SaveMFASecret"

	if strings.TrimSpace(secret) == "" {
		return invalid(op, "missing secret")
	}
	mfa := pgIdent(s.schema, "user_mfa")
	// An enabled enrollment is never overwritten; zero rows means it exists.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+mfa+` AS m (user_id, secret, enabled_at, last_step, created_at)
		 VALUES ($1, $2, NULL, 0, $3)
		 ON CONFLICT (user_id) DO UPDATE
		    SET secret = EXCLUDED.secret, last_step = 0, created_at = EXCLUDED.created_at
		  WHERE m.enabled_at IS NULL`,
		userID, secret, now,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return NotFoundError{Op: op, Resource: "user"}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ConflictError{Op: op, Field: "mfa"}
	}
	return nil
}

func (s *PostgresStore) EnableMFA(ctx context.Context, userID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "user_mfa")+` SET enabled_at = $2 WHERE user_id = $1`,
		userID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "identity.EnableMFA", Resource: "mfa"}
	}
	return nil
}

func (s *PostgresStore) AdvanceMFAStep(ctx context.Context, userID string, step int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "user_mfa")+` SET last_step = $2 WHERE user_id = $1 AND last_step < $2`,
		userID, step)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) DeleteMFA(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+pgIdent(s.schema, "user_mfa")+` WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "identity.DeleteMFA", Resource: "mfa"}
	}
	return nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names, then fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_users_email_norm":
		return "email", true
	case "uq_users_discord_id":
		return "discord_id", true
	case "uq_profiles_username_norm":
		return "username", true
	case "profiles_pkey":
		return "user", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "discord"):
			return "discord_id", true
		default:
			return "unique", true
		}
	}
}
