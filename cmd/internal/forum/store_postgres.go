package forum

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists threads and replies.
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

const threadColumns = `id, author_id, title, body, reply_count, created_at, updated_at`

func scanThread(row pgx.Row) (Thread, error) {
	var t Thread
	err := row.Scan(&t.ID, &t.AuthorID, &t.Title, &t.Body, &t.ReplyCount, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *PostgresStore) CreateThread(ctx context.Context, t Thread) (Thread, error) {
	out, err := scanThread(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.t("threads")+` (id, author_id, title, body, reply_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6)
		 RETURNING `+threadColumns,
		t.ID, t.AuthorID, t.Title, t.Body, t.CreatedAt, t.UpdatedAt,
	))
	if isFKViolation(err) {
		return Thread{}, ErrNotFound
	}
	return out, err
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (Thread, error) {
	t, err := scanThread(s.pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM `+s.t("threads")+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) ListThreads(ctx context.Context, before string, limit int) ([]Thread, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+threadColumns+` FROM `+s.t("threads")+`
		  WHERE ($1 = '' OR id < $1)
		  ORDER BY id DESC
		  LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (Thread, error) { return scanThread(r) })
}

func (s *PostgresStore) CreateReply(ctx context.Context, r Reply) (Reply, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Reply{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE `+s.t("threads")+` SET reply_count = reply_count + 1, updated_at = $2 WHERE id = $1`,
		r.ThreadID, r.CreatedAt)
	if err != nil {
		return Reply{}, err
	}
	if tag.RowsAffected() == 0 {
		return Reply{}, ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t("replies")+` (id, thread_id, author_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.ThreadID, r.AuthorID, r.Body, r.CreatedAt,
	); err != nil {
		if isFKViolation(err) {
			return Reply{}, ErrNotFound
		}
		return Reply{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reply{}, err
	}
	return r, nil
}

func (s *PostgresStore) ListReplies(ctx context.Context, threadID string, limit int) ([]Reply, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, author_id, body, created_at FROM `+s.t("replies")+`
		  WHERE thread_id = $1 ORDER BY created_at, id LIMIT $2`,
		threadID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Reply, error) {
		var r Reply
		err := row.Scan(&r.ID, &r.ThreadID, &r.AuthorID, &r.Body, &r.CreatedAt)
		return r, err
	})
}

func (s *PostgresStore) ToggleReaction(ctx context.Context, r Reaction) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+s.t("forum_reactions")+` WHERE thread_id = $1 AND user_id = $2 AND kind = $3`,
		r.ThreadID, r.UserID, r.Kind)
	if err != nil {
		return false, err
	}
	added := tag.RowsAffected() == 0
	if added {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.t("forum_reactions")+` (thread_id, user_id, kind, created_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (thread_id, user_id, kind) DO NOTHING`,
			r.ThreadID, r.UserID, r.Kind, r.CreatedAt,
		); err != nil {
			if isFKViolation(err) {
				return false, ErrNotFound
			}
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return added, nil
}

func (s *PostgresStore) ReactionCounts(ctx context.Context, threadID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, count(*) FROM `+s.t("forum_reactions")+` WHERE thread_id = $1 GROUP BY kind`,
		threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
