// Package pgtest opens Postgres for integration tests.
//
// Tests are enabled when BYTEHACK_DATABASE_URL is set. Outside CI an unreachable
// server skips instead of failing so local runs stay fast.
package pgtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/dbschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDatabaseURL gates every integration test.
const EnvDatabaseURL = "BYTEHACK_DATABASE_URL"

// DB is a migrated, throwaway schema.
type DB struct {
	Pool   *pgxpool.Pool
	Schema string
}

// New opens a pool, migrates a fresh schema, and drops it when the test ends.
func New(t *testing.T) DB {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	c, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	schema := "bh_it_" + strings.ToLower(ids.MustULID(time.Now().UTC()))
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := dbschema.Up(ctx, raw, schema, quiet); err != nil {
		pool.Close()
		t.Fatalf("migrate %s: %v", schema, err)
	}

	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_, _ = pool.Exec(dropCtx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		pool.Close()
	})

	return DB{Pool: pool, Schema: schema}
}

// InsertUser creates a bare password user row for FK targets.
func (db DB) InsertUser(t *testing.T, userID string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	users := pgx.Identifier{db.Schema, "users"}.Sanitize()
	if _, err := db.Pool.Exec(ctx, `INSERT INTO `+users+` (id, password_hash) VALUES ($1, 'x')`, userID); err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func shouldSkip(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
