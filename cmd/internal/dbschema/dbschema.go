// Package dbschema owns the SQL migrations and applies them with golang-migrate.
//
// Migration files use unqualified table names; the target schema is selected via
// search_path on a dedicated pool, so the same files serve production ("bytehack")
// and per-test schemas.
package dbschema

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// DefaultSchema is the Postgres schema every store uses unless configured otherwise.
const DefaultSchema = "bytehack"

const migrationsTable = "schema_migrations"

//go:embed migrations/*.sql
var files embed.FS

// Up applies all pending migrations and returns the resulting version.
func Up(ctx context.Context, databaseURL, schema string, log *slog.Logger) (uint, error) {
	return run(ctx, databaseURL, schema, log, func(m *migrate.Migrate) error { return m.Up() })
}

// Down rolls back steps migrations; steps <= 0 rolls back everything.
func Down(ctx context.Context, databaseURL, schema string, steps int, log *slog.Logger) (uint, error) {
	return run(ctx, databaseURL, schema, log, func(m *migrate.Migrate) error {
		if steps <= 0 {
			return m.Down()
		}
		return m.Steps(-steps)
	})
}

func run(ctx context.Context, databaseURL, schema string, log *slog.Logger, step func(*migrate.Migrate) error) (version uint, err error) {
	if log == nil {
		log = slog.Default()
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = DefaultSchema
	}

	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return 0, fmt.Errorf("parse database url: %w", err)
	}
	pcfg.MaxConns = 2
	pcfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{
		MigrationsTable: migrationsTable,
		SchemaName:      schema,
	})
	if err != nil {
		_ = db.Close()
		return 0, fmt.Errorf("init migrate driver: %w", err)
	}

	src, err := iofs.New(files, "migrations")
	if err != nil {
		_ = driver.Close()
		return 0, fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return 0, fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()

	if v, dirty, verr := m.Version(); verr == nil && dirty {
		// A dirty version failed half way; step back so the next run applies it again.
		to, perr := previousVersion(src, v)
		if perr != nil {
			return 0, fmt.Errorf("resolve version before dirty %d: %w", v, perr)
		}
		log.Warn("db.migrate.dirty", "schema", schema, "version", v, "force_to", to)
		if ferr := m.Force(to); ferr != nil {
			return 0, fmt.Errorf("force version %d: %w", to, ferr)
		}
	}

	switch serr := step(m); {
	case errors.Is(serr, migrate.ErrNoChange):
		log.Info("db.migrate.no_change", "schema", schema)
	case serr != nil:
		log.Error("db.migrate.fail", "schema", schema, "err", serr)
		return 0, fmt.Errorf("migrate: %w", serr)
	}

	v, _, verr := m.Version()
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		v = 0
	case verr != nil:
		return 0, verr
	}

	log.Info("db.migrate.ok", "schema", schema, "version", v)
	return v, nil
}

// previousVersion is the migration applied before v, or migrate.NilVersion
// when v is the first one.
func previousVersion(src source.Driver, v uint) (int, error) {
	prev, err := src.Prev(v)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return database.NilVersion, nil
	case err != nil:
		return 0, err
	}
	return int(prev), nil // #nosec G115 -- migration versions are small.
}
