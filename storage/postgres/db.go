// Package postgres provides a pgx-backed implementation of the flow, token,
// and client stores. Schema migrations are embedded and applied with
// golang-migrate.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lakefield/authcore/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn, and pgx.Tx, so the store
// works the same inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements storage.FlowStore, storage.TokenStore, and
// storage.ClientStore over a relational schema. The user/account store is an
// external collaborator and is not part of this backend.
type Store struct {
	db DBTX
}

// Compile-time interface checks
var (
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
)

// NewStore creates a store over an existing connection, pool, or transaction
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// Migrate applies embedded schema migrations.
// dsn is a database source name in postgres:// format.
func Migrate(dsn string) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	// golang-migrate's pgx/v5 driver expects a pgx5:// scheme
	migrator, err := migrate.NewWithSourceInstance(
		"iofs",
		source,
		strings.NewReplacer(
			"postgres://", "pgx5://",
			"postgresql://", "pgx5://",
		).Replace(dsn),
	)
	if err != nil {
		return fmt.Errorf("prepare migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Connect opens a connection pool
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("initialize connection pool: %w", err)
	}
	return pool, nil
}

// ConnectAndMigrate applies migrations and opens a connection pool
func ConnectAndMigrate(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	return Connect(ctx, dsn)
}
