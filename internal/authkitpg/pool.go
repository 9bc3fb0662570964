// Package authkitpg stores refresh token revocations in PostgreSQL through a pgx pool.
package authkitpg

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// BuildPool creates a pgx pool with sane defaults.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("revocation_store.postgres.parse: %w", err)
	}
	config.MinConns = 1
	config.MaxConns = 8
	config.MaxConnLifetime = 30 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	return pgxpool.NewWithConfig(ctx, config)
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("revocation_store.postgres.migrate: %w", err)
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("revocation_store.postgres.migrate: %w", err)
	}
	return nil
}

// Open builds a pool for databaseURL, migrates the schema and returns a ready store.
// The returned close function releases both the sql.DB wrapper and the pool.
func Open(ctx context.Context, databaseURL string) (*PostgresRevocationStore, func(), error) {
	pool, err := BuildPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	db := stdlib.OpenDBFromPool(pool)
	closeAll := func() {
		_ = db.Close()
		pool.Close()
	}
	if err := RunMigrations(ctx, db); err != nil {
		closeAll()
		return nil, nil, err
	}
	return NewPostgresRevocationStore(db), closeAll, nil
}
