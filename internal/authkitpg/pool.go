// Package authkitpg stores refresh tokens in PostgreSQL through pgx, with the
// schema managed by goose migrations embedded in the binary.
package authkitpg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// BuildPool creates a pgx pool with sane defaults.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("refresh_store.pgx.parse_config: %w", err)
	}
	config.MinConns = 1
	config.MaxConns = 8
	config.MaxConnLifetime = 30 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("refresh_store.pgx.pool: %w", err)
	}
	return pool, nil
}

// Open builds the pool, runs migrations, and returns a ready store. The
// returned close function releases the pool.
func Open(ctx context.Context, databaseURL string) (*RefreshTokenStore, func(), error) {
	pool, err := BuildPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	db := stdlib.OpenDBFromPool(pool)
	closeAll := func() {
		_ = db.Close()
		pool.Close()
	}
	if err := pool.Ping(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("refresh_store.pgx.ping: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		closeAll()
		return nil, nil, err
	}
	return NewRefreshTokenStore(db), closeAll, nil
}

// DB is the subset of *sql.DB the store uses.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
