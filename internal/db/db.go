// Package db provides PostgreSQL-backed repositories for account
// entitlements and activity streaks. Repositories accept a DBTX so the same
// code runs against *pgxpool.Pool or inside a pgx.Tx.
//
// Every mutation is a single statement. Atomicity comes from the statement
// itself (conditional UPDATE, INSERT ... ON CONFLICT, CTE), not from
// client-side transactions.
package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stride/internal/config"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

//go:embed migrations/001_init.sql
var schemaSQL string

// NewPool opens a connection pool tuned from cfg. The pool is not pinged;
// callers that need fail-fast startup call Ping themselves.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		// The parse error can echo the DSN, so it is not wrapped.
		return nil, fmt.Errorf("parsing DATABASE_URL: invalid connection string")
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return pool, nil
}

// ApplySchema creates the tables this service owns if they do not exist.
// It is meant for local development; deployed databases are migrated out of
// band with the same file.
func ApplySchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthProbe reports database reachability to the health endpoint.
type HealthProbe struct {
	pool Pinger
}

func NewHealthProbe(pool Pinger) *HealthProbe {
	return &HealthProbe{pool: pool}
}

func (p *HealthProbe) Name() string { return "database" }

func (p *HealthProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
