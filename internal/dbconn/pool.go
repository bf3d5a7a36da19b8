// Package dbconn wraps pgxpool.Pool construction for both the platform
// database and tenant databases, and the admin connection used for DDL
// statements that must run outside any pool/transaction (CREATE DATABASE,
// CREATE ROLE, DROP DATABASE, DROP ROLE).
//
// Grounded in redbco-redb-open/pkg/database (postgres.go): ParseConfig +
// per-field assignment to tolerate special characters in passwords, a
// thin Pool()/Close() wrapper, and a standalone admin-connection helper
// for CREATE DATABASE that must run outside pgx's transaction machinery.
package dbconn

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config describes how to reach a single Postgres database.
type Config struct {
	Host              string
	Port              int
	Database          string
	User              string
	Password          string
	SSLMode           string
	MaxConnections    int32
	ConnectionTimeout time.Duration
}

// DSN renders the config as a libpq connection string, used only for
// subprocess invocations (pg_dump/pg_restore) that need a single string.
func (c Config) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, sslmode)
}

// Pool wraps a pgxpool.Pool for a single (project, principal) or the
// platform database.
type Pool struct {
	pool *pgxpool.Pool
}

// Open creates and connects a new pool, pinging it once to fail fast on
// bad credentials or network errors.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}

	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("build connection config: %w", err)
	}

	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	if cfg.SSLMode == "disable" || cfg.SSLMode == "" {
		poolConfig.ConnConfig.TLSConfig = nil
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Raw returns the underlying pgxpool.Pool for query execution.
func (p *Pool) Raw() *pgxpool.Pool { return p.pool }

// Close drains and closes the pool.
func (p *Pool) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// AdminExec runs a single DDL statement against the admin database (e.g.
// "postgres") using a one-off connection — never inside a transaction or
// a shared pool, per the platform's provisioning invariant that DDL is
// executed outside transactional scope.
func AdminExec(ctx context.Context, adminCfg Config, sql string) error {
	pool, err := Open(ctx, adminCfg)
	if err != nil {
		return fmt.Errorf("connect to admin database: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Raw().Exec(ctx, sql); err != nil {
		return fmt.Errorf("exec %q: %w", sql, err)
	}
	return nil
}
