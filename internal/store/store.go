// Package store implements the platform metadata store: typed
// accessors over the control-plane database, plus the transaction helper
// that coordinates multi-row invariants (project deletion cascades, key
// rotation, retention sweeps).
//
// Grounded in redbco-redb-open/services/mesh/internal/storage/postgres.go
// (a Storage type wrapping a pool, with a CreateTransaction method
// returning a type satisfying the same query interface as the pool) and
// redbco-redb-open/services/core/internal/services/database/database.go
// (per-entity Service types querying s.db.Pool() directly). DDL statements
// (CREATE DATABASE, CREATE ROLE, DROP DATABASE, DROP ROLE) never run
// through Store — they use internal/dbconn.AdminExec instead, since DDL
// must run outside any transaction.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dataforge/platform/internal/dbconn"
	"github.com/dataforge/platform/pkg/logger"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every typed
// accessor below can run either directly against the pool or inside a
// Transaction callback without duplicating its SQL.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the platform metadata store.
type Store struct {
	pool   *dbconn.Pool
	logger *logger.Logger
}

// New wraps an already-open platform database pool.
func New(pool *dbconn.Pool, log *logger.Logger) *Store {
	return &Store{pool: pool, logger: log}
}

// Q returns the default querier (the pool itself) for calls made outside
// a transaction.
func (s *Store) Q() Querier { return s.pool.Raw() }

// Transaction wraps fn in begin/commit/rollback. It is the only path
// allowed to coordinate the platform store's multi-row invariants.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	tx, err := s.pool.Raw().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && s.logger != nil {
			s.logger.Warnf("rollback failed after error %v: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
