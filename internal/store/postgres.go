package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"moderation-queue/internal/models"
)

var (
	// ErrNotFound is returned when a lookup or predicated write matched no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateKey is returned when an insert hits a unique constraint.
	ErrDuplicateKey = errors.New("store: duplicate key")
	// ErrLockTimeout is returned when the migration lock could not be taken in time.
	ErrLockTimeout = errors.New("store: migration lock timeout")
	// ErrUnknownStatus is returned when a row carries a status this build
	// does not know, for example one written by a newer release.
	ErrUnknownStatus = errors.New("store: unknown video status")
)

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps pgxpool for Postgres persistence. A Store handed to a WithTx
// callback is bound to that transaction instead of the pool.
type Store struct {
	pool *pgxpool.Pool
	db   Querier
}

// PoolOptions sizes the connection pool. Zero values keep pgx defaults.
type PoolOptions struct {
	MinConns int32
	MaxConns int32
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string, opts PoolOptions) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, db: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for components that need a dedicated
// session, such as the migrator.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// WithTx runs fn inside a single transaction. The transaction commits if fn
// returns nil and rolls back otherwise; transaction-scoped advisory locks
// taken inside fn are released either way.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.pool == nil {
		return errors.New("store: nested transactions are not supported")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AdvisoryXactLock blocks until the transaction-scoped advisory lock for key
// is held. Only meaningful on a Store bound by WithTx.
func (s *Store) AdvisoryXactLock(ctx context.Context, key int64) error {
	if s.pool != nil {
		return errors.New("store: advisory xact lock requires a transaction")
	}
	if _, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("advisory xact lock: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable. Backs the API readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("store: ping requires a pool")
	}
	return s.pool.Ping(ctx)
}

// mapPgErr turns driver errors the callers branch on into store sentinels.
func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

// checkStatus rejects statuses read back from the database that this build
// cannot interpret.
func checkStatus(status models.VideoStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownStatus, status)
	}
	return nil
}
