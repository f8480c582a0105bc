package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes Postgres raises when a serializable transaction loses a race.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// DefaultMaxRetries bounds automatic retries of serialization failures.
const DefaultMaxRetries = 32

// RetryPolicy tunes WithSerializableTx.
type RetryPolicy struct {
	MaxRetries int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
	// OnRetry, when set, is called before each retry.
	OnRetry func(attempt int, err error)
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return runTx(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
}

// WithSerializableTx runs fn in a SERIALIZABLE transaction and re-runs it from
// scratch when Postgres reports a serialization failure or deadlock.
func WithSerializableTx(ctx context.Context, pool *pgxpool.Pool, policy RetryPolicy, fn func(pgx.Tx) error) error {
	maxRetries := policy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	for attempt := 1; ; attempt++ {
		err := runTx(ctx, pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
		if err == nil || !IsRetryable(err) || attempt >= maxRetries {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		if policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * policy.Backoff):
			}
		}
	}
}

func runTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	code := sqlState(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
