package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/openclaw/link-server-go/internal/config"
)

// Postgres error codes that mean the transaction lost a race and can be rerun.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// DBTX is an interface that both *sqlx.DB and *sqlx.Tx satisfy.
// This allows repositories to work with either a direct connection or a transaction.
type DBTX interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var _ DBTX = (*sqlx.DB)(nil)
var _ DBTX = (*sqlx.Tx)(nil)

type DB struct {
	*sqlx.DB
}

// Connect opens the pool, retrying while the server is still starting up.
// ctx bounds the total time spent waiting.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	var db *sqlx.DB
	backoff := retry.WithMaxRetries(config.DBConnectAttempts-1, retry.NewExponential(config.DBConnectBackoff))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var err error
		db, err = sqlx.ConnectContext(ctx, "postgres", databaseURL)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("database not reachable")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(config.DBMaxOpenConns)
	db.SetMaxIdleConns(config.DBMaxIdleConns)
	db.SetConnMaxLifetime(config.DBConnMaxLifetime)

	return &DB{db}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// TxFunc is a function that runs within a transaction. It may be called more
// than once, so it must not keep state from an earlier attempt.
type TxFunc func(tx *sqlx.Tx) error

// WithTx runs fn in a READ COMMITTED transaction. A transaction aborted by a
// deadlock or serialization failure is rolled back and rerun; any other error
// from fn rolls back and is returned unchanged.
func (db *DB) WithTx(ctx context.Context, fn TxFunc) error {
	backoff := retry.WithMaxRetries(config.TxRetryAttempts-1, retry.WithJitter(config.TxRetryBackoff, retry.NewConstant(config.TxRetryBackoff)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := db.runTx(ctx, fn)
		if IsTransient(err) {
			log.Debug().Err(err).Msg("transaction conflict, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
}

func (db *DB) runTx(ctx context.Context, fn TxFunc) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// IsTransient reports whether err is a Postgres deadlock or serialization
// failure.
func IsTransient(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}
