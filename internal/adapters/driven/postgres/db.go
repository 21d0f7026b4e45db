package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// schemaLockKey serializes schema bootstrap across replicas starting together.
// CREATE EXTENSION IF NOT EXISTS is not safe to run concurrently.
const schemaLockKey int64 = 0x706f736272696467 // "posbridg"

const applicationName = "posbridge"

// DB is the posbridge connection pool. Stores and the advisory lock share it.
type DB struct {
	*sqlx.DB
}

// Config tunes the pool.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns pool defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// Connect opens the pool and pings it. Sessions are tagged with
// application_name unless the URL sets one.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	dsn, err := withApplicationName(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{DB: db}, nil
}

func withApplicationName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		// key=value DSNs are passed through untouched
		return raw, nil
	}
	q := u.Query()
	if q.Get("application_name") == "" {
		q.Set("application_name", applicationName)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// InitSchema applies schema.sql under a transaction-scoped advisory lock.
func (db *DB) InitSchema(ctx context.Context) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockKey); err != nil {
			return fmt.Errorf("failed to lock schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	})
}

// Ping reports whether postgres is reachable. Used by readiness checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Transaction runs fn in a transaction; fn's error rolls it back.
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func nullable[T any](p *T) sql.Null[T] {
	if p == nil {
		return sql.Null[T]{}
	}
	return sql.Null[T]{V: *p, Valid: true}
}

func ptr[T any](n sql.Null[T]) *T {
	if !n.Valid {
		return nil
	}
	v := n.V
	return &v
}
