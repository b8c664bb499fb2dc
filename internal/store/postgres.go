package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/bouncer/internal/clock"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS bouncer_kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    expires_at TIMESTAMPTZ
)`

// Postgres is a TimestampStore shared by every host that can reach the
// database. Expiry is evaluated against the store's clock, not the
// database's, so all hosts must agree on time within the debounce buffer.
type Postgres struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

// OpenPostgres connects to dsn and creates the bouncer_kv table if needed.
func OpenPostgres(ctx context.Context, dsn string, c clock.Clock) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	return &Postgres{pool: pool, clock: clock.OrSystem(c)}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Get returns the live value stored under key.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx, `
		SELECT value FROM bouncer_kv
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`, key, p.clock.Now()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key.
func (p *Postgres) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if deadline := expiry(p.clock.Now(), ttl); !deadline.IsZero() {
		expiresAt = &deadline
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO bouncer_kv (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM bouncer_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// CompareAndDelete removes key only if it is live and holds expected.
func (p *Postgres) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM bouncer_kv
		WHERE key = $1 AND value = $2 AND (expires_at IS NULL OR expires_at > $3)
	`, key, expected, p.clock.Now())
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %q: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeExpired removes expired rows and returns how many were removed.
func (p *Postgres) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM bouncer_kv WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, p.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IsTransient reports whether err is a Postgres failure worth retrying:
// connection loss, serialization failures, deadlocks and resource exhaustion.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch {
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgerrcode.IsTransactionRollback(pgErr.Code),
		pgerrcode.IsInsufficientResources(pgErr.Code),
		pgErr.Code == pgerrcode.AdminShutdown,
		pgErr.Code == pgerrcode.CannotConnectNow:
		return true
	}
	return false
}

// IsPermanent reports whether err is a Postgres failure that retrying will
// not fix, such as a constraint violation or a missing table.
func IsPermanent(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && !IsTransient(err)
}
