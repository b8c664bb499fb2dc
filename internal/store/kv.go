package store

import (
	"context"
	"time"
)

//go:generate mockgen -source=kv.go -destination=mocks/mock_kv.go -package=mocks

// TimestampStore is the key-value contract the debouncer is built on.
//
// Get reports ok=false for missing or expired keys; that is not an error.
// Set overwrites unconditionally. A ttl of zero means the key never expires.
// Delete of a missing key is not an error.
type TimestampStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Claimer is implemented by stores that can atomically delete a key only if
// it still holds the expected value. It reports whether the key was deleted.
type Claimer interface {
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// expiry converts a TTL relative to now into an absolute deadline.
// The zero time means no expiry.
func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

var (
	_ TimestampStore = (*Store)(nil)
	_ Claimer        = (*Store)(nil)
	_ TimestampStore = (*Memory)(nil)
	_ Claimer        = (*Memory)(nil)
	_ TimestampStore = (*Postgres)(nil)
	_ Claimer        = (*Postgres)(nil)
)
