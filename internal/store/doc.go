// Package store provides the key-value timestamp stores the debouncer runs
// on, plus the durable job table used by the SQLite scheduler.
//
// # Contract
//
// The debouncer needs only three operations on independent string keys:
// Get, Set (with an optional TTL) and Delete. Each operation is expected to
// be linearizable per key; nothing is transactional across keys. Stores that
// can additionally delete a key only when it still holds an expected value
// implement Claimer, which lets admission close the double-admit race.
//
// # Implementations
//
//   - Store: SQLite (WAL mode) holding the kv and jobs tables
//   - Memory: process-local map, for tests and single-process use
//   - Postgres: pgx pool over a bouncer_kv table, for fleets of hosts
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Expired keys are invisible to Get and CompareAndDelete immediately and are
// physically removed by PurgeExpired.
package store
