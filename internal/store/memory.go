package store

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/bouncer/internal/clock"
)

// Memory is a process-local TimestampStore.
// It is safe for concurrent use; every operation takes the lock, which makes
// CompareAndDelete atomic.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	clock clock.Clock
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// NewMemory creates an empty store. A nil clock means the system clock.
func NewMemory(c clock.Clock) *Memory {
	return &Memory{
		items: make(map[string]memoryEntry),
		clock: clock.OrSystem(c),
	}
}

// Get returns the live value stored under key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return "", false, nil
	}
	if !e.live(m.clock.Now()) {
		delete(m.items, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = memoryEntry{value: value, expiresAt: expiry(m.clock.Now(), ttl)}
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

// CompareAndDelete removes key only if it is live and holds expected.
func (m *Memory) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok || !e.live(m.clock.Now()) || e.value != expected {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

// PurgeExpired removes expired entries and returns how many were removed.
func (m *Memory) PurgeExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var n int64
	for key, e := range m.items {
		if !e.live(now) {
			delete(m.items, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
