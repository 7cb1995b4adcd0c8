// ABOUTME: In-memory TTL implementation of the key-value store
// ABOUTME: A background goroutine sweeps expired entries; safe for concurrent use

package kvstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	values    []string
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is a process-local Store for tests and single-binary
// deployments without Redis.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	done    chan struct{}
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store. A background goroutine
// periodically removes expired entries.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go m.cleanup()
	return m
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	m.entries[key] = &memoryEntry{value: value, expiresAt: expiry(now, ttl)}
	return true, nil
}

func (m *MemoryStore) Append(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		e = &memoryEntry{}
		m.entries[key] = e
	}
	e.values = append(e.values, value)
	e.expiresAt = expiry(now, ttl)
	return nil
}

func (m *MemoryStore) List(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return nil, nil
	}
	out := make([]string, len(e.values))
	copy(out, e.values)
	return out, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}

func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
