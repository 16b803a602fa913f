package testhelpers

import (
	"context"
	"sync"
	"time"

	"harmoni-service/internal/cache"
)

type memEntry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process stand-in for the redis cache client. TTLs are
// honored lazily on read, and Expire lets a test force a key past its TTL.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (m *MemoryStore) live(key string) *memEntry {
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return entry
}

func (m *MemoryStore) SetString(_ context.Context, key, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memEntry{value: value, expiresAt: time.Now().Add(expiration)}
	return nil
}

func (m *MemoryStore) GetString(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.live(key)
	if entry == nil {
		return "", cache.ErrKeyNotFound
	}
	return entry.value, nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) != nil {
		return false, nil
	}
	m.entries[key] = &memEntry{value: value, expiresAt: time.Now().Add(expiration)}
	return true, nil
}

func (m *MemoryStore) Incr(_ context.Context, key string, expiration time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.live(key)
	if entry == nil {
		entry = &memEntry{expiresAt: time.Now().Add(expiration)}
		m.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// Expire drops a key immediately, simulating TTL expiry.
func (m *MemoryStore) Expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}
