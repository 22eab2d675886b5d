package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process implementation, used by tests and by
// single-node setups that do not want token survival across restarts.
type MemoryStore struct {
	Now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemoryStore) Put(ctx context.Context, key, payload string, ttl time.Duration) (Entry, error) {
	now := m.now().UTC().Truncate(time.Second)
	e := Entry{
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, old := range m.entries {
		if !old.ExpiresAt.After(now) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = e
	return e, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	now := m.now().UTC()
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !e.ExpiresAt.After(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (m *MemoryStore) Consume(ctx context.Context, key string) (Entry, bool, error) {
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	delete(m.entries, key)
	if !e.ExpiresAt.After(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}
