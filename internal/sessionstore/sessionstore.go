// Package sessionstore holds per-session key/value slots, used to park
// the serialized history buffer between page loads.
package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is a session-scoped KV surface.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// NewSessionID mints a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process TTL store, the single-node default.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]memoryItem
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Memory{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]memoryItem),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(it.expires) {
		delete(m.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	m.items[key] = memoryItem{
		value:   append([]byte(nil), value...),
		expires: m.now().Add(m.ttl),
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) sweepLocked() {
	now := m.now()
	for k, it := range m.items {
		if now.After(it.expires) {
			delete(m.items, k)
		}
	}
}

// Slot binds one key in a store to the history persister interface.
type Slot struct {
	store Store
	key   string
}

func NewSlot(store Store, key string) *Slot {
	return &Slot{store: store, key: key}
}

func (s *Slot) Save(ctx context.Context, data []byte) error {
	return s.store.Put(ctx, s.key, data)
}

func (s *Slot) Load(ctx context.Context) ([]byte, error) {
	data, ok, err := s.store.Get(ctx, s.key)
	if err != nil || !ok {
		return nil, err
	}
	return data, nil
}
