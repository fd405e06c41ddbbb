package usage

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

type entry struct {
	value   int64
	expires time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu    sync.Mutex
	clock clock.PassiveClock
	items map[string]entry
}

// NewMemoryCache constructs a MemoryCache; a nil clock uses wall time.
func NewMemoryCache(c clock.PassiveClock) *MemoryCache {
	if c == nil {
		c = clock.RealClock{}
	}
	return &MemoryCache{clock: c, items: make(map[string]entry)}
}

func (m *MemoryCache) live(key string) (entry, bool) {
	e, ok := m.items[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.items, key)
		return entry{}, false
	}
	return e, true
}

// Get returns a live cached value.
func (m *MemoryCache) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	return e.value, ok, nil
}

// Set stores value for ttl; zero ttl never expires.
func (m *MemoryCache) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}
	m.items[key] = e
	return nil
}

// Adjust adds delta to a live value, keeping its expiry.
func (m *MemoryCache) Adjust(ctx context.Context, key string, delta int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return false, nil
	}
	e.value += delta
	if e.value < 0 {
		e.value = 0
	}
	m.items[key] = e
	return true, nil
}

// Forget drops the key.
func (m *MemoryCache) Forget(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

var _ Cache = (*MemoryCache)(nil)
