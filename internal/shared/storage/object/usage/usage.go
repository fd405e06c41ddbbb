// Package usage caches per-owner storage consumption. Counters are adjusted
// only while a value is cached; otherwise the key is dropped and recomputed
// from the source of truth on the next read.
package usage

import (
	"context"
	"fmt"
	"time"
)

// TTL bounds how long a cached total is trusted.
const TTL = 24 * time.Hour

// Key returns the cache key for an arbitrator's object storage usage.
func Key(arbitratorID int64) string {
	return fmt.Sprintf("arbitrator_storage_size_onb_%d", arbitratorID)
}

// Cache stores usage totals.
type Cache interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	// Adjust adds delta to a cached value (floored at zero) and reports
	// whether a value was present.
	Adjust(ctx context.Context, key string, delta int64) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Source computes the authoritative total.
type Source interface {
	TotalSize(ctx context.Context, arbitratorID int64, provider int) (int64, error)
}

// Meter reads and adjusts usage for one provider.
type Meter struct {
	Cache    Cache
	Source   Source
	Provider int
}

// Current returns the cached total, recomputing it when absent.
func (m *Meter) Current(ctx context.Context, arbitratorID int64) (int64, error) {
	key := Key(arbitratorID)
	if v, ok, err := m.Cache.Get(ctx, key); err == nil && ok {
		return v, nil
	}
	total, err := m.Source.TotalSize(ctx, arbitratorID, m.Provider)
	if err != nil {
		return 0, fmt.Errorf("compute storage usage: %w", err)
	}
	_ = m.Cache.Set(ctx, key, total, TTL)
	return total, nil
}

// Add adjusts a cached total by delta, dropping the key when nothing is cached.
func (m *Meter) Add(ctx context.Context, arbitratorID, delta int64) error {
	key := Key(arbitratorID)
	if ok, err := m.Cache.Adjust(ctx, key, delta); err != nil || !ok {
		return m.Cache.Forget(ctx, key)
	}
	return nil
}
