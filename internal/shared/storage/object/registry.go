package object

import (
	"context"
	"sync"
)

// Builder constructs a provider bound to one account.
type Builder func(ctx context.Context, account Account) (Provider, error)

// Registry selects a provider per account by storage type.
type Registry struct {
	mu       sync.RWMutex
	builders map[Type]Builder
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[Type]Builder)}
}

// Register binds a builder to a storage type.
func (r *Registry) Register(t Type, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[t] = b
}

// For returns the provider for the account, or *UnconfiguredError.
func (r *Registry) For(ctx context.Context, account Account) (Provider, error) {
	if account.Type == 0 {
		return nil, &UnconfiguredError{Type: account.Type, Reason: "no storage selected"}
	}
	r.mu.RLock()
	b, ok := r.builders[account.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnconfiguredError{Type: account.Type, Reason: "unknown provider"}
	}
	return b(ctx, account)
}
