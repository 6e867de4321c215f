// Package cache provides the cache store used by the collector registry to
// keep aggregated collector results between recollects.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Producer computes a value on a cache miss.
type Producer func(ctx context.Context) (any, error)

// Store is the cache collaborator of the collector registry.
type Store interface {
	// Load returns the cached value for key, calling produce and storing its
	// result on a miss. Producer errors are returned and nothing is stored.
	Load(ctx context.Context, key string, produce Producer) (any, error)

	// Delete evicts a single key.
	Delete(ctx context.Context, key string) error

	// Clear evicts every entry.
	Clear(ctx context.Context) error
}

// Locker is implemented by stores that can serialize recollects across
// processes. The returned unlock function is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, name string, ttl time.Duration) (unlock func(), err error)
}

// Epocher is implemented by stores shared between processes. The epoch
// advances on every Clear, from any process.
type Epocher interface {
	Epoch(ctx context.Context) (int64, error)
}

// New builds and connects the engine named by cfg.Engine.
func New(ctx context.Context, cfg *CacheConfig) (Store, error) {
	switch cfg.Engine {
	case "", "memory":
		c := NewMemoryCache(cfg)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case "redis":
		c := NewRedisCache(cfg)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, cfg.Engine)
	}
}

// Close closes s when the engine holds resources.
func Close(ctx context.Context, s Store) error {
	if c, ok := s.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}
