package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryCache implements Store using process-local storage.
type MemoryCache struct {
	config     *CacheConfig
	items      map[string]cacheItem
	mutex      sync.RWMutex
	locks      sync.Map // name -> chan struct{}
	cleanupCtx context.Context
	cancelFunc context.CancelFunc
}

type cacheItem struct {
	value      any
	expiration time.Time
}

func (i cacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewMemoryCache creates an unconnected memory engine. A nil config means
// no TTL and no size limit.
func NewMemoryCache(config *CacheConfig) *MemoryCache {
	if config == nil {
		config = &CacheConfig{}
	}
	return &MemoryCache{
		config: config,
		items:  make(map[string]cacheItem),
	}
}

// Connect starts the expiry sweeper when a cleanup interval is configured.
func (c *MemoryCache) Connect(_ context.Context) error {
	if c.config.CleanupInterval <= 0 {
		return nil
	}
	c.cleanupCtx, c.cancelFunc = context.WithCancel(context.Background())
	go c.startCleanupTimer(c.cleanupCtx)
	return nil
}

// Close stops the expiry sweeper.
func (c *MemoryCache) Close(_ context.Context) error {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	return nil
}

// Load implements Store. The producer runs without the cache lock held so it
// may itself read from the cache.
func (c *MemoryCache) Load(ctx context.Context, key string, produce Producer) (any, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if v, ok := c.get(key); ok {
		return v, nil
	}

	v, err := produce(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.set(key, v, c.config.DefaultTTL); err != nil && !errors.Is(err, ErrCacheFull) {
		return nil, err
	}
	return v, nil
}

// Delete removes an item from the cache
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
	return nil
}

// Clear removes all items from the cache
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]cacheItem)
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// Lock implements Locker for a single process.
func (c *MemoryCache) Lock(ctx context.Context, name string, _ time.Duration) (func(), error) {
	ch, _ := c.locks.LoadOrStore(name, make(chan struct{}, 1))
	sem := ch.(chan struct{})

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { <-sem }) }, nil
}

func (c *MemoryCache) get(key string) (any, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.items[key]
	if !found || item.expired(time.Now()) {
		return nil, false
	}
	return item.value, true
}

func (c *MemoryCache) set(key string, value any, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.items[key]; !exists && c.config.MaxItems > 0 && len(c.items) >= c.config.MaxItems {
		return ErrCacheFull
	}
	item := cacheItem{value: value}
	if ttl > 0 {
		item.expiration = time.Now().Add(ttl)
	}
	c.items[key] = item
	return nil
}

func (c *MemoryCache) startCleanupTimer(ctx context.Context) {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.sweep(now)
		case <-ctx.Done():
			return
		}
	}
}

// sweep drops entries that expired before now. Collector aggregations are
// usually stored without a TTL and are never swept.
func (c *MemoryCache) sweep(now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
		}
	}
}
