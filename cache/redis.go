package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache implements Store with Redis as the cross-process coordination
// point. Collected values usually hold functions and cannot be serialized, so
// they live in a process-local tier tagged with the Redis epoch they were built
// in. Clear bumps the shared epoch, which invalidates every process's local
// tier on its next Load.
type RedisCache struct {
	config *CacheConfig
	client *redis.Client

	mu    sync.Mutex
	items map[string]epochItem
}

type epochItem struct {
	value      any
	epoch      int64
	expiration time.Time
}

// NewRedisCache creates a new Redis cache engine
func NewRedisCache(config *CacheConfig) *RedisCache {
	return &RedisCache{
		config: config,
		items:  make(map[string]epochItem),
	}
}

// NewRedisCacheWithClient wraps an existing client; Connect is not needed.
func NewRedisCacheWithClient(config *CacheConfig, client *redis.Client) *RedisCache {
	c := NewRedisCache(config)
	c.client = client
	return c
}

// Connect establishes connection to Redis
func (c *RedisCache) Connect(ctx context.Context) error {
	opts, err := redis.ParseURL(c.config.RedisURL)
	if err != nil {
		return fmt.Errorf("cache: parse redis url: %w", err)
	}
	if c.config.RedisPassword != "" {
		opts.Password = c.config.RedisPassword
	}
	if c.config.RedisDB != 0 {
		opts.DB = c.config.RedisDB
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("cache: ping redis: %w", err)
	}
	c.client = client
	return nil
}

// Close closes the connection to Redis
func (c *RedisCache) Close(_ context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Epoch returns the shared epoch counter.
func (c *RedisCache) Epoch(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, ErrNotConnected
	}
	n, err := c.client.Get(ctx, c.config.KeyPrefix+"epoch").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: read epoch: %w", err)
	}
	return n, nil
}

// Load implements Store.
func (c *RedisCache) Load(ctx context.Context, key string, produce Producer) (any, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	epoch, err := c.Epoch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	item, ok := c.items[key]
	c.mu.Unlock()
	if ok && item.epoch == epoch && (item.expiration.IsZero() || time.Now().Before(item.expiration)) {
		return item.value, nil
	}

	v, err := produce(ctx)
	if err != nil {
		return nil, err
	}

	var exp time.Time
	if c.config.DefaultTTL > 0 {
		exp = time.Now().Add(c.config.DefaultTTL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && c.config.MaxItems > 0 && len(c.items) >= c.config.MaxItems {
		return v, nil
	}
	c.items[key] = epochItem{value: v, epoch: epoch, expiration: exp}
	return v, nil
}

// Delete implements Store. Only the local tier is affected.
func (c *RedisCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Clear implements Store by advancing the shared epoch.
func (c *RedisCache) Clear(ctx context.Context) error {
	if c.client == nil {
		return ErrNotConnected
	}
	if err := c.client.Incr(ctx, c.config.KeyPrefix+"epoch").Err(); err != nil {
		return fmt.Errorf("cache: advance epoch: %w", err)
	}
	c.mu.Lock()
	c.items = make(map[string]epochItem)
	c.mu.Unlock()
	return nil
}

// Lock implements Locker with SET NX PX and a token-checked release.
func (c *RedisCache) Lock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}
	if ttl <= 0 {
		ttl = c.config.LockTTL
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	key := c.config.KeyPrefix + "lock:" + name
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)
	wait := 10 * time.Millisecond

	for {
		acquired, err := c.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("cache: acquire lock %s: %w", name, err)
		}
		if acquired {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, name)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = releaseScript.Run(context.WithoutCancel(ctx), c.client, []string{key}, token).Err()
		})
	}, nil
}
