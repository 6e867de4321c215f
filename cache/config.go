package cache

import (
	"time"
)

// CacheConfig defines the configuration for the collector cache store.
//
// Example YAML configuration:
//
//	cache:
//	  engine: redis
//	  defaultTTL: 0s
//	  redisURL: redis://localhost:6379/1
//	  keyPrefix: "myapp:collect:"
//
// Example environment variables:
//
//	MODHOST_CACHE_ENGINE=memory
//	MODHOST_CACHE_MAX_ITEMS=256
type CacheConfig struct {
	// Engine specifies the cache engine to use.
	// Supported values: "memory", "redis"
	Engine string `json:"engine" yaml:"engine" toml:"engine" env:"ENGINE" mapstructure:"engine" default:"memory"`

	// DefaultTTL is the lifetime of a collected entry. Zero keeps entries until
	// the next recollect, which is what collector caches normally want.
	DefaultTTL time.Duration `json:"defaultTTL" yaml:"defaultTTL" toml:"defaultTTL" env:"DEFAULT_TTL" mapstructure:"defaultTTL"`

	// CleanupInterval is how often expired items are swept from the local tier.
	CleanupInterval time.Duration `json:"cleanupInterval" yaml:"cleanupInterval" toml:"cleanupInterval" env:"CLEANUP_INTERVAL" mapstructure:"cleanupInterval" default:"60s"`

	// MaxItems bounds the number of entries kept in memory. Zero means unbounded.
	MaxItems int `json:"maxItems" yaml:"maxItems" toml:"maxItems" env:"MAX_ITEMS" mapstructure:"maxItems"`

	// RedisURL is the connection URL for the Redis server.
	// Format: redis://[username:password@]host:port[/database]
	RedisURL string `json:"redisURL" yaml:"redisURL" toml:"redisURL" env:"REDIS_URL" mapstructure:"redisURL"`

	// RedisPassword overrides the password in RedisURL when set.
	RedisPassword string `json:"redisPassword" yaml:"redisPassword" toml:"redisPassword" env:"REDIS_PASSWORD" mapstructure:"redisPassword"`

	// RedisDB overrides the database in RedisURL when non-zero.
	RedisDB int `json:"redisDB" yaml:"redisDB" toml:"redisDB" env:"REDIS_DB" mapstructure:"redisDB"`

	// KeyPrefix namespaces the epoch and lock keys in Redis.
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix" toml:"keyPrefix" env:"KEY_PREFIX" mapstructure:"keyPrefix" default:"modhost:collect:"`

	// LockTTL bounds how long a recollect lock may be held before it expires.
	LockTTL time.Duration `json:"lockTTL" yaml:"lockTTL" toml:"lockTTL" env:"LOCK_TTL" mapstructure:"lockTTL" default:"30s"`
}
