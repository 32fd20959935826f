package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `env:"SANCTIOND_CACHE"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `env:"SANCTIOND_CACHE_SIZE"`
	LocalTTL     time.Duration `env:"SANCTIOND_CACHE_LOCAL_TTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `env:"SANCTIOND_REDIS_ADDR"`
	RedisPassword string `env:"SANCTIOND_REDIS_PASSWORD"`
	RedisDB       int    `env:"SANCTIOND_REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `env:"SANCTIOND_CACHE_TWO_PHASE"` // If true, check local first, then Redis

	// LookupTTL bounds how long structure lookups and recidivism counts are reused.
	LookupTTL time.Duration `env:"SANCTIOND_LOOKUP_TTL"`
}
