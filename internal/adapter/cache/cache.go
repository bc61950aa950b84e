// Package cache defines the façade's caching abstraction and two concrete
// backends: a Redis-backed implementation for production and an in-memory
// fallback for when Redis is unreachable.
package cache

import (
	"context"
	"time"
)

// Cache is the interface the façade depends on.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}
