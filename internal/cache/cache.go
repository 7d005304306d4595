// Package cache provides the shared content cache consulted by fetch workers.
package cache

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/expoforge/scout-cli/internal/model"
)

// Backend is the persistence layer behind the cache. The durable stores
// satisfy this interface directly; Memory provides a per-run fallback.
type Backend interface {
	GetContent(ctx context.Context, key string) (*model.CacheEntry, error)
	PutContent(ctx context.Context, entry model.CacheEntry) error
	DeleteContent(ctx context.Context, key string) error
}

// Cache fronts a Backend with single-flight claims so concurrent workers
// targeting the same key never issue duplicate network requests. Backend
// read failures degrade to a miss; they are logged, never propagated.
type Cache struct {
	backend Backend
	group   singleflight.Group
}

// New creates a Cache over the given backend.
func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Get looks up key. A backend error counts as a miss.
func (c *Cache) Get(ctx context.Context, key string) (*model.CacheEntry, bool) {
	entry, err := c.backend.GetContent(ctx, key)
	if err != nil {
		zap.L().Warn("cache: read failed, treating as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	return entry, true
}

// Put stores an entry. The caller decides how to handle a write failure;
// pipeline code logs and moves on.
func (c *Cache) Put(ctx context.Context, entry model.CacheEntry) error {
	return c.backend.PutContent(ctx, entry)
}

// Invalidate removes an entry so the next fetch goes back to the network.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.backend.DeleteContent(ctx, key)
}

// Claim executes fill for key with single-flight semantics: when several
// workers claim the same key at once, exactly one runs fill and the rest
// wait for its outcome. shared is true for the waiters, whose results
// count as cache hits. The backend is re-checked inside the flight so a
// fill that raced a just-completed one is served from the store instead
// of the network.
func (c *Cache) Claim(ctx context.Context, key string, fill func(ctx context.Context) (*model.CacheEntry, error)) (*model.CacheEntry, bool, error) {
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if entry, ok := c.Get(ctx, key); ok {
			return entry, nil
		}
		return fill(ctx)
	})
	if err != nil {
		return nil, shared, err
	}
	return v.(*model.CacheEntry), shared, nil
}
