// Package offercache caches assembled job offer reads, keyed by external id.
package offercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/offer-ingest/shared/redis"
)

// Store is the key-value backend; *redis.Client implements it
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const keyPrefix = "job_offer:"

// Key returns the cache key of a job offer
func Key(externalID string) string {
	return keyPrefix + externalID
}

// Cache stores JSON documents per job offer. The API fills it on reads and the
// worker invalidates entries after committing a new version.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a new Cache
func New(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{store: store, ttl: ttl, logger: logger}
}

// Get decodes the cached document into dest and reports whether there was one
func (c *Cache) Get(ctx context.Context, externalID string, dest any) (bool, error) {
	data, err := c.store.Get(ctx, Key(externalID))
	if errors.Is(err, redis.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// a bad entry is dropped and treated as a miss
		c.logger.Warn("Discarding undecodable cache entry",
			slog.String("external_id", externalID),
			slog.String("error", err.Error()),
		)
		_ = c.store.Del(ctx, Key(externalID))
		return false, nil
	}
	return true, nil
}

// Set caches v for externalID
func (c *Cache) Set(ctx context.Context, externalID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.store.Set(ctx, Key(externalID), data, c.ttl)
}

// Invalidate drops the cached document for externalID
func (c *Cache) Invalidate(ctx context.Context, externalID string) error {
	return c.store.Del(ctx, Key(externalID))
}
