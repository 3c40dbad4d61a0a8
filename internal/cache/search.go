// Package cache implements the Redis-backed search result cache.
//
// Entries live for two minutes, so repeated identical searches inside that
// window skip both the embedding call and the vector scan. Cache failures
// are logged and otherwise invisible; a broken Redis degrades to uncached
// searches.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/recall-labs/recall/internal/db"
)

const searchTTL = 120 * time.Second

// SearchCache stores serialized search results keyed by query and limit.
type SearchCache struct {
	redis  *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSearchCache creates a new search cache
func NewSearchCache(rdb *redis.Client, logger *zap.Logger) *SearchCache {
	return &SearchCache{
		redis:  rdb,
		logger: logger,
		ttl:    searchTTL,
	}
}

// Key derives the cache key for a query/limit pair: a "search_cache:"
// prefix plus the first 16 hex characters of sha256("query:limit").
func Key(query string, limit int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", query, limit)))
	return "search_cache:" + hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached rows for a query/limit pair, if present.
func (c *SearchCache) Get(ctx context.Context, query string, limit int) ([]db.SearchRow, bool) {
	val, err := c.redis.Get(ctx, Key(query, limit)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Search cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var rows []db.SearchRow
	if err := json.Unmarshal([]byte(val), &rows); err != nil {
		c.logger.Warn("Discarding corrupt search cache entry",
			zap.String("key", Key(query, limit)),
			zap.Error(err))
		return nil, false
	}

	return rows, true
}

// Put stores rows for a query/limit pair. Best effort; failures only warn.
func (c *SearchCache) Put(ctx context.Context, query string, limit int, rows []db.SearchRow) {
	data, err := json.Marshal(rows)
	if err != nil {
		c.logger.Warn("Failed to serialize search results for cache", zap.Error(err))
		return
	}

	if err := c.redis.Set(ctx, Key(query, limit), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Search cache write failed", zap.Error(err))
	}
}
