// Package cache holds the Redis-backed search-result cache. Full records
// live in Postgres with their own expiry column; search result lists are
// cheap, query-keyed and short-lived, which is exactly what Redis TTLs are
// for.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parfumdev/fragrance-scraper/internal/models"
)

const searchKeyPrefix = "search:"

type SearchCache struct {
	client redis.Cmdable
	logger *slog.Logger
}

func NewSearchCache(client redis.Cmdable, logger *slog.Logger) *SearchCache {
	return &SearchCache{
		client: client,
		logger: logger.With("component", "search_cache"),
	}
}

func searchKey(query string) string {
	return searchKeyPrefix + strings.ToLower(strings.TrimSpace(query))
}

// Get returns the cached result list for query, or nil on a miss. Cache
// failures degrade to a miss; the caller fetches fresh.
func (c *SearchCache) Get(ctx context.Context, query string) ([]models.SearchResult, error) {
	data, err := c.client.Get(ctx, searchKey(query)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Warn("search cache read failed", "query", query, "error", err)
		return nil, nil
	}

	var results []models.SearchResult
	if err := json.Unmarshal(data, &results); err != nil {
		// A corrupt entry would otherwise poison every lookup until its
		// TTL; drop it and fall through to a fresh fetch.
		c.logger.Warn("discarding corrupt search cache entry", "query", query, "error", err)
		if delErr := c.client.Del(ctx, searchKey(query)).Err(); delErr != nil {
			c.logger.Warn("failed to delete corrupt search cache entry", "query", query, "error", delErr)
		}
		return nil, nil
	}
	return results, nil
}

func (c *SearchCache) Set(ctx context.Context, query string, results []models.SearchResult, ttl time.Duration) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal search results: %w", err)
	}
	if err := c.client.Set(ctx, searchKey(query), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache search results: %w", err)
	}
	return nil
}

// Clear drops every cached search result list.
func (c *SearchCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, searchKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan search keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete search keys: %w", err)
	}
	return nil
}
