package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/threat-ingestor/internal/domain"
)

const placeKeyPrefix = "geocode:place:"

// PlaceCache is the hot tier of the geocode chain: previously resolved
// place names in redis with a TTL. If redis becomes unreachable the cache
// degrades to miss-always rather than failing resolution.
type PlaceCache struct {
	client      *redis.Client
	logger      *slog.Logger
	ttl         time.Duration
	isAvailable atomic.Bool
}

// NewPlaceCache creates a redis-backed place cache.
func NewPlaceCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *PlaceCache {
	c := &PlaceCache{
		client: client,
		logger: logger.With("component", "place_cache"),
		ttl:    ttl,
	}
	c.isAvailable.Store(true)
	return c
}

// StartHealthCheck monitors redis connectivity so a dead cache stops being
// consulted on the hot path.
func (c *PlaceCache) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.client.Ping(ctx).Err()
			if err != nil {
				if c.isAvailable.CompareAndSwap(true, false) {
					c.logger.Warn("redis place cache lost, degrading to miss-always", "error", err)
				}
			} else {
				if c.isAvailable.CompareAndSwap(false, true) {
					c.logger.Info("redis place cache recovered")
				}
			}
		}
	}
}

// Lookup returns a cached resolution, or domain.ErrNotFound on miss or when
// redis is unavailable.
func (c *PlaceCache) Lookup(ctx context.Context, place string) (*domain.GeocodeResult, error) {
	if !c.isAvailable.Load() {
		return nil, domain.ErrNotFound
	}

	data, err := c.client.Get(ctx, placeKey(place)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Warn("place cache read failed", "error", err)
		return nil, domain.ErrNotFound
	}

	var result domain.GeocodeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("corrupt place cache entry: %w", err)
	}
	return &result, nil
}

// Store caches a resolution. Failures are logged, not returned: the durable
// postgres tier behind this one still has the data.
func (c *PlaceCache) Store(ctx context.Context, place string, result domain.GeocodeResult) error {
	if !c.isAvailable.Load() {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal place cache entry: %w", err)
	}
	if err := c.client.Set(ctx, placeKey(place), data, c.ttl).Err(); err != nil {
		c.logger.Warn("place cache write failed", "error", err)
	}
	return nil
}

func placeKey(place string) string {
	return placeKeyPrefix + strings.ToLower(strings.Join(strings.Fields(place), " "))
}
