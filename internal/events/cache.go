package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelsec/sysmonfleet/internal/metrics"
)

// CachedStore wraps a Store with a Redis cache over GetAggregations.
// Aggregation queries are the expensive part of a noise run; repeated
// analysis of the same host and window within the TTL hits the cache.
type CachedStore struct {
	inner   Store
	redis   *redis.Client
	ttl     time.Duration
	enabled bool
}

// NewCachedStore wraps inner with Redis caching. A nil client or
// enabled=false makes the wrapper pass-through.
func NewCachedStore(inner Store, redisClient *redis.Client, ttl time.Duration, enabled bool) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{
		inner:   inner,
		redis:   redisClient,
		ttl:     ttl,
		enabled: enabled,
	}
}

// IsEnabled returns whether caching is active.
func (c *CachedStore) IsEnabled() bool {
	return c.enabled && c.redis != nil
}

func cacheKey(hostname string, hours float64) string {
	return fmt.Sprintf("sysmonfleet:aggs:%s:%g", hostname, hours)
}

// GetAggregations serves from cache when possible. Cache failures fall
// through to the inner store; a broken Redis never fails an analysis.
func (c *CachedStore) GetAggregations(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]Aggregation, error) {
	if !c.IsEnabled() {
		return c.inner.GetAggregations(ctx, hostname, hours, fieldsByEvent)
	}

	key := cacheKey(hostname, hours)
	data, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var cached []Aggregation
		if err := json.Unmarshal([]byte(data), &cached); err == nil {
			metrics.AggregationCacheHits.WithLabelValues("hit").Inc()
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		metrics.AggregationCacheHits.WithLabelValues("error").Inc()
	}

	aggs, err := c.inner.GetAggregations(ctx, hostname, hours, fieldsByEvent)
	if err != nil {
		return nil, err
	}
	metrics.AggregationCacheHits.WithLabelValues("miss").Inc()

	if payload, err := json.Marshal(aggs); err == nil {
		c.redis.Set(ctx, key, payload, c.ttl)
	}
	return aggs, nil
}

// QueryEvents is not cached; raw event queries are ad-hoc.
func (c *CachedStore) QueryEvents(ctx context.Context, hostname string, eventID int, hours float64, limit int) ([]Event, error) {
	return c.inner.QueryEvents(ctx, hostname, eventID, hours, limit)
}

// TestAccess delegates to the inner store.
func (c *CachedStore) TestAccess(ctx context.Context) error {
	return c.inner.TestAccess(ctx)
}

// Invalidate drops the cached aggregations for a host and window.
func (c *CachedStore) Invalidate(ctx context.Context, hostname string, hours float64) error {
	if !c.IsEnabled() {
		return nil
	}
	return c.redis.Del(ctx, cacheKey(hostname, hours)).Err()
}
