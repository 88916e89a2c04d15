package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/linkstats/pkg/analytics"
	"github.com/platinummonkey/linkstats/pkg/observability"
)

// RedisCache is a read-through Redis cache in front of the stats range
// queries. Daily rows only change when a job runs, so a short TTL is enough.
type RedisCache struct {
	next    analytics.StatsReader
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewRedisCache wraps next with a Redis cache
func NewRedisCache(next analytics.StatsReader, client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{next: next, redis: client, ttl: ttl, metrics: metrics}
}

func rangeKey(kind string, subjectID int64, from, to time.Time) string {
	return fmt.Sprintf("linkstats:%s:%d:%s:%s", kind, subjectID, analytics.FormatDay(from), analytics.FormatDay(to))
}

// DailyViews returns the cached view series, loading it on a miss
func (c *RedisCache) DailyViews(ctx context.Context, subjectID int64, from, to time.Time) ([]analytics.DailyStat, error) {
	key := rangeKey("views", subjectID, from, to)

	var stats []analytics.DailyStat
	if c.get(ctx, key, &stats) {
		c.metrics.ObserveCache("daily_views", true)
		for i := range stats {
			stats[i].StatDate, _ = analytics.ParseDay(stats[i].Date)
		}
		return stats, nil
	}
	c.metrics.ObserveCache("daily_views", false)

	stats, err := c.next.DailyViews(ctx, subjectID, from, to)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, stats)
	return stats, nil
}

// DailyClicks returns the cached click series, loading it on a miss
func (c *RedisCache) DailyClicks(ctx context.Context, subjectID int64, from, to time.Time) ([]analytics.DailyLinkClick, error) {
	key := rangeKey("clicks", subjectID, from, to)

	var clicks []analytics.DailyLinkClick
	if c.get(ctx, key, &clicks) {
		c.metrics.ObserveCache("daily_clicks", true)
		for i := range clicks {
			clicks[i].StatDate, _ = analytics.ParseDay(clicks[i].Date)
		}
		return clicks, nil
	}
	c.metrics.ObserveCache("daily_clicks", false)

	clicks, err := c.next.DailyClicks(ctx, subjectID, from, to)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, clicks)
	return clicks, nil
}

// get reports a hit. Redis errors and corrupt entries count as misses.
func (c *RedisCache) get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.redis.Del(ctx, key)
		return false
	}
	return true
}

func (c *RedisCache) set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.redis.Set(ctx, key, data, c.ttl)
}
