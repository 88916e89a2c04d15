package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/platinummonkey/linkstats/pkg/storage"
)

// RedisClient holds the Redis-backed view counters and job locks
type RedisClient struct {
	client *redis.Client
	config storage.Config
}

// NewRedisClient creates a new Redis client
func NewRedisClient(config storage.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{
		client: client,
		config: config,
	}, nil
}

// CounterKey is the Redis key of a link page's lifetime view counter
func CounterKey(subjectID int64) string {
	return fmt.Sprintf("linkpage:views:%d", subjectID)
}

// CurrentTotal returns the lifetime views of a link page; a missing key reads as zero
func (c *RedisClient) CurrentTotal(ctx context.Context, subjectID int64) (int64, error) {
	data, err := c.client.Get(ctx, CounterKey(subjectID)).Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}

	total, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt view counter %s: %w", CounterKey(subjectID), err)
	}
	return total, nil
}

// Increment adds delta to the counter and returns the new total
func (c *RedisClient) Increment(ctx context.Context, subjectID int64, delta int64) (int64, error) {
	total, err := c.client.IncrBy(ctx, CounterKey(subjectID), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrby failed: %w", err)
	}
	return total, nil
}

// ErrLockHeld is returned when another process holds a job lock
var ErrLockHeld = errors.New("lock held by another process")

// unlockScript deletes the lock only if the token still matches
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock takes the named lock for ttl. The returned func releases it
// if it is still ours. ErrLockHeld means another process owns it.
func (c *RedisClient) AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := "linkstats:lock:" + name
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		unlockScript.Run(releaseCtx, c.client, []string{key}, token)
	}
	return release, nil
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying Redis client for health checks
func (c *RedisClient) GetClient() *redis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// GetPoolStats returns connection pool statistics
func (c *RedisClient) GetPoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}
