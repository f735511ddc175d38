package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the optional remote Cache backend, selected via config
// when a shared cache across multiple server instances is needed.
// Namespaces are implemented as a key prefix rather than separate
// databases, since Redis key eviction is global and per-key TTLs already
// provide the expiry semantics spec.md requires.
type RedisCache struct {
	client *redis.Client
	config Config
	prefix string
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithKeyPrefix sets a prefix applied to every key, allowing multiple
// server deployments to share one Redis instance without collisions.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// NewRedisCache creates a Redis-backed cache against addr (host:port).
func NewRedisCache(addr string, config Config, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		config: config,
		prefix: "codeindexmcp",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping verifies connectivity to the Redis server.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) fullKey(ns Namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, ns, key)
}

func (c *RedisCache) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.fullKey(ns, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		// Backend failures are reported as a miss, not an error: cache
		// misses never fail the request (spec.md §4.11).
		return nil, false, nil
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.forNamespace(ns).TTL
	}
	return c.client.Set(ctx, c.fullKey(ns, key), value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, ns Namespace, key string) error {
	return c.client.Del(ctx, c.fullKey(ns, key)).Err()
}

func (c *RedisCache) Clear(ctx context.Context, ns Namespace) error {
	pattern := c.fullKey(ns, "*")
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Stats reports entry counts via SCAN; hit/miss counters are not tracked
// remotely since multiple server instances share one Redis backend.
func (c *RedisCache) Stats() map[Namespace]NamespaceStats {
	ctx := context.Background()
	stats := make(map[Namespace]NamespaceStats)
	for _, ns := range []Namespace{NamespaceEmbeddings, NamespaceSearchResults, NamespaceMetadata, NamespaceProviderResponses} {
		count := 0
		iter := c.client.Scan(ctx, 0, c.fullKey(ns, "*"), 0).Iterator()
		for iter.Next(ctx) {
			count++
		}
		stats[ns] = NamespaceStats{Entries: count}
	}
	return stats
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
