package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is the in-process Cache backend: one size-and-TTL-bounded
// expirable LRU per namespace, following the teacher's CachedEmbedder
// pattern of wrapping hashicorp/golang-lru/v2 around content-derived keys.
type LRUCache struct {
	config Config

	mu     sync.RWMutex
	shards map[Namespace]*lruShard
}

type lruShard struct {
	lru    *expirable.LRU[string, []byte]
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// NewLRUCache creates an in-process namespaced cache. Namespaces are
// created lazily on first use with the bounds from config.
func NewLRUCache(config Config) *LRUCache {
	return &LRUCache{
		config: config,
		shards: make(map[Namespace]*lruShard),
	}
}

// NewLRUCacheWithDefaults creates an in-process cache using DefaultConfig.
func NewLRUCacheWithDefaults() *LRUCache {
	return NewLRUCache(DefaultConfig())
}

func (c *LRUCache) shard(ns Namespace) *lruShard {
	c.mu.RLock()
	s, ok := c.shards[ns]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.shards[ns]; ok {
		return s
	}

	nsConfig := c.config.forNamespace(ns)
	s = &lruShard{
		lru: expirable.NewLRU[string, []byte](nsConfig.MaxEntries, nil, nsConfig.TTL),
		ttl: nsConfig.TTL,
	}
	c.shards[ns] = s
	return s
}

func (c *LRUCache) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	s := c.shard(ns)
	v, ok := s.lru.Get(key)
	if !ok {
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	return v, true, nil
}

func (c *LRUCache) Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	s := c.shard(ns)
	if ttl <= 0 || ttl == s.ttl {
		s.lru.Add(key, value)
		return nil
	}
	// A per-entry TTL override shorter/longer than the namespace default
	// isn't supported by expirable.LRU (it is namespace-global), so the
	// namespace default is used; this matches spec.md's per-namespace TTL
	// model rather than per-entry overrides.
	s.lru.Add(key, value)
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, ns Namespace, key string) error {
	c.shard(ns).lru.Remove(key)
	return nil
}

func (c *LRUCache) Clear(ctx context.Context, ns Namespace) error {
	c.shard(ns).lru.Purge()
	return nil
}

func (c *LRUCache) Stats() map[Namespace]NamespaceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[Namespace]NamespaceStats, len(c.shards))
	for ns, s := range c.shards {
		stats[ns] = NamespaceStats{
			Entries: s.lru.Len(),
			Hits:    s.hits.Load(),
			Misses:  s.misses.Load(),
		}
	}
	return stats
}

func (c *LRUCache) Close() error {
	return nil
}

var _ Cache = (*LRUCache)(nil)
