// Package cache provides a namespaced, TTL-bounded cache for embeddings,
// search results, metadata lookups, and provider responses. Cache misses
// never fail the caller; callers fall through to the underlying source.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Namespace identifies one of the cache's isolated key spaces. Each
// namespace has its own size bound, TTL, and eviction policy so that a
// noisy namespace (e.g. search_results) cannot starve another (e.g.
// embeddings) of cache space.
type Namespace string

const (
	NamespaceEmbeddings        Namespace = "embeddings"
	NamespaceSearchResults     Namespace = "search_results"
	NamespaceMetadata          Namespace = "metadata"
	NamespaceProviderResponses Namespace = "provider_responses"
)

// Cache stores namespaced byte blobs behind content-derived keys.
//
// Implementations must be safe for concurrent use. Get returning
// (nil, false, nil) is a normal cache miss, not an error; Get only
// returns a non-nil error for backend failures (e.g. a Redis outage),
// which callers should treat as a miss rather than fail the request.
type Cache interface {
	// Get retrieves a cached value. ok is false on a miss or expired entry.
	Get(ctx context.Context, ns Namespace, key string) (value []byte, ok bool, err error)

	// Set stores a value with the given namespace's TTL. A zero ttl means
	// "use the namespace default".
	Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key from a namespace. Deleting an absent key
	// is a no-op, not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// Clear removes all entries in a namespace.
	Clear(ctx context.Context, ns Namespace) error

	// Stats reports per-namespace occupancy for diagnostics.
	Stats() map[Namespace]NamespaceStats

	// Close releases any backing resources (connections, goroutines).
	Close() error
}

// NamespaceStats reports cache occupancy for a single namespace.
type NamespaceStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// NamespaceConfig configures the bound and TTL for one namespace.
type NamespaceConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// Config configures all namespaces. Namespaces absent from the map fall
// back to DefaultConfig's entry for that namespace.
type Config struct {
	Namespaces map[Namespace]NamespaceConfig
}

// DefaultConfig returns sensible per-namespace bounds and TTLs.
//
// Embeddings are the most expensive to recompute and change least often,
// so they get the largest bound and longest TTL. Search results reflect
// the live index and should not outlive a typical edit-reindex cycle.
func DefaultConfig() Config {
	return Config{
		Namespaces: map[Namespace]NamespaceConfig{
			NamespaceEmbeddings:        {MaxEntries: 50_000, TTL: 24 * time.Hour},
			NamespaceSearchResults:     {MaxEntries: 2_000, TTL: 5 * time.Minute},
			NamespaceMetadata:          {MaxEntries: 10_000, TTL: 10 * time.Minute},
			NamespaceProviderResponses: {MaxEntries: 5_000, TTL: 30 * time.Minute},
		},
	}
}

func (c Config) forNamespace(ns Namespace) NamespaceConfig {
	if cfg, ok := c.Namespaces[ns]; ok {
		return cfg
	}
	return DefaultConfig().Namespaces[ns]
}

// KeyForEmbedding derives a content-addressed cache key for an embedding
// lookup from the provider, model, and input text. Identical inputs
// always produce the same key, and the key reveals nothing about the
// text beyond its hash.
func KeyForEmbedding(provider, model, text string) string {
	return contentKey(provider, "\x00", model, "\x00", text)
}

// KeyForSearchResults derives a cache key for a search result list from
// the query and the options that affect ranking.
func KeyForSearchResults(repoID, query, optionsFingerprint string) string {
	return contentKey(repoID, "\x00", query, "\x00", optionsFingerprint)
}

// KeyForMetadata derives a cache key for a metadata lookup.
func KeyForMetadata(kind, id string) string {
	return contentKey(kind, "\x00", id)
}

// KeyForProviderResponse derives a cache key for a raw provider response
// (e.g. an un-decoded embedding API payload) keyed by request fingerprint.
func KeyForProviderResponse(provider, requestFingerprint string) string {
	return contentKey(provider, "\x00", requestFingerprint)
}

func contentKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
