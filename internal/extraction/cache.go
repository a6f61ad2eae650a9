package extraction

import (
	"context"
	"log"
	"time"
)

// CacheStore is the pluggable persistence backend behind ParseCache (C11).
// Implementations: CacheStoreFile (default), CacheStorePostgres,
// CacheStoreFirestore — selected at startup via CACHE_BACKEND.
type CacheStore interface {
	Get(ctx context.Context, fingerprint string) (CacheEntry, bool, error)
	Put(ctx context.Context, entry CacheEntry) error
	Delete(ctx context.Context, fingerprint string) error
	ReapExpired(ctx context.Context) (int, error)
}

// ParseCache implements ParseCache (C11) on top of a pluggable CacheStore.
// When disabled, every operation is a no-op and the Pipeline proceeds
// unconditionally.
type ParseCache struct {
	store   CacheStore
	enabled bool
	ttl     time.Duration
}

// NewParseCache wraps store with the configured enable flag and TTL.
func NewParseCache(store CacheStore, enabled bool, ttlDays int) *ParseCache {
	return &ParseCache{store: store, enabled: enabled, ttl: time.Duration(ttlDays) * 24 * time.Hour}
}

// Get returns a cache hit, swallowing any store error into a miss — read
// failures against the persistent cache are never fatal to an extraction.
func (c *ParseCache) Get(ctx context.Context, fingerprint string) (CacheEntry, bool) {
	if !c.enabled {
		return CacheEntry{}, false
	}
	entry, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		log.Printf("parse cache read failed, proceeding without cache: %v", err)
		return CacheEntry{}, false
	}
	if !ok || time.Now().After(entry.ExpiresAt) {
		return CacheEntry{}, false
	}
	return entry, true
}

// Put upserts entry by fingerprint, setting ExpiresAt = now + TTL. A write
// failure is logged and otherwise ignored — caching is best-effort.
func (c *ParseCache) Put(ctx context.Context, entry CacheEntry) {
	if !c.enabled {
		return
	}
	entry.CreatedAt = time.Now()
	entry.ExpiresAt = entry.CreatedAt.Add(c.ttl)
	if err := c.store.Put(ctx, entry); err != nil {
		log.Printf("parse cache write failed: %v", err)
	}
}

// Delete removes an entry by fingerprint, used by forced refresh.
func (c *ParseCache) Delete(ctx context.Context, fingerprint string) {
	if !c.enabled {
		return
	}
	if err := c.store.Delete(ctx, fingerprint); err != nil {
		log.Printf("parse cache delete failed: %v", err)
	}
}

// ReapExpired is the janitor operation, invoked periodically via cron.
func (c *ParseCache) ReapExpired(ctx context.Context) (int, error) {
	if !c.enabled {
		return 0, nil
	}
	return c.store.ReapExpired(ctx)
}
