package template

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig contains template cache configuration
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"cache_ttl"`
	MaxItems int64         `mapstructure:"cache_max_items"`
}

// CachedStore keeps successful lookups of another Store in memory for a
// bounded time. Misses and errors are never cached.
type CachedStore struct {
	next  Store
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedStore wraps next with a TTL cache. Every entry costs 1, so
// MaxItems is an item count.
func NewCachedStore(next Store, cfg CacheConfig) (*CachedStore, error) {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = 1000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxItems * 10,
		MaxCost:            maxItems,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize template cache: %w", err)
	}

	return &CachedStore{next: next, cache: cache, ttl: cfg.TTL}, nil
}

// Get implements Store
func (s *CachedStore) Get(ctx context.Context, key string) (Document, error) {
	return s.cached("id:"+key, func() (Document, error) {
		return s.next.Get(ctx, key)
	})
}

// FindByModel implements Store
func (s *CachedStore) FindByModel(ctx context.Context, model, ext string) (Document, error) {
	return s.cached("model:"+model+"\x00"+ext, func() (Document, error) {
		return s.next.FindByModel(ctx, model, ext)
	})
}

// FindAnyByExtension implements Store
func (s *CachedStore) FindAnyByExtension(ctx context.Context, ext string) (Document, error) {
	return s.cached("ext:"+ext, func() (Document, error) {
		return s.next.FindAnyByExtension(ctx, ext)
	})
}

// Put writes through and drops every cached entry
func (s *CachedStore) Put(ctx context.Context, doc Document) error {
	if err := s.next.Put(ctx, doc); err != nil {
		return err
	}
	s.cache.Clear()
	return nil
}

// Ping implements Store
func (s *CachedStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

// Close releases the cache
func (s *CachedStore) Close() {
	s.cache.Close()
}

func (s *CachedStore) cached(key string, load func() (Document, error)) (Document, error) {
	if v, ok := s.cache.Get(key); ok {
		return v.(Document).Clone(), nil
	}

	doc, err := load()
	if err != nil {
		return nil, err
	}

	if s.ttl > 0 {
		s.cache.SetWithTTL(key, doc.Clone(), 1, s.ttl)
		s.cache.Wait()
	}
	return doc, nil
}
