package cache

import (
	"sync/atomic"
	"time"

	lfu "github.com/dgraph-io/ristretto"

	"github.com/huykn/distributed-map/types"
)

// LFUCacheFactory creates Ristretto-backed near-cache storage.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// Create implements LocalCacheFactory.
func (f *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(f.config)
}

// LFUCache is near-cache storage backed by Ristretto. Admission is decided
// by TinyLFU, so a Set may be rejected under pressure.
type LFUCache struct {
	cache     *lfu.Cache
	ttl       time.Duration
	hits      int64
	misses    int64
	evictions int64
}

// NewLFUCache creates a Ristretto-backed local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	lc := &LFUCache{ttl: config.TimeToLive}
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: true,
		Metrics:            true,
		OnEvict: func(*lfu.Item) {
			atomic.AddInt64(&lc.evictions, 1)
		},
	})
	if err != nil {
		return nil, err
	}
	lc.cache = cache
	return lc, nil
}

func (lc *LFUCache) Get(key types.Data) (any, bool) {
	value, found := lc.cache.Get(key.Key())
	if found {
		atomic.AddInt64(&lc.hits, 1)
	} else {
		atomic.AddInt64(&lc.misses, 1)
	}
	return value, found
}

// Set caches value for key. Ristretto applies writes through a buffer;
// Wait makes the value visible before Set returns so an invalidation
// issued right after cannot be overtaken by it.
func (lc *LFUCache) Set(key types.Data, value any) bool {
	ok := lc.cache.SetWithTTL(key.Key(), value, 1, lc.ttl)
	lc.cache.Wait()
	return ok
}

func (lc *LFUCache) Delete(key types.Data) {
	lc.cache.Del(key.Key())
}

func (lc *LFUCache) Clear() {
	lc.cache.Clear()
}

func (lc *LFUCache) Close() {
	lc.cache.Close()
}

func (lc *LFUCache) Metrics() LocalCacheMetrics {
	m := lc.cache.Metrics
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      int64(m.KeysAdded() - m.KeysEvicted()),
	}
}
