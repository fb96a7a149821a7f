package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/huykn/distributed-map/types"
)

// LRUCacheFactory creates golang-lru-backed near-cache storage.
type LRUCacheFactory struct {
	maxSize int
	ttl     time.Duration
}

// Create implements LocalCacheFactory.
func (f *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(f.maxSize, f.ttl)
}

// lruStore is the subset shared by lru.Cache and expirable.LRU.
type lruStore interface {
	Add(key string, value any) bool
	Get(key string) (any, bool)
	Peek(key string) (any, bool)
	Remove(key string) bool
	Purge()
	Len() int
}

// LRUCache is near-cache storage backed by golang-lru. With a time-to-live
// it uses the expirable variant.
type LRUCache struct {
	cache     lruStore
	hits      int64
	misses    int64
	evictions int64
}

// NewLRUCache creates an LRU local cache holding at most maxSize entries.
func NewLRUCache(maxSize int, ttl time.Duration) (*LRUCache, error) {
	if maxSize <= 0 {
		return nil, ErrInvalidConfig
	}
	lc := &LRUCache{}
	onEvict := func(string, any) {
		atomic.AddInt64(&lc.evictions, 1)
	}
	if ttl > 0 {
		lc.cache = expirable.NewLRU[string, any](maxSize, onEvict, ttl)
		return lc, nil
	}
	cache, err := lru.NewWithEvict[string, any](maxSize, onEvict)
	if err != nil {
		return nil, err
	}
	lc.cache = cache
	return lc, nil
}

func (lc *LRUCache) Get(key types.Data) (any, bool) {
	value, found := lc.cache.Get(key.Key())
	if found {
		atomic.AddInt64(&lc.hits, 1)
	} else {
		atomic.AddInt64(&lc.misses, 1)
	}
	return value, found
}

// Set caches value for key. It always admits the entry.
func (lc *LRUCache) Set(key types.Data, value any) bool {
	lc.cache.Add(key.Key(), value)
	return true
}

// Delete removes key. The eviction callback fires on explicit removal too,
// so the counter is compensated first.
func (lc *LRUCache) Delete(key types.Data) {
	k := key.Key()
	if _, ok := lc.cache.Peek(k); !ok {
		return
	}
	atomic.AddInt64(&lc.evictions, -1)
	lc.cache.Remove(k)
}

func (lc *LRUCache) Clear() {
	atomic.AddInt64(&lc.evictions, -int64(lc.cache.Len()))
	lc.cache.Purge()
}

func (lc *LRUCache) Close() {
	lc.Clear()
}

func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      int64(lc.cache.Len()),
	}
}
