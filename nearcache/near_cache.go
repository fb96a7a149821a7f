package nearcache

import (
	"sync"
	"sync/atomic"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/types"
)

// Stats represents near-cache statistics.
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
	Clears        int64
	Local         cache.LocalCacheMetrics
}

// NearCache holds deserialized values of one map close to the reader.
// Entries stay until an invalidation for their key or map arrives.
//
// A reader that misses reserves the key before fetching the value and
// publishes it with the reservation afterwards. An invalidation in between
// cancels the reservation, so a value read before a mutation is never
// cached after that mutation's invalidation.
type NearCache struct {
	name      string
	local     cache.LocalCache
	logger    cache.Logger
	debugMode bool
	closed    int32
	stats     Stats

	mu           sync.Mutex
	reservations map[string]uint64
	lastID       uint64
}

// NewNearCache creates a near-cache for mapName on top of local.
func NewNearCache(mapName string, local cache.LocalCache, logger cache.Logger, debugMode bool) *NearCache {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &NearCache{
		name:         mapName,
		local:        local,
		logger:       logger,
		debugMode:    debugMode,
		reservations: make(map[string]uint64),
	}
}

// Name returns the map name.
func (nc *NearCache) Name() string {
	return nc.name
}

// Get returns the cached value for key.
func (nc *NearCache) Get(key types.Data) (any, bool) {
	if atomic.LoadInt32(&nc.closed) != 0 {
		return nil, false
	}
	value, found := nc.local.Get(key)
	if found {
		atomic.AddInt64(&nc.stats.Hits, 1)
	} else {
		atomic.AddInt64(&nc.stats.Misses, 1)
	}
	if nc.debugMode {
		nc.logger.Debug("NearCache: get", "map", nc.name, "key", key.String(), "hit", found)
	}
	return value, found
}

// Put caches value for key.
func (nc *NearCache) Put(key types.Data, value any) {
	if atomic.LoadInt32(&nc.closed) != 0 {
		return
	}
	nc.local.Set(key, value)
	if nc.debugMode {
		nc.logger.Debug("NearCache: put", "map", nc.name, "key", key.String())
	}
}

// Reserve marks key as being fetched and returns the reservation id to
// pass to Publish or Release.
func (nc *NearCache) Reserve(key types.Data) uint64 {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.lastID++
	nc.reservations[key.Key()] = nc.lastID
	return nc.lastID
}

// Publish caches value for key if reservation id is still held, and
// reports whether it did.
func (nc *NearCache) Publish(key types.Data, value any, id uint64) bool {
	if atomic.LoadInt32(&nc.closed) != 0 {
		return false
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if held, ok := nc.reservations[key.Key()]; !ok || held != id {
		if nc.debugMode {
			nc.logger.Debug("NearCache: dropped stale value", "map", nc.name, "key", key.String())
		}
		return false
	}
	delete(nc.reservations, key.Key())
	nc.local.Set(key, value)
	return true
}

// Release drops reservation id without caching anything.
func (nc *NearCache) Release(key types.Data, id uint64) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.reservations[key.Key()] == id {
		delete(nc.reservations, key.Key())
	}
}

// Invalidate removes key and cancels its reservation.
func (nc *NearCache) Invalidate(key types.Data) {
	nc.mu.Lock()
	delete(nc.reservations, key.Key())
	nc.local.Delete(key)
	nc.mu.Unlock()
	atomic.AddInt64(&nc.stats.Invalidations, 1)
	if nc.debugMode {
		nc.logger.Debug("NearCache: invalidated key", "map", nc.name, "key", key.String())
	}
}

// Clear removes every entry and cancels every reservation.
func (nc *NearCache) Clear() {
	nc.mu.Lock()
	clear(nc.reservations)
	nc.local.Clear()
	nc.mu.Unlock()
	atomic.AddInt64(&nc.stats.Clears, 1)
	if nc.debugMode {
		nc.logger.Debug("NearCache: cleared", "map", nc.name)
	}
}

// Stats returns a snapshot of the near-cache statistics.
func (nc *NearCache) Stats() Stats {
	return Stats{
		Hits:          atomic.LoadInt64(&nc.stats.Hits),
		Misses:        atomic.LoadInt64(&nc.stats.Misses),
		Invalidations: atomic.LoadInt64(&nc.stats.Invalidations),
		Clears:        atomic.LoadInt64(&nc.stats.Clears),
		Local:         nc.local.Metrics(),
	}
}

// Close releases the local storage.
func (nc *NearCache) Close() {
	if !atomic.CompareAndSwapInt32(&nc.closed, 0, 1) {
		return
	}
	nc.local.Close()
}
