package nearcache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/types"
)

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	// SourceID identifies this member in issued invalidations.
	SourceID string

	// Logger is the logger for debug logging.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool
}

// ProviderStats counts issued invalidations per variant.
type ProviderStats struct {
	Singles int64
	Batches int64
	Clears  int64
}

// Provider owns the near-caches of this member and dispatches invalidations
// to every registered Handler. A LocalHandler over its own near-caches is
// always registered first.
type Provider struct {
	sourceID  string
	logger    cache.Logger
	debugMode bool

	mu       sync.RWMutex
	caches   map[string]*NearCache
	handlers []Handler

	stats ProviderStats
}

// NewProvider creates a provider with the local handler registered.
func NewProvider(opts ProviderOptions) *Provider {
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	p := &Provider{
		sourceID:  opts.SourceID,
		logger:    opts.Logger,
		debugMode: opts.DebugMode,
		caches:    make(map[string]*NearCache),
	}
	p.handlers = []Handler{NewLocalHandler(p)}
	return p
}

// SourceID returns the id stamped on issued invalidations.
func (p *Provider) SourceID() string {
	return p.sourceID
}

// AddHandler registers h to receive every issued invalidation.
func (p *Provider) AddHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// GetOrCreateNearCache returns the near-cache of mapName, creating it with config.
func (p *Provider) GetOrCreateNearCache(mapName string, config cache.LocalCacheConfig) (*NearCache, error) {
	p.mu.RLock()
	nc, ok := p.caches[mapName]
	p.mu.RUnlock()
	if ok {
		return nc, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if nc, ok := p.caches[mapName]; ok {
		return nc, nil
	}
	factory, err := cache.NewLocalCacheFactory(config)
	if err != nil {
		return nil, fmt.Errorf("near-cache for map %s: %w", mapName, err)
	}
	local, err := factory.Create()
	if err != nil {
		return nil, fmt.Errorf("near-cache for map %s: %w", mapName, err)
	}
	nc = NewNearCache(mapName, local, p.logger, p.debugMode)
	p.caches[mapName] = nc
	return nc, nil
}

// GetNearCache returns the near-cache of mapName if one exists.
func (p *Provider) GetNearCache(mapName string) (*NearCache, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	nc, ok := p.caches[mapName]
	return nc, ok
}

// DestroyNearCache closes and forgets the near-cache of mapName.
func (p *Provider) DestroyNearCache(mapName string) {
	p.mu.Lock()
	nc, ok := p.caches[mapName]
	delete(p.caches, mapName)
	p.mu.Unlock()

	if ok {
		nc.Close()
	}
}

// InvalidateNearCache issues one invalidation covering the distinct keys:
// a Single for exactly one key, a Batch otherwise. No keys means no call.
func (p *Provider) InvalidateNearCache(mapName string, keys []types.Data) {
	keys = types.Distinct(keys)
	switch len(keys) {
	case 0:
		return
	case 1:
		atomic.AddInt64(&p.stats.Singles, 1)
		p.Dispatch(NewSingleInvalidation(mapName, p.sourceID, keys[0]))
	default:
		atomic.AddInt64(&p.stats.Batches, 1)
		p.Dispatch(NewBatchInvalidation(mapName, p.sourceID, keys))
	}
}

// BatchInvalidateNearCache issues one Batch covering the distinct keys,
// even when there is only one. No keys means no call.
func (p *Provider) BatchInvalidateNearCache(mapName string, keys []types.Data) {
	keys = types.Distinct(keys)
	if len(keys) == 0 {
		return
	}
	atomic.AddInt64(&p.stats.Batches, 1)
	p.Dispatch(NewBatchInvalidation(mapName, p.sourceID, keys))
}

// ClearNearCache issues a Clear invalidation for mapName.
func (p *Provider) ClearNearCache(mapName string) {
	atomic.AddInt64(&p.stats.Clears, 1)
	p.Dispatch(NewClearInvalidation(mapName, p.sourceID))
}

// Dispatch hands inv to every registered handler.
func (p *Provider) Dispatch(inv Invalidation) {
	p.mu.RLock()
	handlers := p.handlers
	p.mu.RUnlock()

	if p.debugMode {
		p.logger.Debug("NearCache: dispatching invalidation", "map", inv.MapName(), "type", inv.TypeID(), "handlers", len(handlers))
	}
	for _, h := range handlers {
		inv.Consume(h)
	}
}

// Stats returns a snapshot of issued invalidations.
func (p *Provider) Stats() ProviderStats {
	return ProviderStats{
		Singles: atomic.LoadInt64(&p.stats.Singles),
		Batches: atomic.LoadInt64(&p.stats.Batches),
		Clears:  atomic.LoadInt64(&p.stats.Clears),
	}
}

// Close closes every near-cache.
func (p *Provider) Close() {
	p.mu.Lock()
	caches := p.caches
	p.caches = make(map[string]*NearCache)
	p.mu.Unlock()

	for _, nc := range caches {
		nc.Close()
	}
}
