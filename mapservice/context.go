package mapservice

import (
	"fmt"
	"sync"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/event"
	"github.com/huykn/distributed-map/nearcache"
	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
	"github.com/huykn/distributed-map/wan"
)

// NearCacheInvalidator receives the keys affected by a mutation.
type NearCacheInvalidator interface {
	// InvalidateNearCache issues a Single for one distinct key, a Batch otherwise.
	InvalidateNearCache(mapName string, keys []types.Data)

	// BatchInvalidateNearCache always issues a Batch.
	BatchInvalidateNearCache(mapName string, keys []types.Data)

	ClearNearCache(mapName string)
}

// ServiceContext is what map operations need from the member running them.
type ServiceContext interface {
	// RecordStore returns the store of mapName in partitionID, creating it if needed.
	RecordStore(partitionID int, mapName string) (record.RecordStore, error)

	// MapContainer returns the container of mapName, creating it if needed.
	MapContainer(mapName string) *MapContainer

	// InterceptAfterPut runs the after-put interceptors of mapName.
	InterceptAfterPut(mapName string, value any) error

	ToObject(d types.Data) (any, error)
	ToData(obj any) (types.Data, error)

	EventPublisher() event.Publisher
	NearCacheProvider() NearCacheInvalidator
}

// Options configures a Context.
type Options struct {
	// MemberID identifies this member as the source of events and invalidations.
	MemberID string

	// Maps holds per-map configuration. Maps not listed use DefaultMapConfig.
	Maps map[string]MapConfig

	// DefaultMapConfig applies to maps without an explicit entry.
	DefaultMapConfig MapConfig

	// Serializer converts between objects and Data. Nil uses JSON.
	Serializer *serialization.Serializer

	// EventService delivers entry and map events. Nil creates a private one.
	EventService *event.Service

	// Publisher overrides the event publisher built over EventService.
	Publisher event.Publisher

	// NearCaches overrides the near-cache provider.
	NearCaches *nearcache.Provider

	// WanPublisherFor resolves the WAN publisher of a target cluster.
	WanPublisherFor func(targetCluster string) wan.Publisher

	// Logger is the logger for debug logging.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called with background failures such as publish errors.
	OnError func(error)
}

// DefaultOptions returns Context options with default map configuration.
func DefaultOptions() Options {
	return Options{
		DefaultMapConfig: DefaultMapConfig(),
	}
}

type storeKey struct {
	partitionID int
	mapName     string
}

// Context is the ServiceContext of one member.
type Context struct {
	opts       Options
	serializer *serialization.Serializer
	events     *event.Service
	ownEvents  bool
	publisher  event.Publisher
	nearCaches *nearcache.Provider

	mu         sync.RWMutex
	containers map[string]*MapContainer
	stores     map[storeKey]record.RecordStore
}

// NewContext creates a member context.
func NewContext(opts Options) (*Context, error) {
	if err := opts.DefaultMapConfig.Validate(); err != nil {
		return nil, err
	}
	for name, cfg := range opts.Maps {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("map %s: %w", name, err)
		}
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}

	c := &Context{
		opts:       opts,
		serializer: opts.Serializer,
		events:     opts.EventService,
		nearCaches: opts.NearCaches,
		containers: make(map[string]*MapContainer),
		stores:     make(map[storeKey]record.RecordStore),
	}
	if c.serializer == nil {
		c.serializer = serialization.NewSerializer(nil)
	}
	if c.events == nil {
		svcOpts := event.DefaultServiceOptions()
		svcOpts.Logger = opts.Logger
		c.events = event.NewService(svcOpts)
		c.ownEvents = true
	}
	if c.nearCaches == nil {
		c.nearCaches = nearcache.NewProvider(nearcache.ProviderOptions{
			SourceID:  opts.MemberID,
			Logger:    opts.Logger,
			DebugMode: opts.DebugMode,
		})
	}
	c.publisher = opts.Publisher
	if c.publisher == nil {
		c.publisher = event.NewMapEventPublisher(c.events, c, event.PublisherOptions{
			Source:    opts.MemberID,
			Logger:    opts.Logger,
			DebugMode: opts.DebugMode,
			OnError:   opts.OnError,
		})
	}
	return c, nil
}

// MemberID returns the id of this member.
func (c *Context) MemberID() string {
	return c.opts.MemberID
}

// MapConfig returns the configuration of mapName.
func (c *Context) MapConfig(mapName string) MapConfig {
	if cfg, ok := c.opts.Maps[mapName]; ok {
		return cfg
	}
	return c.opts.DefaultMapConfig
}

// MapContainer implements ServiceContext.
func (c *Context) MapContainer(mapName string) *MapContainer {
	c.mu.RLock()
	mc, ok := c.containers[mapName]
	c.mu.RUnlock()
	if ok {
		return mc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if mc, ok := c.containers[mapName]; ok {
		return mc
	}
	cfg := c.MapConfig(mapName)
	var publisher wan.Publisher
	if cfg.Wan != nil && c.opts.WanPublisherFor != nil {
		publisher = c.opts.WanPublisherFor(cfg.Wan.TargetCluster)
	}
	mc = NewMapContainer(mapName, cfg, publisher)
	c.containers[mapName] = mc
	if c.opts.DebugMode {
		c.opts.Logger.Debug("MapService: created map container", "map", mapName,
			"backups", cfg.BackupCount, "asyncBackups", cfg.AsyncBackupCount,
			"wan", mc.wanPublisher != nil)
	}
	return mc
}

// RecordStore implements ServiceContext.
func (c *Context) RecordStore(partitionID int, mapName string) (record.RecordStore, error) {
	if partitionID < 0 {
		return nil, fmt.Errorf("invalid partition id %d", partitionID)
	}
	key := storeKey{partitionID: partitionID, mapName: mapName}

	c.mu.RLock()
	rs, ok := c.stores[key]
	c.mu.RUnlock()
	if ok {
		return rs, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.stores[key]; ok {
		return rs, nil
	}
	rs = record.NewStore(mapName, partitionID)
	c.stores[key] = rs
	return rs, nil
}

// ExistingRecordStore returns the store of mapName in partitionID if it was created.
func (c *Context) ExistingRecordStore(partitionID int, mapName string) (record.RecordStore, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rs, ok := c.stores[storeKey{partitionID: partitionID, mapName: mapName}]
	return rs, ok
}

// InterceptAfterPut implements ServiceContext.
func (c *Context) InterceptAfterPut(mapName string, value any) error {
	for _, i := range c.MapContainer(mapName).Interceptors() {
		if err := i.AfterPut(value); err != nil {
			return fmt.Errorf("interceptor on map %s: %w", mapName, err)
		}
	}
	return nil
}

// AddInterceptor registers an after-put interceptor for mapName.
func (c *Context) AddInterceptor(mapName string, i Interceptor) {
	c.MapContainer(mapName).AddInterceptor(i)
}

// ToObject implements ServiceContext.
func (c *Context) ToObject(d types.Data) (any, error) {
	return c.serializer.ToObject(d)
}

// ToData implements ServiceContext.
func (c *Context) ToData(obj any) (types.Data, error) {
	return c.serializer.ToData(obj)
}

// Serializer returns the object/Data serializer.
func (c *Context) Serializer() *serialization.Serializer {
	return c.serializer
}

// EventPublisher implements ServiceContext.
func (c *Context) EventPublisher() event.Publisher {
	return c.publisher
}

// EventService returns the listener registry.
func (c *Context) EventService() *event.Service {
	return c.events
}

// NearCacheProvider implements ServiceContext.
func (c *Context) NearCacheProvider() NearCacheInvalidator {
	return c.nearCaches
}

// NearCaches returns the near-cache provider.
func (c *Context) NearCaches() *nearcache.Provider {
	return c.nearCaches
}

// WanReplication implements event.WanReplicationSource.
func (c *Context) WanReplication(mapName string) (wan.Publisher, wan.MergePolicy) {
	mc := c.MapContainer(mapName)
	return mc.WanReplicationPublisher(), mc.WanMergePolicy()
}

// Close destroys every record store and closes owned services.
func (c *Context) Close() {
	c.mu.Lock()
	stores := c.stores
	c.stores = make(map[storeKey]record.RecordStore)
	c.mu.Unlock()

	for _, rs := range stores {
		rs.Destroy()
	}
	c.nearCaches.Close()
	if c.ownEvents {
		c.events.Close()
	}
}
