package distributedmap

import (
	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/event"
	"github.com/huykn/distributed-map/mapservice"
	"github.com/huykn/distributed-map/storage"
	"github.com/huykn/distributed-map/types"
)

// MaxBackupCount is the upper bound of sync plus async backups of a map.
const MaxBackupCount = mapservice.MaxBackupCount

// Near-cache in-memory formats.
const (
	InMemoryObject = mapservice.InMemoryObject
	InMemoryBinary = mapservice.InMemoryBinary
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// MapConfig is an alias for mapservice.MapConfig.
type MapConfig = mapservice.MapConfig

// NearCacheConfig is an alias for mapservice.NearCacheConfig.
type NearCacheConfig = mapservice.NearCacheConfig

// WanConfig is an alias for mapservice.WanConfig.
type WanConfig = mapservice.WanConfig

// Interceptor is an alias for mapservice.Interceptor.
type Interceptor = mapservice.Interceptor

// InterceptorFunc is an alias for mapservice.InterceptorFunc.
type InterceptorFunc = mapservice.InterceptorFunc

// MapLoader is an alias for storage.MapLoader.
type MapLoader = storage.MapLoader

// EntryEvent is an alias for event.EntryEventData.
type EntryEvent = event.EntryEventData

// MapEvent is an alias for event.MapEventData.
type MapEvent = event.MapEventData

// EntryListener is an alias for event.EntryListener.
type EntryListener = event.EntryListener

// MapListener is an alias for event.MapListener.
type MapListener = event.MapListener

// Data is an alias for types.Data.
type Data = types.Data

// Address is an alias for types.Address.
type Address = types.Address

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}
