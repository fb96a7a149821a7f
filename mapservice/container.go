package mapservice

import (
	"sync"

	"github.com/huykn/distributed-map/wan"
)

// Interceptor is invoked after a value has been stored.
type Interceptor interface {
	AfterPut(value any) error
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(value any) error

// AfterPut implements Interceptor.
func (f InterceptorFunc) AfterPut(value any) error {
	return f(value)
}

// MapContainer holds the resolved configuration and collaborators of one map.
type MapContainer struct {
	name           string
	config         MapConfig
	wanPublisher   wan.Publisher
	wanMergePolicy wan.MergePolicy

	mu           sync.RWMutex
	interceptors []Interceptor
}

// NewMapContainer creates a container. WAN replication is enabled only when
// config.Wan names a known merge policy and wanPublisher is non-nil.
func NewMapContainer(name string, config MapConfig, wanPublisher wan.Publisher) *MapContainer {
	mc := &MapContainer{
		name:   name,
		config: config,
	}
	if config.Wan != nil && wanPublisher != nil {
		policy, err := wan.LookupMergePolicy(config.Wan.MergePolicy)
		if err == nil {
			mc.wanPublisher = wanPublisher
			mc.wanMergePolicy = policy
		}
	}
	return mc
}

// Name returns the map name.
func (mc *MapContainer) Name() string {
	return mc.name
}

// Config returns the map configuration.
func (mc *MapContainer) Config() MapConfig {
	return mc.config
}

// BackupCount returns the number of synchronous backups.
func (mc *MapContainer) BackupCount() int {
	return mc.config.BackupCount
}

// AsyncBackupCount returns the number of asynchronous backups.
func (mc *MapContainer) AsyncBackupCount() int {
	return mc.config.AsyncBackupCount
}

// WanReplicationPublisher returns the WAN publisher, or nil.
func (mc *MapContainer) WanReplicationPublisher() wan.Publisher {
	return mc.wanPublisher
}

// WanMergePolicy returns the WAN merge policy, or nil.
func (mc *MapContainer) WanMergePolicy() wan.MergePolicy {
	return mc.wanMergePolicy
}

// AddInterceptor appends i to the after-put chain.
func (mc *MapContainer) AddInterceptor(i Interceptor) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.interceptors = append(mc.interceptors, i)
}

// Interceptors returns the after-put chain.
func (mc *MapContainer) Interceptors() []Interceptor {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.interceptors
}
