package mapservice

import (
	"errors"
	"fmt"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/wan"
)

// MaxBackupCount is the upper bound of sync plus async backups of a map.
const MaxBackupCount = 6

// ErrInvalidConfig is returned when a map configuration is invalid.
var ErrInvalidConfig = errors.New("invalid map config")

// Near-cache in-memory formats.
const (
	// InMemoryObject caches deserialized values. It is the default.
	InMemoryObject = "OBJECT"

	// InMemoryBinary caches serialized values and deserializes on every hit,
	// so callers never share a mutable value.
	InMemoryBinary = "BINARY"
)

// NearCacheConfig enables a near-cache for a map.
type NearCacheConfig struct {
	// LocalCache configures the storage backing the near-cache.
	LocalCache cache.LocalCacheConfig

	// InMemoryFormat is InMemoryObject or InMemoryBinary. Empty means object.
	InMemoryFormat string
}

// Binary reports whether the near-cache holds serialized values.
func (c *NearCacheConfig) Binary() bool {
	return c.InMemoryFormat == InMemoryBinary
}

// WanConfig enables WAN replication for a map.
type WanConfig struct {
	// TargetCluster names the remote cluster; it selects the stream.
	TargetCluster string

	// MergePolicy is the name of the policy applied on the remote cluster.
	MergePolicy string
}

// MapConfig holds the per-map configuration.
type MapConfig struct {
	// BackupCount is the number of synchronous backups.
	BackupCount int

	// AsyncBackupCount is the number of asynchronous backups.
	AsyncBackupCount int

	// NearCache enables a near-cache when non-nil.
	NearCache *NearCacheConfig

	// Wan enables WAN replication when non-nil.
	Wan *WanConfig
}

// DefaultMapConfig returns a map configuration with one synchronous backup.
func DefaultMapConfig() MapConfig {
	return MapConfig{
		BackupCount:      1,
		AsyncBackupCount: 0,
	}
}

// TotalBackupCount returns the sum of sync and async backups.
func (c MapConfig) TotalBackupCount() int {
	return c.BackupCount + c.AsyncBackupCount
}

// Validate validates the map configuration.
func (c MapConfig) Validate() error {
	if c.BackupCount < 0 {
		return fmt.Errorf("%w: backup count must be non-negative, got %d", ErrInvalidConfig, c.BackupCount)
	}
	if c.AsyncBackupCount < 0 {
		return fmt.Errorf("%w: async backup count must be non-negative, got %d", ErrInvalidConfig, c.AsyncBackupCount)
	}
	if c.TotalBackupCount() > MaxBackupCount {
		return fmt.Errorf("%w: total backup count must not exceed %d, got %d", ErrInvalidConfig, MaxBackupCount, c.TotalBackupCount())
	}
	if c.NearCache != nil {
		if err := c.NearCache.LocalCache.Validate(); err != nil {
			return fmt.Errorf("%w: near-cache: %v", ErrInvalidConfig, err)
		}
		switch c.NearCache.InMemoryFormat {
		case "", InMemoryObject, InMemoryBinary:
		default:
			return fmt.Errorf("%w: unknown near-cache in-memory format %q", ErrInvalidConfig, c.NearCache.InMemoryFormat)
		}
	}
	if c.Wan != nil {
		if c.Wan.TargetCluster == "" {
			return fmt.Errorf("%w: wan target cluster is required", ErrInvalidConfig)
		}
		if _, err := wan.LookupMergePolicy(c.Wan.MergePolicy); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}
