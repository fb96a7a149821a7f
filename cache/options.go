package cache

import (
	"errors"
	"time"
)

// Eviction policies supported by NewLocalCacheFactory.
const (
	PolicyLFU = "lfu"
	PolicyLRU = "lru"
)

// LocalCacheConfig configures the storage behind a near-cache.
type LocalCacheConfig struct {
	// Policy selects the implementation: "lfu" (Ristretto) or "lru" (golang-lru).
	Policy string

	// TimeToLive expires entries this long after they were cached. Zero
	// keeps entries until they are invalidated or evicted.
	TimeToLive time.Duration

	// NumCounters is the number of frequency counters (LFU only).
	// Recommended: 10 * the expected number of entries.
	NumCounters int64

	// MaxCost is the maximum number of cached entries (LFU only).
	// Every entry costs 1.
	MaxCost int64

	// BufferItems is the size of the Get buffers (LFU only).
	// Recommended: 64
	BufferItems int64

	// MaxSize is the maximum number of cached entries (LRU only).
	MaxSize int
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		Policy:      PolicyLFU,
		NumCounters: 1e6,
		MaxCost:     100000,
		BufferItems: 64,
		MaxSize:     10000,
	}
}

// ErrInvalidConfig is returned when a local cache configuration is invalid.
var ErrInvalidConfig = errors.New("invalid local cache configuration")

// Validate validates the configuration for the selected policy.
func (c LocalCacheConfig) Validate() error {
	if c.TimeToLive < 0 {
		return ErrInvalidConfig
	}
	switch c.Policy {
	case PolicyLFU, "":
		if c.NumCounters <= 0 || c.MaxCost <= 0 {
			return ErrInvalidConfig
		}
	case PolicyLRU:
		if c.MaxSize <= 0 {
			return ErrInvalidConfig
		}
	default:
		return ErrInvalidConfig
	}
	return nil
}

// NewLocalCacheFactory returns the factory matching c.Policy.
func NewLocalCacheFactory(c LocalCacheConfig) (LocalCacheFactory, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Policy == PolicyLRU {
		return &LRUCacheFactory{maxSize: c.MaxSize, ttl: c.TimeToLive}, nil
	}
	return &LFUCacheFactory{config: c}, nil
}
