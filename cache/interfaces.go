package cache

import "github.com/huykn/distributed-map/types"

// Logger defines the interface for logging across the map service.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Marshaller converts map values to and from their serialized form.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// LocalCache is the in-process storage behind a near-cache. Keys are the
// serialized map keys. Entries may expire after the configured time-to-live.
type LocalCache interface {
	Get(key types.Data) (any, bool)

	// Set stores value for key and reports whether it was admitted.
	Set(key types.Data, value any) bool

	Delete(key types.Data)
	Clear()
	Close()
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics. Evictions count entries
// dropped for capacity or expiry; explicit deletes are not evictions.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory creates the storage of one near-cache.
type LocalCacheFactory interface {
	Create() (LocalCache, error)
}
