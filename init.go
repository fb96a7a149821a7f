package distributedmap

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/huykn/distributed-map/mapservice"
	"github.com/huykn/distributed-map/partition"
	"github.com/huykn/distributed-map/storage"
)

// Config configures a distributed map member.
type Config struct {
	// MemberID is the unique identifier for this member.
	// Used to avoid applying our own invalidations and events twice.
	MemberID string

	// Address is stamped as the caller of operations issued by this member.
	Address Address

	// ClusterName names the cluster this member belongs to. WAN replication
	// events for this cluster are read from WanStreamPrefix + ClusterName.
	ClusterName string

	// PartitionCount is the number of partitions.
	PartitionCount int

	// ReplicaCount is the number of in-process backup replicas.
	ReplicaCount int

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	// Empty runs the member standalone: no remote invalidation, no remote
	// listeners, no WAN replication and no Redis loader.
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// InvalidationChannel is the Redis pub/sub channel for near-cache invalidation.
	InvalidationChannel string

	// EventChannel is the Redis pub/sub channel relaying entry and map events.
	EventChannel string

	// WanStreamPrefix prefixes the Redis stream of every target cluster.
	WanStreamPrefix string

	// EnableWanConsumer applies replication events addressed to ClusterName.
	EnableWanConsumer bool

	// Maps holds per-map configuration.
	Maps map[string]MapConfig

	// DefaultMapConfig applies to maps without an entry in Maps.
	DefaultMapConfig MapConfig

	// Loader supplies entries for Map.LoadAll.
	// If nil and Redis is configured, defaults to a Redis loader.
	Loader storage.MapLoader

	// Marshaller is the marshaller for values.
	// If nil, defaults to JSON marshaller.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout is the default timeout for start-up calls to Redis.
	ContextTimeout time.Duration

	// OnError is called when an error occurs in background operations.
	OnError func(error)

	// TracerProvider traces map operations when set.
	TracerProvider trace.TracerProvider

	// MeterProvider records map operation metrics when set.
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns default member configuration.
func DefaultConfig() Config {
	return Config{
		MemberID:            "default-member",
		Address:             Address{Host: "127.0.0.1", Port: 5701},
		ClusterName:         "dev",
		PartitionCount:      partition.DefaultPartitionCount,
		ReplicaCount:        1,
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		InvalidationChannel: "dmap:invalidate",
		EventChannel:        "dmap:events",
		WanStreamPrefix:     "dmap:wan:",
		DefaultMapConfig:    DefaultMapConfig(),
		ContextTimeout:      5 * time.Second,
		Marshaller:          nil, // Will default to JSON in New()
		Logger:              nil, // Will default to no-op in New()
		DebugMode:           false,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.MemberID == "" {
		return fmt.Errorf("%w: member id is required", ErrInvalidConfig)
	}
	if c.PartitionCount < 1 {
		return fmt.Errorf("%w: partition count must be positive, got %d", ErrInvalidConfig, c.PartitionCount)
	}
	if c.ReplicaCount < 0 || c.ReplicaCount > MaxBackupCount {
		return fmt.Errorf("%w: replica count must be between 0 and %d, got %d", ErrInvalidConfig, MaxBackupCount, c.ReplicaCount)
	}
	if c.ContextTimeout <= 0 {
		return fmt.Errorf("%w: context timeout must be positive", ErrInvalidConfig)
	}
	if c.RedisAddr != "" {
		if c.InvalidationChannel == "" {
			return fmt.Errorf("%w: invalidation channel is required", ErrInvalidConfig)
		}
		if c.EventChannel == "" {
			return fmt.Errorf("%w: event channel is required", ErrInvalidConfig)
		}
		if c.InvalidationChannel == c.EventChannel {
			return fmt.Errorf("%w: invalidation and event channels must differ", ErrInvalidConfig)
		}
	}
	if c.EnableWanConsumer {
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: wan consumer requires redis", ErrInvalidConfig)
		}
		if c.ClusterName == "" {
			return fmt.Errorf("%w: wan consumer requires a cluster name", ErrInvalidConfig)
		}
	}
	if err := c.DefaultMapConfig.Validate(); err != nil {
		return fmt.Errorf("%w: default map config: %v", ErrInvalidConfig, err)
	}
	for name, mc := range c.Maps {
		if err := mc.Validate(); err != nil {
			return fmt.Errorf("%w: map %s: %v", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

// DefaultMapConfig returns a map configuration with one synchronous backup.
func DefaultMapConfig() MapConfig {
	return mapservice.DefaultMapConfig()
}
