package distributedmap

import (
	"errors"

	"github.com/huykn/distributed-map/event"
	"github.com/huykn/distributed-map/operation"
	"github.com/huykn/distributed-map/partition"
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/storage"
)

// ErrNotFound is returned when a key is not found in the backing store.
var ErrNotFound = storage.ErrNotFound

// ErrNodeClosed is returned when operations are performed on a closed member.
var ErrNodeClosed = errors.New("member is closed")

// ErrInvalidConfig is returned when the member configuration is invalid.
var ErrInvalidConfig = errors.New("invalid member configuration")

// ErrNoLoader is returned by Map.LoadAll when no loader is configured.
var ErrNoLoader = errors.New("no map loader configured")

// ErrSerializationFailed is returned when serialization fails.
var ErrSerializationFailed = serialization.ErrSerializationFailed

// ErrDeserializationFailed is returned when deserialization fails.
var ErrDeserializationFailed = serialization.ErrDeserializationFailed

// ErrDecodeFailure is returned for malformed wire payloads.
var ErrDecodeFailure = serialization.ErrDecodeFailure

// ErrRunFailure is returned when an operation fails while running.
var ErrRunFailure = operation.ErrRunFailure

// ErrPublishFailure wraps event and WAN publish errors reported through OnError.
var ErrPublishFailure = event.ErrPublishFailure

// ErrBackupDelivery wraps backup delivery errors reported through OnError.
var ErrBackupDelivery = partition.ErrBackupDelivery

// ErrRedisConnection is returned when Redis connection fails.
var ErrRedisConnection = errors.New("redis connection failed")

// ErrPubSubFailed is returned when pub/sub operations fail.
var ErrPubSubFailed = errors.New("pub/sub operation failed")
