package event

import (
	"fmt"
	"sync/atomic"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/types"
	"github.com/huykn/distributed-map/wan"
)

// Publisher announces the effects of a committed mutation.
// Every method is fire-and-forget: failures are reported through the
// publisher's OnError hook and never reach the mutating operation.
type Publisher interface {
	// PublishEvent announces a change of one key. eventType is derived by
	// the caller from whether a previous value existed.
	PublishEvent(caller types.Address, mapName string, eventType types.EntryEventType, key, oldValue, value types.Data)

	// PublishMapEvent announces a map-wide change affecting numberOfEntries entries.
	PublishMapEvent(caller types.Address, mapName string, eventType types.EntryEventType, numberOfEntries int)

	// PublishWanReplicationUpdate ships view to the remote cluster when the
	// map has both a WAN publisher and a merge policy; otherwise it does nothing.
	PublishWanReplicationUpdate(mapName string, view record.EntryView)
}

// WanReplicationSource resolves the WAN configuration of a map.
type WanReplicationSource interface {
	WanReplication(mapName string) (wan.Publisher, wan.MergePolicy)
}

// PublisherOptions configures a MapEventPublisher.
type PublisherOptions struct {
	// Source identifies this member in published events.
	Source string

	// Logger is the logger for debug logging.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called with an error wrapping ErrPublishFailure.
	OnError func(error)
}

// PublisherStats counts published events.
type PublisherStats struct {
	EntryEvents int64
	MapEvents   int64
	WanEvents   int64
	Failures    int64
}

// MapEventPublisher is the default Publisher. It hands events to the
// listener Service and replication entries to the map's WAN publisher.
type MapEventPublisher struct {
	service *Service
	wan     WanReplicationSource
	opts    PublisherOptions
	stats   PublisherStats
}

// NewMapEventPublisher creates a publisher over service and wanSource.
func NewMapEventPublisher(service *Service, wanSource WanReplicationSource, opts PublisherOptions) *MapEventPublisher {
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &MapEventPublisher{
		service: service,
		wan:     wanSource,
		opts:    opts,
	}
}

// PublishEvent implements Publisher.
func (p *MapEventPublisher) PublishEvent(caller types.Address, mapName string, eventType types.EntryEventType, key, oldValue, value types.Data) {
	ev := &EntryEventData{
		EventData: EventData{
			Source:    p.opts.Source,
			MapName:   mapName,
			Caller:    caller,
			EventType: eventType,
		},
		Key:      key,
		OldValue: oldValue,
		Value:    value,
	}
	if err := p.service.PublishEntryEvent(ev); err != nil {
		p.fail(fmt.Errorf("%w: entry event %s on map %s: %v", ErrPublishFailure, eventType, mapName, err))
		return
	}
	atomic.AddInt64(&p.stats.EntryEvents, 1)
	if p.opts.DebugMode {
		p.opts.Logger.Debug("Event: published entry event", "map", mapName, "type", eventType.String(), "key", key.String())
	}
}

// PublishMapEvent implements Publisher.
func (p *MapEventPublisher) PublishMapEvent(caller types.Address, mapName string, eventType types.EntryEventType, numberOfEntries int) {
	ev := &MapEventData{
		EventData: EventData{
			Source:    p.opts.Source,
			MapName:   mapName,
			Caller:    caller,
			EventType: eventType,
		},
		NumberOfEntries: int32(numberOfEntries),
	}
	if err := p.service.PublishMapEvent(ev); err != nil {
		p.fail(fmt.Errorf("%w: map event %s on map %s: %v", ErrPublishFailure, eventType, mapName, err))
		return
	}
	atomic.AddInt64(&p.stats.MapEvents, 1)
	if p.opts.DebugMode {
		p.opts.Logger.Debug("Event: published map event", "map", mapName, "type", eventType.String(), "entries", numberOfEntries)
	}
}

// PublishWanReplicationUpdate implements Publisher.
func (p *MapEventPublisher) PublishWanReplicationUpdate(mapName string, view record.EntryView) {
	if p.wan == nil {
		return
	}
	publisher, policy := p.wan.WanReplication(mapName)
	if publisher == nil || policy == nil {
		return
	}
	ev := wan.ReplicationEvent{
		MapName:     mapName,
		MergePolicy: policy.Name(),
		Entry:       view,
	}
	if err := publisher.Publish(ev); err != nil {
		p.fail(fmt.Errorf("%w: wan update on map %s: %v", ErrPublishFailure, mapName, err))
		return
	}
	atomic.AddInt64(&p.stats.WanEvents, 1)
	if p.opts.DebugMode {
		p.opts.Logger.Debug("Event: queued WAN replication update", "map", mapName, "key", view.Key.String())
	}
}

// Stats returns a snapshot of the publisher counters.
func (p *MapEventPublisher) Stats() PublisherStats {
	return PublisherStats{
		EntryEvents: atomic.LoadInt64(&p.stats.EntryEvents),
		MapEvents:   atomic.LoadInt64(&p.stats.MapEvents),
		WanEvents:   atomic.LoadInt64(&p.stats.WanEvents),
		Failures:    atomic.LoadInt64(&p.stats.Failures),
	}
}

func (p *MapEventPublisher) fail(err error) {
	atomic.AddInt64(&p.stats.Failures, 1)
	if p.opts.OnError != nil {
		p.opts.OnError(err)
	}
	p.opts.Logger.Warn("Event: publish failed", "error", err)
}
