package sync

import (
	"context"
	"sync"
	"time"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/event"
	"github.com/huykn/distributed-map/serialization"
	"github.com/redis/go-redis/v9"
)

// EventBridge relays entry and map events between members over Redis
// Pub/Sub so listeners on every member observe every mutation.
//
// Events raised on this member (Source equal to sourceID) are forwarded to
// the channel. Events received from other members are handed to the local
// event service, which never forwards them again because their Source
// differs.
type EventBridge struct {
	client   *redis.Client
	channel  string
	sourceID string
	service  *event.Service
	opts     Options

	listenerIDs []string
	pubsub      *redis.PubSub

	mu       sync.RWMutex
	outbound chan []byte
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewEventBridge creates a bridge over service. Call Start to begin relaying.
func NewEventBridge(client *redis.Client, channel, sourceID string, service *event.Service, opts Options) *EventBridge {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &EventBridge{
		client:   client,
		channel:  channel,
		sourceID: sourceID,
		service:  service,
		opts:     opts,
		outbound: make(chan []byte, opts.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the channel and registers the forwarding listeners.
func (b *EventBridge) Start(ctx context.Context) error {
	b.pubsub = b.client.Subscribe(ctx, b.channel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.pubsub.Close()
		b.pubsub = nil
		return err
	}

	b.listenerIDs = append(b.listenerIDs,
		b.service.AddEntryListener(event.AllMaps, func(ev *event.EntryEventData) {
			if ev.Source == b.sourceID {
				b.enqueue(ev)
			}
		}),
		b.service.AddMapListener(event.AllMaps, func(ev *event.MapEventData) {
			if ev.Source == b.sourceID {
				b.enqueue(ev)
			}
		}),
	)

	b.wg.Add(2)
	go b.publishQueued()
	go b.listen()
	return nil
}

// Close unregisters the listeners, flushes pending events and unsubscribes.
func (b *EventBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.outbound)
	b.mu.Unlock()

	for _, id := range b.listenerIDs {
		b.service.RemoveListener(event.AllMaps, id)
	}

	close(b.done)
	b.wg.Wait()

	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}

func (b *EventBridge) enqueue(ev serialization.Identified) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	select {
	case b.outbound <- serialization.Encode(ev):
	default:
		b.report(ErrQueueFull)
	}
}

func (b *EventBridge) publishQueued() {
	defer b.wg.Done()

	for payload := range b.outbound {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.PublishTimeout)
		err := b.client.Publish(ctx, b.channel, payload).Err()
		cancel()
		if err != nil {
			b.report(err)
		}
	}
}

func (b *EventBridge) listen() {
	defer b.wg.Done()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg := <-ch:
			if msg == nil {
				return
			}
			b.deliver([]byte(msg.Payload))
		}
	}
}

// deliver decodes a relayed event and hands it to local listeners.
func (b *EventBridge) deliver(payload []byte) {
	decoded, err := event.Decode(payload)
	if err != nil {
		b.report(err)
		return
	}

	switch ev := decoded.(type) {
	case *event.EntryEventData:
		if ev.Source == b.sourceID {
			return
		}
		err = b.service.PublishEntryEvent(ev)
	case *event.MapEventData:
		if ev.Source == b.sourceID {
			return
		}
		err = b.service.PublishMapEvent(ev)
	}
	if err != nil {
		b.report(err)
		return
	}
	if b.opts.DebugMode {
		b.opts.Logger.Debug("Sync: delivered remote event", "channel", b.channel, "type", decoded.TypeID())
	}
}

func (b *EventBridge) report(err error) {
	if b.opts.OnError != nil {
		b.opts.OnError(err)
	}
	b.opts.Logger.Warn("Sync: event relay error", "channel", b.channel, "error", err)
}
