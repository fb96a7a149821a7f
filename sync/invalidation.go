package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/nearcache"
	"github.com/huykn/distributed-map/serialization"
	"github.com/redis/go-redis/v9"
)

// ErrQueueFull is returned when outbound invalidations cannot be queued.
var ErrQueueFull = errors.New("invalidation queue is full")

// Options configures the Redis pub/sub transports.
type Options struct {
	// QueueSize bounds outbound messages waiting to be published.
	QueueSize int

	// PublishTimeout bounds one publish round-trip.
	PublishTimeout time.Duration

	// Logger is the logger for debug logging.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when a background publish or decode fails.
	OnError func(error)
}

// DefaultOptions returns default transport options.
func DefaultOptions() Options {
	return Options{
		QueueSize:      4096,
		PublishTimeout: 5 * time.Second,
	}
}

// PubSubSynchronizer carries near-cache invalidations between members
// using Redis Pub/Sub. Registered with a nearcache.Provider it acts as the
// remote handler: every issued invalidation is queued and published.
// Received invalidations from other members are handed to the handlers
// registered with OnInvalidate.
type PubSubSynchronizer struct {
	client         *redis.Client
	channel        string
	sourceID       string
	opts           Options
	pubsub         *redis.PubSub
	handlers       []nearcache.Handler
	handlersMutex  sync.RWMutex
	outbound       chan []byte
	outboundMutex  sync.RWMutex
	outboundClosed bool
	done           chan struct{}
	wg             sync.WaitGroup
}

// NewPubSubSynchronizer creates a new Pub/Sub synchronizer.
func NewPubSubSynchronizer(client *redis.Client, channel, sourceID string, opts Options) *PubSubSynchronizer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	ps := &PubSubSynchronizer{
		client:   client,
		channel:  channel,
		sourceID: sourceID,
		opts:     opts,
		handlers: make([]nearcache.Handler, 0),
		outbound: make(chan []byte, opts.QueueSize),
		done:     make(chan struct{}),
	}
	ps.wg.Add(1)
	go ps.publishQueued()
	return ps
}

// Subscribe starts listening for invalidations from other members.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	ps.pubsub = ps.client.Subscribe(ctx, ps.channel)
	if _, err := ps.pubsub.Receive(ctx); err != nil {
		ps.pubsub.Close()
		ps.pubsub = nil
		return err
	}

	ps.wg.Add(1)
	go ps.listenForEvents()

	return nil
}

// OnInvalidate registers a handler for invalidations received from other members.
func (ps *PubSubSynchronizer) OnInvalidate(h nearcache.Handler) {
	ps.handlersMutex.Lock()
	defer ps.handlersMutex.Unlock()
	ps.handlers = append(ps.handlers, h)
}

// Publish publishes inv synchronously.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, inv nearcache.Invalidation) error {
	return ps.client.Publish(ctx, ps.channel, serialization.Encode(inv)).Err()
}

// HandleSingle queues a single key invalidation for publishing.
func (ps *PubSubSynchronizer) HandleSingle(inv *nearcache.SingleInvalidation) {
	ps.enqueue(inv)
}

// HandleBatch queues a batch invalidation for publishing.
func (ps *PubSubSynchronizer) HandleBatch(inv *nearcache.BatchInvalidation) {
	ps.enqueue(inv)
}

// HandleClear queues a clear invalidation for publishing.
func (ps *PubSubSynchronizer) HandleClear(inv *nearcache.ClearInvalidation) {
	ps.enqueue(inv)
}

// Close stops listening, flushes queued invalidations and closes the subscription.
func (ps *PubSubSynchronizer) Close() error {
	ps.outboundMutex.Lock()
	if ps.outboundClosed {
		ps.outboundMutex.Unlock()
		return nil
	}
	ps.outboundClosed = true
	close(ps.outbound)
	ps.outboundMutex.Unlock()

	close(ps.done)
	ps.wg.Wait()

	if ps.pubsub != nil {
		return ps.pubsub.Close()
	}
	return nil
}

func (ps *PubSubSynchronizer) enqueue(inv nearcache.Invalidation) {
	ps.outboundMutex.RLock()
	defer ps.outboundMutex.RUnlock()

	if ps.outboundClosed {
		return
	}
	select {
	case ps.outbound <- serialization.Encode(inv):
	default:
		ps.report(ErrQueueFull)
	}
}

// publishQueued drains the outbound queue until Close.
func (ps *PubSubSynchronizer) publishQueued() {
	defer ps.wg.Done()

	for payload := range ps.outbound {
		ctx, cancel := context.WithTimeout(context.Background(), ps.opts.PublishTimeout)
		err := ps.client.Publish(ctx, ps.channel, payload).Err()
		cancel()
		if err != nil {
			ps.report(err)
			continue
		}
		if ps.opts.DebugMode {
			ps.opts.Logger.Debug("Sync: published invalidation", "channel", ps.channel, "bytes", len(payload))
		}
	}
}

// listenForEvents listens for invalidations from Redis Pub/Sub.
func (ps *PubSubSynchronizer) listenForEvents() {
	defer ps.wg.Done()

	if ps.pubsub == nil {
		return
	}

	ch := ps.pubsub.Channel()

	for {
		select {
		case <-ps.done:
			return
		case msg := <-ch:
			if msg == nil {
				return
			}

			inv, err := nearcache.DecodeInvalidation([]byte(msg.Payload))
			if err != nil {
				ps.report(err)
				continue
			}

			// Don't invalidate on your own writes
			if inv.SourceID() == ps.sourceID {
				continue
			}

			ps.handlersMutex.RLock()
			handlers := ps.handlers
			ps.handlersMutex.RUnlock()

			for _, h := range handlers {
				inv.Consume(h)
			}
			if ps.opts.DebugMode {
				ps.opts.Logger.Debug("Sync: applied remote invalidation", "map", inv.MapName(), "source", inv.SourceID())
			}
		}
	}
}

func (ps *PubSubSynchronizer) report(err error) {
	if ps.opts.OnError != nil {
		ps.opts.OnError(err)
	}
	ps.opts.Logger.Warn("Sync: invalidation transport error", "channel", ps.channel, "error", err)
}
