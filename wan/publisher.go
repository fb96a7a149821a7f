package wan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/serialization"
)

// ErrQueueFull is returned when the replication queue cannot take more events.
var ErrQueueFull = errors.New("wan replication queue is full")

// ErrPublisherClosed is returned when publishing to a closed publisher.
var ErrPublisherClosed = errors.New("wan publisher is closed")

// payloadField is the stream entry field holding the encoded event.
const payloadField = "event"

// Publisher ships replication events to a remote cluster.
// Publish never blocks; delivery happens in the background.
type Publisher interface {
	Publish(ev ReplicationEvent) error
}

// StreamPublisherOptions configures a StreamPublisher.
type StreamPublisherOptions struct {
	// Stream is the Redis stream the target cluster consumes.
	Stream string

	// QueueCapacity bounds the number of events waiting to be shipped.
	QueueCapacity int

	// BatchSize is the maximum number of events sent in one pipeline.
	BatchSize int

	// MaxLen trims the stream approximately to this length. Zero disables trimming.
	MaxLen int64

	// WriteTimeout bounds one pipeline round-trip.
	WriteTimeout time.Duration

	// Logger is the logger for debug logging.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when a batch cannot be written.
	OnError func(error)
}

// DefaultStreamPublisherOptions returns default publisher options for stream.
func DefaultStreamPublisherOptions(stream string) StreamPublisherOptions {
	return StreamPublisherOptions{
		Stream:        stream,
		QueueCapacity: 10000,
		BatchSize:     100,
		MaxLen:        100000,
		WriteTimeout:  5 * time.Second,
	}
}

// StreamPublisher appends replication events to a Redis stream.
type StreamPublisher struct {
	client    *redis.Client
	opts      StreamPublisherOptions
	queue     chan ReplicationEvent
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	published int64
	dropped   int64
}

// NewStreamPublisher creates a publisher and starts its shipping goroutine.
func NewStreamPublisher(client *redis.Client, opts StreamPublisherOptions) *StreamPublisher {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}

	p := &StreamPublisher{
		client: client,
		opts:   opts,
		queue:  make(chan ReplicationEvent, opts.QueueCapacity),
	}
	p.wg.Add(1)
	go p.ship()
	return p
}

// Publish queues ev for shipping.
func (p *StreamPublisher) Publish(ev ReplicationEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- ev:
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		return ErrQueueFull
	}
}

// Published returns the number of events written to the stream.
func (p *StreamPublisher) Published() int64 {
	return atomic.LoadInt64(&p.published)
}

// Dropped returns the number of events rejected because the queue was full.
func (p *StreamPublisher) Dropped() int64 {
	return atomic.LoadInt64(&p.dropped)
}

// Close stops accepting events and flushes the queue.
func (p *StreamPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *StreamPublisher) ship() {
	defer p.wg.Done()

	batch := make([]ReplicationEvent, 0, p.opts.BatchSize)
	for ev := range p.queue {
		batch = append(batch[:0], ev)
	drain:
		for len(batch) < p.opts.BatchSize {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		p.write(batch)
	}
}

func (p *StreamPublisher) write(batch []ReplicationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.WriteTimeout)
	defer cancel()

	pipe := p.client.Pipeline()
	for i := range batch {
		args := &redis.XAddArgs{
			Stream: p.opts.Stream,
			Values: map[string]any{payloadField: serialization.Encode(&batch[i])},
		}
		if p.opts.MaxLen > 0 {
			args.MaxLen = p.opts.MaxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		if p.opts.OnError != nil {
			p.opts.OnError(err)
		}
		p.opts.Logger.Warn("WAN: failed to ship replication batch", "stream", p.opts.Stream, "size", len(batch), "error", err)
		return
	}
	atomic.AddInt64(&p.published, int64(len(batch)))
	if p.opts.DebugMode {
		p.opts.Logger.Debug("WAN: shipped replication batch", "stream", p.opts.Stream, "size", len(batch))
	}
}
