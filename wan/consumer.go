package wan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/serialization"
)

// Target applies replicated entries to the local cluster.
type Target interface {
	ApplyReplication(ctx context.Context, ev *ReplicationEvent, policy MergePolicy) error
}

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	// StartID is the stream id to read after. "$" reads only new entries.
	StartID string

	// Count is the maximum number of entries read per call.
	Count int64

	// Block is how long one read waits for new entries.
	Block time.Duration

	// Logger is the logger for debug logging.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when an entry cannot be decoded or applied.
	OnError func(error)
}

// DefaultConsumerOptions returns default consumer options.
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		StartID: "$",
		Count:   100,
		Block:   time.Second,
	}
}

// Consumer reads a replication stream and applies it through merge policies.
type Consumer struct {
	client *redis.Client
	stream string
	target Target
	opts   ConsumerOptions
	lastID string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer for stream.
func NewConsumer(client *redis.Client, stream string, target Target, opts ConsumerOptions) *Consumer {
	if opts.StartID == "" {
		opts.StartID = "$"
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &Consumer{
		client: client,
		stream: stream,
		target: target,
		opts:   opts,
		lastID: opts.StartID,
	}
}

// Start begins reading in the background until Close is called.
// A "$" start id is fixed to the current stream tail first, so entries
// appended between two reads are not skipped.
func (c *Consumer) Start(ctx context.Context) {
	if c.lastID == "$" {
		c.lastID = c.tailID(ctx)
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
}

// Close stops the consumer and waits for the read loop to exit.
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	for ctx.Err() == nil {
		streams, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, c.lastID},
			Count:   c.opts.Count,
			Block:   c.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.report(err)
			select {
			case <-ctx.Done():
			case <-time.After(c.opts.Block):
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				if err := c.HandleMessage(ctx, msg); err != nil {
					c.report(err)
				}
				c.lastID = msg.ID
			}
		}
	}
}

func (c *Consumer) tailID(ctx context.Context) string {
	msgs, err := c.client.XRevRangeN(ctx, c.stream, "+", "-", 1).Result()
	if err != nil {
		c.report(err)
		return "$"
	}
	if len(msgs) == 0 {
		return "0-0"
	}
	return msgs[0].ID
}

// HandleMessage decodes one stream entry and applies it to the target.
func (c *Consumer) HandleMessage(ctx context.Context, msg redis.XMessage) error {
	raw, ok := msg.Values[payloadField]
	if !ok {
		return fmt.Errorf("%w: stream entry %s has no %q field", serialization.ErrDecodeFailure, msg.ID, payloadField)
	}
	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return fmt.Errorf("%w: stream entry %s has field of type %T", serialization.ErrDecodeFailure, msg.ID, raw)
	}

	ev, err := DecodeReplicationEvent(payload)
	if err != nil {
		return err
	}
	policy, err := LookupMergePolicy(ev.MergePolicy)
	if err != nil {
		return err
	}
	if err := c.target.ApplyReplication(ctx, ev, policy); err != nil {
		return err
	}
	if c.opts.DebugMode {
		c.opts.Logger.Debug("WAN: applied replication event", "stream", c.stream, "id", msg.ID, "map", ev.MapName)
	}
	return nil
}

func (c *Consumer) report(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
	c.opts.Logger.Warn("WAN: consumer error", "stream", c.stream, "error", err)
}
