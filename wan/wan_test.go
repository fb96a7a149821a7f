package wan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
)

func setupRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // Use DB 1 for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	client.FlushDB(ctx)
	return client
}

func view(value string, hits, updated int64) *record.EntryView {
	return &record.EntryView{Key: types.Data("k"), Value: types.Data(value), Hits: hits, LastUpdateTime: updated}
}

func TestMergePolicies(t *testing.T) {
	tests := []struct {
		policy   string
		merging  *record.EntryView
		existing *record.EntryView
		want     types.Data
	}{
		{PassThroughPolicy, view("new", 0, 0), view("old", 9, 9), types.Data("new")},
		{PutIfAbsentPolicy, view("new", 0, 0), nil, types.Data("new")},
		{PutIfAbsentPolicy, view("new", 0, 0), view("old", 0, 0), nil},
		{HigherHitsPolicy, view("new", 5, 0), view("old", 3, 0), types.Data("new")},
		{HigherHitsPolicy, view("new", 1, 0), view("old", 3, 0), nil},
		{LatestUpdatePolicy, view("new", 0, 20), view("old", 0, 10), types.Data("new")},
		{LatestUpdatePolicy, view("new", 0, 5), view("old", 0, 10), nil},
		{LatestUpdatePolicy, view("new", 0, 5), nil, types.Data("new")},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			p, err := LookupMergePolicy(tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.policy, p.Name())
			got := p.Merge("users", tt.merging, tt.existing)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestLookupUnknownMergePolicy(t *testing.T) {
	_, err := LookupMergePolicy("Nope")
	assert.ErrorIs(t, err, ErrUnknownMergePolicy)
}

func TestReplicationEventRoundTrip(t *testing.T) {
	ev := &ReplicationEvent{
		MapName:     "users",
		MergePolicy: PassThroughPolicy,
		Entry:       record.EntryView{Key: types.Data("k"), Value: types.Data("v"), Version: 2, Hits: 3},
	}

	decoded, err := DecodeReplicationEvent(serialization.Encode(ev))
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

func TestDecodeReplicationEventWrongType(t *testing.T) {
	out := serialization.NewObjectDataOutput(0)
	out.WriteInt(99)
	_, err := DecodeReplicationEvent(out.Bytes())
	assert.ErrorIs(t, err, serialization.ErrDecodeFailure)
}

type recordingTarget struct {
	events   []*ReplicationEvent
	policies []string
	err      error
}

func (r *recordingTarget) ApplyReplication(_ context.Context, ev *ReplicationEvent, policy MergePolicy) error {
	r.events = append(r.events, ev)
	r.policies = append(r.policies, policy.Name())
	return r.err
}

func TestConsumerHandleMessage(t *testing.T) {
	ev := &ReplicationEvent{MapName: "users", MergePolicy: LatestUpdatePolicy, Entry: record.EntryView{Key: types.Data("k"), Value: types.Data("v")}}

	t.Run("AppliesStringPayload", func(t *testing.T) {
		target := &recordingTarget{}
		c := NewConsumer(nil, "wan:dc2", target, DefaultConsumerOptions())
		err := c.HandleMessage(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{payloadField: string(serialization.Encode(ev))}})
		require.NoError(t, err)
		require.Len(t, target.events, 1)
		assert.Equal(t, "users", target.events[0].MapName)
		assert.Equal(t, []string{LatestUpdatePolicy}, target.policies)
	})

	t.Run("MissingField", func(t *testing.T) {
		c := NewConsumer(nil, "wan:dc2", &recordingTarget{}, DefaultConsumerOptions())
		err := c.HandleMessage(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{}})
		assert.ErrorIs(t, err, serialization.ErrDecodeFailure)
	})

	t.Run("UnknownPolicy", func(t *testing.T) {
		bad := *ev
		bad.MergePolicy = "Nope"
		c := NewConsumer(nil, "wan:dc2", &recordingTarget{}, DefaultConsumerOptions())
		err := c.HandleMessage(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{payloadField: serialization.Encode(&bad)}})
		assert.ErrorIs(t, err, ErrUnknownMergePolicy)
	})

	t.Run("TargetError", func(t *testing.T) {
		boom := errors.New("boom")
		c := NewConsumer(nil, "wan:dc2", &recordingTarget{err: boom}, DefaultConsumerOptions())
		err := c.HandleMessage(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{payloadField: serialization.Encode(ev)}})
		assert.ErrorIs(t, err, boom)
	})
}

type countingLogger struct{ debugs int64 }

func (l *countingLogger) Debug(string, ...any) { atomic.AddInt64(&l.debugs, 1) }
func (l *countingLogger) Info(string, ...any)  {}
func (l *countingLogger) Warn(string, ...any)  {}
func (l *countingLogger) Error(string, ...any) {}

func TestConsumerDebugLoggingFollowsDebugMode(t *testing.T) {
	ev := &ReplicationEvent{MapName: "users", MergePolicy: PassThroughPolicy, Entry: record.EntryView{Key: types.Data("k"), Value: types.Data("v")}}
	msg := redis.XMessage{ID: "1-0", Values: map[string]any{payloadField: string(serialization.Encode(ev))}}

	for _, debug := range []bool{false, true} {
		logger := &countingLogger{}
		opts := DefaultConsumerOptions()
		opts.Logger = logger
		opts.DebugMode = debug

		c := NewConsumer(nil, "wan:dc2", &recordingTarget{}, opts)
		require.NoError(t, c.HandleMessage(context.Background(), msg))

		if debug {
			assert.Equal(t, int64(1), atomic.LoadInt64(&logger.debugs))
		} else {
			assert.Zero(t, atomic.LoadInt64(&logger.debugs))
		}
	}
}

func TestConsumerCloseDoesNotWaitOutBackoff(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	failed := make(chan struct{}, 1)
	opts := DefaultConsumerOptions()
	opts.StartID = "0-0"
	opts.Block = time.Minute
	opts.OnError = func(error) {
		select {
		case failed <- struct{}{}:
		default:
		}
	}

	c := NewConsumer(client, "wan:dc2", &recordingTarget{}, opts)
	c.Start(context.Background())

	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("read error was not reported")
	}

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close waited for the retry delay")
	}
}

func TestStreamPublisherClosed(t *testing.T) {
	p := NewStreamPublisher(redis.NewClient(&redis.Options{Addr: "localhost:0"}), DefaultStreamPublisherOptions("wan:test"))
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(ReplicationEvent{MapName: "users"}), ErrPublisherClosed)
}

func TestStreamPublisherAndConsumer(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	stream := fmt.Sprintf("wan:dc2:%d", time.Now().UnixNano())
	defer client.Del(context.Background(), stream)

	target := &syncTarget{applied: make(chan *ReplicationEvent, 4)}
	consumer := NewConsumer(client, stream, target, ConsumerOptions{StartID: "0", Count: 10, Block: 100 * time.Millisecond})
	consumer.Start(context.Background())
	defer consumer.Close()

	publisher := NewStreamPublisher(client, DefaultStreamPublisherOptions(stream))
	for _, k := range []string{"k1", "k2"} {
		require.NoError(t, publisher.Publish(ReplicationEvent{
			MapName:     "users",
			MergePolicy: PassThroughPolicy,
			Entry:       record.EntryView{Key: types.Data(k), Value: types.Data("v")},
		}))
	}
	require.NoError(t, publisher.Close())
	assert.Equal(t, int64(2), publisher.Published())

	for _, k := range []string{"k1", "k2"} {
		select {
		case ev := <-target.applied:
			assert.True(t, ev.Entry.Key.Equal(types.Data(k)))
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for replicated entry")
		}
	}
}

func TestConsumerStartsAtStreamTail(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	stream := fmt.Sprintf("wan:tail:%d", time.Now().UnixNano())
	defer client.Del(ctx, stream)

	publish := func(key string) {
		payload := serialization.Encode(&ReplicationEvent{
			MapName:     "users",
			MergePolicy: PassThroughPolicy,
			Entry:       record.EntryView{Key: types.Data(key), Value: types.Data("v")},
		})
		require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{payloadField: payload},
		}).Err())
	}
	publish("old")

	target := &syncTarget{applied: make(chan *ReplicationEvent, 4)}
	opts := DefaultConsumerOptions()
	opts.Block = 100 * time.Millisecond
	consumer := NewConsumer(client, stream, target, opts)
	consumer.Start(ctx)
	defer consumer.Close()

	publish("new")

	select {
	case ev := <-target.applied:
		assert.Equal(t, "new", string(ev.Entry.Key))
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for replicated entry")
	}
}

type syncTarget struct {
	applied chan *ReplicationEvent
}

func (s *syncTarget) ApplyReplication(_ context.Context, ev *ReplicationEvent, _ MergePolicy) error {
	s.applied <- ev
	return nil
}
