package operation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huykn/distributed-map/event"
	"github.com/huykn/distributed-map/mapservice"
	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
	"github.com/huykn/distributed-map/wan"
)

type entryEvent struct {
	caller    types.Address
	mapName   string
	eventType types.EntryEventType
	key       types.Data
	oldValue  types.Data
	value     types.Data
}

type mapEvent struct {
	mapName   string
	eventType types.EntryEventType
	entries   int
}

type fakePublisher struct {
	entries []entryEvent
	maps    []mapEvent
	wan     []record.EntryView
}

func (p *fakePublisher) PublishEvent(caller types.Address, mapName string, eventType types.EntryEventType, key, oldValue, value types.Data) {
	p.entries = append(p.entries, entryEvent{caller, mapName, eventType, key, oldValue, value})
}

func (p *fakePublisher) PublishMapEvent(_ types.Address, mapName string, eventType types.EntryEventType, n int) {
	p.maps = append(p.maps, mapEvent{mapName, eventType, n})
}

func (p *fakePublisher) PublishWanReplicationUpdate(_ string, view record.EntryView) {
	p.wan = append(p.wan, view)
}

type fakeInvalidator struct {
	invalidations [][]types.Data
	batches       [][]types.Data
	clears        []string
}

func (f *fakeInvalidator) InvalidateNearCache(_ string, keys []types.Data) {
	f.invalidations = append(f.invalidations, keys)
}

func (f *fakeInvalidator) BatchInvalidateNearCache(_ string, keys []types.Data) {
	f.batches = append(f.batches, keys)
}

func (f *fakeInvalidator) ClearNearCache(mapName string) {
	f.clears = append(f.clears, mapName)
}

type nopWan struct{}

func (nopWan) Publish(wan.ReplicationEvent) error { return nil }

// fakeContext stores values as strings and keeps one store per partition.
type fakeContext struct {
	stores       map[int]*record.Store
	container    *mapservice.MapContainer
	publisher    *fakePublisher
	invalidator  *fakeInvalidator
	intercepted  []any
	interceptErr error
	toObjectErr  error
}

func newFakeContext(config mapservice.MapConfig, wanPublisher wan.Publisher) *fakeContext {
	return &fakeContext{
		stores:      make(map[int]*record.Store),
		container:   mapservice.NewMapContainer("users", config, wanPublisher),
		publisher:   &fakePublisher{},
		invalidator: &fakeInvalidator{},
	}
}

func (f *fakeContext) store(partitionID int) *record.Store {
	s, ok := f.stores[partitionID]
	if !ok {
		s = record.NewStore("users", partitionID)
		f.stores[partitionID] = s
	}
	return s
}

func (f *fakeContext) RecordStore(partitionID int, _ string) (record.RecordStore, error) {
	return f.store(partitionID), nil
}

func (f *fakeContext) MapContainer(string) *mapservice.MapContainer { return f.container }

func (f *fakeContext) InterceptAfterPut(_ string, value any) error {
	f.intercepted = append(f.intercepted, value)
	return f.interceptErr
}

func (f *fakeContext) ToObject(d types.Data) (any, error) {
	if f.toObjectErr != nil {
		return nil, f.toObjectErr
	}
	return string(d), nil
}

func (f *fakeContext) ToData(obj any) (types.Data, error) {
	return types.Data(obj.(string)), nil
}

func (f *fakeContext) EventPublisher() event.Publisher                      { return f.publisher }
func (f *fakeContext) NearCacheProvider() mapservice.NearCacheInvalidator { return f.invalidator }

func seq(items ...string) []types.Data {
	out := make([]types.Data, len(items))
	for i, s := range items {
		out[i] = types.Data(s)
	}
	return out
}

func runOperation(t *testing.T, ctx *fakeContext, op Operation) error {
	t.Helper()
	op.SetContext(ctx)
	op.SetPartitionID(7)
	op.SetCallerAddress(types.Address{Host: "10.0.0.1", Port: 5701})
	if err := op.Run(); err != nil {
		return err
	}
	return op.AfterRun()
}

func value(t *testing.T, ctx *fakeContext, key string) string {
	t.Helper()
	rec, ok := ctx.store(7).GetRecord(types.Data(key))
	require.True(t, ok, "missing key %s", key)
	return string(rec.Value)
}

func TestPutFromLoadAllTwoNewKeys(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	op := NewPutFromLoadAll("users", seq("k1", "v1", "k2", "v2"))

	require.NoError(t, runOperation(t, ctx, op))

	assert.Equal(t, "v1", value(t, ctx, "k1"))
	assert.Equal(t, "v2", value(t, ctx, "k2"))

	require.Len(t, ctx.publisher.entries, 2)
	for i, ev := range ctx.publisher.entries {
		assert.Equal(t, types.Added, ev.eventType)
		assert.Nil(t, ev.oldValue)
		assert.Equal(t, "users", ev.mapName)
		assert.Equal(t, "10.0.0.1:5701", ev.caller.String())
		assert.Equal(t, seq("k1", "k2")[i], ev.key)
	}

	require.Len(t, ctx.invalidator.batches, 1)
	assert.Equal(t, seq("k1", "k2"), ctx.invalidator.batches[0])
	assert.Empty(t, ctx.invalidator.invalidations)
	assert.Equal(t, []any{"v1", "v2"}, ctx.intercepted)
	assert.Equal(t, true, op.Response())
	assert.Empty(t, ctx.publisher.wan)
}

func TestPutFromLoadAllUpdatesExistingKey(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	_, err := ctx.store(7).PutFromLoad(types.Data("k1"), types.Data("v1"))
	require.NoError(t, err)

	require.NoError(t, runOperation(t, ctx, NewPutFromLoadAll("users", seq("k1", "v2"))))

	require.Len(t, ctx.publisher.entries, 1)
	ev := ctx.publisher.entries[0]
	assert.Equal(t, types.Updated, ev.eventType)
	assert.Equal(t, "v1", string(ev.oldValue))
	assert.Equal(t, "v2", string(ev.value))
	assert.Equal(t, "v2", value(t, ctx, "k1"))
}

func TestPutFromLoadAllEmptyInput(t *testing.T) {
	for _, input := range [][]types.Data{nil, {}} {
		ctx := newFakeContext(mapservice.DefaultMapConfig(), nopWan{})
		op := NewPutFromLoadAll("users", input)

		require.NoError(t, runOperation(t, ctx, op))

		assert.Empty(t, ctx.stores)
		assert.Empty(t, ctx.publisher.entries)
		assert.Empty(t, ctx.invalidator.batches)
		assert.False(t, op.ShouldBackup())
		assert.Equal(t, true, op.Response())
	}
}

func TestPutFromLoadAllDuplicateKey(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)

	require.NoError(t, runOperation(t, ctx, NewPutFromLoadAll("users", seq("k1", "v1", "k1", "v2"))))

	assert.Equal(t, "v2", value(t, ctx, "k1"))
	require.Len(t, ctx.publisher.entries, 2)

	first, second := ctx.publisher.entries[0], ctx.publisher.entries[1]
	assert.Equal(t, types.Added, first.eventType)
	assert.Nil(t, first.oldValue)
	assert.Equal(t, "v1", string(first.value))
	assert.Equal(t, types.Updated, second.eventType)
	assert.Equal(t, "v1", string(second.oldValue))
	assert.Equal(t, "v2", string(second.value))

	// One batch, k1 exactly once.
	require.Len(t, ctx.invalidator.batches, 1)
	assert.Equal(t, seq("k1"), ctx.invalidator.batches[0])
}

func TestPutFromLoadAllInvalidatesDistinctKeysInOrder(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)

	require.NoError(t, runOperation(t, ctx, NewPutFromLoadAll("users", seq("b", "1", "a", "2", "b", "3", "c", "4", "a", "5"))))

	require.Len(t, ctx.invalidator.batches, 1)
	assert.Equal(t, seq("b", "a", "c"), ctx.invalidator.batches[0])
}

func TestPutFromLoadAllLastWriteWins(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	input := seq("a", "1", "b", "2", "a", "3", "c", "4", "b", "5")

	require.NoError(t, runOperation(t, ctx, NewPutFromLoadAll("users", input)))

	assert.Equal(t, "3", value(t, ctx, "a"))
	assert.Equal(t, "5", value(t, ctx, "b"))
	assert.Equal(t, "4", value(t, ctx, "c"))
	assert.Equal(t, 3, ctx.store(7).Size())
}

func TestPutFromLoadAllWanGating(t *testing.T) {
	withWan := mapservice.MapConfig{
		BackupCount: 1,
		Wan:         &mapservice.WanConfig{TargetCluster: "dc2", MergePolicy: wan.PassThroughPolicy},
	}

	t.Run("PublisherAndPolicy", func(t *testing.T) {
		ctx := newFakeContext(withWan, nopWan{})
		require.NoError(t, runOperation(t, ctx, NewPutFromLoadAll("users", seq("k1", "v1", "k2", "v2"))))
		require.Len(t, ctx.publisher.wan, 2)
		assert.Equal(t, "k1", string(ctx.publisher.wan[0].Key))
		assert.Equal(t, "v1", string(ctx.publisher.wan[0].Value))
		assert.Len(t, ctx.publisher.entries, 2)
	})

	t.Run("NoPublisher", func(t *testing.T) {
		ctx := newFakeContext(withWan, nil)
		require.NoError(t, runOperation(t, ctx, NewPutFromLoadAll("users", seq("k1", "v1"))))
		assert.Empty(t, ctx.publisher.wan)
		assert.Len(t, ctx.publisher.entries, 1)
	})

	t.Run("NoWanConfig", func(t *testing.T) {
		ctx := newFakeContext(mapservice.DefaultMapConfig(), nopWan{})
		require.NoError(t, runOperation(t, ctx, NewPutFromLoadAll("users", seq("k1", "v1"))))
		assert.Empty(t, ctx.publisher.wan)
		assert.Len(t, ctx.publisher.entries, 1)
	})
}

func TestPutFromLoadAllOddLengthIsRunFailure(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	err := runOperation(t, ctx, NewPutFromLoadAll("users", seq("k1", "v1", "k2")))
	assert.ErrorIs(t, err, ErrRunFailure)
	assert.Empty(t, ctx.publisher.entries)
}

func TestPutFromLoadAllFailureKeepsEarlierPairs(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	// An absent value makes the second put fail.
	input := []types.Data{types.Data("k1"), types.Data("v1"), types.Data("k2"), nil, types.Data("k3"), types.Data("v3")}
	op := NewPutFromLoadAll("users", input)
	op.SetContext(ctx)
	op.SetPartitionID(7)

	err := op.Run()
	assert.ErrorIs(t, err, ErrRunFailure)
	assert.Equal(t, "v1", value(t, ctx, "k1"))
	_, ok := ctx.store(7).GetRecord(types.Data("k3"))
	assert.False(t, ok)
	assert.Len(t, ctx.publisher.entries, 1)
}

func TestPutFromLoadAllInterceptorFailure(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	ctx.interceptErr = errors.New("rejected")
	op := NewPutFromLoadAll("users", seq("k1", "v1", "k2", "v2"))
	op.SetContext(ctx)

	err := op.Run()
	assert.ErrorIs(t, err, ErrRunFailure)
	// The pair is already committed when the interceptor runs.
	assert.Equal(t, 1, ctx.store(0).Size())
	assert.Empty(t, ctx.publisher.entries)
}

func TestPutFromLoadAllConversionFailure(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	ctx.toObjectErr = serialization.ErrDeserializationFailed
	op := NewPutFromLoadAll("users", seq("k1", "v1"))
	op.SetContext(ctx)

	assert.ErrorIs(t, op.Run(), ErrRunFailure)
	assert.Equal(t, 0, ctx.store(0).Size())
}

func TestPutFromLoadAllWithoutContext(t *testing.T) {
	err := NewPutFromLoadAll("users", seq("k1", "v1")).Run()
	assert.ErrorIs(t, err, ErrRunFailure)
}

func TestPutFromLoadAllBackupAwareness(t *testing.T) {
	ctx := newFakeContext(mapservice.MapConfig{BackupCount: 2, AsyncBackupCount: 1}, nil)
	input := seq("k1", "v1", "k2", "v2")
	op := NewPutFromLoadAll("users", input)
	op.SetContext(ctx)

	var _ BackupAwareOperation = op
	assert.True(t, op.ShouldBackup())
	assert.Equal(t, 2, op.SyncBackupCount())
	assert.Equal(t, 1, op.AsyncBackupCount())

	backup, ok := op.BackupOperation().(*PutFromLoadAllBackup)
	require.True(t, ok)
	assert.Equal(t, "users", backup.Name())
	assert.Equal(t, input, backup.KeyValueSequence())
}

func TestPutFromLoadAllBackupIsIdempotent(t *testing.T) {
	payload := Encode(NewPutFromLoadAllBackup("users", seq("k1", "v1", "k2", "v2", "k1", "v3")))

	once := newFakeContext(mapservice.DefaultMapConfig(), nil)
	twice := newFakeContext(mapservice.DefaultMapConfig(), nil)

	apply := func(ctx *fakeContext) {
		op, err := Decode(payload)
		require.NoError(t, err)
		require.NoError(t, runOperation(t, ctx, op))
	}
	apply(once)
	apply(twice)
	apply(twice)

	for _, k := range []string{"k1", "k2"} {
		assert.Equal(t, value(t, once, k), value(t, twice, k))
	}
	assert.Equal(t, once.store(7).Size(), twice.store(7).Size())
	assert.Empty(t, twice.publisher.entries)
	assert.Empty(t, twice.invalidator.batches)
}

func TestPutFromLoadAllRoundTrip(t *testing.T) {
	tests := map[string][]types.Data{
		"Pairs":       seq("k1", "v1", "k2", "v2"),
		"Empty":       {},
		"BinaryBytes": {types.Data{0, 1, 2}, types.Data{0xff}},
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			op, err := Decode(Encode(NewPutFromLoadAll("users", input)))
			require.NoError(t, err)
			decoded, ok := op.(*PutFromLoadAll)
			require.True(t, ok)
			assert.Equal(t, "users", decoded.Name())
			require.NotNil(t, decoded.KeyValueSequence())
			require.Len(t, decoded.KeyValueSequence(), len(input))
			for i := range input {
				assert.True(t, input[i].Equal(decoded.KeyValueSequence()[i]))
			}
		})
	}
}

func TestDecodeRejectsOddLengthSequence(t *testing.T) {
	out := serialization.NewObjectDataOutput(0)
	out.WriteInt(PutFromLoadAllType)
	out.WriteString("users")
	out.WriteDataList(seq("k1", "v1", "k2"))

	_, err := Decode(out.Bytes())
	assert.ErrorIs(t, err, serialization.ErrDecodeFailure)
}

func TestDecodeNegativeCountIsEmpty(t *testing.T) {
	out := serialization.NewObjectDataOutput(0)
	out.WriteInt(PutFromLoadAllBackupType)
	out.WriteString("users")
	out.WriteInt(-5)

	op, err := Decode(out.Bytes())
	require.NoError(t, err)
	backup := op.(*PutFromLoadAllBackup)
	assert.NotNil(t, backup.KeyValueSequence())
	assert.Empty(t, backup.KeyValueSequence())
}

func TestDecodeFailures(t *testing.T) {
	t.Run("UnknownType", func(t *testing.T) {
		out := serialization.NewObjectDataOutput(0)
		out.WriteInt(99)
		_, err := Decode(out.Bytes())
		assert.ErrorIs(t, err, serialization.ErrDecodeFailure)
	})

	t.Run("Truncated", func(t *testing.T) {
		payload := Encode(NewPutFromLoadAll("users", seq("k1", "v1")))
		_, err := Decode(payload[:len(payload)-1])
		assert.ErrorIs(t, err, serialization.ErrDecodeFailure)
	})
}

func TestClear(t *testing.T) {
	ctx := newFakeContext(mapservice.MapConfig{BackupCount: 1}, nil)
	require.NoError(t, runOperation(t, ctx, NewPutFromLoadAll("users", seq("k1", "v1", "k2", "v2"))))

	op := NewClear("users")
	require.NoError(t, runOperation(t, ctx, op))

	assert.Equal(t, 0, ctx.store(7).Size())
	assert.Equal(t, 2, op.Response())
	require.Len(t, ctx.publisher.maps, 1)
	assert.Equal(t, mapEvent{"users", types.ClearAll, 2}, ctx.publisher.maps[0])
	assert.Equal(t, []string{"users"}, ctx.invalidator.clears)
	assert.True(t, op.ShouldBackup())
	assert.Equal(t, 1, op.SyncBackupCount())
	_, ok := op.BackupOperation().(*ClearBackup)
	assert.True(t, ok)
}

func TestClearEmptyPartition(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	op := NewClear("users")
	require.NoError(t, runOperation(t, ctx, op))

	assert.Equal(t, 0, op.Response())
	assert.Empty(t, ctx.publisher.maps)
	assert.Empty(t, ctx.invalidator.clears)
}

func TestClearBackupRoundTrip(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	_, err := ctx.store(7).PutFromLoad(types.Data("k"), types.Data("v"))
	require.NoError(t, err)

	op, err := Decode(Encode(NewClearBackup("users")))
	require.NoError(t, err)
	require.NoError(t, runOperation(t, ctx, op))
	assert.Equal(t, 0, ctx.store(7).Size())
	assert.Empty(t, ctx.publisher.maps)
}

func TestMerge(t *testing.T) {
	entry := record.EntryView{Key: types.Data("k1"), Value: types.Data("remote"), Hits: 5, LastUpdateTime: 100}

	t.Run("AbsentKeyIsAdded", func(t *testing.T) {
		ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
		op := NewMerge("users", wan.PutIfAbsentPolicy, entry)
		require.NoError(t, runOperation(t, ctx, op))

		assert.Equal(t, "remote", value(t, ctx, "k1"))
		assert.Equal(t, true, op.Response())
		require.Len(t, ctx.publisher.entries, 1)
		assert.Equal(t, types.Added, ctx.publisher.entries[0].eventType)
		assert.Equal(t, [][]types.Data{seq("k1")}, ctx.invalidator.invalidations)
		assert.Empty(t, ctx.publisher.wan)

		backup := op.BackupOperation().(*PutFromLoadAllBackup)
		assert.Equal(t, seq("k1", "remote"), backup.KeyValueSequence())
	})

	t.Run("PolicyKeepsExisting", func(t *testing.T) {
		ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
		_, err := ctx.store(7).PutFromLoad(types.Data("k1"), types.Data("local"))
		require.NoError(t, err)

		op := NewMerge("users", wan.PutIfAbsentPolicy, entry)
		require.NoError(t, runOperation(t, ctx, op))

		assert.Equal(t, "local", value(t, ctx, "k1"))
		assert.Equal(t, false, op.Response())
		assert.False(t, op.ShouldBackup())
		assert.Empty(t, ctx.publisher.entries)
		assert.Empty(t, ctx.invalidator.invalidations)
	})

	t.Run("PassThroughUpdates", func(t *testing.T) {
		ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
		_, err := ctx.store(7).PutFromLoad(types.Data("k1"), types.Data("local"))
		require.NoError(t, err)

		op := NewMerge("users", wan.PassThroughPolicy, entry)
		require.NoError(t, runOperation(t, ctx, op))

		assert.Equal(t, "remote", value(t, ctx, "k1"))
		require.Len(t, ctx.publisher.entries, 1)
		assert.Equal(t, types.Updated, ctx.publisher.entries[0].eventType)
		assert.Equal(t, "local", string(ctx.publisher.entries[0].oldValue))
	})

	t.Run("UnknownPolicy", func(t *testing.T) {
		ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
		op := NewMerge("users", "nope", entry)
		assert.ErrorIs(t, runOperation(t, ctx, op), ErrRunFailure)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		op, err := Decode(Encode(NewMerge("users", wan.HigherHitsPolicy, entry)))
		require.NoError(t, err)
		decoded := op.(*Merge)
		assert.Equal(t, wan.HigherHitsPolicy, decoded.mergePolicy)
		assert.Equal(t, "remote", string(decoded.entry.Value))
		assert.Equal(t, int64(5), decoded.entry.Hits)
	})
}

func TestGet(t *testing.T) {
	ctx := newFakeContext(mapservice.DefaultMapConfig(), nil)
	_, err := ctx.store(7).PutFromLoad(types.Data("k1"), types.Data("v1"))
	require.NoError(t, err)

	op, err := Decode(Encode(NewGet("users", types.Data("k1"))))
	require.NoError(t, err)
	require.NoError(t, runOperation(t, ctx, op))
	assert.Equal(t, "v1", string(op.Response().(types.Data)))

	missing := NewGet("users", types.Data("nope"))
	require.NoError(t, runOperation(t, ctx, missing))
	assert.True(t, missing.Response().(types.Data).IsAbsent())
}
