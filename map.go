package distributedmap

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/huykn/distributed-map/nearcache"
	"github.com/huykn/distributed-map/operation"
	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/types"
)

// Map is the member-local handle of a distributed map.
type Map struct {
	name      string
	node      *Node
	nearCache *nearcache.NearCache
	binary    bool
	group     singleflight.Group
}

// Name returns the map name.
func (m *Map) Name() string {
	return m.name
}

// LoadAll loads every key the configured loader knows for this map.
func (m *Map) LoadAll(ctx context.Context) (n int, err error) {
	ctx, done := m.node.inst.start(ctx, "loadAll", m.name)
	defer func() { done(err) }()

	if m.node.loader == nil {
		return 0, ErrNoLoader
	}
	keys, err := m.node.loader.LoadAllKeys(ctx, m.name)
	if err != nil {
		return 0, fmt.Errorf("load keys of %s: %w", m.name, err)
	}
	return m.LoadAllFrom(ctx, m.node.loader, keys)
}

// LoadKeys loads the given keys through the configured loader.
func (m *Map) LoadKeys(ctx context.Context, keys ...any) (int, error) {
	if m.node.loader == nil {
		return 0, ErrNoLoader
	}
	raw := make([]types.Data, 0, len(keys))
	for _, k := range keys {
		d, err := m.keyData(k)
		if err != nil {
			return 0, err
		}
		raw = append(raw, d)
	}
	return m.LoadAllFrom(ctx, m.node.loader, raw)
}

// LoadAllFrom fetches keys from loader and stores the entries found.
// It returns the number of entries stored.
func (m *Map) LoadAllFrom(ctx context.Context, loader MapLoader, keys []types.Data) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	seq, err := loader.LoadAll(ctx, m.name, keys)
	if err != nil {
		return 0, fmt.Errorf("load entries of %s: %w", m.name, err)
	}
	if err := m.PutFromLoadAll(ctx, seq); err != nil {
		return 0, err
	}
	return len(seq) / 2, nil
}

// PutEntriesFromLoad stores entries as if they had been loaded. Values go
// through the member's marshaller.
func (m *Map) PutEntriesFromLoad(ctx context.Context, entries map[string]any) error {
	seq := make([]types.Data, 0, 2*len(entries))
	for k, v := range entries {
		value, err := m.node.mapCtx.ToData(v)
		if err != nil {
			return err
		}
		seq = append(seq, types.Data(k), value)
	}
	return m.PutFromLoadAll(ctx, seq)
}

// PutFromLoadAll stores a flat key/value sequence of loaded entries.
// Pairs are routed to the partitions owning their keys; the relative
// order of pairs within one partition is kept.
func (m *Map) PutFromLoadAll(ctx context.Context, seq []types.Data) (err error) {
	ctx, done := m.node.inst.start(ctx, "putFromLoadAll", m.name)
	defer func() { done(err) }()

	if atomic.LoadInt32(&m.node.closed) != 0 {
		return ErrNodeClosed
	}
	if len(seq)%2 != 0 {
		return fmt.Errorf("%w: odd key/value sequence length %d", ErrRunFailure, len(seq))
	}
	if len(seq) == 0 {
		return nil
	}

	partitions := m.node.partitions
	byPartition := make(map[int][]types.Data)
	for i := 0; i < len(seq); i += 2 {
		id := partitions.PartitionIDFor(seq[i])
		byPartition[id] = append(byPartition[id], seq[i], seq[i+1])
	}

	g, gctx := errgroup.WithContext(ctx)
	for id, pairs := range byPartition {
		g.Go(func() error {
			_, err := partitions.Execute(gctx, id, operation.NewPutFromLoadAll(m.name, pairs))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	atomic.AddInt64(&m.node.stats.Loads, 1)
	atomic.AddInt64(&m.node.stats.LoadedEntries, int64(len(seq)/2))
	m.node.inst.loaded(ctx, m.name, len(seq)/2)
	if m.node.cfg.DebugMode {
		m.node.logger.Debug("Map: loaded entries", "map", m.name, "entries", len(seq)/2,
			"partitions", len(byPartition))
	}
	return nil
}

// Get returns the value of key. The near-cache is consulted first when the
// map has one; concurrent misses for the same key share one partition read.
func (m *Map) Get(ctx context.Context, key any) (value any, found bool, err error) {
	ctx, done := m.node.inst.start(ctx, "get", m.name)
	defer func() { done(err) }()

	if atomic.LoadInt32(&m.node.closed) != 0 {
		return nil, false, ErrNodeClosed
	}
	k, err := m.keyData(key)
	if err != nil {
		return nil, false, err
	}

	if m.nearCache != nil {
		if v, ok := m.nearCache.Get(k); ok {
			if !m.binary {
				return v, true, nil
			}
			obj, err := m.node.mapCtx.ToObject(v.(types.Data))
			if err != nil {
				return nil, false, err
			}
			return obj, true, nil
		}
	}

	v, err, _ := m.group.Do(k.Key(), func() (any, error) {
		var reservation uint64
		if m.nearCache != nil {
			reservation = m.nearCache.Reserve(k)
		}
		obj, d, err := m.read(ctx, k)
		if m.nearCache == nil {
			return obj, err
		}
		switch {
		case err != nil || d.IsAbsent():
			m.nearCache.Release(k, reservation)
		case m.binary:
			m.nearCache.Publish(k, d, reservation)
		default:
			m.nearCache.Publish(k, obj, reservation)
		}
		return obj, err
	})
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

// read fetches key from its partition. An absent key gives nil values.
func (m *Map) read(ctx context.Context, k types.Data) (any, types.Data, error) {
	partitions := m.node.partitions
	resp, err := partitions.Execute(ctx, partitions.PartitionIDFor(k), operation.NewGet(m.name, k))
	if err != nil {
		return nil, nil, err
	}
	d, _ := resp.(types.Data)
	if d.IsAbsent() {
		return nil, nil, nil
	}
	obj, err := m.node.mapCtx.ToObject(d)
	if err != nil {
		return nil, nil, err
	}
	return obj, d, nil
}

// Clear removes every entry of the map and returns how many were removed.
func (m *Map) Clear(ctx context.Context) (removed int, err error) {
	ctx, done := m.node.inst.start(ctx, "clear", m.name)
	defer func() { done(err) }()

	if atomic.LoadInt32(&m.node.closed) != 0 {
		return 0, ErrNodeClosed
	}
	responses, err := m.node.partitions.ExecuteOnAllPartitions(ctx, func() operation.Operation {
		return operation.NewClear(m.name)
	})
	if err != nil {
		return 0, err
	}
	for _, r := range responses {
		if n, ok := r.(int); ok {
			removed += n
		}
	}
	return removed, nil
}

// AddEntryListener registers l for entry events of this map.
func (m *Map) AddEntryListener(l EntryListener) string {
	return m.node.events.AddEntryListener(m.name, l)
}

// AddMapListener registers l for map-wide events of this map.
func (m *Map) AddMapListener(l MapListener) string {
	return m.node.events.AddMapListener(m.name, l)
}

// RemoveListener removes a listener registered on this map.
func (m *Map) RemoveListener(id string) bool {
	return m.node.events.RemoveListener(m.name, id)
}

// AddInterceptor registers i to observe every value stored in this map.
func (m *Map) AddInterceptor(i Interceptor) {
	m.node.mapCtx.AddInterceptor(m.name, i)
}

// NearCacheStats returns the near-cache statistics, false when the map has none.
func (m *Map) NearCacheStats() (nearcache.Stats, bool) {
	if m.nearCache == nil {
		return nearcache.Stats{}, false
	}
	return m.nearCache.Stats(), true
}

func (m *Map) keyData(key any) (types.Data, error) {
	switch k := key.(type) {
	case string:
		return types.Data(k), nil
	case []byte:
		return types.Data(k), nil
	case types.Data:
		return k, nil
	}
	d, err := m.node.mapCtx.ToData(key)
	if err != nil {
		return nil, err
	}
	if d.IsAbsent() {
		return nil, record.ErrAbsentKey
	}
	return d, nil
}
