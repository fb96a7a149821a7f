package distributedmap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/event"
	"github.com/huykn/distributed-map/mapservice"
	"github.com/huykn/distributed-map/nearcache"
	"github.com/huykn/distributed-map/operation"
	"github.com/huykn/distributed-map/partition"
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/storage"
	mapsync "github.com/huykn/distributed-map/sync"
	"github.com/huykn/distributed-map/wan"
)

// Stats represents member statistics.
type Stats struct {
	Partition     partition.Stats
	Events        event.PublisherStats
	Invalidations nearcache.ProviderStats
	Loads         int64
	LoadedEntries int64
	WanMerges     int64
}

// replica is a backup member running in the same process.
type replica struct {
	mapCtx     *mapservice.Context
	partitions *partition.Service
}

// Node is one member of a distributed map cluster.
type Node struct {
	cfg        Config
	logger     Logger
	client     *redis.Client
	events     *event.Service
	mapCtx     *mapservice.Context
	partitions *partition.Service
	replicas   []replica
	loader     storage.MapLoader
	inst       *instrumentation

	synchronizer *mapsync.PubSubSynchronizer
	bridge       *mapsync.EventBridge
	wanConsumer  *wan.Consumer

	wanMu         sync.Mutex
	wanPublishers map[string]*wan.StreamPublisher

	mapsMu sync.Mutex
	maps   map[string]*Map

	closed int32
	stats  Stats
}

// New creates and starts a member.
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = cache.NewNoOpLogger()
	}

	n := &Node{
		cfg:           cfg,
		logger:        cfg.Logger,
		loader:        cfg.Loader,
		inst:          newInstrumentation(cfg),
		wanPublishers: make(map[string]*wan.StreamPublisher),
		maps:          make(map[string]*Map),
	}

	if cfg.RedisAddr != "" {
		n.client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ContextTimeout)
		err := n.client.Ping(ctx).Err()
		cancel()
		if err != nil {
			n.client.Close()
			return nil, fmt.Errorf("%w: %v", ErrRedisConnection, err)
		}
	}

	svcOpts := event.DefaultServiceOptions()
	svcOpts.Logger = cfg.Logger
	n.events = event.NewService(svcOpts)

	serializer := serialization.NewSerializer(cfg.Marshaller)
	mapCtx, err := mapservice.NewContext(mapservice.Options{
		MemberID:         cfg.MemberID,
		Maps:             cfg.Maps,
		DefaultMapConfig: cfg.DefaultMapConfig,
		Serializer:       serializer,
		EventService:     n.events,
		WanPublisherFor:  n.wanPublisherFor,
		Logger:           cfg.Logger,
		DebugMode:        cfg.DebugMode,
		OnError:          cfg.OnError,
	})
	if err != nil {
		n.Close()
		return nil, err
	}
	n.mapCtx = mapCtx

	transports := make([]partition.BackupTransport, 0, cfg.ReplicaCount)
	for i := 0; i < cfg.ReplicaCount; i++ {
		r, err := n.newReplica(i, serializer)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.replicas = append(n.replicas, r)
		transports = append(transports, partition.NewLocalReplica(r.partitions))
	}

	n.partitions, err = partition.NewService(mapCtx, partition.Options{
		PartitionCount: cfg.PartitionCount,
		QueueSize:      partition.DefaultOptions().QueueSize,
		Caller:         cfg.Address,
		Replicas:       transports,
		Logger:         cfg.Logger,
		DebugMode:      cfg.DebugMode,
		OnError:        cfg.OnError,
	})
	if err != nil {
		n.Close()
		return nil, err
	}

	if n.client != nil {
		if err := n.startRedisServices(); err != nil {
			n.Close()
			return nil, err
		}
	}

	if cfg.DebugMode {
		n.logger.Debug("Node: started", "member", cfg.MemberID, "partitions", cfg.PartitionCount,
			"replicas", cfg.ReplicaCount, "redis", n.client != nil)
	}
	return n, nil
}

func (n *Node) newReplica(i int, serializer *serialization.Serializer) (replica, error) {
	mapCtx, err := mapservice.NewContext(mapservice.Options{
		MemberID:         fmt.Sprintf("%s-replica-%d", n.cfg.MemberID, i),
		Maps:             n.cfg.Maps,
		DefaultMapConfig: n.cfg.DefaultMapConfig,
		Serializer:       serializer,
		Logger:           n.cfg.Logger,
		DebugMode:        n.cfg.DebugMode,
		OnError:          n.cfg.OnError,
	})
	if err != nil {
		return replica{}, err
	}
	partitions, err := partition.NewService(mapCtx, partition.Options{
		PartitionCount: n.cfg.PartitionCount,
		QueueSize:      partition.DefaultOptions().QueueSize,
		Caller:         n.cfg.Address,
		Logger:         n.cfg.Logger,
		DebugMode:      n.cfg.DebugMode,
		OnError:        n.cfg.OnError,
	})
	if err != nil {
		mapCtx.Close()
		return replica{}, err
	}
	return replica{mapCtx: mapCtx, partitions: partitions}, nil
}

func (n *Node) startRedisServices() error {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ContextTimeout)
	defer cancel()

	syncOpts := mapsync.DefaultOptions()
	syncOpts.Logger = n.cfg.Logger
	syncOpts.DebugMode = n.cfg.DebugMode
	syncOpts.OnError = n.cfg.OnError

	// Invalidations issued here go out; the ones received are applied locally only.
	n.synchronizer = mapsync.NewPubSubSynchronizer(n.client, n.cfg.InvalidationChannel, n.cfg.MemberID, syncOpts)
	if err := n.synchronizer.Subscribe(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPubSubFailed, err)
	}
	n.synchronizer.OnInvalidate(nearcache.NewLocalHandler(n.mapCtx.NearCaches()))
	n.mapCtx.NearCaches().AddHandler(n.synchronizer)

	n.bridge = mapsync.NewEventBridge(n.client, n.cfg.EventChannel, n.cfg.MemberID, n.events, syncOpts)
	if err := n.bridge.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPubSubFailed, err)
	}

	if n.loader == nil {
		n.loader = storage.NewRedisLoader(n.client, storage.DefaultRedisLoaderOptions())
	}

	if n.cfg.EnableWanConsumer {
		opts := wan.DefaultConsumerOptions()
		opts.Logger = n.cfg.Logger
		opts.DebugMode = n.cfg.DebugMode
		opts.OnError = n.cfg.OnError
		n.wanConsumer = wan.NewConsumer(n.client, n.cfg.WanStreamPrefix+n.cfg.ClusterName, n, opts)
		n.wanConsumer.Start(context.Background())
	}
	return nil
}

// wanPublisherFor returns the stream publisher of targetCluster, or nil
// when the member runs without Redis.
func (n *Node) wanPublisherFor(targetCluster string) wan.Publisher {
	if n.client == nil {
		return nil
	}
	n.wanMu.Lock()
	defer n.wanMu.Unlock()

	if p, ok := n.wanPublishers[targetCluster]; ok {
		return p
	}
	opts := wan.DefaultStreamPublisherOptions(n.cfg.WanStreamPrefix + targetCluster)
	opts.Logger = n.cfg.Logger
	opts.DebugMode = n.cfg.DebugMode
	opts.OnError = n.cfg.OnError
	p := wan.NewStreamPublisher(n.client, opts)
	n.wanPublishers[targetCluster] = p
	return p
}

// MemberID returns the id of this member.
func (n *Node) MemberID() string {
	return n.cfg.MemberID
}

// Map returns the named map, creating its near-cache on first use when configured.
func (n *Node) Map(name string) (*Map, error) {
	if atomic.LoadInt32(&n.closed) != 0 {
		return nil, ErrNodeClosed
	}

	n.mapsMu.Lock()
	defer n.mapsMu.Unlock()

	if m, ok := n.maps[name]; ok {
		return m, nil
	}
	m := &Map{name: name, node: n}
	if nc := n.mapCtx.MapConfig(name).NearCache; nc != nil {
		near, err := n.mapCtx.NearCaches().GetOrCreateNearCache(name, nc.LocalCache)
		if err != nil {
			return nil, err
		}
		m.nearCache = near
		m.binary = nc.Binary()
	}
	n.maps[name] = m
	return m, nil
}

// ApplyReplication implements wan.Target. The entry is merged on the
// partition owning its key.
func (n *Node) ApplyReplication(ctx context.Context, ev *wan.ReplicationEvent, policy wan.MergePolicy) error {
	if atomic.LoadInt32(&n.closed) != 0 {
		return ErrNodeClosed
	}
	op := operation.NewMerge(ev.MapName, policy.Name(), ev.Entry)
	resp, err := n.partitions.Execute(ctx, n.partitions.PartitionIDFor(ev.Entry.Key), op)
	if err != nil {
		return err
	}
	if merged, _ := resp.(bool); merged {
		atomic.AddInt64(&n.stats.WanMerges, 1)
	}
	return nil
}

// Stats returns member statistics.
func (n *Node) Stats() Stats {
	stats := Stats{
		Loads:         atomic.LoadInt64(&n.stats.Loads),
		LoadedEntries: atomic.LoadInt64(&n.stats.LoadedEntries),
		WanMerges:     atomic.LoadInt64(&n.stats.WanMerges),
	}
	if n.partitions != nil {
		stats.Partition = n.partitions.Stats()
	}
	if n.mapCtx != nil {
		stats.Invalidations = n.mapCtx.NearCaches().Stats()
		if p, ok := n.mapCtx.EventPublisher().(*event.MapEventPublisher); ok {
			stats.Events = p.Stats()
		}
	}
	return stats
}

// Close stops the member. Queued operations complete and pending
// invalidations, events and WAN updates are flushed before it returns.
func (n *Node) Close() error {
	if !atomic.CompareAndSwapInt32(&n.closed, 0, 1) {
		return nil
	}

	if n.wanConsumer != nil {
		n.wanConsumer.Close()
	}
	if n.partitions != nil {
		n.partitions.Close()
	}
	for _, r := range n.replicas {
		r.partitions.Close()
		r.mapCtx.Close()
	}
	if n.bridge != nil {
		n.bridge.Close()
	}
	if n.events != nil {
		n.events.Close()
	}
	if n.synchronizer != nil {
		n.synchronizer.Close()
	}

	n.wanMu.Lock()
	for _, p := range n.wanPublishers {
		p.Close()
	}
	n.wanMu.Unlock()

	if n.mapCtx != nil {
		n.mapCtx.Close()
	}
	if n.client != nil {
		return n.client.Close()
	}
	return nil
}
