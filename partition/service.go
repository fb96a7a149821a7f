package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/mapservice"
	"github.com/huykn/distributed-map/operation"
	"github.com/huykn/distributed-map/types"
)

// ErrServiceClosed is returned when executing on a closed service.
var ErrServiceClosed = errors.New("partition service is closed")

// ErrBackupDelivery wraps failures to deliver a backup operation to a replica.
// It is reported through OnError and never fails the primary operation.
var ErrBackupDelivery = errors.New("backup delivery failure")

// ErrInvalidPartition is returned for a partition id outside the table.
var ErrInvalidPartition = errors.New("invalid partition id")

// DefaultPartitionCount is the default number of partitions.
const DefaultPartitionCount = 271

// IDFor returns the partition owning key.
func IDFor(key types.Data, partitionCount int) int {
	return int(key.Hash() % uint64(partitionCount))
}

// BackupTransport delivers an encoded backup operation to one replica.
type BackupTransport interface {
	SendBackup(ctx context.Context, partitionID int, payload []byte) error
}

// Options configures a Service.
type Options struct {
	// PartitionCount is the number of partitions, each with its own worker.
	PartitionCount int

	// QueueSize is the buffer size of each partition queue.
	QueueSize int

	// Caller is stamped on operations that carry no caller address.
	Caller types.Address

	// Replicas receive backups in order: the first SyncBackupCount replicas
	// synchronously, the following AsyncBackupCount asynchronously.
	Replicas []BackupTransport

	// Logger is the logger for debug logging.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called with backup delivery failures.
	OnError func(error)
}

// DefaultOptions returns default partition service options.
func DefaultOptions() Options {
	return Options{
		PartitionCount: DefaultPartitionCount,
		QueueSize:      256,
	}
}

// Stats counts executed operations and backups.
type Stats struct {
	Operations     int64
	Failures       int64
	SyncBackups    int64
	AsyncBackups   int64
	BackupFailures int64
}

type result struct {
	response any
	err      error
	backup   []byte
	syncs    int
	asyncs   int

	// synced is closed once the synchronous backups were delivered.
	synced chan struct{}
}

type task struct {
	ctx  context.Context
	op   operation.Operation
	done chan result
}

// pendingBackup is one committed operation waiting to reach the replicas.
type pendingBackup struct {
	ctx     context.Context
	payload []byte
	syncs   int
	asyncs  int
	synced  chan struct{}
}

// Service runs operations on per-partition workers. Operations of one
// partition execute one at a time, in submission order, so a record store
// is only ever touched by its partition's worker. Backups of one partition
// reach every replica in the order their operations committed.
type Service struct {
	opts   Options
	mapCtx mapservice.ServiceContext

	mu       sync.RWMutex
	closed   bool
	queues   []chan task
	backlogs []chan pendingBackup
	group    *errgroup.Group
	shippers *errgroup.Group

	stats Stats
}

// NewService starts one worker per partition.
func NewService(mapCtx mapservice.ServiceContext, opts Options) (*Service, error) {
	if opts.PartitionCount < 1 {
		return nil, fmt.Errorf("partition count must be positive, got %d", opts.PartitionCount)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}

	s := &Service{
		opts:     opts,
		mapCtx:   mapCtx,
		queues:   make([]chan task, opts.PartitionCount),
		backlogs: make([]chan pendingBackup, opts.PartitionCount),
		group:    &errgroup.Group{},
		shippers: &errgroup.Group{},
	}
	for i := range s.queues {
		queue := make(chan task, opts.QueueSize)
		backlog := make(chan pendingBackup, opts.QueueSize)
		s.queues[i] = queue
		s.backlogs[i] = backlog
		s.group.Go(func() error {
			for t := range queue {
				res := s.run(t.op)
				if res.backup != nil {
					// Queued before the next task runs, so backups keep commit order.
					res.synced = make(chan struct{})
					backlog <- pendingBackup{
						ctx:     t.ctx,
						payload: res.backup,
						syncs:   res.syncs,
						asyncs:  res.asyncs,
						synced:  res.synced,
					}
				}
				t.done <- res
			}
			return nil
		})
		s.shippers.Go(func() error {
			for b := range backlog {
				s.ship(i, b)
			}
			return nil
		})
	}
	return s, nil
}

// PartitionCount returns the number of partitions.
func (s *Service) PartitionCount() int {
	return s.opts.PartitionCount
}

// PartitionIDFor returns the partition owning key.
func (s *Service) PartitionIDFor(key types.Data) int {
	return IDFor(key, s.opts.PartitionCount)
}

// Execute runs op on partitionID and returns its response.
//
// Run and AfterRun execute on the partition worker, which then queues the
// backup for the partition's shipper. Execute waits for the synchronous
// backups but not for the asynchronous ones. Backup failures never fail
// the call.
func (s *Service) Execute(ctx context.Context, partitionID int, op operation.Operation) (any, error) {
	res, err := s.submit(ctx, partitionID, op)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	if res.synced != nil {
		select {
		case <-res.synced:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return res.response, nil
}

// ExecuteOnAllPartitions runs one operation per partition, created by
// newOp, and returns the responses indexed by partition id.
func (s *Service) ExecuteOnAllPartitions(ctx context.Context, newOp func() operation.Operation) ([]any, error) {
	responses := make([]any, s.opts.PartitionCount)
	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < s.opts.PartitionCount; id++ {
		g.Go(func() error {
			resp, err := s.Execute(gctx, id, newOp())
			if err != nil {
				return err
			}
			responses[id] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		Operations:     atomic.LoadInt64(&s.stats.Operations),
		Failures:       atomic.LoadInt64(&s.stats.Failures),
		SyncBackups:    atomic.LoadInt64(&s.stats.SyncBackups),
		AsyncBackups:   atomic.LoadInt64(&s.stats.AsyncBackups),
		BackupFailures: atomic.LoadInt64(&s.stats.BackupFailures),
	}
}

// Close stops the workers after queued operations complete and waits for
// their backups, asynchronous ones included.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()

	err := s.group.Wait()
	for _, b := range s.backlogs {
		close(b)
	}
	if shipErr := s.shippers.Wait(); err == nil {
		err = shipErr
	}
	return err
}

func (s *Service) submit(ctx context.Context, partitionID int, op operation.Operation) (result, error) {
	if partitionID < 0 || partitionID >= s.opts.PartitionCount {
		return result{}, fmt.Errorf("%w: %d", ErrInvalidPartition, partitionID)
	}
	op.SetPartitionID(partitionID)
	if op.CallerAddress() == (types.Address{}) {
		op.SetCallerAddress(s.opts.Caller)
	}

	t := task{ctx: context.WithoutCancel(ctx), op: op, done: make(chan result, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return result{}, ErrServiceClosed
	}
	select {
	case s.queues[partitionID] <- t:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return result{}, ctx.Err()
	}

	select {
	case res := <-t.done:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// run executes op on the calling partition worker.
func (s *Service) run(op operation.Operation) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{err: fmt.Errorf("%w: %s panicked: %v", operation.ErrRunFailure, op.Name(), r)}
		}
		if res.err != nil {
			atomic.AddInt64(&s.stats.Failures, 1)
			s.opts.Logger.Error("Partition: operation failed", "map", op.Name(), "partition", op.PartitionID(), "error", res.err)
		}
	}()

	atomic.AddInt64(&s.stats.Operations, 1)
	op.SetContext(s.mapCtx)
	if err := op.Run(); err != nil {
		return result{err: err}
	}
	if err := op.AfterRun(); err != nil {
		return result{err: err}
	}
	res.response = op.Response()

	ba, ok := op.(operation.BackupAwareOperation)
	if !ok || !ba.ShouldBackup() {
		return res
	}
	res.syncs = ba.SyncBackupCount()
	res.asyncs = ba.AsyncBackupCount()
	if res.syncs+res.asyncs == 0 || len(s.opts.Replicas) == 0 {
		return res
	}
	res.backup = operation.Encode(ba.BackupOperation())
	if s.opts.DebugMode {
		s.opts.Logger.Debug("Partition: prepared backup", "map", op.Name(), "partition", op.PartitionID(),
			"syncBackups", res.syncs, "asyncBackups", res.asyncs, "bytes", len(res.backup))
	}
	return res
}

// ship delivers one backup. Synchronous replicas are sent to in parallel
// and the caller is released; asynchronous replicas follow. The next
// backup of the partition starts only after both finished.
func (s *Service) ship(partitionID int, b pendingBackup) {
	replicas := s.opts.Replicas
	syncs := min(b.syncs, len(replicas))
	asyncs := min(b.asyncs, len(replicas)-syncs)

	deliver := func(replicas []BackupTransport, delivered *int64) {
		var g errgroup.Group
		for _, replica := range replicas {
			g.Go(func() error {
				if err := replica.SendBackup(b.ctx, partitionID, b.payload); err != nil {
					s.backupFailed(partitionID, err)
					return nil
				}
				atomic.AddInt64(delivered, 1)
				return nil
			})
		}
		_ = g.Wait()
	}

	deliver(replicas[:syncs], &s.stats.SyncBackups)
	close(b.synced)
	deliver(replicas[syncs:syncs+asyncs], &s.stats.AsyncBackups)
}

func (s *Service) backupFailed(partitionID int, err error) {
	atomic.AddInt64(&s.stats.BackupFailures, 1)
	err = fmt.Errorf("%w: partition %d: %v", ErrBackupDelivery, partitionID, err)
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
	s.opts.Logger.Warn("Partition: backup delivery failed", "partition", partitionID, "error", err)
}
