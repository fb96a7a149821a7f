// Package operation holds the partition operations of a map: the unit of
// work executed against one partition's record store, together with the
// backup operations derived from them.
package operation

import (
	"errors"
	"fmt"

	"github.com/huykn/distributed-map/mapservice"
	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
)

// ErrRunFailure is returned when an operation fails while running.
// Pairs applied before the failure stay applied.
var ErrRunFailure = errors.New("operation run failure")

// Type ids of the operations on the wire.
const (
	PutFromLoadAllType       int32 = 20
	PutFromLoadAllBackupType int32 = 21
	ClearType                int32 = 22
	ClearBackupType          int32 = 23
	MergeType                int32 = 24
	GetType                  int32 = 25
)

// Operation is a unit of work bound to one partition.
//
// The runtime sets the partition id, caller address and service context
// before calling Run. Run and AfterRun are never called concurrently with
// another operation of the same partition.
type Operation interface {
	serialization.Identified

	Name() string
	PartitionID() int
	SetPartitionID(partitionID int)
	CallerAddress() types.Address
	SetCallerAddress(addr types.Address)
	SetContext(ctx mapservice.ServiceContext)

	Run() error
	AfterRun() error
	Response() any
}

// BackupAwareOperation is an operation whose effect must reach backup replicas.
type BackupAwareOperation interface {
	Operation

	ShouldBackup() bool
	SyncBackupCount() int
	AsyncBackupCount() int
	BackupOperation() Operation
}

// MapOperation carries the fields shared by every map operation.
type MapOperation struct {
	name          string
	partitionID   int
	callerAddress types.Address
	ctx           mapservice.ServiceContext
}

// Name returns the map name.
func (op *MapOperation) Name() string {
	return op.name
}

// PartitionID returns the partition the operation is bound to.
func (op *MapOperation) PartitionID() int {
	return op.partitionID
}

// SetPartitionID binds the operation to a partition.
func (op *MapOperation) SetPartitionID(partitionID int) {
	op.partitionID = partitionID
}

// CallerAddress returns the address of the member that sent the operation.
func (op *MapOperation) CallerAddress() types.Address {
	return op.callerAddress
}

// SetCallerAddress sets the caller address.
func (op *MapOperation) SetCallerAddress(addr types.Address) {
	op.callerAddress = addr
}

// SetContext sets the service context.
func (op *MapOperation) SetContext(ctx mapservice.ServiceContext) {
	op.ctx = ctx
}

// AfterRun does nothing.
func (op *MapOperation) AfterRun() error {
	return nil
}

// WriteData writes the map name.
func (op *MapOperation) WriteData(out *serialization.ObjectDataOutput) {
	out.WriteString(op.name)
}

// ReadData reads the map name.
func (op *MapOperation) ReadData(in *serialization.ObjectDataInput) error {
	var err error
	op.name, err = in.ReadString()
	return err
}

func (op *MapOperation) recordStore() (record.RecordStore, error) {
	if op.ctx == nil {
		return nil, fmt.Errorf("%w: map %s: no service context", ErrRunFailure, op.name)
	}
	rs, err := op.ctx.RecordStore(op.partitionID, op.name)
	if err != nil {
		return nil, fmt.Errorf("%w: map %s partition %d: %v", ErrRunFailure, op.name, op.partitionID, err)
	}
	return rs, nil
}

func (op *MapOperation) runFailure(format string, args ...any) error {
	return fmt.Errorf("%w: map %s partition %d: %s", ErrRunFailure, op.name, op.partitionID, fmt.Sprintf(format, args...))
}

var factories = map[int32]func() Operation{
	PutFromLoadAllType:       func() Operation { return &PutFromLoadAll{} },
	PutFromLoadAllBackupType: func() Operation { return &PutFromLoadAllBackup{} },
	ClearType:                func() Operation { return &Clear{} },
	ClearBackupType:          func() Operation { return &ClearBackup{} },
	MergeType:                func() Operation { return &Merge{} },
	GetType:                  func() Operation { return &Get{} },
}

// Encode serializes op prefixed with its type id.
func Encode(op Operation) []byte {
	return serialization.Encode(op)
}

// Decode reads an operation written with Encode.
func Decode(payload []byte) (Operation, error) {
	in := serialization.NewObjectDataInput(payload)
	typeID, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	factory, ok := factories[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation type id %d", serialization.ErrDecodeFailure, typeID)
	}
	op := factory()
	if err := op.ReadData(in); err != nil {
		return nil, err
	}
	return op, nil
}
