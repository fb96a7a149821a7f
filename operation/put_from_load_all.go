package operation

import (
	"fmt"

	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
)

// PutFromLoadAll puts entries loaded from a map loader into one partition.
//
// The payload is a flat sequence alternating key and value. Each pair is
// committed to the record store before its events are published, so a
// failure part-way leaves earlier pairs applied.
type PutFromLoadAll struct {
	MapOperation
	keyValueSequence []types.Data
}

// NewPutFromLoadAll creates the operation for map name.
func NewPutFromLoadAll(name string, keyValueSequence []types.Data) *PutFromLoadAll {
	if keyValueSequence == nil {
		keyValueSequence = []types.Data{}
	}
	return &PutFromLoadAll{
		MapOperation:     MapOperation{name: name},
		keyValueSequence: keyValueSequence,
	}
}

// TypeID implements serialization.Identified.
func (op *PutFromLoadAll) TypeID() int32 {
	return PutFromLoadAllType
}

// KeyValueSequence returns the flat key/value sequence.
func (op *PutFromLoadAll) KeyValueSequence() []types.Data {
	return op.keyValueSequence
}

// Run applies every pair in input order.
func (op *PutFromLoadAll) Run() error {
	seq := op.keyValueSequence
	if len(seq) == 0 {
		return nil
	}
	if len(seq)%2 != 0 {
		return op.runFailure("key/value sequence has odd length %d", len(seq))
	}
	rs, err := op.recordStore()
	if err != nil {
		return err
	}
	mc := op.ctx.MapContainer(op.name)
	publisher := op.ctx.EventPublisher()

	for i := 0; i < len(seq); i += 2 {
		key := seq[i]
		dataValue := seq[i+1]

		// Object form is only needed by interceptors.
		objectValue, err := op.ctx.ToObject(dataValue)
		if err != nil {
			return op.runFailure("converting value of key %s: %v", key, err)
		}
		previous, err := rs.PutFromLoad(key, dataValue)
		if err != nil {
			return op.runFailure("putting key %s: %v", key, err)
		}
		if err := op.ctx.InterceptAfterPut(op.name, objectValue); err != nil {
			return op.runFailure("%v", err)
		}

		publisher.PublishEvent(op.callerAddress, op.name, types.EntryEventTypeFor(previous), key, previous, dataValue)

		if mc.WanReplicationPublisher() == nil || mc.WanMergePolicy() == nil {
			continue
		}
		if rec, ok := rs.GetRecord(key); ok {
			publisher.PublishWanReplicationUpdate(op.name, record.NewEntryView(key, dataValue, rec))
		}
	}
	return nil
}

// AfterRun issues one Batch invalidation for the distinct loaded keys.
func (op *PutFromLoadAll) AfterRun() error {
	seq := op.keyValueSequence
	if len(seq) == 0 {
		return nil
	}
	keys := make([]types.Data, 0, len(seq)/2)
	for i := 0; i < len(seq); i += 2 {
		keys = append(keys, seq[i])
	}
	op.ctx.NearCacheProvider().BatchInvalidateNearCache(op.name, types.Distinct(keys))
	return nil
}

// Response is always true.
func (op *PutFromLoadAll) Response() any {
	return true
}

// ShouldBackup reports whether there is anything to back up.
func (op *PutFromLoadAll) ShouldBackup() bool {
	return len(op.keyValueSequence) > 0
}

// SyncBackupCount returns the map's synchronous backup count.
func (op *PutFromLoadAll) SyncBackupCount() int {
	return op.ctx.MapContainer(op.name).BackupCount()
}

// AsyncBackupCount returns the map's asynchronous backup count.
func (op *PutFromLoadAll) AsyncBackupCount() int {
	return op.ctx.MapContainer(op.name).AsyncBackupCount()
}

// BackupOperation returns a backup carrying the same payload.
func (op *PutFromLoadAll) BackupOperation() Operation {
	return NewPutFromLoadAllBackup(op.name, op.keyValueSequence)
}

// WriteData writes the map name then the sequence.
func (op *PutFromLoadAll) WriteData(out *serialization.ObjectDataOutput) {
	op.MapOperation.WriteData(out)
	out.WriteDataList(op.keyValueSequence)
}

// ReadData mirrors WriteData and rejects odd-length sequences.
func (op *PutFromLoadAll) ReadData(in *serialization.ObjectDataInput) error {
	seq, err := readKeyValueSequence(&op.MapOperation, in)
	if err != nil {
		return err
	}
	op.keyValueSequence = seq
	return nil
}

func (op *PutFromLoadAll) String() string {
	return fmt.Sprintf("PutFromLoadAll{name=%s, partitionId=%d, pairs=%d}", op.name, op.partitionID, len(op.keyValueSequence)/2)
}

// PutFromLoadAllBackup applies loaded pairs on a backup replica. It
// publishes no events and issues no invalidations. Replaying it converges
// to the same state.
type PutFromLoadAllBackup struct {
	MapOperation
	keyValueSequence []types.Data
}

// NewPutFromLoadAllBackup creates the backup operation for map name.
func NewPutFromLoadAllBackup(name string, keyValueSequence []types.Data) *PutFromLoadAllBackup {
	if keyValueSequence == nil {
		keyValueSequence = []types.Data{}
	}
	return &PutFromLoadAllBackup{
		MapOperation:     MapOperation{name: name},
		keyValueSequence: keyValueSequence,
	}
}

// TypeID implements serialization.Identified.
func (op *PutFromLoadAllBackup) TypeID() int32 {
	return PutFromLoadAllBackupType
}

// KeyValueSequence returns the flat key/value sequence.
func (op *PutFromLoadAllBackup) KeyValueSequence() []types.Data {
	return op.keyValueSequence
}

// Run applies every pair in input order.
func (op *PutFromLoadAllBackup) Run() error {
	seq := op.keyValueSequence
	if len(seq) == 0 {
		return nil
	}
	if len(seq)%2 != 0 {
		return op.runFailure("key/value sequence has odd length %d", len(seq))
	}
	rs, err := op.recordStore()
	if err != nil {
		return err
	}
	for i := 0; i < len(seq); i += 2 {
		if _, err := rs.PutFromLoad(seq[i], seq[i+1]); err != nil {
			return op.runFailure("putting key %s: %v", seq[i], err)
		}
	}
	return nil
}

// Response is always true.
func (op *PutFromLoadAllBackup) Response() any {
	return true
}

// WriteData writes the map name then the sequence.
func (op *PutFromLoadAllBackup) WriteData(out *serialization.ObjectDataOutput) {
	op.MapOperation.WriteData(out)
	out.WriteDataList(op.keyValueSequence)
}

// ReadData mirrors WriteData and rejects odd-length sequences.
func (op *PutFromLoadAllBackup) ReadData(in *serialization.ObjectDataInput) error {
	seq, err := readKeyValueSequence(&op.MapOperation, in)
	if err != nil {
		return err
	}
	op.keyValueSequence = seq
	return nil
}

func readKeyValueSequence(base *MapOperation, in *serialization.ObjectDataInput) ([]types.Data, error) {
	if err := base.ReadData(in); err != nil {
		return nil, err
	}
	seq, err := in.ReadDataList()
	if err != nil {
		return nil, err
	}
	if len(seq)%2 != 0 {
		return nil, fmt.Errorf("%w: map %s: key/value sequence has odd length %d", serialization.ErrDecodeFailure, base.name, len(seq))
	}
	return seq, nil
}
