package operation

import (
	"fmt"

	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
	"github.com/huykn/distributed-map/wan"
)

// Merge applies an entry replicated from a remote cluster through a merge
// policy. It never publishes a WAN event itself, so an update does not
// travel back to the cluster it came from.
type Merge struct {
	MapOperation
	mergePolicy string
	entry       record.EntryView

	merged types.Data
}

// NewMerge creates the operation for map name.
func NewMerge(name, mergePolicy string, entry record.EntryView) *Merge {
	return &Merge{
		MapOperation: MapOperation{name: name},
		mergePolicy:  mergePolicy,
		entry:        entry,
	}
}

// TypeID implements serialization.Identified.
func (op *Merge) TypeID() int32 {
	return MergeType
}

// Run merges the replicated entry with the local one.
func (op *Merge) Run() error {
	policy, err := wan.LookupMergePolicy(op.mergePolicy)
	if err != nil {
		return op.runFailure("%v", err)
	}
	rs, err := op.recordStore()
	if err != nil {
		return err
	}

	var existing *record.EntryView
	if rec, ok := rs.GetRecord(op.entry.Key); ok {
		view := record.NewEntryView(op.entry.Key, rec.Value, rec)
		existing = &view
	}
	value := policy.Merge(op.name, &op.entry, existing)
	if value.IsAbsent() {
		return nil
	}
	if existing != nil && existing.Value.Equal(value) {
		return nil
	}

	previous, err := rs.Put(op.entry.Key, value)
	if err != nil {
		return op.runFailure("putting key %s: %v", op.entry.Key, err)
	}
	op.merged = value
	op.ctx.EventPublisher().PublishEvent(op.callerAddress, op.name, types.EntryEventTypeFor(previous), op.entry.Key, previous, value)
	return nil
}

// AfterRun invalidates the merged key.
func (op *Merge) AfterRun() error {
	if op.merged == nil {
		return nil
	}
	op.ctx.NearCacheProvider().InvalidateNearCache(op.name, []types.Data{op.entry.Key})
	return nil
}

// Response reports whether the local entry changed.
func (op *Merge) Response() any {
	return op.merged != nil
}

// ShouldBackup reports whether the local entry changed.
func (op *Merge) ShouldBackup() bool {
	return op.merged != nil
}

// SyncBackupCount returns the map's synchronous backup count.
func (op *Merge) SyncBackupCount() int {
	return op.ctx.MapContainer(op.name).BackupCount()
}

// AsyncBackupCount returns the map's asynchronous backup count.
func (op *Merge) AsyncBackupCount() int {
	return op.ctx.MapContainer(op.name).AsyncBackupCount()
}

// BackupOperation ships the merged pair as an idempotent put.
func (op *Merge) BackupOperation() Operation {
	return NewPutFromLoadAllBackup(op.name, []types.Data{op.entry.Key, op.merged})
}

// WriteData writes the map name, the merge policy and the entry.
func (op *Merge) WriteData(out *serialization.ObjectDataOutput) {
	op.MapOperation.WriteData(out)
	out.WriteString(op.mergePolicy)
	op.entry.WriteData(out)
}

// ReadData mirrors WriteData.
func (op *Merge) ReadData(in *serialization.ObjectDataInput) error {
	if err := op.MapOperation.ReadData(in); err != nil {
		return err
	}
	var err error
	if op.mergePolicy, err = in.ReadString(); err != nil {
		return err
	}
	return op.entry.ReadData(in)
}

func (op *Merge) String() string {
	return fmt.Sprintf("Merge{name=%s, policy=%s, key=%s}", op.name, op.mergePolicy, op.entry.Key)
}
