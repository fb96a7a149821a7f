package operation

import (
	"github.com/huykn/distributed-map/types"
)

// Clear removes every entry of a map in one partition.
//
// When anything was removed it publishes a CLEAR_ALL map event carrying the
// number of removed entries and clears the map's near-caches.
type Clear struct {
	MapOperation
	removed int
}

// NewClear creates the operation for map name.
func NewClear(name string) *Clear {
	return &Clear{MapOperation: MapOperation{name: name}}
}

// TypeID implements serialization.Identified.
func (op *Clear) TypeID() int32 {
	return ClearType
}

// Run empties the record store.
func (op *Clear) Run() error {
	rs, err := op.recordStore()
	if err != nil {
		return err
	}
	op.removed = rs.Clear()
	if op.removed > 0 {
		op.ctx.EventPublisher().PublishMapEvent(op.callerAddress, op.name, types.ClearAll, op.removed)
	}
	return nil
}

// AfterRun clears the near-caches of the map.
func (op *Clear) AfterRun() error {
	if op.removed > 0 {
		op.ctx.NearCacheProvider().ClearNearCache(op.name)
	}
	return nil
}

// Response returns the number of removed entries.
func (op *Clear) Response() any {
	return op.removed
}

// ShouldBackup reports true even when nothing was removed.
func (op *Clear) ShouldBackup() bool {
	return true
}

// SyncBackupCount returns the map's synchronous backup count.
func (op *Clear) SyncBackupCount() int {
	return op.ctx.MapContainer(op.name).BackupCount()
}

// AsyncBackupCount returns the map's asynchronous backup count.
func (op *Clear) AsyncBackupCount() int {
	return op.ctx.MapContainer(op.name).AsyncBackupCount()
}

// BackupOperation returns a ClearBackup for the same map.
func (op *Clear) BackupOperation() Operation {
	return NewClearBackup(op.name)
}

// ClearBackup empties a map partition on a backup replica.
type ClearBackup struct {
	MapOperation
}

// NewClearBackup creates the backup operation for map name.
func NewClearBackup(name string) *ClearBackup {
	return &ClearBackup{MapOperation: MapOperation{name: name}}
}

// TypeID implements serialization.Identified.
func (op *ClearBackup) TypeID() int32 {
	return ClearBackupType
}

// Run empties the record store.
func (op *ClearBackup) Run() error {
	rs, err := op.recordStore()
	if err != nil {
		return err
	}
	rs.Clear()
	return nil
}

// Response is always true.
func (op *ClearBackup) Response() any {
	return true
}
