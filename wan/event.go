package wan

import (
	"fmt"

	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/serialization"
)

// ReplicationEventType is the type id of ReplicationEvent on the wire.
const ReplicationEventType int32 = 30

// ReplicationEvent carries one updated entry to a remote cluster.
type ReplicationEvent struct {
	MapName     string
	MergePolicy string
	Entry       record.EntryView
}

// TypeID implements serialization.Identified.
func (e *ReplicationEvent) TypeID() int32 {
	return ReplicationEventType
}

// WriteData encodes map name, merge policy name and the entry view.
func (e *ReplicationEvent) WriteData(out *serialization.ObjectDataOutput) {
	out.WriteString(e.MapName)
	out.WriteString(e.MergePolicy)
	e.Entry.WriteData(out)
}

// ReadData mirrors WriteData.
func (e *ReplicationEvent) ReadData(in *serialization.ObjectDataInput) error {
	var err error
	if e.MapName, err = in.ReadString(); err != nil {
		return err
	}
	if e.MergePolicy, err = in.ReadString(); err != nil {
		return err
	}
	return e.Entry.ReadData(in)
}

// DecodeReplicationEvent reads an event written with serialization.Encode.
func DecodeReplicationEvent(payload []byte) (*ReplicationEvent, error) {
	in := serialization.NewObjectDataInput(payload)
	typeID, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	if typeID != ReplicationEventType {
		return nil, fmt.Errorf("%w: unexpected type id %d for replication event", serialization.ErrDecodeFailure, typeID)
	}
	ev := &ReplicationEvent{}
	if err := ev.ReadData(in); err != nil {
		return nil, err
	}
	return ev, nil
}
