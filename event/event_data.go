package event

import (
	"fmt"

	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
)

// Type ids of the event envelopes.
const (
	EntryEventDataType int32 = 1
	MapEventDataType   int32 = 2
)

// EventData is the envelope shared by entry and map events.
type EventData struct {
	Source    string
	MapName   string
	Caller    types.Address
	EventType types.EntryEventType
}

// WriteData encodes the envelope fields.
func (e *EventData) WriteData(out *serialization.ObjectDataOutput) {
	out.WriteString(e.Source)
	out.WriteString(e.MapName)
	out.WriteAddress(e.Caller)
	out.WriteInt(int32(e.EventType))
}

// ReadData decodes the envelope fields.
func (e *EventData) ReadData(in *serialization.ObjectDataInput) error {
	var err error
	if e.Source, err = in.ReadString(); err != nil {
		return err
	}
	if e.MapName, err = in.ReadString(); err != nil {
		return err
	}
	if e.Caller, err = in.ReadAddress(); err != nil {
		return err
	}
	eventType, err := in.ReadInt()
	if err != nil {
		return err
	}
	e.EventType = types.EntryEventType(eventType)
	return nil
}

func (e *EventData) String() string {
	return fmt.Sprintf("source=%s, mapName=%s, caller=%s, eventType=%s", e.Source, e.MapName, e.Caller, e.EventType)
}

// EntryEventData describes the change of one key.
type EntryEventData struct {
	EventData
	Key      types.Data
	OldValue types.Data
	Value    types.Data
}

// TypeID implements serialization.Identified.
func (e *EntryEventData) TypeID() int32 {
	return EntryEventDataType
}

// WriteData encodes the envelope then key, old value and new value.
func (e *EntryEventData) WriteData(out *serialization.ObjectDataOutput) {
	e.EventData.WriteData(out)
	out.WriteData(e.Key)
	out.WriteData(e.OldValue)
	out.WriteData(e.Value)
}

// ReadData mirrors WriteData.
func (e *EntryEventData) ReadData(in *serialization.ObjectDataInput) error {
	if err := e.EventData.ReadData(in); err != nil {
		return err
	}
	var err error
	if e.Key, err = in.ReadData(); err != nil {
		return err
	}
	if e.OldValue, err = in.ReadData(); err != nil {
		return err
	}
	e.Value, err = in.ReadData()
	return err
}

func (e *EntryEventData) String() string {
	return fmt.Sprintf("EntryEventData{%s, key=%s, oldValue=%s, value=%s}", e.EventData.String(), e.Key, e.OldValue, e.Value)
}

// MapEventData describes a map-wide change affecting NumberOfEntries entries.
type MapEventData struct {
	EventData
	NumberOfEntries int32
}

// TypeID implements serialization.Identified.
func (e *MapEventData) TypeID() int32 {
	return MapEventDataType
}

// WriteData encodes the envelope then the entry count.
func (e *MapEventData) WriteData(out *serialization.ObjectDataOutput) {
	e.EventData.WriteData(out)
	out.WriteInt(e.NumberOfEntries)
}

// ReadData mirrors WriteData.
func (e *MapEventData) ReadData(in *serialization.ObjectDataInput) error {
	if err := e.EventData.ReadData(in); err != nil {
		return err
	}
	var err error
	e.NumberOfEntries, err = in.ReadInt()
	return err
}

func (e *MapEventData) String() string {
	return fmt.Sprintf("MapEventData{%s, numberOfEntries=%d}", e.EventData.String(), e.NumberOfEntries)
}

// Decode reads an entry or map event written with serialization.Encode.
func Decode(payload []byte) (serialization.Identified, error) {
	in := serialization.NewObjectDataInput(payload)
	typeID, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	var ev serialization.Identified
	switch typeID {
	case EntryEventDataType:
		ev = &EntryEventData{}
	case MapEventDataType:
		ev = &MapEventData{}
	default:
		return nil, fmt.Errorf("%w: unknown event type id %d", serialization.ErrDecodeFailure, typeID)
	}
	if err := ev.ReadData(in); err != nil {
		return nil, err
	}
	return ev, nil
}
