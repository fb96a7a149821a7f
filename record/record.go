package record

import (
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
)

// Record is the stored unit for one key.
// It is owned by the RecordStore of its partition and mutated in place there.
type Record struct {
	Value          types.Data
	Version        int64
	CreationTime   int64
	LastAccessTime int64
	LastUpdateTime int64
	Hits           int64
}

// EntryView is an immutable snapshot of an entry used for WAN replication
// and merge decisions.
type EntryView struct {
	Key            types.Data
	Value          types.Data
	Version        int64
	CreationTime   int64
	LastAccessTime int64
	LastUpdateTime int64
	Hits           int64
}

// NewEntryView builds a view of key/value with the metadata of rec.
func NewEntryView(key, value types.Data, rec Record) EntryView {
	return EntryView{
		Key:            key,
		Value:          value,
		Version:        rec.Version,
		CreationTime:   rec.CreationTime,
		LastAccessTime: rec.LastAccessTime,
		LastUpdateTime: rec.LastUpdateTime,
		Hits:           rec.Hits,
	}
}

// WriteData encodes the view.
func (v *EntryView) WriteData(out *serialization.ObjectDataOutput) {
	out.WriteData(v.Key)
	out.WriteData(v.Value)
	out.WriteLong(v.Version)
	out.WriteLong(v.CreationTime)
	out.WriteLong(v.LastAccessTime)
	out.WriteLong(v.LastUpdateTime)
	out.WriteLong(v.Hits)
}

// ReadData decodes the view in the order WriteData wrote it.
func (v *EntryView) ReadData(in *serialization.ObjectDataInput) error {
	var err error
	if v.Key, err = in.ReadData(); err != nil {
		return err
	}
	if v.Value, err = in.ReadData(); err != nil {
		return err
	}
	for _, field := range []*int64{&v.Version, &v.CreationTime, &v.LastAccessTime, &v.LastUpdateTime, &v.Hits} {
		if *field, err = in.ReadLong(); err != nil {
			return err
		}
	}
	return nil
}
