package operation

import (
	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
)

// Get reads the value of one key from the partition's record store.
type Get struct {
	MapOperation
	key   types.Data
	value types.Data
}

// NewGet creates the operation for key of map name.
func NewGet(name string, key types.Data) *Get {
	return &Get{MapOperation: MapOperation{name: name}, key: key}
}

// TypeID implements serialization.Identified.
func (op *Get) TypeID() int32 {
	return GetType
}

// Run reads the value.
func (op *Get) Run() error {
	rs, err := op.recordStore()
	if err != nil {
		return err
	}
	op.value, _ = rs.Get(op.key)
	return nil
}

// Response returns the value as types.Data, nil when absent.
func (op *Get) Response() any {
	return op.value
}

// WriteData writes the map name then the key.
func (op *Get) WriteData(out *serialization.ObjectDataOutput) {
	op.MapOperation.WriteData(out)
	out.WriteData(op.key)
}

// ReadData mirrors WriteData.
func (op *Get) ReadData(in *serialization.ObjectDataInput) error {
	if err := op.MapOperation.ReadData(in); err != nil {
		return err
	}
	var err error
	op.key, err = in.ReadData()
	return err
}
