package serialization

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/huykn/distributed-map/types"
)

// ErrDecodeFailure is returned when a wire payload is malformed or truncated.
var ErrDecodeFailure = errors.New("decode failure")

// absentLength marks a nil Data on the wire.
const absentLength = -1

// DataSerializable is implemented by every operation and event envelope.
// Fields are written in a fixed order, embedded envelope fields first;
// ReadData mirrors that order exactly.
type DataSerializable interface {
	WriteData(out *ObjectDataOutput)
	ReadData(in *ObjectDataInput) error
}

// Identified is a DataSerializable that carries a type id so a registry
// can construct an empty instance before decoding.
type Identified interface {
	DataSerializable
	TypeID() int32
}

// ObjectDataOutput accumulates fields into a byte slice.
type ObjectDataOutput struct {
	buf []byte
}

// NewObjectDataOutput creates an output with the given initial capacity.
func NewObjectDataOutput(capacity int) *ObjectDataOutput {
	return &ObjectDataOutput{buf: make([]byte, 0, capacity)}
}

// WriteInt writes a 4-byte signed integer.
func (o *ObjectDataOutput) WriteInt(v int32) {
	o.buf = protowire.AppendFixed32(o.buf, uint32(v))
}

// WriteLong writes an 8-byte signed integer.
func (o *ObjectDataOutput) WriteLong(v int64) {
	o.buf = protowire.AppendFixed64(o.buf, uint64(v))
}

// WriteBool writes a boolean as a 4-byte integer.
func (o *ObjectDataOutput) WriteBool(v bool) {
	if v {
		o.WriteInt(1)
		return
	}
	o.WriteInt(0)
}

// WriteString writes a length-prefixed UTF-8 string.
func (o *ObjectDataOutput) WriteString(s string) {
	o.WriteInt(int32(len(s)))
	o.buf = append(o.buf, s...)
}

// WriteData writes a length-prefixed Data; nil is written as length -1.
func (o *ObjectDataOutput) WriteData(d types.Data) {
	if d == nil {
		o.WriteInt(absentLength)
		return
	}
	o.WriteInt(int32(len(d)))
	o.buf = append(o.buf, d...)
}

// WriteDataList writes a count followed by each element.
func (o *ObjectDataOutput) WriteDataList(list []types.Data) {
	o.WriteInt(int32(len(list)))
	for _, d := range list {
		o.WriteData(d)
	}
}

// WriteAddress writes host then port.
func (o *ObjectDataOutput) WriteAddress(a types.Address) {
	o.WriteString(a.Host)
	o.WriteInt(int32(a.Port))
}

// WriteObject writes an Identified value prefixed with its type id.
func (o *ObjectDataOutput) WriteObject(v Identified) {
	o.WriteInt(v.TypeID())
	v.WriteData(o)
}

// Bytes returns the encoded payload.
func (o *ObjectDataOutput) Bytes() []byte {
	return o.buf
}

// ObjectDataInput reads fields back in the order they were written.
type ObjectDataInput struct {
	buf []byte
	pos int
}

// NewObjectDataInput wraps an encoded payload.
func NewObjectDataInput(buf []byte) *ObjectDataInput {
	return &ObjectDataInput{buf: buf}
}

// Remaining returns the number of unread bytes.
func (i *ObjectDataInput) Remaining() int {
	return len(i.buf) - i.pos
}

// ReadInt reads a 4-byte signed integer.
func (i *ObjectDataInput) ReadInt() (int32, error) {
	v, n := protowire.ConsumeFixed32(i.buf[i.pos:])
	if n < 0 {
		return 0, fmt.Errorf("%w: read int at offset %d: %v", ErrDecodeFailure, i.pos, protowire.ParseError(n))
	}
	i.pos += n
	return int32(v), nil
}

// ReadLong reads an 8-byte signed integer.
func (i *ObjectDataInput) ReadLong() (int64, error) {
	v, n := protowire.ConsumeFixed64(i.buf[i.pos:])
	if n < 0 {
		return 0, fmt.Errorf("%w: read long at offset %d: %v", ErrDecodeFailure, i.pos, protowire.ParseError(n))
	}
	i.pos += n
	return int64(v), nil
}

// ReadBool reads a boolean.
func (i *ObjectDataInput) ReadBool() (bool, error) {
	v, err := i.ReadInt()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadString reads a length-prefixed string.
func (i *ObjectDataInput) ReadString() (string, error) {
	b, err := i.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadData reads a length-prefixed Data; length -1 yields nil.
func (i *ObjectDataInput) ReadData() (types.Data, error) {
	b, err := i.readBytes()
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	return types.Data(b), nil
}

// ReadDataList reads a count followed by that many Data.
// A count of zero or less decodes to an empty, non-nil slice.
func (i *ObjectDataInput) ReadDataList() ([]types.Data, error) {
	count, err := i.ReadInt()
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return []types.Data{}, nil
	}
	// every element carries at least its 4-byte length
	if int64(count) > int64(i.Remaining()/4) {
		return nil, fmt.Errorf("%w: sequence of %d elements exceeds remaining %d bytes", ErrDecodeFailure, count, i.Remaining())
	}
	list := make([]types.Data, 0, count)
	for n := int32(0); n < count; n++ {
		d, err := i.ReadData()
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, nil
}

// ReadAddress reads host then port.
func (i *ObjectDataInput) ReadAddress() (types.Address, error) {
	host, err := i.ReadString()
	if err != nil {
		return types.Address{}, err
	}
	port, err := i.ReadInt()
	if err != nil {
		return types.Address{}, err
	}
	return types.Address{Host: host, Port: int(port)}, nil
}

func (i *ObjectDataInput) readBytes() ([]byte, error) {
	length, err := i.ReadInt()
	if err != nil {
		return nil, err
	}
	if length == absentLength {
		return nil, nil
	}
	if length < absentLength || int(length) > i.Remaining() {
		return nil, fmt.Errorf("%w: length %d at offset %d exceeds remaining %d bytes", ErrDecodeFailure, length, i.pos, i.Remaining())
	}
	b := make([]byte, length)
	copy(b, i.buf[i.pos:i.pos+int(length)])
	i.pos += int(length)
	return b, nil
}

// Encode serializes v prefixed with its type id.
func Encode(v Identified) []byte {
	out := NewObjectDataOutput(64)
	out.WriteObject(v)
	return out.Bytes()
}
