package serialization

import (
	"errors"
	"fmt"

	"github.com/huykn/distributed-map/cache"
	"github.com/huykn/distributed-map/types"
)

// ErrSerializationFailed is returned when an object cannot be converted to Data.
var ErrSerializationFailed = errors.New("serialization failed")

// ErrDeserializationFailed is returned when Data cannot be converted to an object.
var ErrDeserializationFailed = errors.New("deserialization failed")

// Serializer converts between user objects and Data.
type Serializer struct {
	marshaller cache.Marshaller
}

// NewSerializer creates a serializer backed by m; nil defaults to JSON.
func NewSerializer(m cache.Marshaller) *Serializer {
	if m == nil {
		m = cache.NewJSONMarshaller()
	}
	return &Serializer{marshaller: m}
}

// GetSerializer returns a serializer for the given format.
func GetSerializer(format string) (*Serializer, error) {
	switch format {
	case "json", "":
		return NewSerializer(cache.NewJSONMarshaller()), nil
	default:
		return nil, errors.New("unsupported serialization format: " + format)
	}
}

// ToData serializes obj. A nil object yields absent Data and Data passes through.
func (s *Serializer) ToData(obj any) (types.Data, error) {
	switch v := obj.(type) {
	case nil:
		return nil, nil
	case types.Data:
		return v, nil
	}
	b, err := s.marshaller.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return types.Data(b), nil
}

// ToObject deserializes d into a generic value. Absent Data yields nil.
func (s *Serializer) ToObject(d types.Data) (any, error) {
	if d.IsAbsent() {
		return nil, nil
	}
	var v any
	if err := s.marshaller.Unmarshal(d, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	return v, nil
}

// ToObjectInto deserializes d into out.
func (s *Serializer) ToObjectInto(d types.Data, out any) error {
	if err := s.marshaller.Unmarshal(d, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	return nil
}
