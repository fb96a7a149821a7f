package nearcache

import (
	"fmt"

	"github.com/huykn/distributed-map/serialization"
	"github.com/huykn/distributed-map/types"
)

// Type ids of the invalidation variants.
const (
	SingleInvalidationType int32 = 10
	BatchInvalidationType  int32 = 11
	ClearInvalidationType  int32 = 12
)

// Handler handles each invalidation variant. Implementations receive the
// variant through Invalidation.Consume, so they never inspect types.
type Handler interface {
	// HandleSingle handles a single key invalidation.
	HandleSingle(inv *SingleInvalidation)

	// HandleBatch handles a batch of key invalidations.
	HandleBatch(inv *BatchInvalidation)

	// HandleClear handles a whole near-cache invalidation.
	HandleClear(inv *ClearInvalidation)
}

// Invalidation is an immutable notice that near-cached entries of one map are stale.
type Invalidation interface {
	serialization.Identified

	// MapName returns the map whose near-cache is affected.
	MapName() string

	// SourceID returns the member that issued the invalidation.
	SourceID() string

	// Consume invokes the handler method matching the variant.
	Consume(h Handler)
}

type header struct {
	mapName  string
	sourceID string
}

func (h *header) MapName() string {
	return h.mapName
}

func (h *header) SourceID() string {
	return h.sourceID
}

func (h *header) writeHeader(out *serialization.ObjectDataOutput) {
	out.WriteString(h.mapName)
	out.WriteString(h.sourceID)
}

func (h *header) readHeader(in *serialization.ObjectDataInput) error {
	var err error
	if h.mapName, err = in.ReadString(); err != nil {
		return err
	}
	h.sourceID, err = in.ReadString()
	return err
}

// SingleInvalidation invalidates exactly one key.
type SingleInvalidation struct {
	header
	key types.Data
}

// NewSingleInvalidation creates a single key invalidation.
func NewSingleInvalidation(mapName, sourceID string, key types.Data) *SingleInvalidation {
	return &SingleInvalidation{header: header{mapName: mapName, sourceID: sourceID}, key: key}
}

// Key returns the invalidated key.
func (s *SingleInvalidation) Key() types.Data {
	return s.key
}

// TypeID implements serialization.Identified.
func (s *SingleInvalidation) TypeID() int32 {
	return SingleInvalidationType
}

// Consume calls h.HandleSingle.
func (s *SingleInvalidation) Consume(h Handler) {
	h.HandleSingle(s)
}

// WriteData encodes the header then the key.
func (s *SingleInvalidation) WriteData(out *serialization.ObjectDataOutput) {
	s.writeHeader(out)
	out.WriteData(s.key)
}

// ReadData mirrors WriteData.
func (s *SingleInvalidation) ReadData(in *serialization.ObjectDataInput) error {
	if err := s.readHeader(in); err != nil {
		return err
	}
	var err error
	s.key, err = in.ReadData()
	return err
}

// BatchInvalidation invalidates several keys of one map at once.
// An empty batch is a legal no-op.
type BatchInvalidation struct {
	header
	keys []types.Data
}

// NewBatchInvalidation creates a batch invalidation over a copy of keys.
func NewBatchInvalidation(mapName, sourceID string, keys []types.Data) *BatchInvalidation {
	return &BatchInvalidation{
		header: header{mapName: mapName, sourceID: sourceID},
		keys:   append([]types.Data{}, keys...),
	}
}

// Keys returns a copy of the invalidated keys in order.
func (b *BatchInvalidation) Keys() []types.Data {
	return append([]types.Data{}, b.keys...)
}

// Len returns the number of keys.
func (b *BatchInvalidation) Len() int {
	return len(b.keys)
}

// TypeID implements serialization.Identified.
func (b *BatchInvalidation) TypeID() int32 {
	return BatchInvalidationType
}

// Consume calls h.HandleBatch.
func (b *BatchInvalidation) Consume(h Handler) {
	h.HandleBatch(b)
}

// WriteData encodes the header then the key sequence.
func (b *BatchInvalidation) WriteData(out *serialization.ObjectDataOutput) {
	b.writeHeader(out)
	out.WriteDataList(b.keys)
}

// ReadData mirrors WriteData.
func (b *BatchInvalidation) ReadData(in *serialization.ObjectDataInput) error {
	if err := b.readHeader(in); err != nil {
		return err
	}
	var err error
	b.keys, err = in.ReadDataList()
	return err
}

// ClearInvalidation invalidates the whole near-cache of a map. It never carries keys.
type ClearInvalidation struct {
	header
}

// NewClearInvalidation creates a clear invalidation.
func NewClearInvalidation(mapName, sourceID string) *ClearInvalidation {
	return &ClearInvalidation{header: header{mapName: mapName, sourceID: sourceID}}
}

// TypeID implements serialization.Identified.
func (c *ClearInvalidation) TypeID() int32 {
	return ClearInvalidationType
}

// Consume calls h.HandleClear.
func (c *ClearInvalidation) Consume(h Handler) {
	h.HandleClear(c)
}

// WriteData encodes the header.
func (c *ClearInvalidation) WriteData(out *serialization.ObjectDataOutput) {
	c.writeHeader(out)
}

// ReadData mirrors WriteData.
func (c *ClearInvalidation) ReadData(in *serialization.ObjectDataInput) error {
	return c.readHeader(in)
}

// DecodeInvalidation reads an invalidation written with serialization.Encode.
func DecodeInvalidation(payload []byte) (Invalidation, error) {
	in := serialization.NewObjectDataInput(payload)
	typeID, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	var inv Invalidation
	switch typeID {
	case SingleInvalidationType:
		inv = &SingleInvalidation{}
	case BatchInvalidationType:
		inv = &BatchInvalidation{}
	case ClearInvalidationType:
		inv = &ClearInvalidation{}
	default:
		return nil, fmt.Errorf("%w: unknown invalidation type id %d", serialization.ErrDecodeFailure, typeID)
	}
	if err := inv.ReadData(in); err != nil {
		return nil, err
	}
	return inv, nil
}
