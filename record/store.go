package record

import (
	"errors"
	"time"

	"github.com/huykn/distributed-map/types"
)

// ErrStoreDestroyed is returned by mutations on a destroyed store.
var ErrStoreDestroyed = errors.New("record store destroyed")

// ErrAbsentKey is returned when a mutation is attempted with an absent key.
var ErrAbsentKey = errors.New("key must not be absent")

// ErrAbsentValue is returned when a mutation is attempted with an absent value.
var ErrAbsentValue = errors.New("value must not be absent")

// RecordStore is the authoritative per-partition mapping from key to record.
//
// A RecordStore is owned by exactly one partition worker; it performs no
// locking of its own.
type RecordStore interface {
	// Name returns the map name.
	Name() string

	// PartitionID returns the partition this store belongs to.
	PartitionID() int

	// PutFromLoad installs a loaded value and returns the previous value,
	// or nil if there was none. It never writes through to a map store and
	// never notifies listeners.
	PutFromLoad(key, value types.Data) (types.Data, error)

	// Put installs a value on behalf of a non-load mutation such as a WAN merge.
	Put(key, value types.Data) (types.Data, error)

	// GetRecord returns a copy of the record for key.
	GetRecord(key types.Data) (Record, bool)

	// Get returns the value for key and records the access.
	Get(key types.Data) (types.Data, bool)

	// Clear removes every record and returns how many were removed.
	Clear() int

	// Size returns the number of records.
	Size() int

	// Destroy clears the store and rejects further mutations.
	Destroy()
}

// Store is the in-memory RecordStore.
type Store struct {
	name        string
	partitionID int
	records     map[string]*Record
	clock       func() time.Time
	destroyed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for record timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore creates an empty store for one map partition.
func NewStore(name string, partitionID int, opts ...Option) *Store {
	s := &Store{
		name:        name,
		partitionID: partitionID,
		records:     make(map[string]*Record),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the map name.
func (s *Store) Name() string {
	return s.name
}

// PartitionID returns the partition this store belongs to.
func (s *Store) PartitionID() int {
	return s.partitionID
}

// PutFromLoad installs a loaded value and returns the previous value.
func (s *Store) PutFromLoad(key, value types.Data) (types.Data, error) {
	return s.put(key, value)
}

// Put installs a value and returns the previous value.
func (s *Store) Put(key, value types.Data) (types.Data, error) {
	return s.put(key, value)
}

func (s *Store) put(key, value types.Data) (types.Data, error) {
	if s.destroyed {
		return nil, ErrStoreDestroyed
	}
	if key.IsAbsent() {
		return nil, ErrAbsentKey
	}
	if value.IsAbsent() {
		return nil, ErrAbsentValue
	}

	now := s.clock().UnixMilli()
	r, ok := s.records[key.Key()]
	if !ok {
		s.records[key.Key()] = &Record{
			Value:          value,
			CreationTime:   now,
			LastAccessTime: now,
			LastUpdateTime: now,
		}
		return nil, nil
	}

	previous := r.Value
	r.Value = value
	r.Version++
	r.LastUpdateTime = now
	return previous, nil
}

// GetRecord returns a copy of the record for key.
func (s *Store) GetRecord(key types.Data) (Record, bool) {
	r, ok := s.records[key.Key()]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Get returns the value for key and records the access.
func (s *Store) Get(key types.Data) (types.Data, bool) {
	r, ok := s.records[key.Key()]
	if !ok {
		return nil, false
	}
	r.Hits++
	r.LastAccessTime = s.clock().UnixMilli()
	return r.Value, true
}

// Clear removes every record.
func (s *Store) Clear() int {
	n := len(s.records)
	s.records = make(map[string]*Record)
	return n
}

// Size returns the number of records.
func (s *Store) Size() int {
	return len(s.records)
}

// Destroy clears the store and rejects further mutations.
func (s *Store) Destroy() {
	s.Clear()
	s.destroyed = true
}
