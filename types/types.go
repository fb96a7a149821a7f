package types

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Data is the serialized form of a key or value.
// Equality and hashing are defined over the bytes. A nil Data means absent.
type Data []byte

// Equal reports whether both Data hold the same bytes.
func (d Data) Equal(other Data) bool {
	if d == nil || other == nil {
		return d == nil && other == nil
	}
	return bytes.Equal(d, other)
}

// Hash returns the xxhash of the bytes.
func (d Data) Hash() uint64 {
	return xxhash.Sum64(d)
}

// Key returns a string usable as a Go map key.
func (d Data) Key() string {
	return string(d)
}

// IsAbsent reports whether d is the absence marker.
func (d Data) IsAbsent() bool {
	return d == nil
}

func (d Data) String() string {
	if d == nil {
		return "<absent>"
	}
	if len(d) > 16 {
		return hex.EncodeToString(d[:16]) + "..."
	}
	return hex.EncodeToString(d)
}

// Distinct returns keys without repeats, in first-seen order.
func Distinct(keys []Data) []Data {
	if len(keys) < 2 {
		return keys
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]Data, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k.Key()]; ok {
			continue
		}
		seen[k.Key()] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Address identifies a cluster member endpoint.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// EntryEventType is a bit flag describing what happened to an entry or a map.
type EntryEventType int32

const (
	Added    EntryEventType = 1 << 0
	Removed  EntryEventType = 1 << 1
	Updated  EntryEventType = 1 << 2
	Evicted  EntryEventType = 1 << 3
	EvictAll EntryEventType = 1 << 4
	ClearAll EntryEventType = 1 << 5
)

// EntryEventTypeFor returns Added when there was no previous value, Updated otherwise.
func EntryEventTypeFor(previous Data) EntryEventType {
	if previous.IsAbsent() {
		return Added
	}
	return Updated
}

func (t EntryEventType) String() string {
	switch t {
	case Added:
		return "ADDED"
	case Removed:
		return "REMOVED"
	case Updated:
		return "UPDATED"
	case Evicted:
		return "EVICTED"
	case EvictAll:
		return "EVICT_ALL"
	case ClearAll:
		return "CLEAR_ALL"
	default:
		return fmt.Sprintf("EntryEventType(%d)", int32(t))
	}
}
