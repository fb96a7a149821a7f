package wan

import (
	"errors"
	"fmt"

	"github.com/huykn/distributed-map/record"
	"github.com/huykn/distributed-map/types"
)

// ErrUnknownMergePolicy is returned for a merge policy name that is not registered.
var ErrUnknownMergePolicy = errors.New("unknown merge policy")

// Merge policy names.
const (
	PassThroughPolicy  = "PassThroughMergePolicy"
	PutIfAbsentPolicy  = "PutIfAbsentMergePolicy"
	HigherHitsPolicy   = "HigherHitsMergePolicy"
	LatestUpdatePolicy = "LatestUpdateMergePolicy"
)

// MergePolicy decides which value survives when a replicated entry meets the
// local one. existing is nil when the key is absent locally. Merge returns
// the value to store, or nil to keep the local state unchanged.
type MergePolicy interface {
	Name() string
	Merge(mapName string, merging *record.EntryView, existing *record.EntryView) types.Data
}

type passThrough struct{}

func (passThrough) Name() string { return PassThroughPolicy }

func (passThrough) Merge(_ string, merging, _ *record.EntryView) types.Data {
	return merging.Value
}

type putIfAbsent struct{}

func (putIfAbsent) Name() string { return PutIfAbsentPolicy }

func (putIfAbsent) Merge(_ string, merging, existing *record.EntryView) types.Data {
	if existing == nil {
		return merging.Value
	}
	return nil
}

type higherHits struct{}

func (higherHits) Name() string { return HigherHitsPolicy }

func (higherHits) Merge(_ string, merging, existing *record.EntryView) types.Data {
	if existing == nil || merging.Hits >= existing.Hits {
		return merging.Value
	}
	return nil
}

type latestUpdate struct{}

func (latestUpdate) Name() string { return LatestUpdatePolicy }

func (latestUpdate) Merge(_ string, merging, existing *record.EntryView) types.Data {
	if existing == nil || merging.LastUpdateTime >= existing.LastUpdateTime {
		return merging.Value
	}
	return nil
}

var policies = map[string]MergePolicy{
	PassThroughPolicy:  passThrough{},
	PutIfAbsentPolicy:  putIfAbsent{},
	HigherHitsPolicy:   higherHits{},
	LatestUpdatePolicy: latestUpdate{},
}

// LookupMergePolicy returns the registered policy with the given name.
func LookupMergePolicy(name string) (MergePolicy, error) {
	p, ok := policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMergePolicy, name)
	}
	return p, nil
}
