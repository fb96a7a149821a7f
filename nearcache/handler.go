package nearcache

// CacheLookup resolves the near-cache of a map, if this member has one.
type CacheLookup interface {
	GetNearCache(mapName string) (*NearCache, bool)
}

// LocalHandler applies invalidations to the near-caches of this member.
// It only ever touches the near-cache named by the invalidation.
type LocalHandler struct {
	caches CacheLookup
}

// NewLocalHandler creates a handler over caches.
func NewLocalHandler(caches CacheLookup) *LocalHandler {
	return &LocalHandler{caches: caches}
}

// HandleSingle removes the key from the map's near-cache.
func (h *LocalHandler) HandleSingle(inv *SingleInvalidation) {
	if nc, ok := h.caches.GetNearCache(inv.MapName()); ok {
		nc.Invalidate(inv.Key())
	}
}

// HandleBatch removes every listed key from the map's near-cache.
func (h *LocalHandler) HandleBatch(inv *BatchInvalidation) {
	nc, ok := h.caches.GetNearCache(inv.MapName())
	if !ok {
		return
	}
	for _, key := range inv.keys {
		nc.Invalidate(key)
	}
}

// HandleClear empties the map's near-cache.
func (h *LocalHandler) HandleClear(inv *ClearInvalidation) {
	if nc, ok := h.caches.GetNearCache(inv.MapName()); ok {
		nc.Clear()
	}
}
