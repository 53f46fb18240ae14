package vm

// Inline caching for send dispatch
//
// Each message position of each send instruction gets its own cache. Most
// sites only ever see one behavior (monomorphic); a few see a handful
// (polymorphic); the rest are looked up every time (megamorphic).
//
// Entries key on the receiver's Behavior and the selector: objects sharing
// a Behavior share layout, method table and superclass chain, so they
// classify identically. The whole table is dropped whenever the class graph
// can change (script load/unload, restore).

// CacheState represents the current state of an inline cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached lookup yet
	CacheMonomorphic                   // Single entry cached
	CachePolymorphic                   // 2-6 entries
	CacheMegamorphic                   // Too many behaviors, use full lookup
)

// MaxPICEntries is the maximum number of entries in a polymorphic inline cache.
const MaxPICEntries = 6

// InlineCacheEntry holds a single cached classification.
type InlineCacheEntry struct {
	Behavior Reg
	Selector Selector
	Dispatch Dispatch
}

func (e *InlineCacheEntry) matches(behavior Reg, sel Selector) bool {
	return e.Behavior == behavior && e.Selector == sel
}

// InlineCache is the cache for a single message site.
type InlineCache struct {
	State   CacheState
	Entries [MaxPICEntries]InlineCacheEntry
	Count   int

	Hits   uint64
	Misses uint64
}

// Lookup returns the cached classification for (behavior, sel).
func (ic *InlineCache) Lookup(behavior Reg, sel Selector) (Dispatch, bool) {
	switch ic.State {
	case CacheMonomorphic, CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			if ic.Entries[i].matches(behavior, sel) {
				ic.Hits++
				return ic.Entries[i].Dispatch, true
			}
		}
	}
	ic.Misses++
	return Dispatch{}, false
}

// Update records a classification, upgrading the cache state as more
// behaviors show up.
func (ic *InlineCache) Update(behavior Reg, sel Selector, d Dispatch) {
	if d.Kind == DispatchNone {
		return // failed lookups are not cached
	}
	switch ic.State {
	case CacheEmpty:
		ic.State = CacheMonomorphic
		ic.Entries[0] = InlineCacheEntry{Behavior: behavior, Selector: sel, Dispatch: d}
		ic.Count = 1

	case CacheMonomorphic, CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			if ic.Entries[i].matches(behavior, sel) {
				return
			}
		}
		if ic.Count < MaxPICEntries {
			ic.Entries[ic.Count] = InlineCacheEntry{Behavior: behavior, Selector: sel, Dispatch: d}
			ic.Count++
			ic.State = CachePolymorphic
			return
		}
		ic.State = CacheMegamorphic
		for i := range ic.Entries {
			ic.Entries[i] = InlineCacheEntry{}
		}
		ic.Count = 0

	case CacheMegamorphic:
	}
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (ic *InlineCache) HitRate() float64 {
	total := ic.Hits + ic.Misses
	if total == 0 {
		return 0
	}
	return float64(ic.Hits) * 100 / float64(total)
}

// CallSite identifies one message of one send instruction.
type CallSite struct {
	Script  SegmentID
	PC      int
	Message int
}

// InlineCacheTable maps call sites to their caches.
type InlineCacheTable struct {
	caches map[CallSite]*InlineCache
}

// NewInlineCacheTable creates an empty table.
func NewInlineCacheTable() *InlineCacheTable {
	return &InlineCacheTable{caches: make(map[CallSite]*InlineCache)}
}

// GetOrCreate returns the cache for site, creating one if needed.
func (t *InlineCacheTable) GetOrCreate(site CallSite) *InlineCache {
	if ic := t.caches[site]; ic != nil {
		return ic
	}
	ic := &InlineCache{}
	t.caches[site] = ic
	return ic
}

// Get returns the cache for site, or nil.
func (t *InlineCacheTable) Get(site CallSite) *InlineCache {
	return t.caches[site]
}

// Len returns the number of sites with a cache.
func (t *InlineCacheTable) Len() int {
	return len(t.caches)
}

// Stats returns aggregate statistics for all caches in the table.
func (t *InlineCacheTable) Stats() (mono, poly, mega, empty int, totalHits, totalMisses uint64) {
	for _, ic := range t.caches {
		switch ic.State {
		case CacheMonomorphic:
			mono++
		case CachePolymorphic:
			poly++
		case CacheMegamorphic:
			mega++
		case CacheEmpty:
			empty++
		}
		totalHits += ic.Hits
		totalMisses += ic.Misses
	}
	return
}

// Invalidate drops every cache.
func (t *InlineCacheTable) Invalidate() {
	clear(t.caches)
}
